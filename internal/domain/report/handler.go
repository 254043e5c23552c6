package report

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/platform/auth"
	"github.com/medmarket/medmarket/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts owner-scoped report routes on the authenticated
// group and the anonymized read on the public group.
func (h *Handler) RegisterRoutes(authed, public *echo.Group) {
	authed.POST("/reports", h.StoreRaw)
	authed.GET("/reports", h.ListRaw)
	authed.GET("/reports/:id", h.GetRaw)
	public.GET("/reports/:id/anonymized", h.GetAnonymized)
}

type storeRawRequest struct {
	ReportType string `json:"report_type"`
	RawContent string `json:"raw_content"`
	TestDate   string `json:"test_date"`
}

func (h *Handler) StoreRaw(c echo.Context) error {
	var req storeRawRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var testDate time.Time
	if req.TestDate != "" {
		var err error
		testDate, err = time.Parse("2006-01-02", req.TestDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "test_date must be YYYY-MM-DD")
		}
	}

	rep, err := h.svc.StoreRaw(c.Request().Context(), auth.Identity(c), req.ReportType, req.RawContent, testDate)
	switch {
	case errors.Is(err, ErrInvalidReport):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusUnauthorized, "identity required")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rep)
}

func (h *Handler) GetRaw(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rep, err := h.svc.GetRaw(c.Request().Context(), id, auth.Identity(c))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListRaw(c echo.Context) error {
	pg := pagination.FromContext(c)
	reports, total, err := h.svc.ListRaw(c.Request().Context(), auth.Identity(c), c.QueryParam("report_type"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAnonymized(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAnonymized(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "artifact is not public")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
