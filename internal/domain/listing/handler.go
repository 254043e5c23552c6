package listing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/domain/report"
	"github.com/medmarket/medmarket/internal/platform/auth"
	"github.com/medmarket/medmarket/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts seller routes on the authenticated group and the
// marketplace browse routes on the public group.
func (h *Handler) RegisterRoutes(authed, public *echo.Group) {
	authed.POST("/listings", h.Publish)
	authed.GET("/listings/mine", h.ListMine)
	authed.DELETE("/listings/:id", h.Withdraw)
	public.GET("/listings", h.Search)
	public.GET("/listings/:id", h.Get)
}

type publishRequest struct {
	ReportID            string   `json:"report_id"`
	PriceWei            int64    `json:"price_wei"`
	SellerPayoutAddress string   `json:"seller_payout_address"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Tags                []string `json:"tags"`
}

func (h *Handler) Publish(c echo.Context) error {
	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reportID, err := uuid.Parse(req.ReportID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report_id")
	}

	l, err := h.svc.Publish(c.Request().Context(), auth.Identity(c), PublishInput{
		ReportID:            reportID,
		PriceWei:            req.PriceWei,
		SellerPayoutAddress: req.SellerPayoutAddress,
		Title:               req.Title,
		Description:         req.Description,
		Tags:                req.Tags,
	})
	switch {
	case errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidListing):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotAnonymized):
		return echo.NewHTTPError(http.StatusConflict, "report is not anonymized yet")
	case errors.Is(err, report.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, report.ErrForbidden), errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "listing not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	listings, total, err := h.svc.Search(c.Request().Context(),
		c.QueryParam("q"), c.QueryParam("report_type"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(listings, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMine(c echo.Context) error {
	pg := pagination.FromContext(c)
	listings, total, err := h.svc.ListBySeller(c.Request().Context(), auth.Identity(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(listings, total, pg.Limit, pg.Offset))
}

func (h *Handler) Withdraw(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	err = h.svc.Withdraw(c.Request().Context(), id, auth.Identity(c))
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "listing not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "withdrawn"})
}
