package anonymize

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/domain/report"
	"github.com/medmarket/medmarket/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(authed *echo.Group) {
	authed.POST("/reports/:id/anonymize", h.Anonymize)
}

func (h *Handler) Anonymize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	artifact, err := h.svc.Anonymize(c.Request().Context(), id, auth.Identity(c))
	switch {
	case errors.Is(err, report.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	case errors.Is(err, report.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, report.ErrArtifactImmutable):
		return echo.NewHTTPError(http.StatusConflict, "artifact is already listed")
	case errors.Is(err, ErrPolicyViolation):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "output failed policy check")
	case errors.Is(err, ErrAnonymizationFailed):
		return echo.NewHTTPError(http.StatusBadGateway, "anonymization service failed")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, artifact)
}
