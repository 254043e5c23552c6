package credential

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/platform/auth"
)

const tokenTTL = time.Hour

type Handler struct {
	svc    *Service
	jwtCfg auth.JWTConfig
}

func NewHandler(svc *Service, jwtCfg auth.JWTConfig) *Handler {
	return &Handler{svc: svc, jwtCfg: jwtCfg}
}

// RegisterRoutes mounts the credential endpoints on the public group. These
// routes issue identity, so they sit outside the JWT middleware.
func (h *Handler) RegisterRoutes(public *echo.Group) {
	public.POST("/patients/register", h.Register)
	public.POST("/patients/login", h.Login)
	public.POST("/patients/mpin", h.RotateMPIN)
}

type registerRequest struct {
	PatientIdentity string `json:"patient_identity"`
	MPIN            string `json:"mpin"`
}

type loginRequest struct {
	PatientIdentity string `json:"patient_identity"`
	MPIN            string `json:"mpin"`
	WalletAddress   string `json:"wallet_address"`
}

type rotateRequest struct {
	PatientIdentity string `json:"patient_identity"`
	CurrentMPIN     string `json:"current_mpin"`
	NewMPIN         string `json:"new_mpin"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.Register(c.Request().Context(), req.PatientIdentity, req.MPIN)
	switch {
	case errors.Is(err, ErrDuplicateIdentity):
		return echo.NewHTTPError(http.StatusConflict, "identity already registered")
	case errors.Is(err, ErrInvalidIdentity), errors.Is(err, ErrInvalidMPIN):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}
	return c.JSON(http.StatusCreated, map[string]string{
		"patient_identity": req.PatientIdentity,
		"status":           "registered",
	})
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.Authenticate(c.Request().Context(), req.PatientIdentity, req.MPIN)
	switch {
	case errors.Is(err, ErrLocked):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, try again later")
	case err != nil:
		// One message for every failure mode.
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}

	token, err := auth.SignToken(h.jwtCfg, req.PatientIdentity, req.WalletAddress, []string{"patient"}, tokenTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token issuance failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

func (h *Handler) RotateMPIN(c echo.Context) error {
	var req rotateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.svc.Rotate(c.Request().Context(), req.PatientIdentity, req.CurrentMPIN, req.NewMPIN)
	switch {
	case errors.Is(err, ErrLocked):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, try again later")
	case errors.Is(err, ErrInvalidMPIN):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "rotated"})
}
