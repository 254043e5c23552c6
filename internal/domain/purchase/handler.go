package purchase

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmarket/medmarket/internal/domain/listing"
	"github.com/medmarket/medmarket/internal/platform/auth"
	"github.com/medmarket/medmarket/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the purchase endpoints. Buyers need no patient
// account; the group carries OptionalJWT so a bearer token's wallet claim
// binds the caller when one is presented.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/purchases", h.Initiate)
	g.GET("/purchases", h.ListPurchases)
	g.GET("/purchases/:id", h.GetAttempt)
	g.POST("/purchases/:id/proof", h.SubmitProof)
	g.POST("/purchases/:id/deliver", h.VerifyAndDeliver)
	g.POST("/purchases/:id/cancel", h.Cancel)
}

// buyerAddress resolves the caller's wallet. A wallet claim from a bearer
// token always wins over self-asserted request fields.
func buyerAddress(c echo.Context, fromRequest string) string {
	if w := auth.Wallet(c); w != "" {
		return w
	}
	return strings.TrimSpace(fromRequest)
}

func purchaseError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "purchase attempt not found")
	case errors.Is(err, listing.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "listing not found")
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	case errors.Is(err, ErrContended):
		return echo.NewHTTPError(http.StatusConflict, "listing is reserved, retry after the reservation expires")
	case errors.Is(err, ErrListingUnavailable):
		return echo.NewHTTPError(http.StatusConflict, "listing is not available")
	case errors.Is(err, ErrExpired):
		return echo.NewHTTPError(http.StatusGone, "purchase attempt expired")
	case errors.Is(err, ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, "operation not valid in current state")
	case errors.Is(err, ErrPaymentPending):
		return echo.NewHTTPError(http.StatusAccepted, "payment not yet confirmed, retry shortly")
	case errors.Is(err, ErrPaymentRejected):
		return echo.NewHTTPError(http.StatusPaymentRequired, "payment rejected")
	case errors.Is(err, ErrVerificationUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment verification unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type initiateRequest struct {
	ListingID    string `json:"listing_id"`
	BuyerAddress string `json:"buyer_address"`
}

func (h *Handler) Initiate(c echo.Context) error {
	var req initiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	listingID, err := uuid.Parse(req.ListingID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid listing_id")
	}
	buyer := buyerAddress(c, req.BuyerAddress)
	if buyer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "buyer_address is required")
	}

	a, err := h.svc.Initiate(c.Request().Context(), listingID, buyer)
	if err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAttempt(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAttempt(c.Request().Context(), id, buyerAddress(c, c.QueryParam("buyer_address")))
	if err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type proofRequest struct {
	BuyerAddress   string `json:"buyer_address"`
	ProofReference string `json:"proof_reference"`
}

func (h *Handler) SubmitProof(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req proofRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ProofReference) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "proof_reference is required")
	}

	a, err := h.svc.SubmitProof(c.Request().Context(), id, buyerAddress(c, req.BuyerAddress), req.ProofReference)
	if err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type deliverRequest struct {
	BuyerAddress string `json:"buyer_address"`
	BuyerEmail   string `json:"buyer_email"`
}

func (h *Handler) VerifyAndDeliver(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req deliverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	delivery, err := h.svc.VerifyAndDeliver(c.Request().Context(), id, buyerAddress(c, req.BuyerAddress), req.BuyerEmail)
	if err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusOK, delivery)
}

type cancelRequest struct {
	BuyerAddress string `json:"buyer_address"`
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Cancel(c.Request().Context(), id, buyerAddress(c, req.BuyerAddress)); err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) ListPurchases(c echo.Context) error {
	buyer := buyerAddress(c, c.QueryParam("buyer_address"))
	if buyer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "buyer_address is required")
	}
	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListPurchases(c.Request().Context(), buyer, pg.Limit, pg.Offset)
	if err != nil {
		return purchaseError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}
