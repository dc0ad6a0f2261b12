package cart

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/obs"
	"github.com/noah-isme/printshop-api/internal/pricing"
	"github.com/noah-isme/printshop-api/internal/resilience"
	"github.com/noah-isme/printshop-api/internal/vendor"
)

// Handler wires cart services to HTTP. Carts are resolved from the session id on the
// request context.
type Handler struct {
	Svc          *Service
	Totals       *Aggregator
	Pricer       LinePricer
	DefaultStore pricing.Store
	Logger       zerolog.Logger
}

type view struct {
	Cart   *Cart   `json:"cart"`
	Lines  []Line  `json:"lines"`
	Totals *Totals `json:"totals"`
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/", h.Create)
	r.Get("/totals", h.GetTotals)
	r.Post("/items", h.AddItem)
	r.Delete("/items", h.ClearItems)
	r.Patch("/items/{lineId}", h.UpdateItem)
	r.Delete("/items/{lineId}", h.RemoveItem)
	r.Put("/shipping", h.SelectShipping)
	r.Delete("/shipping", h.ClearShipping)
	r.Post("/credits", h.RedeemCredit)
	r.Post("/claim", h.Claim)
}

// Create creates or returns the session cart.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Store string `json:"store" validate:"omitempty,oneof=US CA USD CAD us ca"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.ensure(r, payload.Store)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, c)
}

// Get returns the open cart with its lines and totals.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if c == nil {
		common.Data(w, http.StatusOK, nil)
		return
	}
	h.render(w, r, c, http.StatusOK)
}

// GetTotals returns only the totals of the open cart.
func (h *Handler) GetTotals(w http.ResponseWriter, r *http.Request) {
	sid, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "session id is required", nil)
		return
	}
	totals, err := h.Totals.ComputeCartTotals(r.Context(), Lookup{SID: sid})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, totals)
}

// AddItem prices and adds a product configuration to the session cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload AddItemInput
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c, err := h.ensure(r, "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := h.Svc.AddItem(r.Context(), c.ID, payload); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, c, http.StatusCreated)
}

// UpdateItem changes a line quantity.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity int `json:"quantity" validate:"required,gte=1,lte=100000"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.UpdateQty(r.Context(), c.ID, chi.URLParam(r, "lineId"), payload.Quantity); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, c, http.StatusOK)
}

// RemoveItem deletes a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), c.ID, chi.URLParam(r, "lineId")); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, c, http.StatusOK)
}

// ClearItems removes every line.
func (h *Handler) ClearItems(w http.ResponseWriter, r *http.Request) {
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Clear(r.Context(), c.ID); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, c, http.StatusOK)
}

// SelectShipping stores the shipping selection.
func (h *Handler) SelectShipping(w http.ResponseWriter, r *http.Request) {
	var payload SelectedShipping
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.Svc.SelectShipping(r.Context(), c.ID, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c.Shipping = &payload
	h.render(w, r, c, http.StatusOK)
}

// ClearShipping removes the shipping selection.
func (h *Handler) ClearShipping(w http.ResponseWriter, r *http.Request) {
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.Svc.SelectShipping(r.Context(), c.ID, nil); err != nil {
		h.writeError(w, err)
		return
	}
	c.Shipping = nil
	h.render(w, r, c, http.StatusOK)
}

// RedeemCredit applies a credit to the cart.
func (h *Handler) RedeemCredit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AmountCents int64  `json:"amountCents" validate:"required,gt=0"`
		Reason      string `json:"reason" validate:"max=64"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	c, ok := h.owned(w, r)
	if !ok {
		return
	}
	if _, err := h.Svc.RedeemCredit(r.Context(), c.ID, payload.AmountCents, payload.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, c, http.StatusOK)
}

// Claim binds the session cart to the authenticated user.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	c, err := h.current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if c == nil {
		h.writeError(w, ErrNotFound)
		return
	}
	claimed, err := h.Svc.Claim(r.Context(), c.ID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.render(w, r, claimed, http.StatusOK)
}

// Quote prices a product configuration without touching the cart.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string   `json:"productId" validate:"required"`
		Store     string   `json:"store"`
		Quantity  int      `json:"quantity" validate:"required,gte=1,lte=100000"`
		OptionIDs []string `json:"optionIds"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	if h.Pricer == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pricing not configured", nil)
		return
	}
	store := h.DefaultStore
	if payload.Store != "" {
		store = pricing.ParseStore(payload.Store)
	}
	price, err := h.Pricer.ComputeLinePrice(r.Context(), pricing.LineRequest{
		ProductID: payload.ProductID,
		Store:     store,
		Quantity:  payload.Quantity,
		OptionIDs: payload.OptionIDs,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, price)
}

func (h *Handler) ensure(r *http.Request, store string) (*Cart, error) {
	if h.Svc == nil {
		return nil, errors.New("cart service not configured")
	}
	sid, ok := common.SessionID(r.Context())
	if !ok {
		return nil, common.NewAppError("SESSION_REQUIRED", "session id is required", http.StatusBadRequest, nil)
	}
	userID, _ := common.UserID(r.Context())
	s := h.DefaultStore
	if strings.TrimSpace(store) != "" {
		s = pricing.ParseStore(store)
	}
	c, err := h.Svc.EnsureCart(r.Context(), sid, userID, s)
	if err != nil {
		return nil, err
	}
	if !c.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func (h *Handler) current(ctx context.Context) (*Cart, error) {
	if h.Svc == nil || h.Svc.Store == nil {
		return nil, errors.New("cart service not configured")
	}
	sid, ok := common.SessionID(ctx)
	if !ok {
		return nil, common.NewAppError("SESSION_REQUIRED", "session id is required", http.StatusBadRequest, nil)
	}
	return h.Svc.Store.FindOpenCart(ctx, Lookup{SID: sid})
}

// owned resolves the session cart and checks it is not claimed by another user.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*Cart, bool) {
	c, err := h.current(r.Context())
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if c == nil {
		h.writeError(w, ErrNotFound)
		return nil, false
	}
	userID, _ := common.UserID(r.Context())
	if !c.OwnedBy(userID) {
		h.writeError(w, ErrForbidden)
		return nil, false
	}
	return c, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, c *Cart, status int) {
	lines, err := h.Svc.Lines(r.Context(), c.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if lines == nil {
		lines = []Line{}
	}
	var totals *Totals
	if h.Totals != nil {
		totals, err = h.Totals.ComputeCartTotals(r.Context(), Lookup{CartID: c.ID})
		if err != nil {
			h.writeError(w, err)
			return
		}
	}
	common.Data(w, status, view{Cart: c, Lines: lines, Totals: totals})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	if reason, ok := PricingFailure(err); ok {
		obs.Inc(obs.PricingErrorsTotal, reason)
		h.Logger.Warn().Err(err).Str("reason", reason).Msg("pricing unavailable")
		common.JSONError(w, http.StatusServiceUnavailable, "PRICING_UNAVAILABLE", "pricing is temporarily unavailable", map[string]any{"reason": reason})
		return
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, pricing.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrForbidden):
		common.JSONError(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		h.Logger.Error().Err(err).Msg("cart request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

// PricingFailure classifies errors that mean prices cannot currently be produced.
func PricingFailure(err error) (string, bool) {
	switch {
	case errors.Is(err, pricing.ErrNoPriceTier):
		return "no_tier", true
	case errors.Is(err, pricing.ErrInvalidVendorPrice):
		return "invalid_vendor_price", true
	case errors.Is(err, resilience.ErrOpenCircuit):
		return "vendor_circuit_open", true
	case errors.Is(err, vendor.ErrUpstream):
		return "vendor_upstream", true
	}
	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		return "vendor_upstream", true
	}
	return "", false
}
