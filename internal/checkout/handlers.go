package checkout

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/order"
	"github.com/noah-isme/printshop-api/internal/payment"
)

// IntentCreator opens a payment intent for computed totals.
type IntentCreator interface {
	CreateIntent(ctx context.Context, totals *cart.Totals) (payment.IntentResponse, error)
}

type Handler struct {
	Finalizer *Finalizer
	Payments  IntentCreator
	Logger    zerolog.Logger
}

type checkoutPayload struct {
	ExpectedTotalCents *int64 `json:"expectedTotalCents" validate:"omitempty,gte=0"`
}

type checkoutResponse struct {
	*Result
	Payment *payment.IntentResponse `json:"payment,omitempty"`
}

// Checkout finalises the session cart. Free carts become orders immediately; paid carts
// receive a payment intent for exactly the computed total.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Finalizer == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sid, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "SESSION_REQUIRED", "session id required", nil)
		return
	}
	var payload checkoutPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteAppError(w, err)
		return
	}
	req := Request{SID: sid, ExpectedTotalCents: payload.ExpectedTotalCents}
	if userID, ok := common.UserID(r.Context()); ok {
		req.UserID = &userID
	}

	res, err := h.Finalizer.FinalizeCheckout(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res == nil {
		common.JSONError(w, http.StatusConflict, "CART_STALE", "cart changed, please refresh", nil)
		return
	}
	if res.Kind == KindFree {
		common.Data(w, http.StatusCreated, checkoutResponse{Result: res})
		return
	}
	if h.Payments == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", "payments not configured", nil)
		return
	}
	intent, err := h.Payments.CreateIntent(r.Context(), res.Totals)
	if err != nil {
		h.Logger.Error().Err(err).Str("cart_id", res.Totals.CartID).Msg("payment intent failed")
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_UNAVAILABLE", "unable to start payment", nil)
		return
	}
	common.Data(w, http.StatusOK, checkoutResponse{Result: res, Payment: &intent})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case common.WriteAppError(w, err):
	case errors.Is(err, order.ErrCartNotFound), errors.Is(err, order.ErrEmptyCart):
		common.JSONError(w, http.StatusConflict, "CART_STALE", err.Error(), nil)
	default:
		if reason, ok := cart.PricingFailure(err); ok {
			common.JSONError(w, http.StatusServiceUnavailable, "PRICING_UNAVAILABLE", reason, nil)
			return
		}
		h.Logger.Error().Err(err).Msg("checkout failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout failed", nil)
	}
}
