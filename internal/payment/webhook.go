package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/obs"
	"github.com/noah-isme/printshop-api/internal/order"
)

// OrderEnsurer materialises orders idempotently.
type OrderEnsurer interface {
	EnsureOrderFromCart(ctx context.Context, in order.EnsureInput) (string, error)
}

// TotalsComputer recomputes cart totals for reconciliation.
type TotalsComputer interface {
	ComputeCartTotals(ctx context.Context, lookup cart.Lookup) (*cart.Totals, error)
}

// FailureEvent describes a payment the provider reported as failed.
type FailureEvent struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	CartID    string `json:"cartId"`
	Amount    int64  `json:"amountCents"`
	EventType string `json:"eventType"`
}

// FailurePublisher announces failed payments.
type FailurePublisher interface {
	PaymentFailed(ctx context.Context, evt FailureEvent) error
}

// Webhook reconciles payment confirmations into orders. Redelivery is expected; order
// materialisation is idempotent on the provider reference.
type Webhook struct {
	Providers map[string]Provider
	Orders    OrderEnsurer
	Totals    TotalsComputer
	Failures  FailurePublisher
	Logger    zerolog.Logger
}

// Handle processes webhook callbacks for the configured payment provider(s).
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Orders == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "invalid")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "bad_signature")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	log := h.Logger.With().Str("provider", providerKey).Str("event_id", result.EventID).Str("reference", result.Reference).Logger()
	if result.Status == StatusFailed && h.Failures != nil && result.Reference != "" {
		if err := h.Failures.PaymentFailed(r.Context(), FailureEvent{
			Provider:  providerKey,
			Reference: result.Reference,
			CartID:    result.CartID,
			Amount:    result.Amount,
			EventType: result.EventType,
		}); err != nil {
			log.Warn().Err(err).Msg("publish payment failure")
		}
	}
	if result.Status != StatusPaid {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "ignored")
		log.Debug().Str("event_type", result.EventType).Msg("payment webhook ignored")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if result.CartID == "" || result.Reference == "" {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "invalid")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "missing cart or payment reference", nil)
		return
	}

	ctx := r.Context()
	h.verifyTotals(ctx, log, providerKey, result)

	orderID, err := h.Orders.EnsureOrderFromCart(ctx, order.EnsureInput{
		CartID:            result.CartID,
		ProviderReference: result.Reference,
		Provider:          order.Provider(providerKey),
		Status:            order.StatusPaid,
	})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrCartNotFound), errors.Is(err, order.ErrEmptyCart), errors.Is(err, order.ErrDuplicateOrder):
		// permanent: acknowledge so the provider stops redelivering
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "unmatched")
		log.Error().Err(err).Str("cart_id", result.CartID).Int64("amount", result.Amount).Msg("paid webhook could not be materialized")
		common.Data(w, http.StatusAccepted, map[string]any{"status": "unmatched"})
		return
	default:
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "error")
		log.Error().Err(err).Str("cart_id", result.CartID).Msg("order materialization failed")
		common.JSONError(w, http.StatusInternalServerError, "ORDER_MATERIALIZE_FAILED", "unable to record order", nil)
		return
	}
	obs.Inc(obs.PaymentWebhookTotal, providerKey, "ok")
	log.Info().Str("order_id", orderID).Msg("payment reconciled")
	common.Data(w, http.StatusOK, map[string]any{"orderId": orderID})
}

// verifyTotals compares the charged amount with the freshly computed cart total. A mismatch
// is reported but does not block the order: the customer has already paid.
func (h Webhook) verifyTotals(ctx context.Context, log zerolog.Logger, providerKey string, result WebhookVerifyResult) {
	if h.Totals == nil {
		return
	}
	totals, err := h.Totals.ComputeCartTotals(ctx, cart.Lookup{CartID: result.CartID})
	if err != nil {
		log.Warn().Err(err).Msg("totals verification skipped")
		return
	}
	if totals == nil {
		return
	}
	if totals.TotalCents != result.Amount {
		obs.Inc(obs.PaymentWebhookTotal, providerKey, "totals_mismatch")
		log.Warn().
			Str("cart_id", result.CartID).
			Int64("charged_cents", result.Amount).
			Int64("computed_cents", totals.TotalCents).
			Msg("charged amount differs from cart total")
	}
}
