package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/obs"
)

// Service opens payment intents for computed cart totals.
type Service struct {
	Provider Provider
	Logger   zerolog.Logger
}

// CreateIntent charges exactly totals.TotalCents. The idempotency key is derived from the
// cart and amount so a retried checkout reuses the provider intent while a repriced cart
// gets a new one.
func (s *Service) CreateIntent(ctx context.Context, totals *cart.Totals) (IntentResponse, error) {
	if s == nil || s.Provider == nil {
		return IntentResponse{}, errors.New("payment service not configured")
	}
	if totals == nil {
		return IntentResponse{}, errors.New("payment: totals are required")
	}
	if totals.TotalCents <= 0 {
		return IntentResponse{}, ErrNothingToCharge
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateIntent")
	defer span.End()

	start := time.Now()
	providerName := normaliseLabel(s.Provider.Name())
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", providerName),
			attribute.Float64("payment.intent.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.intent.result", result),
		)
		obs.Inc(obs.PaymentIntentTotal, providerName, result)
	}()
	span.SetAttributes(attribute.String("cart.id", totals.CartID), attribute.Int64("amount", totals.TotalCents))

	resp, err := s.Provider.CreateIntent(ctx, IntentRequest{
		CartID:         totals.CartID,
		SessionID:      totals.SessionID,
		Amount:         totals.TotalCents,
		Currency:       totals.Currency,
		IdempotencyKey: fmt.Sprintf("cart-%s-%d", totals.CartID, totals.TotalCents),
	})
	if err != nil {
		span.RecordError(err)
		s.Logger.Error().Err(err).Str("cart_id", totals.CartID).Msg("payment intent failed")
		return IntentResponse{}, err
	}
	if resp.Amount != 0 && resp.Amount != totals.TotalCents {
		return IntentResponse{}, fmt.Errorf("%w: intent amount %d does not match total %d", ErrProvider, resp.Amount, totals.TotalCents)
	}
	result = "success"
	return resp, nil
}

func normaliseLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
