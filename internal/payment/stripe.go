package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/noah-isme/printshop-api/internal/resilience"
)

// Stripe implements Provider with the Stripe SDK. Outbound calls go through HTTP so the
// breaker and retry policy apply; the SDK's own network retries are disabled.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint, e.g. for stripe-mock.
	BaseURL string
	HTTP    resilience.HTTPClient
	// Tolerance bounds the age of a signed webhook; zero means five minutes.
	Tolerance time.Duration
	Logger    zerolog.Logger
}

// Name implements Provider.
func (s Stripe) Name() string { return "stripe" }

func (s Stripe) client() *stripe.Client {
	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{logger: s.Logger},
	}
	if s.HTTP.Client != nil {
		cfg.HTTPClient = s.HTTP.StdClient()
	}
	if base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/"); base != "" {
		cfg.URL = stripe.String(base)
	}
	return stripe.NewClient(s.SecretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(cfg)))
}

// CreateIntent opens a PaymentIntent for exactly req.Amount minor units.
func (s Stripe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(s.SecretKey) == "" {
		return IntentResponse{}, errors.New("stripe secret key not configured")
	}
	if req.Amount <= 0 {
		return IntentResponse{}, ErrNothingToCharge
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("cart_id", req.CartID)
	params.AddMetadata("session_id", req.SessionID)
	params.AddMetadata("total_cents", strconv.FormatInt(req.Amount, 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := s.client().V1PaymentIntents.Create(ctx, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			return IntentResponse{}, fmt.Errorf("%w: %s", ErrProvider, serr.Msg)
		}
		return IntentResponse{}, fmt.Errorf("stripe create intent: %w", err)
	}
	return IntentResponse{
		Provider:     s.Name(),
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header and normalises payment_intent events.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	if strings.TrimSpace(s.WebhookSecret) == "" {
		return WebhookVerifyResult{}, errors.New("stripe webhook secret not configured")
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), s.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if signatureFailure(err) {
			return WebhookVerifyResult{Valid: false, Err: err}, nil
		}
		return WebhookVerifyResult{}, fmt.Errorf("decode stripe event: %w", err)
	}

	var intent stripe.PaymentIntent
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookVerifyResult{}, fmt.Errorf("decode stripe intent: %w", err)
		}
	}
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	return WebhookVerifyResult{
		Valid:           true,
		EventID:         event.ID,
		EventType:       string(event.Type),
		Reference:       intent.ID,
		CartID:          intent.Metadata["cart_id"],
		Amount:          amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
		Status:          stripeStatus(event.Type),
		ProviderPayload: body,
	}, nil
}

func signatureFailure(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func stripeStatus(eventType stripe.EventType) string {
	switch eventType {
	case stripe.EventTypePaymentIntentSucceeded:
		return StatusPaid
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

// stripeLogger routes SDK logs into zerolog. Info and debug chatter is demoted to debug.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l stripeLogger) Infof(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

func (l stripeLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l stripeLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}
