package payment

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrProvider is returned when the payment provider rejects a request.
	ErrProvider = errors.New("payment: provider error")
	// ErrNothingToCharge is returned for a zero total; such carts take the free path.
	ErrNothingToCharge = errors.New("payment: nothing to charge")
)

// Webhook event statuses normalised across providers.
const (
	StatusPaid    = "PAID"
	StatusFailed  = "FAILED"
	StatusPending = "PENDING"
)

// IntentRequest captures the information required to open a payment intent with a provider.
type IntentRequest struct {
	CartID         string
	SessionID      string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// IntentResponse is the client-usable payment handle returned by the provider.
type IntentResponse struct {
	Provider     string `json:"provider"`
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
	Amount       int64  `json:"amountCents"`
	Currency     string `json:"currency"`
}

// WebhookVerifyResult contains the normalised data extracted from a webhook notification after signature verification.
type WebhookVerifyResult struct {
	Valid           bool
	EventID         string
	EventType       string
	Reference       string
	CartID          string
	Amount          int64
	Currency        string
	Status          string
	ProviderPayload []byte
	Err             error
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}
