package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printshop-api/internal/cart"
)

type fakeProvider struct {
	requests []IntentRequest
	amount   int64
	err      error
	verify   WebhookVerifyResult
}

func (f *fakeProvider) Name() string { return "stripe" }

func (f *fakeProvider) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return IntentResponse{}, f.err
	}
	amount := req.Amount
	if f.amount != 0 {
		amount = f.amount
	}
	return IntentResponse{Provider: "stripe", ID: "pi_1", ClientSecret: "secret", Status: "requires_payment_method", Amount: amount, Currency: req.Currency}, nil
}

func (f *fakeProvider) VerifyWebhook(_ *http.Request, _ []byte) (WebhookVerifyResult, error) {
	return f.verify, nil
}

func TestServiceCreateIntentChargesTotal(t *testing.T) {
	p := &fakeProvider{}
	svc := &Service{Provider: p}
	resp, err := svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1", SessionID: "sid", Currency: "USD", TotalCents: 50648})
	require.NoError(t, err)
	require.Equal(t, int64(50648), resp.Amount)
	require.Len(t, p.requests, 1)
	require.Equal(t, int64(50648), p.requests[0].Amount)
	require.Equal(t, "cart-cart-1-50648", p.requests[0].IdempotencyKey)
}

func TestServiceCreateIntentKeyFollowsTotal(t *testing.T) {
	p := &fakeProvider{}
	svc := &Service{Provider: p}
	_, err := svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1", TotalCents: 100})
	require.NoError(t, err)
	_, err = svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1", TotalCents: 200})
	require.NoError(t, err)
	require.NotEqual(t, p.requests[0].IdempotencyKey, p.requests[1].IdempotencyKey)
}

func TestServiceCreateIntentZeroTotal(t *testing.T) {
	p := &fakeProvider{}
	svc := &Service{Provider: p}
	_, err := svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1"})
	require.ErrorIs(t, err, ErrNothingToCharge)
	require.Empty(t, p.requests)
}

func TestServiceCreateIntentAmountMismatch(t *testing.T) {
	svc := &Service{Provider: &fakeProvider{amount: 1}}
	_, err := svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1", TotalCents: 500})
	require.ErrorIs(t, err, ErrProvider)
}

func TestServiceCreateIntentProviderError(t *testing.T) {
	boom := errors.New("boom")
	svc := &Service{Provider: &fakeProvider{err: boom}}
	_, err := svc.CreateIntent(context.Background(), &cart.Totals{CartID: "cart-1", TotalCents: 500})
	require.ErrorIs(t, err, boom)
}

func TestServiceNotConfigured(t *testing.T) {
	var svc *Service
	_, err := svc.CreateIntent(context.Background(), &cart.Totals{TotalCents: 1})
	require.Error(t, err)
}
