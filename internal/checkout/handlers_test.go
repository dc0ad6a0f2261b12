package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/payment"
)

type stubIntents struct {
	charged []int64
	err     error
}

func (s *stubIntents) CreateIntent(_ context.Context, totals *cart.Totals) (payment.IntentResponse, error) {
	if s.err != nil {
		return payment.IntentResponse{}, s.err
	}
	s.charged = append(s.charged, totals.TotalCents)
	return payment.IntentResponse{Provider: "stripe", ID: "pi_1", ClientSecret: "secret", Amount: totals.TotalCents, Currency: totals.Currency}, nil
}

func doCheckout(t *testing.T, h *Handler, sid, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if sid != "" {
		req = req.WithContext(common.WithSessionID(req.Context(), sid))
	}
	rec := httptest.NewRecorder()
	h.Checkout(rec, req)
	return rec
}

func TestCheckoutHandlerPaidPath(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", Currency: "USD", TotalCents: 50648})
	intents := &stubIntents{}
	h := &Handler{Finalizer: finalizer(carts), Payments: intents}

	rec := doCheckout(t, h, "sid-1", `{"expectedTotalCents":50648}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{50648}, intents.charged)

	var body struct {
		Data struct {
			Kind    string `json:"kind"`
			Payment struct {
				ID          string `json:"id"`
				AmountCents int64  `json:"amountCents"`
			} `json:"payment"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "paid", body.Data.Kind)
	require.Equal(t, "pi_1", body.Data.Payment.ID)
	require.Equal(t, int64(50648), body.Data.Payment.AmountCents)
}

func TestCheckoutHandlerFreePath(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1"})
	intents := &stubIntents{}
	h := &Handler{Finalizer: finalizer(carts), Payments: intents}

	rec := doCheckout(t, h, "sid-1", ``)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"orderId":"order-cart-1"`)
	require.Empty(t, intents.charged)

	rec = doCheckout(t, h, "sid-1", ``)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "CART_STALE")
}

func TestCheckoutHandlerStaleTotal(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 700})
	rec := doCheckout(t, &Handler{Finalizer: finalizer(carts), Payments: &stubIntents{}}, "sid-1", `{"expectedTotalCents":600}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutHandlerRequiresSession(t *testing.T) {
	rec := doCheckout(t, &Handler{Finalizer: finalizer(newFakeCarts())}, "", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandlerValidatesPayload(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 700})
	rec := doCheckout(t, &Handler{Finalizer: finalizer(carts)}, "sid-1", `{"expectedTotalCents":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandlerPaymentFailure(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 700})
	rec := doCheckout(t, &Handler{Finalizer: finalizer(carts), Payments: &stubIntents{err: errors.New("down")}}, "sid-1", `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
