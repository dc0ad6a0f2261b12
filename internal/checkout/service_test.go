package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/order"
)

// fakeCarts serves totals for open carts and closes them when an order is ensured.
type fakeCarts struct {
	mu      sync.Mutex
	totals  map[string]*cart.Totals // keyed by session id
	closed  map[string]bool
	ensured []order.EnsureInput
	err     error
}

func newFakeCarts(totals ...*cart.Totals) *fakeCarts {
	f := &fakeCarts{totals: map[string]*cart.Totals{}, closed: map[string]bool{}}
	for _, t := range totals {
		f.totals[t.SessionID] = t
	}
	return f
}

func (f *fakeCarts) ComputeCartTotals(_ context.Context, lookup cart.Lookup) (*cart.Totals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[lookup.SID]
	if !ok || f.closed[t.CartID] {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeCarts) EnsureOrderFromCart(_ context.Context, in order.EnsureInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.closed[in.CartID] {
		return "", order.ErrCartNotFound
	}
	f.closed[in.CartID] = true
	f.ensured = append(f.ensured, in)
	return "order-" + in.CartID, nil
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }

func finalizer(f *fakeCarts) *Finalizer {
	return &Finalizer{Totals: f, Orders: f}
}

func TestFinalizeFreeCartCreatesOrderOnce(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", SubtotalCents: 500, CreditsCents: 800, TotalCents: 0})
	fin := finalizer(carts)

	res, err := fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1"})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, KindFree, res.Kind)
	require.Equal(t, "order-cart-1", res.OrderID)
	require.Len(t, carts.ensured, 1)
	require.Equal(t, order.ProviderFree, carts.ensured[0].Provider)
	require.Equal(t, order.StatusPaid, carts.ensured[0].Status)
	require.Empty(t, carts.ensured[0].ProviderReference)

	again, err := fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1"})
	require.NoError(t, err)
	require.Nil(t, again)
	require.Len(t, carts.ensured, 1)
}

func TestFinalizePaidCartReturnsTotals(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 50648})
	res, err := finalizer(carts).FinalizeCheckout(context.Background(), Request{SID: "sid-1", ExpectedTotalCents: int64Ptr(50648)})
	require.NoError(t, err)
	require.Equal(t, KindPaid, res.Kind)
	require.Empty(t, res.OrderID)
	require.Equal(t, int64(50648), res.Totals.TotalCents)
	require.Empty(t, carts.ensured)
}

func TestFinalizeRefusesStaleTotal(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 1200})
	res, err := finalizer(carts).FinalizeCheckout(context.Background(), Request{SID: "sid-1", ExpectedTotalCents: int64Ptr(1000)})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestFinalizeIgnoresExpectedTotalForFreeCart(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", TotalCents: 0})
	res, err := finalizer(carts).FinalizeCheckout(context.Background(), Request{SID: "sid-1", ExpectedTotalCents: int64Ptr(300)})
	require.NoError(t, err)
	require.Equal(t, KindFree, res.Kind)
}

func TestFinalizeNoCart(t *testing.T) {
	res, err := finalizer(newFakeCarts()).FinalizeCheckout(context.Background(), Request{SID: "missing"})
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = finalizer(newFakeCarts()).FinalizeCheckout(context.Background(), Request{})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestFinalizeRefusesForeignOwner(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1", UserID: strPtr("alice"), TotalCents: 900})
	fin := finalizer(carts)

	res, err := fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1", UserID: strPtr("bob")})
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1"})
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1", UserID: strPtr("alice")})
	require.NoError(t, err)
	require.Equal(t, KindPaid, res.Kind)
}

func TestFinalizePropagatesMaterializeErrors(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1"})
	carts.err = order.ErrEmptyCart
	_, err := finalizer(carts).FinalizeCheckout(context.Background(), Request{SID: "sid-1"})
	require.True(t, errors.Is(err, order.ErrEmptyCart))
}

func TestFinalizeConcurrentFreeCheckout(t *testing.T) {
	carts := newFakeCarts(&cart.Totals{CartID: "cart-1", SessionID: "sid-1"})
	fin := finalizer(carts)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		frees int
		errs  []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fin.FinalizeCheckout(context.Background(), Request{SID: "sid-1"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if res != nil {
				frees++
			}
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Equal(t, 1, frees)
	require.Len(t, carts.ensured, 1)
}
