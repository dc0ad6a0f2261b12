package checkout

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/obs"
	"github.com/noah-isme/printshop-api/internal/order"
)

// Kind tells the caller which checkout path was taken.
type Kind string

const (
	KindFree Kind = "free"
	KindPaid Kind = "paid"
)

// TotalsComputer computes the authoritative totals of a cart.
type TotalsComputer interface {
	ComputeCartTotals(ctx context.Context, lookup cart.Lookup) (*cart.Totals, error)
}

// OrderEnsurer materialises a cart into an order.
type OrderEnsurer interface {
	EnsureOrderFromCart(ctx context.Context, in order.EnsureInput) (string, error)
}

// Request identifies the cart being checked out. ExpectedTotalCents is the total the
// client last displayed.
type Request struct {
	SID                string
	ExpectedTotalCents *int64
	UserID             *string
}

// Result is the outcome of a successful finalisation. OrderID is only set on the free path.
type Result struct {
	Kind    Kind         `json:"kind"`
	OrderID string       `json:"orderId,omitempty"`
	Totals  *cart.Totals `json:"totals"`
}

// Finalizer decides between the free and paid checkout paths.
type Finalizer struct {
	Totals TotalsComputer
	Orders OrderEnsurer
	Logger zerolog.Logger
}

// FinalizeCheckout returns nil, nil when the session has no open cart, when the expected
// total is stale, or when the cart belongs to another user. Callers treat nil as
// "refresh and retry". A zero total is materialised immediately as a free order.
func (f *Finalizer) FinalizeCheckout(ctx context.Context, req Request) (*Result, error) {
	if f == nil || f.Totals == nil || f.Orders == nil {
		return nil, errors.New("checkout finalizer not configured")
	}
	sid := strings.TrimSpace(req.SID)
	if sid == "" {
		return nil, nil
	}
	ctx, span := otel.Tracer("checkout.Finalizer").Start(ctx, "Finalizer.FinalizeCheckout")
	defer span.End()

	totals, err := f.Totals.ComputeCartTotals(ctx, cart.Lookup{SID: sid})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if totals == nil {
		obs.Inc(obs.CheckoutFinalizeTotal, "no_cart")
		return nil, nil
	}
	span.SetAttributes(attribute.String("cart.id", totals.CartID), attribute.Int64("total_cents", totals.TotalCents))

	if req.ExpectedTotalCents != nil && totals.TotalCents != 0 && *req.ExpectedTotalCents != totals.TotalCents {
		obs.Inc(obs.CheckoutFinalizeTotal, "stale")
		f.Logger.Info().
			Str("cart_id", totals.CartID).
			Int64("expected_cents", *req.ExpectedTotalCents).
			Int64("total_cents", totals.TotalCents).
			Msg("checkout refused: stale total")
		return nil, nil
	}
	if foreignOwner(totals.UserID, req.UserID) {
		obs.Inc(obs.CheckoutFinalizeTotal, "forbidden")
		return nil, nil
	}

	if totals.TotalCents == 0 {
		orderID, err := f.Orders.EnsureOrderFromCart(ctx, order.EnsureInput{
			CartID:   totals.CartID,
			Provider: order.ProviderFree,
			Status:   order.StatusPaid,
		})
		if err != nil {
			if errors.Is(err, order.ErrCartNotFound) {
				// lost a race with a concurrent finalisation
				obs.Inc(obs.CheckoutFinalizeTotal, "no_cart")
				return nil, nil
			}
			span.RecordError(err)
			return nil, err
		}
		obs.Inc(obs.CheckoutFinalizeTotal, string(KindFree))
		return &Result{Kind: KindFree, OrderID: orderID, Totals: totals}, nil
	}
	obs.Inc(obs.CheckoutFinalizeTotal, string(KindPaid))
	return &Result{Kind: KindPaid, Totals: totals}, nil
}

func foreignOwner(owner, caller *string) bool {
	if owner == nil || *owner == "" {
		return false
	}
	return caller == nil || *caller != *owner
}
