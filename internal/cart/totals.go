package cart

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/printshop-api/internal/pricing"
)

// Totals is the authoritative monetary summary of a cart, in cents.
type Totals struct {
	CartID        string  `json:"cartId"`
	SessionID     string  `json:"sessionId"`
	UserID        *string `json:"userId,omitempty"`
	Currency      string  `json:"currency"`
	SubtotalCents int64   `json:"subtotalCents"`
	ShippingCents int64   `json:"shippingCents"`
	TaxCents      int64   `json:"taxCents"`
	CreditsCents  int64   `json:"creditsCents"`
	TotalCents    int64   `json:"totalCents"`
}

// TaxInput is handed to the tax calculator.
type TaxInput struct {
	Cart          *Cart
	SubtotalCents int64
	ShippingCents int64
}

// TaxCalculator computes tax for a cart.
type TaxCalculator interface {
	Tax(ctx context.Context, in TaxInput) (int64, error)
}

// ZeroTax charges no tax.
type ZeroTax struct{}

// Tax implements TaxCalculator.
func (ZeroTax) Tax(context.Context, TaxInput) (int64, error) { return 0, nil }

// Aggregator computes cart totals from persisted data.
type Aggregator struct {
	Store  TotalsReader
	Tax    TaxCalculator
	Logger zerolog.Logger
}

// ComputeCartTotals returns the totals of the open cart matching lookup, or nil, nil
// when there is none.
func (a *Aggregator) ComputeCartTotals(ctx context.Context, lookup Lookup) (*Totals, error) {
	if a == nil || a.Store == nil {
		return nil, errors.New("cart aggregator not configured")
	}
	if lookup.empty() {
		return nil, nil
	}
	ctx, span := otel.Tracer("cart.Aggregator").Start(ctx, "Aggregator.ComputeCartTotals")
	defer span.End()

	c, err := a.Store.FindOpenCart(ctx, lookup)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	span.SetAttributes(attribute.String("cart.id", c.ID))

	subtotal, err := a.Store.SumLineTotals(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	credits, err := a.Store.SumCredits(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	shipping := c.Shipping.Cents()

	tax := int64(0)
	if a.Tax != nil {
		tax, err = a.Tax.Tax(ctx, TaxInput{Cart: c, SubtotalCents: subtotal, ShippingCents: shipping})
		if err != nil {
			return nil, err
		}
	}

	summary := pricing.Compute(subtotal, shipping, tax, credits)
	currency := c.Currency
	if currency == "" {
		currency = c.Store.Currency()
	}
	return &Totals{
		CartID:        c.ID,
		SessionID:     c.SessionID,
		UserID:        c.UserID,
		Currency:      currency,
		SubtotalCents: summary.Subtotal,
		ShippingCents: summary.Shipping,
		TaxCents:      summary.Tax,
		CreditsCents:  summary.Credits,
		TotalCents:    summary.Total,
	}, nil
}
