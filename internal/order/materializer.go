package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/obs"
	"github.com/noah-isme/printshop-api/internal/pricing"
)

// EnsureInput describes the order to materialise from a cart.
type EnsureInput struct {
	CartID            string
	ProviderReference string
	Provider          Provider
	Status            Status
}

// Materializer turns an open cart into exactly one order.
type Materializer struct {
	Store     Store
	Tax       cart.TaxCalculator
	Publisher Publisher
	Now       func() time.Time
	Logger    zerolog.Logger
}

func (m *Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// EnsureOrderFromCart creates the order for the cart or returns the order already recorded
// for the provider reference. The reference is checked before the transaction and again
// after the cart row is locked, so concurrent confirmations of one payment yield one order.
func (m *Materializer) EnsureOrderFromCart(ctx context.Context, in EnsureInput) (string, error) {
	if m == nil || m.Store == nil {
		return "", errors.New("order materializer not configured")
	}
	in.CartID = strings.TrimSpace(in.CartID)
	in.ProviderReference = strings.TrimSpace(in.ProviderReference)
	if in.CartID == "" {
		return "", ErrCartNotFound
	}
	if in.Provider == "" {
		in.Provider = ProviderFree
	}
	if in.Status == "" {
		in.Status = StatusPaid
	}
	ctx, span := otel.Tracer("order.Materializer").Start(ctx, "Materializer.EnsureOrderFromCart")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", in.CartID), attribute.String("provider", string(in.Provider)))

	if in.ProviderReference != "" {
		id, ok, err := m.Store.FindByProviderReference(ctx, in.ProviderReference)
		if err != nil {
			return "", err
		}
		if ok {
			obs.Inc(obs.OrderMaterializeTotal, string(in.Provider), "existing")
			return id, nil
		}
	}

	var (
		created *Order
		existed string
	)
	err := m.Store.InTx(ctx, func(tx Tx) error {
		c, err := tx.LockCart(ctx, in.CartID)
		if err != nil {
			return err
		}
		if in.ProviderReference != "" {
			id, ok, err := tx.FindByProviderReference(ctx, in.ProviderReference)
			if err != nil {
				return err
			}
			if ok {
				existed = id
				return nil
			}
		}
		if c == nil || c.Status != cart.StatusOpen {
			return ErrCartNotFound
		}
		lines, err := tx.CartLines(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		credits, err := tx.SumCredits(ctx, c.ID)
		if err != nil {
			return err
		}
		o, err := m.build(ctx, c, lines, credits, in)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, *o); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, o.Items); err != nil {
			return err
		}
		if err := tx.CloseCart(ctx, c.ID); err != nil {
			return err
		}
		if err := tx.DeleteCredits(ctx, c.ID); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateOrder) && in.ProviderReference != "" {
			if id, ok, ferr := m.Store.FindByProviderReference(ctx, in.ProviderReference); ferr == nil && ok {
				obs.Inc(obs.OrderMaterializeTotal, string(in.Provider), "existing")
				return id, nil
			}
		}
		result := "error"
		if errors.Is(err, ErrDuplicateOrder) {
			result = "duplicate"
		}
		obs.Inc(obs.OrderMaterializeTotal, string(in.Provider), result)
		span.RecordError(err)
		return "", err
	}
	if existed != "" {
		obs.Inc(obs.OrderMaterializeTotal, string(in.Provider), "existing")
		return existed, nil
	}

	obs.Inc(obs.OrderMaterializeTotal, string(in.Provider), "created")
	m.Logger.Info().
		Str("order_id", created.ID).
		Str("cart_id", created.CartID).
		Str("provider", string(created.Provider)).
		Int64("total_cents", created.TotalCents).
		Msg("order materialized")
	m.publish(ctx, created)
	return created.ID, nil
}

func (m *Materializer) build(ctx context.Context, c *cart.Cart, lines []cart.Line, credits int64, in EnsureInput) (*Order, error) {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.Total()
	}
	shipping := c.Shipping.Cents()
	tax := int64(0)
	if m.Tax != nil {
		var err error
		tax, err = m.Tax.Tax(ctx, cart.TaxInput{Cart: c, SubtotalCents: subtotal, ShippingCents: shipping})
		if err != nil {
			return nil, fmt.Errorf("compute tax: %w", err)
		}
	}
	summary := pricing.Compute(subtotal, shipping, tax, credits)
	currency := c.Currency
	if currency == "" {
		currency = c.Store.Currency()
	}
	paymentStatus := "unpaid"
	if in.Status == StatusPaid {
		paymentStatus = "paid"
	}
	o := &Order{
		ID:            uuid.NewString(),
		CartID:        c.ID,
		SessionID:     c.SessionID,
		UserID:        c.UserID,
		Status:        in.Status,
		PaymentStatus: paymentStatus,
		Provider:      in.Provider,
		Currency:      currency,
		SubtotalCents: summary.Subtotal,
		ShippingCents: summary.Shipping,
		TaxCents:      summary.Tax,
		CreditsCents:  summary.Credits,
		TotalCents:    summary.Total,
		PlacedAt:      m.now(),
	}
	if in.ProviderReference != "" {
		ref := in.ProviderReference
		o.ProviderReference = &ref
	}
	o.Items = make([]Item, 0, len(lines))
	for _, l := range lines {
		o.Items = append(o.Items, Item{
			ID:             uuid.NewString(),
			OrderID:        o.ID,
			ProductID:      l.ProductID,
			Title:          l.Title,
			OptionIDs:      l.OptionIDs,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			LineTotalCents: l.Total(),
			UnitCostCents:  l.UnitCostCents,
			LineCostCents:  l.LineCostCents,
		})
	}
	return o, nil
}

func (m *Materializer) publish(ctx context.Context, o *Order) {
	if m.Publisher == nil {
		return
	}
	err := m.Publisher.OrderCreated(ctx, CreatedEvent{
		OrderID:    o.ID,
		CartID:     o.CartID,
		Provider:   o.Provider,
		TotalCents: o.TotalCents,
		Currency:   o.Currency,
		PlacedAt:   o.PlacedAt,
	})
	if err != nil {
		m.Logger.Warn().Err(err).Str("order_id", o.ID).Msg("order created event not published")
	}
}
