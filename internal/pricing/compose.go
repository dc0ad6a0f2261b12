package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var lineDuration, _ = otel.Meter("pricing.Composer").Float64Histogram(
	"pricing.line.duration",
	metric.WithUnit("s"),
	metric.WithDescription("Time to compose a line price, vendor lookup included."),
)

// VendorQuery identifies the exact product configuration to price with the vendor.
type VendorQuery struct {
	ProductID string
	OptionIDs []string
	Quantity  int
	Store     Store
}

// TradePriceLookup fetches the raw vendor trade-price payload. Transport, auth, caching
// and retries are the implementation's concern.
type TradePriceLookup interface {
	TradePrice(ctx context.Context, q VendorQuery) ([]byte, error)
}

// TierSource returns the price tiers that may apply to a product in a store.
type TierSource interface {
	TiersFor(ctx context.Context, store Store, productID string) ([]PriceTier, error)
}

// CategoryResolver is optionally implemented by a TierSource that knows product categories.
// Categories are only ever resolved here; callers cannot supply one, since the category
// decides which markup tier applies.
type CategoryResolver interface {
	CategoryOf(ctx context.Context, productID string) (string, error)
}

// LineRequest describes a cart line to be priced.
type LineRequest struct {
	ProductID string
	Store     Store
	Quantity  int
	OptionIDs []string
}

// LinePrice is the composed sell and cost price of a line, in cents.
type LinePrice struct {
	UnitSellCents Money  `json:"unitSellCents"`
	LineSellCents Money  `json:"lineSellCents"`
	UnitCostCents Money  `json:"unitCostCents"`
	LineCostCents Money  `json:"lineCostCents"`
	Currency      string `json:"currency"`
	TierID        string `json:"tierId,omitempty"`
	CategoryID    string `json:"categoryId,omitempty"`
}

// Composer combines the vendor trade price with the tiered markup.
type Composer struct {
	Vendor TradePriceLookup
	Tiers  TierSource
}

// ComputeLinePrice prices a line: vendor lookup, normalisation, then markup.
func (c *Composer) ComputeLinePrice(ctx context.Context, req LineRequest) (price LinePrice, err error) {
	if c == nil || c.Vendor == nil || c.Tiers == nil {
		return LinePrice{}, errors.New("pricing composer not configured")
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return LinePrice{}, fmt.Errorf("product id is required: %w", ErrInvalidInput)
	}
	if req.Quantity < 1 {
		return LinePrice{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	ctx, span := otel.Tracer("pricing.Composer").Start(ctx, "Composer.ComputeLinePrice")
	defer span.End()
	defer func(start time.Time) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		lineDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("store", string(req.Store)),
			attribute.String("outcome", outcome),
		))
	}(time.Now())
	span.SetAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.String("store", string(req.Store)),
		attribute.Int("quantity", req.Quantity),
	)

	options := NormalizeOptionIDs(req.OptionIDs)
	raw, err := c.Vendor.TradePrice(ctx, VendorQuery{
		ProductID: req.ProductID,
		OptionIDs: options,
		Quantity:  req.Quantity,
		Store:     req.Store,
	})
	if err != nil {
		span.RecordError(err)
		return LinePrice{}, err
	}
	cost, err := ParseVendorPrice(raw)
	if err != nil {
		span.RecordError(err)
		return LinePrice{}, fmt.Errorf("product %s: %w", req.ProductID, err)
	}
	unitCost, lineCost, err := cost.Resolve(req.Quantity)
	if err != nil {
		span.RecordError(err)
		return LinePrice{}, fmt.Errorf("product %s: %w", req.ProductID, err)
	}

	tiers, err := c.Tiers.TiersFor(ctx, req.Store, req.ProductID)
	if err != nil {
		return LinePrice{}, err
	}
	var category string
	if resolver, ok := c.Tiers.(CategoryResolver); ok {
		if category, err = resolver.CategoryOf(ctx, req.ProductID); err != nil {
			return LinePrice{}, err
		}
	}
	markup, err := ApplyTieredMarkup(tiers, MarkupInput{
		Store:         req.Store,
		Quantity:      req.Quantity,
		LineCostCents: &lineCost,
		ProductID:     req.ProductID,
		CategoryID:    category,
	})
	if err != nil {
		span.RecordError(err)
		return LinePrice{}, err
	}
	return LinePrice{
		UnitSellCents: markup.UnitSellCents,
		LineSellCents: markup.LineSellCents,
		UnitCostCents: unitCost,
		LineCostCents: lineCost,
		Currency:      req.Store.Currency(),
		TierID:        markup.Tier.ID,
		CategoryID:    category,
	}, nil
}

// NormalizeOptionIDs sorts and de-duplicates option identifiers; order never affects price.
func NormalizeOptionIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

// OptionKey is the canonical string form of an option set, used to match cart lines.
func OptionKey(ids []string) string {
	return strings.Join(NormalizeOptionIDs(ids), ",")
}
