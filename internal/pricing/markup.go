package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPriceTier is the configuration error raised when no markup tier applies.
	// Pricing never falls back to an implicit 1.0 multiplier.
	ErrNoPriceTier = errors.New("pricing: no applicable price tier")
	// ErrInvalidInput is returned for non-positive quantities or negative costs.
	ErrInvalidInput = errors.New("pricing: invalid input")
)

// Scope describes how specific a price tier is.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeCategory Scope = "category"
	ScopeProduct  Scope = "product"
)

func (s Scope) rank() int {
	switch s {
	case ScopeProduct:
		return 3
	case ScopeCategory:
		return 2
	case ScopeGlobal:
		return 1
	default:
		return 0
	}
}

// PriceTier is a quantity-ranged markup rule.
type PriceTier struct {
	ID       string
	Scope    Scope
	ScopeID  string
	Store    Store
	MinQty   int
	MaxQty   int // 0 means unbounded
	Mult     decimal.Decimal
	FloorPct *decimal.Decimal
}

func (t PriceTier) contains(qty int) bool {
	if qty < t.MinQty {
		return false
	}
	return t.MaxQty == 0 || qty <= t.MaxQty
}

func (t PriceTier) matches(in MarkupInput) bool {
	if t.Store != in.Store || !t.contains(in.Quantity) {
		return false
	}
	switch t.Scope {
	case ScopeGlobal:
		return true
	case ScopeCategory:
		return in.CategoryID != "" && strings.EqualFold(t.ScopeID, in.CategoryID)
	case ScopeProduct:
		return in.ProductID != "" && strings.EqualFold(t.ScopeID, in.ProductID)
	default:
		return false
	}
}

// width orders tiers by how tight their quantity range is; unbounded ranges are the loosest.
func (t PriceTier) width() int64 {
	if t.MaxQty == 0 {
		return int64(^uint64(0) >> 1)
	}
	return int64(t.MaxQty - t.MinQty)
}

// MarkupInput carries the trade cost to be marked up. When both costs are set the line cost is canonical.
type MarkupInput struct {
	Store         Store
	Quantity      int
	UnitCostCents *int64
	LineCostCents *int64
	ProductID     string
	CategoryID    string
}

// Markup is the retail sell price derived from a trade cost.
type Markup struct {
	UnitSellCents Money
	LineSellCents Money
	LineCostCents Money
	Tier          PriceTier
}

// SelectTier picks the most specific tier covering the input; ties go to the tightest quantity range.
func SelectTier(tiers []PriceTier, in MarkupInput) (PriceTier, bool) {
	var (
		best  PriceTier
		found bool
	)
	for _, t := range tiers {
		if !t.matches(in) {
			continue
		}
		if !found || better(t, best) {
			best = t
			found = true
		}
	}
	return best, found
}

func better(a, b PriceTier) bool {
	if a.Scope.rank() != b.Scope.rank() {
		return a.Scope.rank() > b.Scope.rank()
	}
	if a.width() != b.width() {
		return a.width() < b.width()
	}
	return a.MinQty > b.MinQty
}

// ApplyTieredMarkup converts a vendor trade cost into a retail price. The line sell price is
// authoritative; the unit price is floor(line / qty) and any remainder is absorbed.
func ApplyTieredMarkup(tiers []PriceTier, in MarkupInput) (Markup, error) {
	if in.Quantity < 1 {
		return Markup{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	var lineCost int64
	switch {
	case in.LineCostCents != nil:
		lineCost = *in.LineCostCents
	case in.UnitCostCents != nil:
		if *in.UnitCostCents > math.MaxInt64/int64(in.Quantity) {
			return Markup{}, fmt.Errorf("line cost overflows: %w", ErrInvalidInput)
		}
		lineCost = *in.UnitCostCents * int64(in.Quantity)
	default:
		return Markup{}, fmt.Errorf("cost is required: %w", ErrInvalidInput)
	}
	if lineCost < 0 {
		return Markup{}, fmt.Errorf("cost must not be negative: %w", ErrInvalidInput)
	}
	tier, ok := SelectTier(tiers, in)
	if !ok {
		return Markup{}, fmt.Errorf("%w: store=%s qty=%d product=%s", ErrNoPriceTier, in.Store, in.Quantity, in.ProductID)
	}

	cost := decimal.NewFromInt(lineCost)
	sell := cost.Mul(tier.Mult)
	if tier.FloorPct != nil {
		if floor := cost.Mul(*tier.FloorPct); floor.GreaterThan(sell) {
			sell = floor
		}
	}
	rounded := sell.Round(0)
	if rounded.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return Markup{}, fmt.Errorf("sell price overflows: %w", ErrInvalidInput)
	}
	lineSell := rounded.IntPart()
	if lineSell < 0 {
		lineSell = 0
	}
	return Markup{
		UnitSellCents: lineSell / int64(in.Quantity),
		LineSellCents: lineSell,
		LineCostCents: lineCost,
		Tier:          tier,
	}, nil
}
