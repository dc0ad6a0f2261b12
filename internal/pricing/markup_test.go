package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func tier(id string, scope Scope, scopeID string, store Store, minQty, maxQty int, mult string) PriceTier {
	return PriceTier{ID: id, Scope: scope, ScopeID: scopeID, Store: store, MinQty: minQty, MaxQty: maxQty, Mult: decimal.RequireFromString(mult)}
}

func cents(v int64) *int64 { return &v }

func TestApplyTieredMarkupPrefersMostSpecificScope(t *testing.T) {
	tiers := []PriceTier{
		tier("global", ScopeGlobal, "", StoreUS, 1, 0, "2.0"),
		tier("category", ScopeCategory, "mugs", StoreUS, 1, 0, "1.8"),
		tier("product", ScopeProduct, "mug-11oz", StoreUS, 1, 0, "1.5"),
	}
	got, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 2, LineCostCents: cents(1000), ProductID: "mug-11oz", CategoryID: "mugs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tier.ID != "product" || got.LineSellCents != 1500 {
		t.Fatalf("expected product tier at 1500, got %s at %d", got.Tier.ID, got.LineSellCents)
	}

	got, err = ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 2, LineCostCents: cents(1000), ProductID: "poster", CategoryID: "mugs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tier.ID != "category" {
		t.Fatalf("expected category tier, got %s", got.Tier.ID)
	}
}

func TestApplyTieredMarkupTightestRangeWins(t *testing.T) {
	tiers := []PriceTier{
		tier("open", ScopeGlobal, "", StoreUS, 1, 0, "2.0"),
		tier("wide", ScopeGlobal, "", StoreUS, 1, 100, "1.9"),
		tier("narrow", ScopeGlobal, "", StoreUS, 10, 24, "1.6"),
	}
	got, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 12, UnitCostCents: cents(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tier.ID != "narrow" || got.LineSellCents != 1920 || got.UnitSellCents != 160 {
		t.Fatalf("unexpected markup %+v", got)
	}
	got, err = ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 500, UnitCostCents: cents(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Tier.ID != "open" {
		t.Fatalf("expected unbounded tier for qty 500, got %s", got.Tier.ID)
	}
}

func TestApplyTieredMarkupIgnoresOtherStores(t *testing.T) {
	tiers := []PriceTier{tier("us", ScopeGlobal, "", StoreUS, 1, 0, "1.5")}
	_, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreCA, Quantity: 1, LineCostCents: cents(1000)})
	if !errors.Is(err, ErrNoPriceTier) {
		t.Fatalf("expected ErrNoPriceTier, got %v", err)
	}
}

func TestApplyTieredMarkupNoTierIsConfigurationError(t *testing.T) {
	tiers := []PriceTier{tier("bulk", ScopeGlobal, "", StoreUS, 50, 0, "1.2")}
	_, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 3, LineCostCents: cents(900)})
	if !errors.Is(err, ErrNoPriceTier) {
		t.Fatalf("expected ErrNoPriceTier, got %v", err)
	}
	_, err = ApplyTieredMarkup(nil, MarkupInput{Store: StoreUS, Quantity: 3, LineCostCents: cents(900)})
	if !errors.Is(err, ErrNoPriceTier) {
		t.Fatalf("expected ErrNoPriceTier for empty tier table, got %v", err)
	}
}

func TestApplyTieredMarkupFloor(t *testing.T) {
	floor := decimal.RequireFromString("1.25")
	low := tier("low", ScopeGlobal, "", StoreUS, 1, 0, "1.10")
	low.FloorPct = &floor
	got, err := ApplyTieredMarkup([]PriceTier{low}, MarkupInput{Store: StoreUS, Quantity: 4, LineCostCents: cents(1000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LineSellCents != 1250 {
		t.Fatalf("expected floor price 1250, got %d", got.LineSellCents)
	}
}

func TestApplyTieredMarkupLineCostIsCanonical(t *testing.T) {
	tiers := []PriceTier{tier("g", ScopeGlobal, "", StoreUS, 1, 0, "1.5")}
	got, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 3, UnitCostCents: cents(999), LineCostCents: cents(1000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LineCostCents != 1000 || got.LineSellCents != 1500 || got.UnitSellCents != 500 {
		t.Fatalf("unexpected markup %+v", got)
	}
}

func TestApplyTieredMarkupRejectsInvalidInput(t *testing.T) {
	tiers := []PriceTier{tier("g", ScopeGlobal, "", StoreUS, 1, 0, "1.5")}
	cases := []MarkupInput{
		{Store: StoreUS, Quantity: 0, LineCostCents: cents(100)},
		{Store: StoreUS, Quantity: 1},
		{Store: StoreUS, Quantity: 1, LineCostCents: cents(-1)},
	}
	for _, in := range cases {
		if _, err := ApplyTieredMarkup(tiers, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}

func TestApplyTieredMarkupRoundingInvariant(t *testing.T) {
	tiers := []PriceTier{
		tier("a", ScopeGlobal, "", StoreUS, 1, 9, "1.37"),
		tier("b", ScopeGlobal, "", StoreUS, 10, 0, "1.23"),
	}
	for qty := 1; qty <= 25; qty++ {
		for cost := int64(0); cost <= 700; cost += 7 {
			got, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: qty, LineCostCents: cents(cost)})
			if err != nil {
				t.Fatalf("qty=%d cost=%d: %v", qty, cost, err)
			}
			drift := got.LineSellCents - got.UnitSellCents*int64(qty)
			if drift < 0 || drift > int64(qty-1) {
				t.Fatalf("qty=%d cost=%d: unit %d x qty drifts %d from line %d", qty, cost, got.UnitSellCents, drift, got.LineSellCents)
			}
		}
	}
}

func TestApplyTieredMarkupRejectsOverflow(t *testing.T) {
	tiers := []PriceTier{tier("global", ScopeGlobal, "", StoreUS, 1, 0, "2.0")}

	_, err := ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 3, UnitCostCents: cents(math.MaxInt64 / 2)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for cost overflow, got %v", err)
	}

	_, err = ApplyTieredMarkup(tiers, MarkupInput{Store: StoreUS, Quantity: 1, LineCostCents: cents(math.MaxInt64 - 1)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for sell overflow, got %v", err)
	}
}
