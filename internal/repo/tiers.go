package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/printshop-api/internal/pricing"
)

// TierStore reads markup tiers and product categories. It implements pricing.TierSource
// and pricing.CategoryResolver.
type TierStore struct {
	pool *pgxpool.Pool
}

// NewTierStore constructs a TierStore backed by pool.
func NewTierStore(pool *pgxpool.Pool) *TierStore {
	return &TierStore{pool: pool}
}

// TiersFor returns the active global tiers of the store plus any category or product
// tiers that can apply to productID.
func (s *TierStore) TiersFor(ctx context.Context, store pricing.Store, productID string) ([]pricing.PriceTier, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT t.id, t.scope, COALESCE(t.scope_id, ''), t.store, t.min_qty, COALESCE(t.max_qty, 0),
t.mult::TEXT, t.floor_pct::TEXT
FROM price_tiers t
WHERE t.active AND t.store = $1 AND (
    t.scope = 'global'
    OR (t.scope = 'product' AND t.scope_id = $2)
    OR (t.scope = 'category' AND t.scope_id IN (SELECT category_id FROM product_categories WHERE product_id = $2))
)`, string(store), productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tiers := make([]pricing.PriceTier, 0)
	for rows.Next() {
		var (
			row      tierRow
			floorPct *string
		)
		if err := rows.Scan(&row.ID, &row.Scope, &row.ScopeID, &row.Store, &row.MinQty, &row.MaxQty, &row.Mult, &floorPct); err != nil {
			return nil, err
		}
		row.FloorPct = floorPct
		tier, err := row.toTier()
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

// CategoryOf returns the category of productID, or "" when it has none.
func (s *TierStore) CategoryOf(ctx context.Context, productID string) (string, error) {
	if s == nil || s.pool == nil {
		return "", ErrStoreUnavailable
	}
	var category string
	err := s.pool.QueryRow(ctx, `SELECT category_id FROM product_categories WHERE product_id = $1`, productID).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return category, err
}

type tierRow struct {
	ID       string
	Scope    string
	ScopeID  string
	Store    string
	MinQty   int
	MaxQty   int
	Mult     string
	FloorPct *string
}

func (r tierRow) toTier() (pricing.PriceTier, error) {
	mult, err := decimal.NewFromString(r.Mult)
	if err != nil {
		return pricing.PriceTier{}, fmt.Errorf("tier %s mult: %w", r.ID, err)
	}
	tier := pricing.PriceTier{
		ID:      r.ID,
		Scope:   pricing.Scope(r.Scope),
		ScopeID: r.ScopeID,
		Store:   pricing.Store(r.Store),
		MinQty:  r.MinQty,
		MaxQty:  r.MaxQty,
		Mult:    mult,
	}
	if r.FloorPct != nil {
		floor, err := decimal.NewFromString(*r.FloorPct)
		if err != nil {
			return pricing.PriceTier{}, fmt.Errorf("tier %s floor_pct: %w", r.ID, err)
		}
		tier.FloorPct = &floor
	}
	return tier, nil
}
