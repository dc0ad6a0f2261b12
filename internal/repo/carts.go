package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/pricing"
)

// CartStore implements cart.Store on Postgres.
type CartStore struct {
	pool *pgxpool.Pool
}

// NewCartStore constructs a CartStore backed by pool.
func NewCartStore(pool *pgxpool.Pool) *CartStore {
	return &CartStore{pool: pool}
}

const cartColumns = `id, session_id, user_id, status, store, currency, selected_shipping, created_at, updated_at`

const lineColumns = `id, cart_id, product_id, category_id, title, option_ids, quantity,
unit_price_cents, line_total_cents, unit_cost_cents, line_cost_cents`

func scanCart(row pgx.Row) (*cart.Cart, error) {
	var (
		c        cart.Cart
		status   string
		store    string
		shipping []byte
	)
	if err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &status, &store, &c.Currency, &shipping, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = cart.Status(status)
	c.Store = pricing.Store(store)
	sel, err := decodeShipping(shipping)
	if err != nil {
		return nil, fmt.Errorf("cart %s: %w", c.ID, err)
	}
	c.Shipping = sel
	return &c, nil
}

func scanLine(row pgx.Row) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ID, &l.CartID, &l.ProductID, &l.CategoryID, &l.Title, &l.OptionIDs, &l.Quantity,
		&l.UnitPriceCents, &l.LineTotalCents, &l.UnitCostCents, &l.LineCostCents)
	return l, err
}

func decodeShipping(raw []byte) (*cart.SelectedShipping, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var sel cart.SelectedShipping
	if err := json.Unmarshal(raw, &sel); err != nil {
		return nil, fmt.Errorf("decode selected_shipping: %w", err)
	}
	return &sel, nil
}

func encodeShipping(sel *cart.SelectedShipping) ([]byte, error) {
	if sel == nil {
		return nil, nil
	}
	return json.Marshal(sel)
}

// FindOpenCart implements cart.TotalsReader.
func (s *CartStore) FindOpenCart(ctx context.Context, lookup cart.Lookup) (*cart.Cart, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var row pgx.Row
	switch {
	case strings.TrimSpace(lookup.CartID) != "":
		row = s.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 AND status = 'open'`, lookup.CartID)
	case strings.TrimSpace(lookup.SID) != "":
		row = s.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE session_id = $1 AND status = 'open'
ORDER BY created_at DESC LIMIT 1`, lookup.SID)
	default:
		return nil, nil
	}
	c, err := scanCart(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// SumLineTotals implements cart.TotalsReader with a single aggregate query.
func (s *CartStore) SumLineTotals(ctx context.Context, cartID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	return sumLineTotals(ctx, s.pool, cartID)
}

// SumCredits implements cart.TotalsReader.
func (s *CartStore) SumCredits(ctx context.Context, cartID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	return sumCredits(ctx, s.pool, cartID)
}

func sumLineTotals(ctx context.Context, q querier, cartID string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(COALESCE(line_total_cents, quantity * unit_price_cents)), 0)::BIGINT
FROM cart_lines WHERE cart_id = $1`, cartID).Scan(&total)
	return total, err
}

func sumCredits(ctx context.Context, q querier, cartID string) (int64, error) {
	var total int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0)::BIGINT FROM cart_credits WHERE cart_id = $1`, cartID).Scan(&total)
	return total, err
}

func listLines(ctx context.Context, q querier, cartID string) ([]cart.Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM cart_lines WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := make([]cart.Line, 0)
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CreateCart inserts a new open cart.
func (s *CartStore) CreateCart(ctx context.Context, c cart.Cart) (*cart.Cart, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	shipping, err := encodeShipping(c.Shipping)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO carts (id, session_id, user_id, status, store, currency, selected_shipping)
VALUES ($1, $2, $3, 'open', $4, $5, $6)
RETURNING `+cartColumns, c.ID, c.SessionID, nullableString(c.UserID), string(c.Store), c.Currency, shipping)
	created, err := scanCart(row)
	if isUniqueViolation(err) {
		// another request opened the session cart first
		return s.FindOpenCart(ctx, cart.Lookup{SID: c.SessionID})
	}
	return created, err
}

// ListLines returns the cart lines in insertion order.
func (s *CartStore) ListLines(ctx context.Context, cartID string) ([]cart.Line, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	return listLines(ctx, s.pool, cartID)
}

// FindLine looks a line up by product and canonical option key.
func (s *CartStore) FindLine(ctx context.Context, cartID, productID, optionKey string) (*cart.Line, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	l, err := scanLine(s.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM cart_lines
WHERE cart_id = $1 AND product_id = $2 AND option_key = $3`, cartID, productID, optionKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLine returns cart.ErrNotFound when the line does not belong to the cart.
func (s *CartStore) GetLine(ctx context.Context, cartID, lineID string) (*cart.Line, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	l, err := scanLine(s.pool.QueryRow(ctx, `SELECT `+lineColumns+` FROM cart_lines WHERE cart_id = $1 AND id = $2`, cartID, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cart.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// InsertLine stores a priced line.
func (s *CartStore) InsertLine(ctx context.Context, l cart.Line) (*cart.Line, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	options := pricing.NormalizeOptionIDs(l.OptionIDs)
	if options == nil {
		options = []string{}
	}
	created, err := scanLine(s.pool.QueryRow(ctx, `INSERT INTO cart_lines
(id, cart_id, product_id, category_id, title, option_ids, option_key, quantity, unit_price_cents, line_total_cents, unit_cost_cents, line_cost_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+lineColumns,
		l.ID, l.CartID, l.ProductID, l.CategoryID, l.Title, options, pricing.OptionKey(options),
		l.Quantity, l.UnitPriceCents, l.LineTotalCents, l.UnitCostCents, l.LineCostCents))
	if isUniqueViolation(err) {
		return nil, cart.ErrDuplicateLine
	}
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateLine persists a repriced line.
func (s *CartStore) UpdateLine(ctx context.Context, l cart.Line) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE cart_lines SET quantity = $3, unit_price_cents = $4, line_total_cents = $5,
unit_cost_cents = $6, line_cost_cents = $7, category_id = $8, updated_at = NOW()
WHERE cart_id = $1 AND id = $2`,
		l.CartID, l.ID, l.Quantity, l.UnitPriceCents, l.LineTotalCents, l.UnitCostCents, l.LineCostCents, l.CategoryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return s.touch(ctx, l.CartID)
}

// DeleteLine removes one line.
func (s *CartStore) DeleteLine(ctx context.Context, cartID, lineID string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1 AND id = $2`, cartID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return s.touch(ctx, cartID)
}

// DeleteLines empties the cart.
func (s *CartStore) DeleteLines(ctx context.Context, cartID string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	return s.touch(ctx, cartID)
}

// SetShipping stores or clears the selected shipping.
func (s *CartStore) SetShipping(ctx context.Context, cartID string, sel *cart.SelectedShipping) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	raw, err := encodeShipping(sel)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE carts SET selected_shipping = $2, updated_at = NOW() WHERE id = $1 AND status = 'open'`, cartID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// InsertCredit records a credit against the cart.
func (s *CartStore) InsertCredit(ctx context.Context, c cart.Credit) (*cart.Credit, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	out := c
	err := s.pool.QueryRow(ctx, `INSERT INTO cart_credits (id, cart_id, amount_cents, reason)
VALUES ($1, $2, $3, $4) RETURNING created_at`, c.ID, c.CartID, c.AmountCents, c.Reason).Scan(&out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCredits returns the credits applied to the cart.
func (s *CartStore) ListCredits(ctx context.Context, cartID string) ([]cart.Credit, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, cart_id, amount_cents, reason, created_at FROM cart_credits
WHERE cart_id = $1 ORDER BY created_at`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	credits := make([]cart.Credit, 0)
	for rows.Next() {
		var c cart.Credit
		if err := rows.Scan(&c.ID, &c.CartID, &c.AmountCents, &c.Reason, &c.CreatedAt); err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// SetUser claims the cart for a user.
func (s *CartStore) SetUser(ctx context.Context, cartID, userID string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE carts SET user_id = $2, updated_at = NOW() WHERE id = $1 AND status = 'open'`, cartID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

func (s *CartStore) touch(ctx context.Context, cartID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID)
	return err
}
