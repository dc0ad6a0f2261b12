package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/order"
)

// OrderStore implements order.Store on Postgres.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore constructs an OrderStore backed by pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, cart_id, session_id, user_id, status, payment_status, provider, provider_reference, currency,
subtotal_cents, shipping_cents, tax_cents, discount_cents, credits_cents, total_cents, placed_at`

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o        order.Order
		status   string
		provider string
	)
	err := row.Scan(&o.ID, &o.CartID, &o.SessionID, &o.UserID, &status, &o.PaymentStatus, &provider, &o.ProviderReference,
		&o.Currency, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.DiscountCents, &o.CreditsCents, &o.TotalCents, &o.PlacedAt)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.Provider = order.Provider(provider)
	return &o, nil
}

func findByProviderReference(ctx context.Context, q querier, ref string) (string, bool, error) {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM orders WHERE provider_reference = $1`, ref).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// FindByProviderReference implements order.Store.
func (s *OrderStore) FindByProviderReference(ctx context.Context, ref string) (string, bool, error) {
	if s == nil || s.pool == nil {
		return "", false, ErrStoreUnavailable
	}
	return findByProviderReference(ctx, s.pool, ref)
}

// GetOrder loads the order with its items.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT id, order_id, product_id, title, option_ids, quantity, unit_price_cents,
line_total_cents, unit_cost_cents, line_cost_cents FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Title, &it.OptionIDs, &it.Quantity,
			&it.UnitPriceCents, &it.LineTotalCents, &it.UnitCostCents, &it.LineCostCents); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// ListForUser returns a page of the user's orders, newest first, and the total count.
func (s *OrderStore) ListForUser(ctx context.Context, userID string, limit, offset int) ([]order.Order, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, ErrStoreUnavailable
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1
ORDER BY placed_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]order.Order, 0, limit)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// InTx runs fn inside a read-committed transaction.
func (s *OrderStore) InTx(ctx context.Context, fn func(order.Tx) error) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(orderTx{tx: tx})
	})
}

type orderTx struct {
	tx pgx.Tx
}

func (t orderTx) LockCart(ctx context.Context, cartID string) (*cart.Cart, error) {
	c, err := scanCart(t.tx.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (t orderTx) FindByProviderReference(ctx context.Context, ref string) (string, bool, error) {
	return findByProviderReference(ctx, t.tx, ref)
}

func (t orderTx) CartLines(ctx context.Context, cartID string) ([]cart.Line, error) {
	return listLines(ctx, t.tx, cartID)
}

func (t orderTx) SumCredits(ctx context.Context, cartID string) (int64, error) {
	return sumCredits(ctx, t.tx, cartID)
}

func (t orderTx) InsertOrder(ctx context.Context, o order.Order) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.CartID, o.SessionID, nullableString(o.UserID), string(o.Status), o.PaymentStatus, string(o.Provider),
		nullableString(o.ProviderReference), o.Currency, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.DiscountCents,
		o.CreditsCents, o.TotalCents, o.PlacedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", order.ErrDuplicateOrder, err)
	}
	return err
}

func (t orderTx) InsertItems(ctx context.Context, items []order.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		options := it.OptionIDs
		if options == nil {
			options = []string{}
		}
		batch.Queue(`INSERT INTO order_items (id, order_id, product_id, title, option_ids, quantity, unit_price_cents,
line_total_cents, unit_cost_cents, line_cost_cents) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, it.OrderID, it.ProductID, it.Title, options, it.Quantity, it.UnitPriceCents,
			it.LineTotalCents, it.UnitCostCents, it.LineCostCents)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t orderTx) CloseCart(ctx context.Context, cartID string) error {
	_, err := t.tx.Exec(ctx, `UPDATE carts SET status = 'closed', updated_at = NOW() WHERE id = $1`, cartID)
	return err
}

func (t orderTx) DeleteCredits(ctx context.Context, cartID string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM cart_credits WHERE cart_id = $1`, cartID)
	return err
}
