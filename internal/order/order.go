package order

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/printshop-api/internal/cart"
)

var (
	// ErrCartNotFound is returned when the cart is missing or no longer open.
	ErrCartNotFound = errors.New("order: cart not found or not open")
	// ErrEmptyCart is returned when the cart has no lines.
	ErrEmptyCart = errors.New("order: cart is empty")
	// ErrDuplicateOrder is returned when an order already exists for the cart or provider reference.
	ErrDuplicateOrder = errors.New("order: duplicate order")
	// ErrNotFound indicates the requested order could not be located.
	ErrNotFound = errors.New("order: not found")
)

// Provider identifies how an order was paid.
type Provider string

const (
	ProviderFree   Provider = "free"
	ProviderStripe Provider = "stripe"
)

// Status is the order status at creation.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
)

// Order is the immutable record of a completed purchase.
type Order struct {
	ID                string    `json:"id"`
	CartID            string    `json:"cartId"`
	SessionID         string    `json:"sessionId"`
	UserID            *string   `json:"userId,omitempty"`
	Status            Status    `json:"status"`
	PaymentStatus     string    `json:"paymentStatus"`
	Provider          Provider  `json:"provider"`
	ProviderReference *string   `json:"providerReference,omitempty"`
	Currency          string    `json:"currency"`
	SubtotalCents     int64     `json:"subtotalCents"`
	ShippingCents     int64     `json:"shippingCents"`
	TaxCents          int64     `json:"taxCents"`
	DiscountCents     int64     `json:"discountCents"`
	CreditsCents      int64     `json:"creditsCents"`
	TotalCents        int64     `json:"totalCents"`
	PlacedAt          time.Time `json:"placedAt"`
	Items             []Item    `json:"items,omitempty"`
}

// Item is one order line copied from a cart line.
type Item struct {
	ID             string   `json:"id"`
	OrderID        string   `json:"orderId"`
	ProductID      string   `json:"productId"`
	Title          string   `json:"title,omitempty"`
	OptionIDs      []string `json:"optionIds"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	LineTotalCents int64    `json:"lineTotalCents"`
	UnitCostCents  int64    `json:"unitCostCents"`
	LineCostCents  int64    `json:"lineCostCents"`
}

// Store persists orders.
type Store interface {
	// FindByProviderReference reports the id of the order carrying ref, if any.
	FindByProviderReference(ctx context.Context, ref string) (string, bool, error)
	// GetOrder returns ErrNotFound when the order does not exist. Items are included.
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, int, error)
	// InTx runs fn in a single database transaction, rolling back when fn fails.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional view used while materialising an order.
type Tx interface {
	// LockCart locks the cart row for the rest of the transaction; nil, nil when missing.
	LockCart(ctx context.Context, cartID string) (*cart.Cart, error)
	FindByProviderReference(ctx context.Context, ref string) (string, bool, error)
	CartLines(ctx context.Context, cartID string) ([]cart.Line, error)
	SumCredits(ctx context.Context, cartID string) (int64, error)
	// InsertOrder returns ErrDuplicateOrder on a provider reference or cart uniqueness violation.
	InsertOrder(ctx context.Context, o Order) error
	InsertItems(ctx context.Context, items []Item) error
	CloseCart(ctx context.Context, cartID string) error
	DeleteCredits(ctx context.Context, cartID string) error
}

// CreatedEvent is published after an order has been committed.
type CreatedEvent struct {
	OrderID    string    `json:"orderId"`
	CartID     string    `json:"cartId"`
	Provider   Provider  `json:"provider"`
	TotalCents int64     `json:"totalCents"`
	Currency   string    `json:"currency"`
	PlacedAt   time.Time `json:"placedAt"`
}

// Publisher announces committed orders.
type Publisher interface {
	OrderCreated(ctx context.Context, evt CreatedEvent) error
}
