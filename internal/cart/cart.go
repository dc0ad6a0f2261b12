package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/printshop-api/internal/pricing"
)

var (
	// ErrNotFound indicates the requested cart or line could not be located.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidInput is returned when the provided payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden is returned when a cart is claimed by another user.
	ErrForbidden = errors.New("cart belongs to another user")
	// ErrDuplicateLine is returned by Store.InsertLine when the cart already holds a line
	// for the same product and option set.
	ErrDuplicateLine = errors.New("cart line already exists")
)

// MaxLineQuantity caps the quantity of a single line, including merged additions.
const MaxLineQuantity = 100000

// Status is the cart lifecycle state.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Cart is a shopping session owned by a session id and optionally claimed by a user.
type Cart struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	UserID    *string           `json:"userId,omitempty"`
	Status    Status            `json:"status"`
	Store     pricing.Store     `json:"store"`
	Currency  string            `json:"currency"`
	Shipping  *SelectedShipping `json:"selectedShipping,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// OwnedBy reports whether the cart may be acted on by userID. Unclaimed carts belong to their session.
func (c *Cart) OwnedBy(userID string) bool {
	if c == nil || c.UserID == nil || *c.UserID == "" {
		return true
	}
	return userID != "" && *c.UserID == userID
}

// Line is a priced cart line.
type Line struct {
	ID             string   `json:"id"`
	CartID         string   `json:"cartId"`
	ProductID      string   `json:"productId"`
	CategoryID     string   `json:"categoryId,omitempty"` // resolved server-side, informational
	Title          string   `json:"title,omitempty"`
	OptionIDs      []string `json:"optionIds"`
	Quantity       int      `json:"quantity"`
	UnitPriceCents int64    `json:"unitPriceCents"`
	LineTotalCents *int64   `json:"lineTotalCents,omitempty"`
	UnitCostCents  int64    `json:"unitCostCents"`
	LineCostCents  int64    `json:"lineCostCents"`
}

// Total returns the stored line total, falling back to quantity × unit price.
func (l Line) Total() int64 {
	if l.LineTotalCents != nil {
		return *l.LineTotalCents
	}
	return int64(l.Quantity) * l.UnitPriceCents
}

// Credit is a monetary adjustment applied to a cart, such as a loyalty redemption.
type Credit struct {
	ID          string    `json:"id"`
	CartID      string    `json:"cartId"`
	AmountCents int64     `json:"amountCents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SelectedShipping is the shipping choice stored on the cart.
//
// Cost is kept as entered by the storefront, which mixes dollars and cents. CostCents is
// the explicit unit and wins when present.
type SelectedShipping struct {
	Carrier     string           `json:"carrier" validate:"required"`
	Method      string           `json:"method" validate:"required"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
	CostCents   *int64           `json:"costCents,omitempty"`
	Days        int              `json:"days,omitempty" validate:"gte=0"`
	Currency    string           `json:"currency,omitempty"`
	Destination string           `json:"destination,omitempty"`
}

// shippingCentsThreshold is the magnitude from which an integral cost is read as cents.
var shippingCentsThreshold = decimal.NewFromInt(1000)

// Validate rejects negative costs.
func (s *SelectedShipping) Validate() error {
	if s == nil {
		return nil
	}
	if s.CostCents != nil && *s.CostCents < 0 {
		return fmt.Errorf("shipping cost must not be negative: %w", ErrInvalidInput)
	}
	if s.Cost != nil && s.Cost.IsNegative() {
		return fmt.Errorf("shipping cost must not be negative: %w", ErrInvalidInput)
	}
	if s.CostCents == nil && s.Cost == nil {
		return fmt.Errorf("shipping cost is required: %w", ErrInvalidInput)
	}
	return nil
}

// Cents converts the selection to cents. Without an explicit CostCents the legacy
// heuristic applies: an integral cost of at least 1000 is already cents, anything
// else is dollars. A missing selection or negative cost is zero.
func (s *SelectedShipping) Cents() int64 {
	if s == nil {
		return 0
	}
	if s.CostCents != nil {
		if *s.CostCents < 0 {
			return 0
		}
		return *s.CostCents
	}
	if s.Cost == nil || !s.Cost.IsPositive() {
		return 0
	}
	if s.Cost.IsInteger() && s.Cost.GreaterThanOrEqual(shippingCentsThreshold) {
		return s.Cost.IntPart()
	}
	return s.Cost.Shift(2).Round(0).IntPart()
}

// Lookup identifies an open cart by id or by session id. CartID wins when both are set.
type Lookup struct {
	CartID string
	SID    string
}

func (l Lookup) empty() bool {
	return l.CartID == "" && l.SID == ""
}
