package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printshop-api/internal/pricing"
)

// LinePricer prices a cart line.
type LinePricer interface {
	ComputeLinePrice(ctx context.Context, req pricing.LineRequest) (pricing.LinePrice, error)
}

// Service encapsulates cart domain operations.
type Service struct {
	Store  Store
	Pricer LinePricer
	Now    func() time.Time
	Logger zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return nil
}

// EnsureCart loads the open cart for the session or creates one.
func (s *Service) EnsureCart(ctx context.Context, sid, userID string, store pricing.Store) (*Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return nil, fmt.Errorf("session id required: %w", ErrInvalidInput)
	}
	existing, err := s.Store.FindOpenCart(ctx, Lookup{SID: sid})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if store == "" {
		store = pricing.StoreUS
	}
	now := s.now()
	c := Cart{
		ID:        uuid.NewString(),
		SessionID: sid,
		Status:    StatusOpen,
		Store:     store,
		Currency:  store.Currency(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != "" {
		c.UserID = &userID
	}
	return s.Store.CreateCart(ctx, c)
}

// AddItemInput describes a product configuration to add.
type AddItemInput struct {
	ProductID string   `json:"productId" validate:"required"`
	Title     string   `json:"title"`
	OptionIDs []string `json:"optionIds"`
	Quantity  int      `json:"quantity" validate:"required,gte=1,lte=100000"`
}

// AddItem prices and adds a line. A line with the same product and option set is merged
// and repriced at the combined quantity.
func (s *Service) AddItem(ctx context.Context, cartID string, in AddItemInput) (*Line, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, fmt.Errorf("product id required: %w", ErrInvalidInput)
	}
	if in.Quantity < 1 || in.Quantity > MaxLineQuantity {
		return nil, fmt.Errorf("quantity must be between 1 and %d: %w", MaxLineQuantity, ErrInvalidInput)
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	options := pricing.NormalizeOptionIDs(in.OptionIDs)
	optionKey := pricing.OptionKey(options)
	existing, err := s.Store.FindLine(ctx, c.ID, in.ProductID, optionKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.mergeLine(ctx, c, existing, in.Quantity)
	}

	line := Line{
		ID:        uuid.NewString(),
		CartID:    c.ID,
		ProductID: in.ProductID,
		Title:     in.Title,
		OptionIDs: options,
		Quantity:  in.Quantity,
	}
	if err := s.reprice(ctx, c, &line); err != nil {
		return nil, err
	}
	created, err := s.Store.InsertLine(ctx, line)
	if !errors.Is(err, ErrDuplicateLine) {
		return created, err
	}
	// a concurrent add inserted the same configuration first
	existing, err = s.Store.FindLine(ctx, c.ID, in.ProductID, optionKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrDuplicateLine
	}
	return s.mergeLine(ctx, c, existing, in.Quantity)
}

func (s *Service) mergeLine(ctx context.Context, c *Cart, existing *Line, add int) (*Line, error) {
	if existing.Quantity+add > MaxLineQuantity {
		return nil, fmt.Errorf("merged quantity %d exceeds %d: %w", existing.Quantity+add, MaxLineQuantity, ErrInvalidInput)
	}
	existing.Quantity += add
	if err := s.reprice(ctx, c, existing); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateLine(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// UpdateQty changes a line quantity and reprices it.
func (s *Service) UpdateQty(ctx context.Context, cartID, lineID string, qty int) (*Line, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if qty < 1 || qty > MaxLineQuantity {
		return nil, fmt.Errorf("quantity must be between 1 and %d: %w", MaxLineQuantity, ErrInvalidInput)
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	line, err := s.Store.GetLine(ctx, c.ID, lineID)
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, ErrNotFound
	}
	line.Quantity = qty
	if err := s.reprice(ctx, c, line); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateLine(ctx, *line); err != nil {
		return nil, err
	}
	return line, nil
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, cartID, lineID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return err
	}
	return s.Store.DeleteLine(ctx, c.ID, lineID)
}

// Clear deletes every line of the cart. Credits and shipping stay attached.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return err
	}
	return s.Store.DeleteLines(ctx, c.ID)
}

// SelectShipping stores the shipping selection; nil clears it.
func (s *Service) SelectShipping(ctx context.Context, cartID string, sel *SelectedShipping) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := sel.Validate(); err != nil {
		return err
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return err
	}
	if sel != nil && sel.Currency == "" {
		sel.Currency = c.Currency
	}
	return s.Store.SetShipping(ctx, c.ID, sel)
}

// RedeemCredit attaches a positive credit to the cart.
func (s *Service) RedeemCredit(ctx context.Context, cartID string, amountCents int64, reason string) (*Credit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("credit must be positive: %w", ErrInvalidInput)
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "loyalty"
	}
	return s.Store.InsertCredit(ctx, Credit{
		ID:          uuid.NewString(),
		CartID:      c.ID,
		AmountCents: amountCents,
		Reason:      reason,
		CreatedAt:   s.now(),
	})
}

// Claim binds the cart to userID. Claiming a cart owned by another user fails.
func (s *Service) Claim(ctx context.Context, cartID, userID string) (*Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required: %w", ErrInvalidInput)
	}
	c, err := s.openCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !c.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	if c.UserID == nil {
		if err := s.Store.SetUser(ctx, c.ID, userID); err != nil {
			return nil, err
		}
		c.UserID = &userID
	}
	return c, nil
}

// Lines returns the lines of an open cart.
func (s *Service) Lines(ctx context.Context, cartID string) ([]Line, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.Store.ListLines(ctx, cartID)
}

func (s *Service) openCart(ctx context.Context, cartID string) (*Cart, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, ErrNotFound
	}
	c, err := s.Store.FindOpenCart(ctx, Lookup{CartID: cartID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) reprice(ctx context.Context, c *Cart, line *Line) error {
	if s.Pricer == nil {
		return errors.New("cart pricer not configured")
	}
	price, err := s.Pricer.ComputeLinePrice(ctx, pricing.LineRequest{
		ProductID: line.ProductID,
		Store:     c.Store,
		Quantity:  line.Quantity,
		OptionIDs: line.OptionIDs,
	})
	if err != nil {
		s.Logger.Warn().Err(err).Str("cart_id", c.ID).Str("product_id", line.ProductID).Msg("line pricing failed")
		return err
	}
	total := price.LineSellCents
	line.UnitPriceCents = price.UnitSellCents
	line.LineTotalCents = &total
	line.UnitCostCents = price.UnitCostCents
	line.LineCostCents = price.LineCostCents
	line.CategoryID = price.CategoryID
	return nil
}
