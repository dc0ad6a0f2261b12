package cart

import (
	"context"
	"sort"
	"sync"

	"github.com/noah-isme/printshop-api/internal/pricing"
)

type memStore struct {
	mu      sync.Mutex
	carts   map[string]*Cart
	lines   map[string][]Line
	credits map[string][]Credit
}

func newMemStore() *memStore {
	return &memStore{
		carts:   map[string]*Cart{},
		lines:   map[string][]Line{},
		credits: map[string][]Credit{},
	}
}

func (m *memStore) FindOpenCart(_ context.Context, lookup Lookup) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.carts {
		if c.Status != StatusOpen {
			continue
		}
		if (lookup.CartID != "" && c.ID == lookup.CartID) || (lookup.CartID == "" && c.SessionID == lookup.SID) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SumLineTotals(_ context.Context, cartID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, l := range m.lines[cartID] {
		sum += l.Total()
	}
	return sum, nil
}

func (m *memStore) SumCredits(_ context.Context, cartID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, c := range m.credits[cartID] {
		sum += c.AmountCents
	}
	return sum, nil
}

func (m *memStore) CreateCart(_ context.Context, c Cart) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.carts[c.ID] = &cp
	return &c, nil
}

func (m *memStore) ListLines(_ context.Context, cartID string) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Line(nil), m.lines[cartID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindLine(_ context.Context, cartID, productID, optionKey string) (*Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lines[cartID] {
		if l.ProductID == productID && pricing.OptionKey(l.OptionIDs) == optionKey {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetLine(_ context.Context, cartID, lineID string) (*Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lines[cartID] {
		if l.ID == lineID {
			cp := l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertLine(_ context.Context, l Line) (*Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.lines[l.CartID] {
		if existing.ProductID == l.ProductID && pricing.OptionKey(existing.OptionIDs) == pricing.OptionKey(l.OptionIDs) {
			return nil, ErrDuplicateLine
		}
	}
	m.lines[l.CartID] = append(m.lines[l.CartID], l)
	return &l, nil
}

func (m *memStore) UpdateLine(_ context.Context, l Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.lines[l.CartID] {
		if existing.ID == l.ID {
			m.lines[l.CartID][i] = l
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) DeleteLine(_ context.Context, cartID, lineID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.lines[cartID]
	for i, l := range lines {
		if l.ID == lineID {
			m.lines[cartID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *memStore) DeleteLines(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lines, cartID)
	return nil
}

func (m *memStore) SetShipping(_ context.Context, cartID string, s *SelectedShipping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return ErrNotFound
	}
	c.Shipping = s
	return nil
}

func (m *memStore) InsertCredit(_ context.Context, c Credit) (*Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[c.CartID] = append(m.credits[c.CartID], c)
	return &c, nil
}

func (m *memStore) ListCredits(_ context.Context, cartID string) ([]Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Credit(nil), m.credits[cartID]...), nil
}

func (m *memStore) SetUser(_ context.Context, cartID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[cartID]
	if !ok {
		return ErrNotFound
	}
	c.UserID = &userID
	return nil
}

// flatPricer charges unit cost × 1.5 and records requests.
type flatPricer struct {
	unitCost int64
	err      error
	requests []pricing.LineRequest
}

func (p *flatPricer) ComputeLinePrice(_ context.Context, req pricing.LineRequest) (pricing.LinePrice, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return pricing.LinePrice{}, p.err
	}
	lineCost := p.unitCost * int64(req.Quantity)
	line := lineCost * 3 / 2
	return pricing.LinePrice{
		UnitSellCents: line / int64(req.Quantity),
		LineSellCents: line,
		UnitCostCents: p.unitCost,
		LineCostCents: lineCost,
		Currency:      req.Store.Currency(),
	}, nil
}
