package order

import (
	"context"
	"sort"
	"sync"

	"github.com/noah-isme/printshop-api/internal/cart"
)

type memState struct {
	carts   map[string]cart.Cart
	lines   map[string][]cart.Line
	credits map[string]int64
	orders  map[string]Order
}

func (s memState) clone() memState {
	out := memState{
		carts:   make(map[string]cart.Cart, len(s.carts)),
		lines:   make(map[string][]cart.Line, len(s.lines)),
		credits: make(map[string]int64, len(s.credits)),
		orders:  make(map[string]Order, len(s.orders)),
	}
	for k, v := range s.carts {
		out.carts[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]cart.Line(nil), v...)
	}
	for k, v := range s.credits {
		out.credits[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	return out
}

// memStore serialises transactions, which stands in for the cart row lock.
type memStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state memState

	// hidePrechecks makes the next n out-of-transaction reference lookups miss.
	hidePrechecks  int
	skipTxRefCheck bool
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		carts:   map[string]cart.Cart{},
		lines:   map[string][]cart.Line{},
		credits: map[string]int64{},
		orders:  map[string]Order{},
	}}
}

func (m *memStore) seed(c cart.Cart, lines []cart.Line, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Status == "" {
		c.Status = cart.StatusOpen
	}
	m.state.carts[c.ID] = c
	m.state.lines[c.ID] = lines
	m.state.credits[c.ID] = credits
}

func (m *memStore) findRef(state memState, ref string) (string, bool) {
	for _, o := range state.orders {
		if o.ProviderReference != nil && *o.ProviderReference == ref {
			return o.ID, true
		}
	}
	return "", false
}

func (m *memStore) FindByProviderReference(_ context.Context, ref string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hidePrechecks > 0 {
		m.hidePrechecks--
		return "", false, nil
	}
	id, ok := m.findRef(m.state, ref)
	return id, ok, nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memStore) ListForUser(_ context.Context, userID string, limit, offset int) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.state.orders {
		if o.UserID != nil && *o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memStore) cart(id string) cart.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.carts[id]
}

func (m *memStore) creditsFor(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.credits[id]
}

func (m *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	tx := &memTx{store: m, state: m.state.clone()}
	m.mu.Unlock()
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = tx.state
	m.mu.Unlock()
	return nil
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) LockCart(_ context.Context, cartID string) (*cart.Cart, error) {
	c, ok := t.state.carts[cartID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (t *memTx) FindByProviderReference(_ context.Context, ref string) (string, bool, error) {
	if t.store.skipTxRefCheck {
		return "", false, nil
	}
	id, ok := t.store.findRef(t.state, ref)
	return id, ok, nil
}

func (t *memTx) CartLines(_ context.Context, cartID string) ([]cart.Line, error) {
	return append([]cart.Line(nil), t.state.lines[cartID]...), nil
}

func (t *memTx) SumCredits(_ context.Context, cartID string) (int64, error) {
	return t.state.credits[cartID], nil
}

func (t *memTx) InsertOrder(_ context.Context, o Order) error {
	for _, existing := range t.state.orders {
		if existing.CartID == o.CartID {
			return ErrDuplicateOrder
		}
		if o.ProviderReference != nil && existing.ProviderReference != nil && *existing.ProviderReference == *o.ProviderReference {
			return ErrDuplicateOrder
		}
	}
	o.Items = nil
	t.state.orders[o.ID] = o
	return nil
}

func (t *memTx) InsertItems(_ context.Context, items []Item) error {
	for _, it := range items {
		o := t.state.orders[it.OrderID]
		o.Items = append(o.Items, it)
		t.state.orders[it.OrderID] = o
	}
	return nil
}

func (t *memTx) CloseCart(_ context.Context, cartID string) error {
	c := t.state.carts[cartID]
	c.Status = cart.StatusClosed
	t.state.carts[cartID] = c
	return nil
}

func (t *memTx) DeleteCredits(_ context.Context, cartID string) error {
	delete(t.state.credits, cartID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []CreatedEvent
	err    error
}

func (p *recordingPublisher) OrderCreated(_ context.Context, evt CreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}
