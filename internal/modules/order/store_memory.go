// README: In-memory order store for tests, the bench and single-node dev runs.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"foodrun/internal/types"
)

// MemoryStore applies every conditional write under one mutex, so it offers
// the same compare-and-set guarantees as the Postgres store.
type MemoryStore struct {
	mu sync.RWMutex

	orders     map[types.ID]*Order
	shopOrders map[types.ID]*ShopOrder
	events     []*Event
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[types.ID]*Order),
		shopOrders: make(map[types.ID]*ShopOrder),
		now:        time.Now,
	}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return ErrBadRequest
	}
	for _, so := range o.ShopOrders {
		if _, ok := m.shopOrders[so.ID]; ok {
			return ErrBadRequest
		}
	}
	head := *o
	head.ShopOrders = nil
	m.orders[o.ID] = &head
	for _, so := range o.ShopOrders {
		m.shopOrders[so.ID] = so.Clone()
	}
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id types.ID) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.assemble(o), nil
}

func (m *MemoryStore) GetShopOrder(_ context.Context, id types.ID) (*ShopOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	so, ok := m.shopOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return so.Clone(), nil
}

func (m *MemoryStore) ListOrdersByCustomer(_ context.Context, customerID types.ID) ([]*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, m.assemble(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListShopOrdersByShop(_ context.Context, shopID types.ID) ([]*ShopOrder, error) {
	return m.filter(func(so *ShopOrder) bool { return so.ShopID == shopID }), nil
}

func (m *MemoryStore) ListShopOrdersByCourier(_ context.Context, courierID types.ID) ([]*ShopOrder, error) {
	return m.filter(func(so *ShopOrder) bool { return so.AssignedTo(courierID) }), nil
}

func (m *MemoryStore) ListOpenShopOrders(_ context.Context) ([]*ShopOrder, error) {
	return m.filter(func(so *ShopOrder) bool {
		return so.Status == StatusPreparing && !so.Assigned()
	}), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, u StatusUpdate) (*ShopOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	so, ok := m.shopOrders[u.ID]
	if !ok || so.Status != u.From || so.Version != u.Version {
		return nil, false, nil
	}
	if u.RequireUnassigned && so.Assigned() {
		return nil, false, nil
	}

	now := m.now()
	so.Status = u.To
	so.Version++
	so.UpdatedAt = now
	switch u.To {
	case StatusDelivered:
		so.DeliveredAt = &now
	case StatusCancelled:
		so.CancelledAt = &now
	}
	return so.Clone(), true, nil
}

func (m *MemoryStore) ClaimCourier(_ context.Context, id types.ID, c Courier) (*ShopOrder, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	so, ok := m.shopOrders[id]
	if !ok || so.Assigned() || so.Status != StatusPreparing {
		return nil, false, nil
	}

	now := m.now()
	courier := c
	so.Courier = &courier
	so.Status = StatusAccepted
	so.Version++
	so.UpdatedAt = now
	so.AcceptedAt = &now
	return so.Clone(), true, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	cp.ID = int64(len(m.events) + 1)
	m.events = append(m.events, &cp)
	return nil
}

// Events returns the recorded history of one shop order, oldest first.
func (m *MemoryStore) Events(shopOrderID types.ID) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events {
		if e.ShopOrderID == shopOrderID {
			out = append(out, *e)
		}
	}
	return out
}

func (m *MemoryStore) filter(keep func(*ShopOrder) bool) []*ShopOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ShopOrder
	for _, so := range m.shopOrders {
		if keep(so) {
			out = append(out, so.Clone())
		}
	}
	sortShopOrders(out)
	return out
}

// assemble must be called with mu held.
func (m *MemoryStore) assemble(o *Order) *Order {
	cp := *o
	cp.ShopOrders = nil
	for _, so := range m.shopOrders {
		if so.OrderID == o.ID {
			cp.ShopOrders = append(cp.ShopOrders, so.Clone())
		}
	}
	sortShopOrders(cp.ShopOrders)
	return &cp
}

func sortShopOrders(s []*ShopOrder) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.After(s[j].CreatedAt)
	})
}
