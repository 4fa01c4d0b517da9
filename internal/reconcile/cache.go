// README: Client-side cache that merges pushed events and fetches into one view.
package reconcile

import (
	"sort"
	"sync"

	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

// Result tells the caller what an event did to the cache.
type Result struct {
	Applied bool
	// Resync asks for a full fetch: the event refers to something this
	// cache has never seen and cannot build from the event alone.
	Resync bool
}

// Snapshot is the outcome of a full fetch for one actor.
type Snapshot struct {
	Orders     []order.OrderView
	ShopOrders []order.ShopOrderView
	Open       []order.ShopOrderView
}

// Cache holds confirmed server state plus local optimistic changes. Every
// write is guarded by status rank so replays and reordering are harmless.
type Cache struct {
	mu    sync.RWMutex
	actor order.Actor

	confirmed map[types.ID]order.ShopOrderView
	tentative map[types.ID]order.Status
	orders    map[types.ID]order.OrderView
	open      map[types.ID]order.ShopOrderView
	claiming  map[types.ID]struct{}
}

func NewCache(actor order.Actor) *Cache {
	return &Cache{
		actor:     actor,
		confirmed: make(map[types.ID]order.ShopOrderView),
		tentative: make(map[types.ID]order.Status),
		orders:    make(map[types.ID]order.OrderView),
		open:      make(map[types.ID]order.ShopOrderView),
		claiming:  make(map[types.ID]struct{}),
	}
}

// supersedes reports whether next may replace cur. Equal statuses are
// accepted so replays stay idempotent.
func supersedes(cur, next order.Status) bool {
	if cur == next {
		return true
	}
	if cur.Terminal() {
		return false
	}
	if next == order.StatusCancelled {
		return cur.Rank() < order.StatusAccepted.Rank()
	}
	return next.Rank() > cur.Rank()
}

func (c *Cache) Apply(evt *notify.Event) Result {
	if evt == nil {
		return Result{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := evt.ShopOrderID
	switch evt.Kind {
	case notify.KindOpen:
		if _, ok := c.open[id]; ok {
			return Result{Applied: true}
		}
		if _, ok := c.confirmed[id]; ok {
			return Result{}
		}
		if c.actor.Role == order.RoleCourier {
			return Result{Resync: true}
		}
		return Result{}

	case notify.KindClaimResolved:
		_, had := c.open[id]
		delete(c.open, id)
		delete(c.claiming, id)
		res := c.applyStatus(evt)
		res.Applied = res.Applied || had
		return res

	case notify.KindAccepted:
		_, had := c.open[id]
		delete(c.open, id)
		delete(c.claiming, id)
		res := c.applyStatus(evt)
		res.Applied = res.Applied || had
		if _, cached := c.confirmed[id]; !cached && evt.Courier != nil && evt.Courier.ID == c.actor.ID {
			res.Resync = true
		}
		return res

	case notify.KindStatus:
		return c.applyStatus(evt)

	case notify.KindOrder:
		o, ok := c.orders[evt.OrderID]
		if !ok || !supersedes(o.Status, evt.Aggregate) {
			return Result{}
		}
		o.Status = evt.Aggregate
		c.orders[evt.OrderID] = o
		return Result{Applied: true}
	}
	return Result{}
}

// applyStatus must be called with mu held.
func (c *Cache) applyStatus(evt *notify.Event) Result {
	id := evt.ShopOrderID
	if evt.Status != order.StatusPreparing || evt.Courier != nil {
		if _, ok := c.open[id]; ok {
			delete(c.open, id)
		}
	}

	cur, ok := c.confirmed[id]
	if !ok || evt.Status == "" || !supersedes(cur.Status, evt.Status) {
		return Result{}
	}
	cur.Status = evt.Status
	if cur.Courier == nil && evt.Courier != nil {
		courier := *evt.Courier
		cur.Courier = &courier
	}
	if !evt.At.IsZero() && evt.At.After(cur.UpdatedAt) {
		cur.UpdatedAt = evt.At
	}
	c.confirmed[id] = cur
	delete(c.tentative, id)
	c.refreshAggregate(cur.OrderID)
	return Result{Applied: true}
}

// refreshAggregate must be called with mu held.
func (c *Cache) refreshAggregate(orderID types.ID) {
	o, ok := c.orders[orderID]
	if !ok {
		return
	}
	var statuses []order.Status
	for _, so := range c.confirmed {
		if so.OrderID == orderID {
			statuses = append(statuses, so.Status)
		}
	}
	if agg := order.AggregateStatuses(statuses...); supersedes(o.Status, agg) {
		o.Status = agg
		c.orders[orderID] = o
	}
}

// Confirm records an authoritative shop order, e.g. from a claim or
// transition response.
func (c *Cache) Confirm(v order.ShopOrderView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.confirmed[v.ID]; ok && !supersedes(cur.Status, v.Status) {
		return
	}
	c.confirmed[v.ID] = v
	delete(c.tentative, v.ID)
	if v.Status != order.StatusPreparing || v.Courier != nil {
		delete(c.open, v.ID)
		delete(c.claiming, v.ID)
	}
	c.refreshAggregate(v.OrderID)
}

// Tentative shows status for id until the server confirms or contradicts it.
func (c *Cache) Tentative(id types.ID, status order.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[id]; !ok {
		return false
	}
	c.tentative[id] = status
	return true
}

// TentativeClaim marks an open request as being claimed by this courier.
func (c *Cache) TentativeClaim(id types.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[id]; !ok {
		return false
	}
	c.claiming[id] = struct{}{}
	return true
}

// Discard drops local optimistic state for id, e.g. after a rejected request.
func (c *Cache) Discard(id types.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tentative, id)
	delete(c.claiming, id)
}

// Replace merges a full fetch. Entries the server no longer returns are
// dropped; entries present on both sides keep the more advanced status.
func (c *Cache) Replace(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[types.ID]order.ShopOrderView, len(s.ShopOrders))
	add := func(v order.ShopOrderView) {
		if cur, ok := c.confirmed[v.ID]; ok && !supersedes(cur.Status, v.Status) {
			v = cur
		}
		next[v.ID] = v
	}
	for _, o := range s.Orders {
		for _, so := range o.ShopOrders {
			add(so)
		}
	}
	for _, so := range s.ShopOrders {
		add(so)
	}

	orders := make(map[types.ID]order.OrderView, len(s.Orders))
	for _, o := range s.Orders {
		if cur, ok := c.orders[o.ID]; ok && !supersedes(cur.Status, o.Status) {
			o.Status = cur.Status
		}
		o.ShopOrders = nil
		orders[o.ID] = o
	}

	open := make(map[types.ID]order.ShopOrderView, len(s.Open))
	for _, so := range s.Open {
		open[so.ID] = so
	}

	c.confirmed = next
	c.orders = orders
	c.open = open
	c.tentative = make(map[types.ID]order.Status)
	c.claiming = make(map[types.ID]struct{})
	for id := range c.orders {
		c.refreshAggregate(id)
	}
}

// ShopOrder returns the view of id with any tentative status applied.
func (c *Cache) ShopOrder(id types.ID) (order.ShopOrderView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.confirmed[id]
	if !ok {
		return v, false
	}
	return c.overlay(v), true
}

// overlay must be called with mu held.
func (c *Cache) overlay(v order.ShopOrderView) order.ShopOrderView {
	if st, ok := c.tentative[v.ID]; ok {
		v.Status = st
	}
	return v
}

func (c *Cache) ShopOrders() []order.ShopOrderView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]order.ShopOrderView, 0, len(c.confirmed))
	for _, v := range c.confirmed {
		out = append(out, c.overlay(v))
	}
	sortViews(out)
	return out
}

// Orders returns the customer's orders with their shop orders attached.
func (c *Cache) Orders() []order.OrderView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]order.OrderView, 0, len(c.orders))
	for _, o := range c.orders {
		o.ShopOrders = nil
		for _, so := range c.confirmed {
			if so.OrderID == o.ID {
				o.ShopOrders = append(o.ShopOrders, c.overlay(so))
			}
		}
		sortViews(o.ShopOrders)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (c *Cache) OpenRequests() []order.ShopOrderView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]order.ShopOrderView, 0, len(c.open))
	for _, v := range c.open {
		out = append(out, v)
	}
	sortViews(out)
	return out
}

func (c *Cache) Claiming(id types.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.claiming[id]
	return ok
}

func sortViews(s []order.ShopOrderView) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.After(s[j].CreatedAt)
	})
}
