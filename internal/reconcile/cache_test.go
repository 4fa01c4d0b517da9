package reconcile

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

var (
	customer = order.Actor{ID: "cust-1", Role: order.RoleCustomer}
	owner    = order.Actor{ID: "owner-1", Role: order.RoleOwner}
	courier1 = order.Actor{ID: "c1", Role: order.RoleCourier}
)

var base = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func view(id, orderID types.ID, status order.Status) order.ShopOrderView {
	return order.ShopOrderView{
		ID:         id,
		OrderID:    orderID,
		ShopID:     "shop-" + id,
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Status:     status,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
}

func statusEvent(id types.ID, status order.Status, courier types.ID) *notify.Event {
	evt := &notify.Event{
		Kind:        notify.KindStatus,
		ShopOrderID: id,
		OrderID:     "o-1",
		Status:      status,
		At:          base.Add(time.Duration(status.Rank()) * time.Minute),
	}
	if courier != "" {
		evt.Courier = &order.Courier{ID: courier}
	}
	return evt
}

// customerCache holds order o-1 with so-1 pending and so-2 preparing.
func customerCache() *Cache {
	c := NewCache(customer)
	c.Replace(Snapshot{Orders: []order.OrderView{{
		ID:         "o-1",
		CustomerID: "cust-1",
		Status:     order.StatusPreparing,
		CreatedAt:  base,
		ShopOrders: []order.ShopOrderView{
			view("so-1", "o-1", order.StatusPending),
			view("so-2", "o-1", order.StatusPreparing),
		},
	}}})
	return c
}

func statusOf(t *testing.T, c *Cache, id types.ID) order.Status {
	t.Helper()
	v, ok := c.ShopOrder(id)
	require.True(t, ok, "shop order %s not cached", id)
	return v.Status
}

func TestApplyIsIdempotent(t *testing.T) {
	c := customerCache()
	evt := statusEvent("so-1", order.StatusPreparing, "")

	assert.True(t, c.Apply(evt).Applied)
	first := c.ShopOrders()
	assert.True(t, c.Apply(evt).Applied)
	assert.Equal(t, first, c.ShopOrders())
	assert.Equal(t, order.StatusPreparing, statusOf(t, c, "so-1"))
}

func TestApplyOutOfOrder(t *testing.T) {
	chain := []*notify.Event{
		statusEvent("so-1", order.StatusPreparing, ""),
		statusEvent("so-1", order.StatusAccepted, "c1"),
		statusEvent("so-1", order.StatusReadyForPickup, "c1"),
		statusEvent("so-1", order.StatusOutForDelivery, "c1"),
		statusEvent("so-1", order.StatusDelivered, "c1"),
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		c := customerCache()
		perm := rng.Perm(len(chain))
		for _, idx := range perm {
			c.Apply(chain[idx])
		}
		// Replay a stale one at the end for good measure.
		c.Apply(chain[0])

		v, ok := c.ShopOrder("so-1")
		require.True(t, ok)
		assert.Equal(t, order.StatusDelivered, v.Status, "perm %v", perm)
		require.NotNil(t, v.Courier)
		assert.Equal(t, types.ID("c1"), v.Courier.ID)

		orders := c.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, order.StatusDelivered, orders[0].Status)
	}
}

func TestApplyStaleAggregateIgnored(t *testing.T) {
	c := customerCache()
	newer := &notify.Event{Kind: notify.KindOrder, OrderID: "o-1", Aggregate: order.StatusOutForDelivery}
	older := &notify.Event{Kind: notify.KindOrder, OrderID: "o-1", Aggregate: order.StatusAccepted}

	assert.True(t, c.Apply(newer).Applied)
	assert.False(t, c.Apply(older).Applied)
	assert.Equal(t, order.StatusOutForDelivery, c.Orders()[0].Status)
}

func TestApplyUnknownShopOrderIgnored(t *testing.T) {
	c := customerCache()
	res := c.Apply(statusEvent("so-404", order.StatusDelivered, "c1"))
	assert.Equal(t, Result{}, res)
	_, ok := c.ShopOrder("so-404")
	assert.False(t, ok)
}

func TestCancelledOnlyBeforeAssignment(t *testing.T) {
	c := customerCache()
	c.Apply(statusEvent("so-2", order.StatusAccepted, "c1"))

	assert.False(t, c.Apply(statusEvent("so-2", order.StatusCancelled, "")).Applied)
	assert.Equal(t, order.StatusAccepted, statusOf(t, c, "so-2"))

	assert.True(t, c.Apply(statusEvent("so-1", order.StatusCancelled, "")).Applied)
	assert.False(t, c.Apply(statusEvent("so-1", order.StatusPreparing, "")).Applied)
	assert.Equal(t, order.StatusCancelled, statusOf(t, c, "so-1"))

	// so-1 cancelled, so-2 accepted: the aggregate ignores the cancelled one.
	assert.Equal(t, order.StatusAccepted, c.Orders()[0].Status)
}

func TestOpenForUnknownJobAsksForResync(t *testing.T) {
	c := NewCache(courier1)
	res := c.Apply(&notify.Event{Kind: notify.KindOpen, ShopOrderID: "so-9", Status: order.StatusPreparing})
	assert.True(t, res.Resync)
	assert.False(t, res.Applied)
	assert.Empty(t, c.OpenRequests())

	// Only couriers care about open jobs.
	cc := NewCache(customer)
	assert.Equal(t, Result{}, cc.Apply(&notify.Event{Kind: notify.KindOpen, ShopOrderID: "so-9"}))
}

func TestClaimResolvedRemovesOpenRequest(t *testing.T) {
	c := NewCache(courier1)
	c.Replace(Snapshot{Open: []order.ShopOrderView{view("so-3", "o-3", order.StatusPreparing)}})
	require.Len(t, c.OpenRequests(), 1)
	require.True(t, c.TentativeClaim("so-3"))
	assert.True(t, c.Claiming("so-3"))

	res := c.Apply(&notify.Event{Kind: notify.KindClaimResolved, ShopOrderID: "so-3", Status: order.StatusAccepted})
	assert.True(t, res.Applied)
	assert.Empty(t, c.OpenRequests())
	assert.False(t, c.Claiming("so-3"))

	// Again is harmless.
	assert.False(t, c.Apply(&notify.Event{Kind: notify.KindClaimResolved, ShopOrderID: "so-3"}).Applied)
	assert.False(t, c.TentativeClaim("so-3"))
}

func TestAcceptedForOwnUncachedJobResyncs(t *testing.T) {
	c := NewCache(courier1)
	c.Replace(Snapshot{Open: []order.ShopOrderView{view("so-3", "o-3", order.StatusPreparing)}})

	res := c.Apply(&notify.Event{
		Kind:        notify.KindAccepted,
		ShopOrderID: "so-3",
		Status:      order.StatusAccepted,
		Courier:     &order.Courier{ID: "c1"},
	})
	assert.True(t, res.Applied)
	assert.True(t, res.Resync)
	assert.Empty(t, c.OpenRequests())
}

func TestTentativeOverriddenByServer(t *testing.T) {
	c := NewCache(owner)
	c.Replace(Snapshot{ShopOrders: []order.ShopOrderView{view("so-1", "o-1", order.StatusPending)}})

	require.True(t, c.Tentative("so-1", order.StatusPreparing))
	assert.Equal(t, order.StatusPreparing, statusOf(t, c, "so-1"))

	// The server answered with the old status: it wins.
	c.Apply(statusEvent("so-1", order.StatusPending, ""))
	assert.Equal(t, order.StatusPending, statusOf(t, c, "so-1"))

	require.True(t, c.Tentative("so-1", order.StatusPreparing))
	c.Discard("so-1")
	assert.Equal(t, order.StatusPending, statusOf(t, c, "so-1"))

	assert.False(t, c.Tentative("so-unknown", order.StatusPreparing))
}

func TestConfirmIsRankGuarded(t *testing.T) {
	c := NewCache(owner)
	c.Replace(Snapshot{ShopOrders: []order.ShopOrderView{view("so-1", "o-1", order.StatusPending)}})

	c.Confirm(view("so-1", "o-1", order.StatusReadyForPickup))
	c.Confirm(view("so-1", "o-1", order.StatusPreparing))
	assert.Equal(t, order.StatusReadyForPickup, statusOf(t, c, "so-1"))

	c.Confirm(view("so-2", "o-2", order.StatusCreated))
	assert.Len(t, c.ShopOrders(), 2)
}

func TestReplaceMergesByRank(t *testing.T) {
	c := NewCache(courier1)
	c.Replace(Snapshot{
		ShopOrders: []order.ShopOrderView{
			view("so-1", "o-1", order.StatusAccepted),
			view("so-2", "o-2", order.StatusAccepted),
		},
		Open: []order.ShopOrderView{view("so-3", "o-3", order.StatusPreparing)},
	})
	c.Apply(statusEvent("so-1", order.StatusOutForDelivery, "c1"))
	require.True(t, c.Tentative("so-2", order.StatusReadyForPickup))

	// A fetch that raced the event returns older state for so-1 and no so-2.
	c.Replace(Snapshot{
		ShopOrders: []order.ShopOrderView{view("so-1", "o-1", order.StatusReadyForPickup)},
		Open:       []order.ShopOrderView{view("so-4", "o-4", order.StatusPreparing)},
	})

	assert.Equal(t, order.StatusOutForDelivery, statusOf(t, c, "so-1"))
	_, ok := c.ShopOrder("so-2")
	assert.False(t, ok)

	open := c.OpenRequests()
	require.Len(t, open, 1)
	assert.Equal(t, types.ID("so-4"), open[0].ID)
}
