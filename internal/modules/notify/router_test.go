package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrun/internal/modules/board"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testShopOrder(status order.Status, courier types.ID) *order.ShopOrder {
	so := &order.ShopOrder{
		ID:         "so-1",
		OrderID:    "o-1",
		ShopID:     "shop-1",
		OwnerID:    "owner-1",
		CustomerID: "cust-1",
		Status:     status,
	}
	if courier != "" {
		so.Courier = &order.Courier{ID: courier, Name: "Ravi"}
	}
	return so
}

func byKind(events []*Event) map[Kind]*Event {
	out := make(map[Kind]*Event, len(events))
	for _, e := range events {
		out[e.Kind] = e
	}
	return out
}

// orderLookup serves an order whose shop orders hold the given statuses.
type orderLookup struct {
	statuses []order.Status
	err      error
}

func (l orderLookup) GetOrder(_ context.Context, id types.ID) (*order.Order, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &order.Order{ID: id, ShopOrders: l.shopOrders()}, nil
}

func (l orderLookup) shopOrders() []*order.ShopOrder {
	out := []*order.ShopOrder{}
	for i, st := range l.statuses {
		out = append(out, &order.ShopOrder{ID: types.ID(fmt.Sprintf("so-sib-%d", i)), Status: st})
	}
	return out
}

// routeWith routes a status change of so-1 to status with the order store
// holding so-1 at status plus the given siblings.
func routeWith(status order.Status, siblings ...order.Status) []*Event {
	lookup := orderLookup{statuses: append([]order.Status{status}, siblings...)}
	r := NewRouter(nil, quietLogger(), WithOrders(lookup))
	return r.Route(context.Background(), order.Change{
		Kind:      order.ChangeStatus,
		ShopOrder: testShopOrder(status, "c1"),
		From:      order.StatusAccepted,
	})
}

func TestRouteStatusChange(t *testing.T) {
	r := NewRouter(board.NewMemory(), quietLogger(), WithOrders(orderLookup{
		statuses: []order.Status{order.StatusOutForDelivery, order.StatusPreparing},
	}))
	events := r.Route(context.Background(), order.Change{
		Kind:      order.ChangeStatus,
		ShopOrder: testShopOrder(order.StatusOutForDelivery, "c1"),
		From:      order.StatusReadyForPickup,
		At:        time.Now(),
	})
	require.Len(t, events, 2)
	kinds := byKind(events)

	status := kinds[KindStatus]
	require.NotNil(t, status)
	assert.ElementsMatch(t, []string{"customer:cust-1", "owner:owner-1", "courier:c1"}, status.Targets)
	assert.Equal(t, order.StatusOutForDelivery, status.Status)
	assert.Equal(t, types.ID("c1"), status.Courier.ID)

	agg := kinds[KindOrder]
	require.NotNil(t, agg)
	assert.Equal(t, []string{"customer:cust-1"}, agg.Targets)
	assert.Equal(t, order.StatusOutForDelivery, agg.Aggregate)
}

func TestRouteOrderEventFromLookup(t *testing.T) {
	top := byKind(routeWith(order.StatusReadyForPickup, order.StatusPending))[KindOrder]
	require.NotNil(t, top, "shop order at the top announces the aggregate")
	assert.Equal(t, order.StatusReadyForPickup, top.Aggregate)

	behind := byKind(routeWith(order.StatusReadyForPickup, order.StatusDelivered))[KindOrder]
	assert.Nil(t, behind, "a sibling ahead owns the aggregate")

	tied := byKind(routeWith(order.StatusReadyForPickup, order.StatusReadyForPickup))[KindOrder]
	require.NotNil(t, tied, "a tie may repeat the announcement")

	cancelled := byKind(routeWith(order.StatusCancelled, order.StatusPending))[KindOrder]
	require.NotNil(t, cancelled, "a cancellation can lower the aggregate")
	assert.Equal(t, order.StatusPending, cancelled.Aggregate)

	r := NewRouter(nil, quietLogger(), WithOrders(orderLookup{err: errors.New("db down")}))
	events := r.Route(context.Background(), order.Change{
		Kind:      order.ChangeStatus,
		ShopOrder: testShopOrder(order.StatusPending, ""),
		From:      order.StatusCreated,
	})
	assert.Nil(t, byKind(events)[KindOrder])
	assert.NotNil(t, byKind(events)[KindStatus], "status events survive a failed lookup")
}

func TestRouteOpenGoesToAllCouriers(t *testing.T) {
	r := NewRouter(nil, quietLogger())
	events := r.Route(context.Background(), order.Change{
		Kind:      order.ChangeStatus,
		ShopOrder: testShopOrder(order.StatusPreparing, ""),
		From:      order.StatusPending,
	})
	kinds := byKind(events)
	require.Len(t, events, 2)
	assert.Equal(t, []string{TopicCouriers}, kinds[KindOpen].Targets)
	assert.ElementsMatch(t, []string{"customer:cust-1", "owner:owner-1"}, kinds[KindStatus].Targets)
	assert.Nil(t, kinds[KindOrder])
}

func TestRouteClaimUsesBoard(t *testing.T) {
	ctx := context.Background()
	b := board.NewMemory()
	require.NoError(t, b.MarkSeen(ctx, "c1", "so-1"))
	require.NoError(t, b.MarkSeen(ctx, "c2", "so-1"))
	require.NoError(t, b.MarkSeen(ctx, "c3", "so-1"))

	r := NewRouter(b, quietLogger(), WithOrders(orderLookup{statuses: []order.Status{order.StatusAccepted}}))
	events := r.Route(ctx, order.Change{
		Kind:      order.ChangeClaimed,
		ShopOrder: testShopOrder(order.StatusAccepted, "c2"),
		From:      order.StatusPreparing,
	})
	kinds := byKind(events)
	require.Len(t, events, 4)

	assert.ElementsMatch(t, []string{"courier:c2", "owner:owner-1"}, kinds[KindAccepted].Targets)
	assert.ElementsMatch(t, []string{"courier:c1", "courier:c3"}, kinds[KindClaimResolved].Targets)
	assert.Equal(t, types.ID("c2"), kinds[KindClaimResolved].Courier.ID)
	assert.ElementsMatch(t, []string{"customer:cust-1", "owner:owner-1", "courier:c2"}, kinds[KindStatus].Targets)
	assert.Equal(t, []string{"customer:cust-1"}, kinds[KindOrder].Targets)

	viewers, err := b.Viewers(ctx, "so-1")
	require.NoError(t, err)
	assert.Empty(t, viewers, "board entry is dropped once the claim resolves")
}

type brokenBoard struct{ board.Board }

func (brokenBoard) Viewers(context.Context, types.ID) ([]types.ID, error) {
	return nil, errors.New("redis down")
}

func TestRouteClaimFallsBackToAllCouriers(t *testing.T) {
	for name, b := range map[string]board.Board{
		"empty":  board.NewMemory(),
		"broken": brokenBoard{},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewRouter(b, quietLogger())
			events := r.Route(context.Background(), order.Change{
				Kind:      order.ChangeClaimed,
				ShopOrder: testShopOrder(order.StatusAccepted, "c2"),
				From:      order.StatusPreparing,
			})
			assert.Equal(t, []string{TopicCouriers}, byKind(events)[KindClaimResolved].Targets)
		})
	}
}

func TestRouteCancelledOpenJobResolvesClaim(t *testing.T) {
	r := NewRouter(board.NewMemory(), quietLogger(), WithOrders(orderLookup{statuses: []order.Status{order.StatusCancelled}}))
	events := r.Route(context.Background(), order.Change{
		Kind:      order.ChangeStatus,
		ShopOrder: testShopOrder(order.StatusCancelled, ""),
		From:      order.StatusPreparing,
	})
	kinds := byKind(events)
	require.NotNil(t, kinds[KindClaimResolved])
	assert.Nil(t, kinds[KindClaimResolved].Courier)
	assert.Equal(t, order.StatusCancelled, kinds[KindOrder].Aggregate)
}

func TestRoutePlacedNotifiesOwner(t *testing.T) {
	r := NewRouter(nil, quietLogger())
	events := r.Route(context.Background(), order.Change{
		Kind:      order.ChangePlaced,
		ShopOrder: testShopOrder(order.StatusCreated, ""),
		From:      order.StatusNone,
		Aggregate: order.StatusCreated,
	})
	kinds := byKind(events)
	assert.ElementsMatch(t, []string{"customer:cust-1", "owner:owner-1"}, kinds[KindStatus].Targets)
	assert.NotNil(t, kinds[KindOrder])
}

func TestTopicsFor(t *testing.T) {
	assert.Equal(t, []string{"customer:u1"}, TopicsFor(order.Actor{ID: "u1", Role: order.RoleCustomer}))
	assert.Equal(t, []string{"owner:u1"}, TopicsFor(order.Actor{ID: "u1", Role: order.RoleOwner}))
	assert.Equal(t, []string{"courier:u1", TopicCouriers}, TopicsFor(order.Actor{ID: "u1", Role: order.RoleCourier}))
	assert.Nil(t, TopicsFor(order.Actor{ID: "u1"}))

	entity, id := ParseTopic("courier:u1")
	assert.Equal(t, "courier", entity)
	assert.Equal(t, types.ID("u1"), id)
	entity, id = ParseTopic(TopicCouriers)
	assert.Equal(t, TopicCouriers, entity)
	assert.Empty(t, id)
}
