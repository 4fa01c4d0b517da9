// README: Order store contract; every mutation is a single conditional write.
package order

import (
	"context"

	"foodrun/internal/types"
)

// StatusUpdate is an optimistic write: it only lands if the shop order is
// still at From with the given Version.
type StatusUpdate struct {
	ID      types.ID
	From    Status
	Version int
	To      Status
	// RequireUnassigned additionally demands that no courier holds the job.
	RequireUnassigned bool
}

type Store interface {
	// CreateOrder persists the order and all of its shop orders atomically.
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id types.ID) (*Order, error)
	GetShopOrder(ctx context.Context, id types.ID) (*ShopOrder, error)
	ListOrdersByCustomer(ctx context.Context, customerID types.ID) ([]*Order, error)
	ListShopOrdersByShop(ctx context.Context, shopID types.ID) ([]*ShopOrder, error)
	ListShopOrdersByCourier(ctx context.Context, courierID types.ID) ([]*ShopOrder, error)
	// ListOpenShopOrders returns jobs couriers may still claim.
	ListOpenShopOrders(ctx context.Context) ([]*ShopOrder, error)

	// UpdateStatus reports false when the precondition no longer holds.
	UpdateStatus(ctx context.Context, u StatusUpdate) (*ShopOrder, bool, error)
	// ClaimCourier sets the courier and moves preparing -> accepted, but only
	// while no courier is assigned. It reports false to every loser.
	ClaimCourier(ctx context.Context, id types.ID, c Courier) (*ShopOrder, bool, error)

	AppendEvent(ctx context.Context, e *Event) error
}
