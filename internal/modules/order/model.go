// README: Order aggregate, per-shop sub-orders and status definitions.
package order

import (
	"time"

	"foodrun/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusCreated        Status = "created"
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusAccepted       Status = "accepted"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// forward is the only order in which a shop order may progress.
var forward = []Status{
	StatusCreated,
	StatusPending,
	StatusPreparing,
	StatusAccepted,
	StatusReadyForPickup,
	StatusOutForDelivery,
	StatusDelivered,
}

// Rank returns the position of s in the forward ordering, or -1 for
// cancelled and unknown statuses.
func (s Status) Rank() int {
	for i, f := range forward {
		if f == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool {
	return s == StatusCancelled || s.Rank() >= 0
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
	RoleCourier  Role = "courier"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleOwner || r == RoleCourier
}

// Actor is the authenticated caller of a state-changing operation.
type Actor struct {
	ID   types.ID
	Role Role
}

type Address struct {
	Name       string      `json:"name"`
	Line       string      `json:"line"`
	City       string      `json:"city"`
	State      string      `json:"state"`
	PostalCode string      `json:"postal_code"`
	Mobile     string      `json:"mobile"`
	Location   types.Point `json:"location"`
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

type Payment struct {
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
	Amount    types.Money   `json:"amount"`
}

type Item struct {
	CatalogItemID types.ID    `json:"catalog_item_id"`
	Name          string      `json:"name"`
	Quantity      int         `json:"quantity"`
	Price         types.Money `json:"price"`
}

// Courier is the summary of the delivery actor shown to customers and owners.
type Courier struct {
	ID     types.ID `json:"id"`
	Name   string   `json:"name,omitempty"`
	Mobile string   `json:"mobile,omitempty"`
}

type ShopOrder struct {
	ID          types.ID
	OrderID     types.ID
	ShopID      types.ID
	OwnerID     types.ID
	CustomerID  types.ID
	Items       []Item
	Subtotal    types.Money
	DeliveryFee types.Money
	Tax         types.Money
	Total       types.Money
	Status      Status
	Courier     *Courier
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AcceptedAt  *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

func (so *ShopOrder) Assigned() bool {
	return so.Courier != nil && so.Courier.ID != ""
}

func (so *ShopOrder) AssignedTo(courierID types.ID) bool {
	return so.Assigned() && so.Courier.ID == courierID
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (so *ShopOrder) Clone() *ShopOrder {
	cp := *so
	cp.Items = append([]Item(nil), so.Items...)
	if so.Courier != nil {
		c := *so.Courier
		cp.Courier = &c
	}
	cp.AcceptedAt = cloneTime(so.AcceptedAt)
	cp.DeliveredAt = cloneTime(so.DeliveredAt)
	cp.CancelledAt = cloneTime(so.CancelledAt)
	return &cp
}

type Order struct {
	ID         types.ID
	CustomerID types.ID
	Address    Address
	Payment    Payment
	CreatedAt  time.Time
	ShopOrders []*ShopOrder
}

// Status is the customer-facing aggregate of the shop orders.
func (o *Order) Status() Status {
	return Aggregate(o.ShopOrders)
}

// Event is one committed transition in a shop order's history.
type Event struct {
	ID          int64
	ShopOrderID types.ID
	OrderID     types.ID
	FromStatus  Status
	ToStatus    Status
	ActorRole   Role
	ActorID     *types.ID
	CreatedAt   time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
