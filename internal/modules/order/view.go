// README: JSON views of orders as served over HTTP and held by clients.
package order

import (
	"time"

	"foodrun/internal/types"
)

type ShopOrderView struct {
	ID          types.ID    `json:"id"`
	OrderID     types.ID    `json:"order_id"`
	ShopID      types.ID    `json:"shop_id"`
	OwnerID     types.ID    `json:"owner_id"`
	CustomerID  types.ID    `json:"customer_id"`
	Items       []Item      `json:"items,omitempty"`
	Subtotal    types.Money `json:"subtotal"`
	DeliveryFee types.Money `json:"delivery_fee"`
	Tax         types.Money `json:"tax"`
	Total       types.Money `json:"total"`
	Status      Status      `json:"status"`
	Courier     *Courier    `json:"courier,omitempty"`
	Version     int         `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
}

type OrderView struct {
	ID         types.ID        `json:"id"`
	CustomerID types.ID        `json:"customer_id"`
	Address    Address         `json:"address"`
	Payment    Payment         `json:"payment"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ShopOrders []ShopOrderView `json:"shop_orders"`
}

func (so *ShopOrder) View() ShopOrderView {
	cp := so.Clone()
	return ShopOrderView{
		ID:          cp.ID,
		OrderID:     cp.OrderID,
		ShopID:      cp.ShopID,
		OwnerID:     cp.OwnerID,
		CustomerID:  cp.CustomerID,
		Items:       cp.Items,
		Subtotal:    cp.Subtotal,
		DeliveryFee: cp.DeliveryFee,
		Tax:         cp.Tax,
		Total:       cp.Total,
		Status:      cp.Status,
		Courier:     cp.Courier,
		Version:     cp.Version,
		CreatedAt:   cp.CreatedAt,
		UpdatedAt:   cp.UpdatedAt,
		AcceptedAt:  cp.AcceptedAt,
		DeliveredAt: cp.DeliveredAt,
		CancelledAt: cp.CancelledAt,
	}
}

func (o *Order) View() OrderView {
	v := OrderView{
		ID:         o.ID,
		CustomerID: o.CustomerID,
		Address:    o.Address,
		Payment:    o.Payment,
		Status:     o.Status(),
		CreatedAt:  o.CreatedAt,
		ShopOrders: make([]ShopOrderView, 0, len(o.ShopOrders)),
	}
	for _, so := range o.ShopOrders {
		v.ShopOrders = append(v.ShopOrders, so.View())
	}
	return v
}

func ShopOrderViews(in []*ShopOrder) []ShopOrderView {
	out := make([]ShopOrderView, 0, len(in))
	for _, so := range in {
		out = append(out, so.View())
	}
	return out
}

func OrderViews(in []*Order) []OrderView {
	out := make([]OrderView, 0, len(in))
	for _, o := range in {
		out = append(out, o.View())
	}
	return out
}
