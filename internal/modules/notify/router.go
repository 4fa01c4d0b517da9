// README: Router turns committed order changes into addressed fan-out events.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"foodrun/internal/modules/board"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

// OrderLookup loads an order with all of its shop orders.
type OrderLookup interface {
	GetOrder(ctx context.Context, id types.ID) (*order.Order, error)
}

type Router struct {
	board  board.Board
	orders OrderLookup
	log    *logrus.Logger
}

type RouterOption func(*Router)

// WithOrders lets the router derive the aggregate status of changes that do
// not carry one. Without it only placements produce order events.
func WithOrders(l OrderLookup) RouterOption { return func(r *Router) { r.orders = l } }

func NewRouter(b board.Board, log *logrus.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Router{board: b, log: log}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route returns the events for one change, in delivery order.
func (r *Router) Route(ctx context.Context, c order.Change) []*Event {
	so := c.ShopOrder
	if so == nil {
		return nil
	}
	var out []*Event

	switch c.Kind {
	case order.ChangeClaimed:
		out = append(out,
			r.event(c, KindAccepted, CourierTopic(so.Courier.ID), OwnerTopic(so.OwnerID)),
			r.event(c, KindClaimResolved, r.viewerTopics(ctx, so.ID, so.Courier.ID)...),
			r.event(c, KindStatus, r.partyTopics(so)...),
		)
	case order.ChangePlaced:
		out = append(out, r.event(c, KindStatus, CustomerTopic(so.CustomerID), OwnerTopic(so.OwnerID)))
	default:
		out = append(out, r.event(c, KindStatus, r.partyTopics(so)...))
		switch {
		case so.Status == order.StatusPreparing && c.From == order.StatusPending:
			out = append(out, r.event(c, KindOpen, TopicCouriers))
		case so.Status == order.StatusCancelled && c.From == order.StatusPreparing:
			// the job was visible to couriers; take it off their lists
			out = append(out, r.event(c, KindClaimResolved, r.viewerTopics(ctx, so.ID, "")...))
		}
	}

	if agg, ok := r.aggregate(ctx, c); ok {
		ev := r.event(c, KindOrder, CustomerTopic(so.CustomerID))
		ev.Aggregate = agg
		out = append(out, ev)
	}
	return out
}

// aggregate returns the order status to announce for c, if any. The order is
// read after the commit. It is announced when this shop order sits at the
// top of the aggregate or was cancelled, so concurrent sibling writes can
// repeat the announcement but never skip it.
func (r *Router) aggregate(ctx context.Context, c order.Change) (order.Status, bool) {
	if c.Aggregate != "" {
		return c.Aggregate, true
	}
	if r.orders == nil {
		return "", false
	}
	so := c.ShopOrder
	o, err := r.orders.GetOrder(ctx, so.OrderID)
	if err != nil {
		r.log.WithError(err).WithField("order_id", so.OrderID).Warn("aggregate lookup failed")
		return "", false
	}
	agg := order.Aggregate(o.ShopOrders)
	if agg == so.Status || so.Status == order.StatusCancelled {
		return agg, true
	}
	return "", false
}

func (r *Router) event(c order.Change, kind Kind, targets ...string) *Event {
	so := c.ShopOrder
	ev := &Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		ShopOrderID: so.ID,
		OrderID:     so.OrderID,
		ShopID:      so.ShopID,
		Status:      so.Status,
		At:          c.At,
		Targets:     targets,
	}
	if so.Courier != nil {
		courier := *so.Courier
		ev.Courier = &courier
	}
	return ev
}

// partyTopics addresses the customer, the owner and the assigned courier.
func (r *Router) partyTopics(so *order.ShopOrder) []string {
	topics := []string{CustomerTopic(so.CustomerID), OwnerTopic(so.OwnerID)}
	if so.Assigned() {
		topics = append(topics, CourierTopic(so.Courier.ID))
	}
	return topics
}

// viewerTopics addresses every courier on the board except the winner.
// Without board data the whole courier pool is addressed.
func (r *Router) viewerTopics(ctx context.Context, shopOrderID, winner types.ID) []string {
	if r.board == nil {
		return []string{TopicCouriers}
	}
	viewers, err := r.board.Viewers(ctx, shopOrderID)
	if err != nil {
		r.log.WithError(err).WithField("shop_order_id", shopOrderID).Warn("board lookup failed, broadcasting")
		return []string{TopicCouriers}
	}
	if err := r.board.Forget(ctx, shopOrderID); err != nil {
		r.log.WithError(err).WithField("shop_order_id", shopOrderID).Debug("board forget failed")
	}

	topics := make([]string, 0, len(viewers))
	for _, id := range viewers {
		if id != winner {
			topics = append(topics, CourierTopic(id))
		}
	}
	if len(viewers) == 0 {
		return []string{TopicCouriers}
	}
	return topics
}
