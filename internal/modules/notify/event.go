// README: Fan-out event envelope and audience topic names.
package notify

import (
	"strings"
	"time"

	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

type Kind string

const (
	// KindOpen announces a job couriers may claim.
	KindOpen Kind = "open"
	// KindStatus carries a shop order's new status.
	KindStatus Kind = "status"
	// KindAccepted tells the winner and the owner who took the job.
	KindAccepted Kind = "accepted"
	// KindClaimResolved tells every other courier the job is gone.
	KindClaimResolved Kind = "claim_resolved"
	// KindOrder carries a changed aggregate order status to the customer.
	KindOrder Kind = "order"
)

// Topic names:
//
//	customer:<id>  one customer's sessions
//	owner:<id>     one shop owner's sessions
//	courier:<id>   one courier's sessions
//	couriers       every connected courier
const TopicCouriers = "couriers"

func CustomerTopic(id types.ID) string { return "customer:" + string(id) }
func OwnerTopic(id types.ID) string    { return "owner:" + string(id) }
func CourierTopic(id types.ID) string  { return "courier:" + string(id) }

// ParseTopic splits "courier:abc" into ("courier", "abc"). Global topics
// return an empty id.
func ParseTopic(topic string) (entity string, id types.ID) {
	idx := strings.IndexByte(topic, ':')
	if idx < 0 {
		return topic, ""
	}
	return topic[:idx], types.ID(topic[idx+1:])
}

// TopicsFor returns the topics a session of the given actor listens on.
func TopicsFor(actor order.Actor) []string {
	switch actor.Role {
	case order.RoleCustomer:
		return []string{CustomerTopic(actor.ID)}
	case order.RoleOwner:
		return []string{OwnerTopic(actor.ID)}
	case order.RoleCourier:
		return []string{CourierTopic(actor.ID), TopicCouriers}
	default:
		return nil
	}
}

// Event is what clients receive. Targets are resolved once at the origin so
// every instance delivers the same audience.
type Event struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	ShopOrderID types.ID       `json:"shop_order_id"`
	OrderID     types.ID       `json:"order_id"`
	ShopID      types.ID       `json:"shop_id,omitempty"`
	Status      order.Status   `json:"status,omitempty"`
	Courier     *order.Courier `json:"courier,omitempty"`
	Aggregate   order.Status   `json:"aggregate,omitempty"`
	At          time.Time      `json:"at"`
	Targets     []string       `json:"targets"`
}
