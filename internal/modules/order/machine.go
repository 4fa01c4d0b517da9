// README: Shop-order state machine (pure) and aggregate order status.
package order

type edge struct {
	to   Status
	role Role
	// needsCourier marks edges that require a claimed shop order.
	needsCourier bool
}

// AllowedTransitions represents the shop-order state flow (diagram) as code.
// preparing -> accepted is missing on purpose: only Claim performs it.
var AllowedTransitions = map[Status][]edge{
	StatusCreated:        {{to: StatusPending, role: RoleOwner}},
	StatusPending:        {{to: StatusPreparing, role: RoleOwner}},
	StatusPreparing:      {{to: StatusReadyForPickup, role: RoleOwner, needsCourier: true}},
	StatusAccepted:       {{to: StatusReadyForPickup, role: RoleOwner, needsCourier: true}},
	StatusReadyForPickup: {{to: StatusOutForDelivery, role: RoleCourier}},
	StatusOutForDelivery: {{to: StatusDelivered, role: RoleCourier}},
}

// CanTransition reports whether from -> to is an edge of the forward flow,
// ignoring who asks for it. Cancellation is reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from.Valid() && !from.Terminal()
	}
	_, ok := findEdge(from, to)
	return ok
}

func findEdge(from, to Status) (edge, bool) {
	for _, e := range AllowedTransitions[from] {
		if e.to == to {
			return e, true
		}
	}
	return edge{}, false
}

// Advance validates moving so to target on behalf of actor. It does no I/O;
// the caller persists the result with a conditional write.
func Advance(so *ShopOrder, target Status, actor Actor) error {
	if so.Status.Terminal() {
		return ErrInvalidTransition
	}

	if target == StatusCancelled {
		if actor.Role != RoleOwner || actor.ID != so.OwnerID {
			return ErrUnauthorized
		}
		if so.Assigned() {
			return ErrConflict
		}
		return nil
	}

	if !target.Valid() || target.Rank() <= so.Status.Rank() {
		return ErrInvalidTransition
	}
	e, ok := findEdge(so.Status, target)
	if !ok {
		return ErrInvalidTransition
	}
	if actor.Role != e.role {
		return ErrUnauthorized
	}

	switch e.role {
	case RoleOwner:
		if actor.ID != so.OwnerID {
			return ErrUnauthorized
		}
	case RoleCourier:
		if !so.AssignedTo(actor.ID) {
			return ErrUnauthorized
		}
	}

	if e.needsCourier && !so.Assigned() {
		return ErrPreconditionFailed
	}
	return nil
}

// Aggregate derives the customer-facing status of an order: the most advanced
// non-cancelled shop order wins. Only when every shop order was cancelled is
// the order cancelled.
func Aggregate(shopOrders []*ShopOrder) Status {
	if len(shopOrders) == 0 {
		return StatusCreated
	}
	best := StatusNone
	for _, so := range shopOrders {
		if so.Status == StatusCancelled {
			continue
		}
		if best == StatusNone || so.Status.Rank() > best.Rank() {
			best = so.Status
		}
	}
	if best == StatusNone {
		return StatusCancelled
	}
	return best
}

// AggregateStatuses is Aggregate for callers that only hold statuses.
func AggregateStatuses(statuses ...Status) Status {
	sos := make([]*ShopOrder, len(statuses))
	for i, s := range statuses {
		sos[i] = &ShopOrder{Status: s}
	}
	return Aggregate(sos)
}
