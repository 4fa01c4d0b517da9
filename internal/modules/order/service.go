// README: Order service implements placement, reads and state transitions.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"foodrun/internal/metrics"
	"foodrun/internal/retry"
	"foodrun/internal/types"
)

// maxCASRounds bounds how often a missed conditional write is re-validated.
const maxCASRounds = 3

type ChangeKind string

const (
	ChangePlaced  ChangeKind = "placed"
	ChangeStatus  ChangeKind = "status"
	ChangeClaimed ChangeKind = "claimed"
)

// Change describes one committed write. Publishers receive it after the
// commit and must never block or fail the caller. Aggregate is set only when
// the writer already knows the new order status (placement); otherwise the
// publisher looks it up off the write path.
type Change struct {
	Kind      ChangeKind
	ShopOrder *ShopOrder
	From      Status
	Aggregate Status
	At        time.Time
}

type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// Board remembers which couriers were shown an open request.
type Board interface {
	MarkSeen(ctx context.Context, courierID types.ID, shopOrderIDs ...types.ID) error
}

type Service struct {
	store Store
	pub   Publisher
	board Board
	log   *logrus.Logger
	retry retry.Config
	now   func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }
func WithBoard(b Board) Option         { return func(s *Service) { s.board = b } }
func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.log = l }
}
func WithRetry(c retry.Config) Option { return func(s *Service) { s.retry = c } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		retry: retry.Default,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

type ShopCart struct {
	ShopID      types.ID
	OwnerID     types.ID
	Items       []Item
	DeliveryFee types.Money
	Tax         types.Money
}

type PlaceCommand struct {
	CustomerID types.ID
	Address    Address
	Payment    Payment
	Shops      []ShopCart
}

type AdvanceCommand struct {
	ShopOrderID types.ID
	Target      Status
	Actor       Actor
}

// Place creates an order and one shop order per cart, all at created.
func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (*Order, error) {
	if cmd.CustomerID == "" || len(cmd.Shops) == 0 {
		return nil, ErrBadRequest
	}
	if cmd.Payment.Method != PaymentCOD && cmd.Payment.Method != PaymentOnline {
		return nil, ErrBadRequest
	}

	now := s.now()
	o := &Order{
		ID:         types.NewID(),
		CustomerID: cmd.CustomerID,
		Address:    cmd.Address,
		Payment:    Payment{Method: cmd.Payment.Method, Reference: cmd.Payment.Reference},
		CreatedAt:  now,
	}

	var grand types.Money
	for _, cart := range cmd.Shops {
		so, err := buildShopOrder(o, cart, now)
		if err != nil {
			return nil, err
		}
		if grand, err = grand.Add(so.Total); err != nil {
			return nil, ErrBadRequest
		}
		o.ShopOrders = append(o.ShopOrders, so)
	}
	if cmd.Payment.Amount.Amount != 0 && cmd.Payment.Amount != grand {
		return nil, ErrBadRequest
	}
	o.Payment.Amount = grand

	err := s.withRetry(ctx, func() error { return s.store.CreateOrder(ctx, o) })
	if err != nil {
		return nil, err
	}

	customer := cmd.CustomerID
	for _, so := range o.ShopOrders {
		s.appendEvent(ctx, &Event{
			ShopOrderID: so.ID,
			OrderID:     o.ID,
			FromStatus:  StatusNone,
			ToStatus:    StatusCreated,
			ActorRole:   RoleCustomer,
			ActorID:     &customer,
			CreatedAt:   now,
		})
		s.publish(ctx, Change{
			Kind:      ChangePlaced,
			ShopOrder: so.Clone(),
			From:      StatusNone,
			Aggregate: StatusCreated,
			At:        now,
		})
	}
	s.log.WithFields(logrus.Fields{
		"order_id":    o.ID,
		"customer_id": o.CustomerID,
		"shops":       len(o.ShopOrders),
	}).Info("order placed")
	return o, nil
}

func buildShopOrder(o *Order, cart ShopCart, now time.Time) (*ShopOrder, error) {
	if cart.ShopID == "" || cart.OwnerID == "" || len(cart.Items) == 0 {
		return nil, ErrBadRequest
	}
	var subtotal types.Money
	for _, it := range cart.Items {
		if it.Quantity <= 0 || it.Price.Amount < 0 {
			return nil, ErrBadRequest
		}
		line, err := it.Price.Mul(it.Quantity)
		if err != nil {
			return nil, ErrBadRequest
		}
		if subtotal, err = subtotal.Add(line); err != nil {
			return nil, ErrBadRequest
		}
	}
	total, err := subtotal.Add(cart.DeliveryFee)
	if err != nil {
		return nil, ErrBadRequest
	}
	if total, err = total.Add(cart.Tax); err != nil {
		return nil, ErrBadRequest
	}
	fee, tax := cart.DeliveryFee, cart.Tax
	fee.Currency, tax.Currency = total.Currency, total.Currency

	return &ShopOrder{
		ID:          types.NewID(),
		OrderID:     o.ID,
		ShopID:      cart.ShopID,
		OwnerID:     cart.OwnerID,
		CustomerID:  o.CustomerID,
		Items:       append([]Item(nil), cart.Items...),
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Tax:         tax,
		Total:       total,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetOrder returns an order to its customer, or to an owner or courier
// holding one of its shop orders.
func (s *Service) GetOrder(ctx context.Context, id types.ID, actor Actor) (*Order, error) {
	var o *Order
	err := s.withRetry(ctx, func() (err error) {
		o, err = s.store.GetOrder(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !canView(o, actor) {
		return nil, ErrUnauthorized
	}
	return o, nil
}

func canView(o *Order, actor Actor) bool {
	switch actor.Role {
	case RoleCustomer:
		return o.CustomerID == actor.ID
	case RoleOwner:
		for _, so := range o.ShopOrders {
			if so.OwnerID == actor.ID {
				return true
			}
		}
	case RoleCourier:
		for _, so := range o.ShopOrders {
			if so.AssignedTo(actor.ID) {
				return true
			}
		}
	}
	return false
}

func (s *Service) GetShopOrder(ctx context.Context, id types.ID) (*ShopOrder, error) {
	var so *ShopOrder
	err := s.withRetry(ctx, func() (err error) {
		so, err = s.store.GetShopOrder(ctx, id)
		return err
	})
	return so, err
}

func (s *Service) ListOrdersForCustomer(ctx context.Context, customerID types.ID) ([]*Order, error) {
	var out []*Order
	err := s.withRetry(ctx, func() (err error) {
		out, err = s.store.ListOrdersByCustomer(ctx, customerID)
		return err
	})
	return out, err
}

// ListOrdersForShop only returns shop orders the owner is responsible for.
func (s *Service) ListOrdersForShop(ctx context.Context, shopID types.ID, owner types.ID) ([]*ShopOrder, error) {
	var all []*ShopOrder
	err := s.withRetry(ctx, func() (err error) {
		all, err = s.store.ListShopOrdersByShop(ctx, shopID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]*ShopOrder, 0, len(all))
	for _, so := range all {
		if so.OwnerID == owner {
			out = append(out, so)
		}
	}
	if len(all) > 0 && len(out) == 0 {
		return nil, ErrUnauthorized
	}
	return out, nil
}

// ListOpenRequests returns the jobs couriers can still claim and notes on
// the board that courierID has seen them.
func (s *Service) ListOpenRequests(ctx context.Context, courierID types.ID) ([]*ShopOrder, error) {
	var out []*ShopOrder
	err := s.withRetry(ctx, func() (err error) {
		out, err = s.store.ListOpenShopOrders(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.board != nil && courierID != "" && len(out) > 0 {
		ids := make([]types.ID, len(out))
		for i, so := range out {
			ids[i] = so.ID
		}
		if err := s.board.MarkSeen(ctx, courierID, ids...); err != nil {
			s.log.WithError(err).WithField("courier_id", courierID).Warn("board mark seen failed")
		}
	}
	return out, nil
}

func (s *Service) ListAssignments(ctx context.Context, courierID types.ID) ([]*ShopOrder, error) {
	var out []*ShopOrder
	err := s.withRetry(ctx, func() (err error) {
		out, err = s.store.ListShopOrdersByCourier(ctx, courierID)
		return err
	})
	return out, err
}

// AdvanceStatus validates and commits one transition. A missed conditional
// write means someone else moved the shop order first: it is reloaded and
// validated again so the caller gets the precise reason.
func (s *Service) AdvanceStatus(ctx context.Context, cmd AdvanceCommand) (*ShopOrder, error) {
	if cmd.ShopOrderID == "" || !cmd.Actor.Role.Valid() || cmd.Actor.ID == "" {
		return nil, ErrBadRequest
	}
	log := s.log.WithFields(logrus.Fields{
		"shop_order_id": cmd.ShopOrderID,
		"target":        cmd.Target,
		"actor_role":    cmd.Actor.Role,
		"actor_id":      cmd.Actor.ID,
	})

	for round := 0; round < maxCASRounds; round++ {
		if round > 0 {
			metrics.CASRetries.Inc()
		}
		cur, err := s.GetShopOrder(ctx, cmd.ShopOrderID)
		if err != nil {
			return nil, err
		}
		if err := Advance(cur, cmd.Target, cmd.Actor); err != nil {
			metrics.TransitionRejects.WithLabelValues(rejectReason(err)).Inc()
			log.WithError(err).WithField("status", cur.Status).Debug("transition rejected")
			return nil, err
		}

		var updated *ShopOrder
		var ok bool
		attempts := 0
		err = s.withRetry(ctx, func() (err error) {
			attempts++
			updated, ok, err = s.store.UpdateStatus(ctx, StatusUpdate{
				ID:                cur.ID,
				From:              cur.Status,
				Version:           cur.Version,
				To:                cmd.Target,
				RequireUnassigned: cmd.Target == StatusCancelled,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if !ok && attempts > 1 {
			// an earlier attempt may have committed before its error came back
			if updated, ok = s.ownWrite(ctx, cur, cmd.Target); ok {
				log.Info("transition found committed after transient error")
			}
		}
		if !ok {
			continue
		}

		metrics.Transitions.WithLabelValues(string(cur.Status), string(updated.Status)).Inc()
		log.WithField("from", cur.Status).Info("shop order status changed")
		s.committed(ctx, ChangeStatus, cur.Status, updated, cmd.Actor)
		return updated, nil
	}

	log.Warn("transition gave up after repeated conflicts")
	return nil, ErrConflict
}

// ownWrite reports whether the row is exactly one write past prev and at
// target, i.e. the write this caller issued.
func (s *Service) ownWrite(ctx context.Context, prev *ShopOrder, target Status) (*ShopOrder, bool) {
	cur, err := s.GetShopOrder(ctx, prev.ID)
	if err != nil {
		return nil, false
	}
	if cur.Status != target || cur.Version != prev.Version+1 {
		return nil, false
	}
	return cur, true
}

// committed records history and hands the change to the publisher. Neither
// step can fail the already committed write.
func (s *Service) committed(ctx context.Context, kind ChangeKind, from Status, so *ShopOrder, actor Actor) {
	now := s.now()
	actorID := actor.ID
	s.appendEvent(ctx, &Event{
		ShopOrderID: so.ID,
		OrderID:     so.OrderID,
		FromStatus:  from,
		ToStatus:    so.Status,
		ActorRole:   actor.Role,
		ActorID:     &actorID,
		CreatedAt:   now,
	})

	s.publish(ctx, Change{Kind: kind, ShopOrder: so.Clone(), From: from, At: now})
}

func (s *Service) appendEvent(ctx context.Context, e *Event) {
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.log.WithError(err).WithField("shop_order_id", e.ShopOrderID).Warn("append history failed")
	}
}

func (s *Service) publish(ctx context.Context, c Change) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(ctx, c)
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, s.retry, isTransient, fn)
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "other"
	}
}
