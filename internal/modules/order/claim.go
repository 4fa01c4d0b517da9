// README: Courier claim arbitration; exactly one courier wins an open job.
package order

import (
	"context"

	"github.com/sirupsen/logrus"

	"foodrun/internal/metrics"
	"foodrun/internal/types"
)

type ClaimCommand struct {
	ShopOrderID types.ID
	Courier     Courier
}

// Claim assigns the courier to an open job with one conditional write.
// Losers receive *AlreadyClaimedError naming the winner.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*ShopOrder, error) {
	if cmd.ShopOrderID == "" || cmd.Courier.ID == "" {
		return nil, ErrBadRequest
	}
	log := s.log.WithFields(logrus.Fields{
		"shop_order_id": cmd.ShopOrderID,
		"courier_id":    cmd.Courier.ID,
	})

	var won *ShopOrder
	var ok bool
	attempts := 0
	err := s.withRetry(ctx, func() (err error) {
		attempts++
		won, ok, err = s.store.ClaimCourier(ctx, cmd.ShopOrderID, cmd.Courier)
		return err
	})
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}

	if !ok && attempts > 1 {
		// a retried attempt lost to ourselves: the first write committed
		// but its acknowledgement was lost
		cur, err := s.GetShopOrder(ctx, cmd.ShopOrderID)
		if err == nil && cur.Status == StatusAccepted && cur.AssignedTo(cmd.Courier.ID) {
			log.Info("claim found committed after transient error")
			won, ok = cur, true
		}
	}

	if ok {
		metrics.Claims.WithLabelValues("won").Inc()
		metrics.Transitions.WithLabelValues(string(StatusPreparing), string(StatusAccepted)).Inc()
		log.Info("shop order claimed")
		s.committed(ctx, ChangeClaimed, StatusPreparing, won, Actor{ID: cmd.Courier.ID, Role: RoleCourier})
		return won, nil
	}

	cur, err := s.GetShopOrder(ctx, cmd.ShopOrderID)
	if err != nil {
		metrics.Claims.WithLabelValues("error").Inc()
		return nil, err
	}
	if cur.Assigned() {
		metrics.Claims.WithLabelValues("lost").Inc()
		log.WithField("winner", cur.Courier.ID).Debug("claim lost")
		return nil, &AlreadyClaimedError{ShopOrderID: cur.ID, By: *cur.Courier}
	}
	metrics.Claims.WithLabelValues("not_open").Inc()
	return nil, ErrInvalidTransition
}
