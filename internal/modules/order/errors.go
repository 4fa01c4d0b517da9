// README: Business and store error taxonomy for the order module.
package order

import (
	"errors"
	"fmt"

	"foodrun/internal/types"
)

var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnauthorized       = errors.New("actor not allowed to perform this transition")
	ErrPreconditionFailed = errors.New("transition precondition failed")
	ErrConflict           = errors.New("shop order state conflict")
	ErrAlreadyClaimed     = errors.New("shop order already claimed")
	ErrNotFound           = errors.New("order not found")
	ErrBadRequest         = errors.New("bad request")
	ErrTransientStore     = errors.New("transient store error")
)

// AlreadyClaimedError is returned to every courier that lost a claim race.
// It carries the winner so the loser can update its view without re-polling.
type AlreadyClaimedError struct {
	ShopOrderID types.ID
	By          Courier
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("shop order %s already claimed by courier %s", e.ShopOrderID, e.By.ID)
}

func (e *AlreadyClaimedError) Is(target error) bool {
	return target == ErrAlreadyClaimed
}

// IsBusiness reports whether err is a terminal business error that must not be retried.
func IsBusiness(err error) bool {
	for _, e := range []error{
		ErrInvalidTransition, ErrUnauthorized, ErrPreconditionFailed,
		ErrConflict, ErrAlreadyClaimed, ErrNotFound, ErrBadRequest,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
