// README: Claim-visibility board: which couriers were shown each open request.
package board

import (
	"context"
	"sync"
	"time"

	"foodrun/internal/types"
)

// keyTTL bounds how long viewers are remembered; jobs resolve well within a day.
const keyTTL = 24 * time.Hour

// Board records the couriers who saw an open request so the claim outcome
// can be sent to exactly them. It is best effort: callers fall back to
// broadcasting to every courier when it is empty or unavailable.
type Board interface {
	MarkSeen(ctx context.Context, courierID types.ID, shopOrderIDs ...types.ID) error
	Viewers(ctx context.Context, shopOrderID types.ID) ([]types.ID, error)
	Forget(ctx context.Context, shopOrderID types.ID) error
}

type Memory struct {
	mu      sync.Mutex
	viewers map[types.ID]map[types.ID]time.Time
	now     func() time.Time
}

var _ Board = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		viewers: make(map[types.ID]map[types.ID]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) MarkSeen(_ context.Context, courierID types.ID, shopOrderIDs ...types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, id := range shopOrderIDs {
		set, ok := m.viewers[id]
		if !ok {
			set = make(map[types.ID]time.Time)
			m.viewers[id] = set
		}
		set[courierID] = now
	}
	return nil
}

func (m *Memory) Viewers(_ context.Context, shopOrderID types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.viewers[shopOrderID]
	out := make([]types.ID, 0, len(set))
	cutoff := m.now().Add(-keyTTL)
	for id, seen := range set {
		if seen.After(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) Forget(_ context.Context, shopOrderID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.viewers, shopOrderID)
	return nil
}
