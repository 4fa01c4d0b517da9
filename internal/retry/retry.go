// README: Bounded retry with exponential backoff for transient failures.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Default is used for store calls: four attempts, 50ms doubling up to 1s.
var Default = Config{
	MaxAttempts:  4,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2,
}

func (c Config) normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	return c
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// attempts are used up. The last error is returned as is.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, fn func() error) error {
	cfg = cfg.normalize()
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts || (retryable != nil && !retryable(err)) {
			return err
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// Backoff hands out full-jitter exponential delays for reconnect loops.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	attempt int
}

func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: maxDelay}
}

// Next returns a random delay in [Initial/2, min(Initial*2^n, Max)].
func (b *Backoff) Next() time.Duration {
	b.attempt++
	base := float64(b.Initial) * math.Pow(2, float64(b.attempt-1))
	if b.Max > 0 && base > float64(b.Max) {
		base = float64(b.Max)
	}
	floor := float64(b.Initial) / 2
	if floor > base {
		floor = base
	}
	return time.Duration(floor + rand.Float64()*(base-floor)) //nolint:gosec // jitter only
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
