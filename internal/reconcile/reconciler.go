// README: Reconciler keeps a Cache in step with the server: fetch, stream, refetch.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"foodrun/internal/modules/notify"
	"foodrun/internal/retry"
)

const DefaultRefetchInterval = 3 * time.Minute

type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

type Stream interface {
	Next(ctx context.Context) (*notify.Event, error)
	Close() error
}

type Source interface {
	Connect(ctx context.Context) (Stream, error)
}

type Reconciler struct {
	cache   *Cache
	fetch   Fetcher
	source  Source
	log     *logrus.Logger
	every   time.Duration
	backoff *retry.Backoff

	// OnChange runs after every fetch and every applied event.
	OnChange func()
}

func New(cache *Cache, fetch Fetcher, source Source, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{
		cache:   cache,
		fetch:   fetch,
		source:  source,
		log:     log,
		every:   DefaultRefetchInterval,
		backoff: retry.NewBackoff(500*time.Millisecond, 30*time.Second),
	}
}

func (r *Reconciler) SetRefetchInterval(d time.Duration) { r.every = d }
func (r *Reconciler) SetBackoff(b *retry.Backoff)        { r.backoff = b }

func (r *Reconciler) Cache() *Cache { return r.cache }

// Run blocks until ctx is done, reconnecting after every stream failure.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := r.backoff.Next()
		r.log.WithError(err).WithField("retry_in", wait).Warn("reconcile session ended")
		if !retry.Sleep(ctx, wait) {
			return nil
		}
	}
}

// Refresh performs one full fetch and replaces the cache contents.
func (r *Reconciler) Refresh(ctx context.Context) error {
	snap, err := r.fetch.Fetch(ctx)
	if err != nil {
		return err
	}
	r.cache.Replace(snap)
	r.changed()
	return nil
}

type streamed struct {
	evt *notify.Event
	err error
}

func (r *Reconciler) session(ctx context.Context) error {
	// Subscribe before fetching so nothing committed in between is missed.
	stream, err := r.source.Connect(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := r.Refresh(ctx); err != nil {
		return err
	}
	r.backoff.Reset()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan streamed)
	go func() {
		for {
			evt, err := stream.Next(ctx)
			select {
			case events <- streamed{evt: evt, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.WithError(err).Warn("periodic refetch failed")
			}
		case s := <-events:
			if s.err != nil {
				return s.err
			}
			res := r.cache.Apply(s.evt)
			if res.Applied {
				r.changed()
			}
			if res.Resync {
				if err := r.Refresh(ctx); err != nil {
					r.log.WithError(err).Warn("resync fetch failed")
				}
			}
		}
	}
}

func (r *Reconciler) changed() {
	if r.OnChange != nil {
		r.OnChange()
	}
}

var errStreamClosed = errors.New("event stream closed")
