// Package changefeed implements ChangeListener: a long-lived subscriber to
// the storage layer's row-insert notification channel that delivers each
// persisted log exactly once to the in-process pipeline, without polling.
package changefeed

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// Notifier is the storage-layer capability a Listener depends on: a
// dedicated session that blocks until the next payload arrives on the
// change channel. Concrete implementations (pkg/storagesql) wrap a pgx
// connection's LISTEN/WaitForNotification; tests use an in-memory fake.
type Notifier interface {
	WaitForNotification(ctx context.Context) (payload string, err error)
	Close(ctx context.Context) error
}

// Dialer opens a fresh Notifier, used both for the initial connection and
// for every reconnect after a disconnect.
type Dialer func(ctx context.Context) (Notifier, error)

// Handler processes one delivered log record. Handlers run concurrently
// and their errors are logged, never propagated to the listener loop.
type Handler func(ctx context.Context, rec model.LogRecord)

// Config controls reconnect backoff and the processed-id cache.
type Config struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	CacheSize    int
	CatchUpLimit int
}

// DefaultConfig returns the standard 100ms-5s reconnect backoff, a 10k
// processed-id cache, and a 100-record catch-up pass.
func DefaultConfig() Config {
	return Config{MinBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second, CacheSize: 10_000, CatchUpLimit: 100}
}

// Listener is the ChangeListener component.
type Listener struct {
	cfg  Config
	dial Dialer
	logs store.LogRepository
	log  log.Logger
	seen *lru.Cache[int64, struct{}]

	handlers []Handler
}

// New constructs a Listener. dial opens the storage-layer notification
// session; logs is used both for catch-up and for fetching the full record
// after each notification.
func New(cfg Config, dial Dialer, logs store.LogRepository, logger log.Logger) (*Listener, error) {
	cache, err := lru.New[int64, struct{}](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Listener{cfg: cfg, dial: dial, logs: logs, log: logger, seen: cache}, nil
}

// OnLog registers a handler invoked for every log delivered via
// notification or catch-up. Must be called before Run.
func (l *Listener) OnLog(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Run connects, performs the initial catch-up pass, then blocks processing
// notifications until ctx is canceled. On disconnect it reconnects with
// exponential backoff and repeats the catch-up pass, absorbing any
// duplicates via the processed-id cache.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		notifier, err := l.dial(ctx)
		if err != nil {
			level.Warn(l.log).Log("msg", "change listener dial failed", "err", err)
			if !l.sleepBackoff(ctx, &backoff) {
				return ctx.Err()
			}
			continue
		}
		backoff = l.cfg.MinBackoff

		l.catchUp(ctx)

		if err := l.receiveLoop(ctx, notifier); err != nil {
			level.Warn(l.log).Log("msg", "change listener disconnected", "err", err)
		}
		_ = notifier.Close(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !l.sleepBackoff(ctx, &backoff) {
			return ctx.Err()
		}
	}
}

func (l *Listener) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
		return false
	}
	*backoff *= 2
	if *backoff > l.cfg.MaxBackoff {
		*backoff = l.cfg.MaxBackoff
	}
	return true
}

func (l *Listener) receiveLoop(ctx context.Context, n Notifier) error {
	for {
		payload, err := n.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			level.Warn(l.log).Log("msg", "dropping change notification with invalid payload", "payload", payload)
			continue
		}
		l.deliver(ctx, id)
	}
}

// catchUp reads the most recent records and feeds them through handlers,
// relying on the processed-id cache to skip anything already delivered
// live, so reconnects never double-process.
func (l *Listener) catchUp(ctx context.Context) {
	ids, err := l.logs.RecentIDs(ctx, l.cfg.CatchUpLimit)
	if err != nil {
		level.Warn(l.log).Log("msg", "catch-up pass failed to list recent ids", "err", err)
		return
	}
	for _, id := range ids {
		l.deliver(ctx, id)
	}
}

func (l *Listener) deliver(ctx context.Context, id int64) {
	if _, ok := l.seen.Get(id); ok {
		return
	}
	l.seen.Add(id, struct{}{})

	rec, err := l.logs.GetByID(ctx, id)
	if err != nil {
		level.Warn(l.log).Log("msg", "failed to fetch log after notification", "id", id, "err", err)
		return
	}

	for _, h := range l.handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					level.Error(l.log).Log("msg", "change listener handler panicked", "id", id, "panic", r)
				}
			}()
			h(ctx, rec)
		}(h)
	}
}
