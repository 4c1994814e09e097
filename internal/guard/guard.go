// Package guard serializes mutating work per application id and retries
// optimistic-lock conflicts a bounded number of times.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/sethvargo/go-retry"
)

type Config struct {
	MaxRetries  int
	Backoff     time.Duration
	LockTimeout time.Duration
}

type lease struct {
	ch   chan struct{}
	refs int
}

// Guard hands out one lease per key. Different keys never block each other.
type Guard struct {
	mu     sync.Mutex
	leases map[string]*lease

	maxRetries  uint64
	backoff     time.Duration
	lockTimeout time.Duration
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Guard {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		leases:      make(map[string]*lease),
		maxRetries:  uint64(cfg.MaxRetries),
		backoff:     cfg.Backoff,
		lockTimeout: cfg.LockTimeout,
		logger:      logger,
	}
}

// Do runs fn while holding the lease for key. A ConcurrencyConflict returned by fn
// releases the lease, backs off and runs fn again from a fresh read; after the
// retry budget is spent the conflict is returned to the caller.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(g.maxRetries, retry.NewExponential(g.backoff))
	attempt := 0

	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := g.acquire(ctx, key); err != nil {
			return err
		}
		defer g.release(key)

		err := fn(ctx)
		if errors.Is(err, internal.ErrConcurrencyConflict) {
			g.logger.Warn("concurrency conflict, retrying", "key", key, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (g *Guard) acquire(ctx context.Context, key string) error {
	g.mu.Lock()
	l, ok := g.leases[key]
	if !ok {
		l = &lease{ch: make(chan struct{}, 1)}
		g.leases[key] = l
	}
	l.refs++
	g.mu.Unlock()

	if g.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = internal.WithTimeout(ctx, g.lockTimeout)
		defer cancel()
	}

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		g.drop(key)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return internal.NewConcurrencyConflictError("timed out waiting for application lock",
				internal.WorkflowErrorDetails{ApplicationID: key})
		}
		return ctx.Err()
	}
}

func (g *Guard) release(key string) {
	g.mu.Lock()
	l := g.leases[key]
	g.mu.Unlock()
	<-l.ch
	g.drop(key)
}

func (g *Guard) drop(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l := g.leases[key]
	l.refs--
	if l.refs == 0 {
		delete(g.leases, key)
	}
}

// Active returns how many keys currently have holders or waiters.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.leases)
}
