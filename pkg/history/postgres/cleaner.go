package postgres

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parrotalk/parrotalk/pkg/history"
)

// Cleaner periodically soft-deletes expired sessions. Sessions are retained
// deleted rather than dropped so a log restore stays possible.
type Cleaner struct {
	store    history.Store
	interval time.Duration
	ttl      time.Duration
	log      *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewCleaner creates a Cleaner that runs every interval and expires sessions
// older than ttl.
func NewCleaner(store history.Store, interval, ttl time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{
		store:    store,
		interval: interval,
		ttl:      ttl,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the cleanup loop. Subsequent calls are no-ops.
func (c *Cleaner) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.loop(ctx)
	})
}

// Stop terminates the loop and waits for it to exit. Idempotent.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// One pass at startup so a long interval does not delay the first sweep.
	c.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			c.sweep(ctx)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) {
	n, err := c.store.SoftDeleteExpired(ctx, c.ttl)
	if err != nil {
		c.log.Error("session cleanup failed", "error", err)
		return
	}
	if n > 0 {
		c.log.Info("expired sessions soft-deleted", "count", n)
	}
}
