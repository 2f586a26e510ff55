package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/kitchensync/internal/network"
)

// AutoSync runs Reconcile and Sync every interval while online and the
// queue is non-empty. Going offline stops the timer; coming back online
// restarts it with an immediate trigger.
//
// Cancelling ctx stops the loop. A pass already running is allowed to
// finish first. AutoSync returns ctx.Err() on cancellation.
func (c *Coordinator) AutoSync(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("autosync: interval must be positive, got %s", interval)
	}

	events, unsubscribe := c.monitor.Subscribe()
	defer unsubscribe()

	var ticker *time.Ticker
	var tick <-chan time.Time
	start := func() {
		if ticker == nil {
			ticker = time.NewTicker(interval)
			tick = ticker.C
		}
	}
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stop()

	c.logger.Info("autosync started", "interval", interval)
	if c.monitor.Online() {
		start()
		c.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("autosync stopped")
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case network.BecameOnline:
				start()
				c.trigger(ctx)
			case network.BecameOffline:
				stop()
			}

		case <-tick:
			c.trigger(ctx)
		}
	}
}

// trigger runs one reconcile and sync if there is anything to deliver.
func (c *Coordinator) trigger(ctx context.Context) {
	if len(c.ledger.Pending()) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if _, err := c.Reconcile(ctx); err != nil {
		c.logger.Warn("reconcile failed", "error", err)
	}
	if _, err := c.Sync(ctx); err != nil {
		c.logger.Warn("sync failed", "error", err)
	}
}
