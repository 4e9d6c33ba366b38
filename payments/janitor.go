package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/sessions"
)

// Janitor sweeps pending checkouts that were never resolved, unblocking
// their sessions so a fresh checkout can be issued. It runs on a cron
// schedule and can also be invoked on demand.
type Janitor struct {
	store sessions.Store
	ttl   time.Duration
	cron  *cron.Cron
	now   func() time.Time
}

// NewJanitor builds a janitor sweeping records older than ttl.
func NewJanitor(store sessions.Store, ttl time.Duration) *Janitor {
	return &Janitor{store: store, ttl: ttl, now: time.Now}
}

// Start schedules periodic sweeps. The schedule uses standard cron syntax.
func (j *Janitor) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			logger.Warn(ctx, "payments.janitor", "sweep.fail",
				slog.String("err", err.Error()),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("payments: janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	j.cron = c
	logger.Info(context.Background(), "payments.janitor", "start",
		slog.String("mode", schedule),
	)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Sweep drops every pending checkout older than the TTL and returns how
// many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.ttl)
	stale, err := j.store.StalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("payments: janitor list stale: %w", err)
	}

	swept := 0
	for _, pc := range stale {
		if err := j.store.DropPending(ctx, pc.CheckoutID); err != nil {
			logger.Warn(ctx, "payments.janitor", "sweep.drop_fail",
				slog.String("checkout_id", pc.CheckoutID),
				slog.Int64("chat_id", pc.SessionID),
				slog.String("err", err.Error()),
			)
			continue
		}
		swept++
		logger.Info(ctx, "payments.janitor", "pending.swept",
			slog.String("checkout_id", pc.CheckoutID),
			slog.Int64("chat_id", pc.SessionID),
			slog.String("plan_id", pc.PlanID),
		)
	}

	if len(stale) > 0 {
		logger.Info(ctx, "payments.janitor", "sweep.done",
			slog.Int("pending_count", len(stale)),
			slog.Int("swept", swept),
		)
	}
	return swept, nil
}
