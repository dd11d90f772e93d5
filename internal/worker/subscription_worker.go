package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/reliability/retry"
)

// Sweeper deactivates tenants whose subscription has run out.
type Sweeper interface {
	DeactivateExpired(ctx context.Context) (int, error)
}

// SubscriptionWorker periodically deactivates tenants with expired subscriptions.
type SubscriptionWorker struct {
	sweeper  Sweeper
	logger   *slog.Logger
	clock    clockwork.Clock
	interval time.Duration
	retry    *retry.Config
}

// NewSubscriptionWorker creates a new subscription worker. A nil clock means
// the real clock.
func NewSubscriptionWorker(sweeper Sweeper, logger *slog.Logger, clock clockwork.Clock, interval time.Duration) *SubscriptionWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := retry.DefaultConfig()
	cfg.Clock = clock
	return &SubscriptionWorker{
		sweeper:  sweeper,
		logger:   logger,
		clock:    clock,
		interval: interval,
		retry:    cfg,
	}
}

// Start runs sweeps on every tick until ctx is cancelled.
func (w *SubscriptionWorker) Start(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("subscription worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("subscription worker stopped")
			return
		case <-ticker.Chan():
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many tenants were deactivated. A pass
// that fails part way is retried with backoff; tenants already handled are
// not listed again, so the count accumulates across attempts.
func (w *SubscriptionWorker) Sweep(ctx context.Context) int {
	total := 0
	_, err := retry.Do(ctx, w.retry, w.logger, "subscription sweep", func(ctx context.Context) (struct{}, error) {
		n, err := w.sweeper.DeactivateExpired(ctx)
		total += n
		return struct{}{}, err
	})
	if err != nil {
		w.logger.Error("subscription sweep failed",
			slog.Int("expired", total),
			slog.String("error", err.Error()),
		)
		metrics.ObserveSubscriptionSweep("error", total)
		return total
	}

	if total > 0 {
		w.logger.Info("subscription sweep finished", slog.Int("expired", total))
	} else {
		w.logger.Debug("subscription sweep found nothing to expire")
	}
	metrics.ObserveSubscriptionSweep("success", total)
	return total
}
