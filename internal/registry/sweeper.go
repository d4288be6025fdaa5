package registry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tabletop-session-service/internal/observability"
)

// Sweeper periodically evicts lapsed temporary grants from every session.
// It is purely a memory-reclamation pass: permission reads filter expired
// grants on their own.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tickCtx, span := observability.StartSpan(ctx, "registry.sweep")
			purged := sw.store.Sweep()
			span.SetAttributes(attribute.Int("grants.purged", purged))
			span.End()
			if purged > 0 {
				sw.logger.DebugContext(tickCtx, "expired temporary permissions purged", "count", purged)
			}
		}
	}
}
