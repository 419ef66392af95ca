package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const DefaultDispatchInterval = time.Minute

// Dispatcher drives the pipeline on a fixed interval. Ticks are
// single-flight: if a tick is still running when the next one fires, the
// new tick is skipped rather than run concurrently, so a slow channel can
// never cause the same due task to be double-selected in-process.
type Dispatcher struct {
	pipeline *Pipeline
	logger   *slog.Logger
	interval time.Duration
	running  atomic.Bool
}

func NewDispatcher(pipeline *Pipeline, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultDispatchInterval
	}
	return &Dispatcher{pipeline: pipeline, logger: logger, interval: interval}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick reports whether it ran (false when skipped by the guard).
func (d *Dispatcher) tick(ctx context.Context) bool {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Warn("dispatch tick skipped; previous tick still running")
		return false
	}
	defer d.running.Store(false)

	if err := d.pipeline.DispatchTick(ctx, time.Now().UTC()); err != nil {
		d.logger.Error("dispatch tick failed", "err", err)
	}
	return true
}
