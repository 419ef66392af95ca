package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

type TemplateStore interface {
	ListActive(ctx context.Context) ([]model.AvailabilityTemplate, error)
}

// Refresher periodically re-invokes generation for every active template so
// the rolling horizon keeps moving forward. Generation itself never
// self-extends; this worker is the caller the contract expects.
type Refresher struct {
	templates   TemplateStore
	gen         *Generator
	logger      *slog.Logger
	interval    time.Duration
	horizonDays int
}

type RefresherConfig struct {
	Interval    time.Duration
	HorizonDays int
}

func NewRefresher(templates TemplateStore, gen *Generator, logger *slog.Logger, cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	return &Refresher{
		templates:   templates,
		gen:         gen,
		logger:      logger,
		interval:    cfg.Interval,
		horizonDays: cfg.HorizonDays,
	}
}

func (r *Refresher) Run(ctx context.Context) {
	if err := r.refresh(ctx); err != nil {
		r.logger.Error("horizon refresh failed", "err", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.logger.Error("horizon refresh failed", "err", err)
			}
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) error {
	tpls, err := r.templates.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, tpl := range tpls {
		if _, err := r.gen.Generate(ctx, tpl, time.Time{}, r.horizonDays); err != nil {
			// One broken template must not starve the rest.
			r.logger.Error("template generation failed", "template_id", tpl.ID, "err", err)
		}
	}
	return nil
}
