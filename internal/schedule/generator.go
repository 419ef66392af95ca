package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// DefaultHorizonDays is the rolling window over which slots are materialized.
const DefaultHorizonDays = 30

// SlotStore is the slice of the slot store generation needs.
type SlotStore interface {
	// ExistingStarts returns the Unix seconds of every slot start the
	// provider already has in [from, to).
	ExistingStarts(ctx context.Context, providerID string, from, to time.Time) (map[int64]struct{}, error)
	// InsertSlots batch-writes new slots and reports how many rows landed.
	InsertSlots(ctx context.Context, slots []model.Slot) (int, error)
}

// Generator expands one availability template into concrete dated slots.
// Generation is idempotent: candidates that already exist for
// (provider, start instant) are skipped, and the store's uniqueness
// constraint backstops concurrent runs, so re-running for the same template
// and horizon yields zero additional rows.
type Generator struct {
	slots  SlotStore
	logger *slog.Logger
}

func NewGenerator(slots SlotStore, logger *slog.Logger) *Generator {
	return &Generator{slots: slots, logger: logger}
}

// Generate materializes slots for every horizon date matching the template's
// weekday and returns the number created. A zero horizonStart means
// "tomorrow"; horizonDays <= 0 means the default 30-day window.
func (g *Generator) Generate(ctx context.Context, tpl model.AvailabilityTemplate, horizonStart time.Time, horizonDays int) (int, error) {
	win, err := parseWindow(tpl)
	if err != nil {
		return 0, err
	}

	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if horizonStart.IsZero() {
		horizonStart = time.Now().UTC().AddDate(0, 0, 1)
	}
	y, m, d := horizonStart.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, horizonDays)

	existing, err := g.slots.ExistingStarts(ctx, tpl.ProviderID, from, to)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var batch []model.Slot
	for date := from; date.Before(to); date = date.AddDate(0, 0, 1) {
		if date.Weekday() != tpl.DayOfWeek {
			continue
		}
		for _, startAt := range win.dailyStarts(date) {
			if _, ok := existing[startAt.Unix()]; ok {
				continue
			}
			batch = append(batch, model.Slot{
				ID:         uuid.NewString(),
				ProviderID: tpl.ProviderID,
				StartAt:    startAt,
				Available:  true,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}

	if len(batch) == 0 {
		return 0, nil
	}
	created, err := g.slots.InsertSlots(ctx, batch)
	if err != nil {
		return 0, err
	}
	g.logger.Info("slots generated",
		"provider_id", tpl.ProviderID,
		"template_id", tpl.ID,
		"day_of_week", tpl.DayOfWeek.String(),
		"created", created,
	)
	return created, nil
}
