package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/libs/db"
)

// SlotRepository serves slot reads/writes that run outside a booking
// session: generation and the available-slot listing.
type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

func (r *SlotRepository) ExistingStarts(ctx context.Context, providerID string, from, to time.Time) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_at
		FROM slots
		WHERE provider_id = $1
			AND start_at >= $2
			AND start_at < $3
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	starts := make(map[int64]struct{})
	for rows.Next() {
		var startAt time.Time
		if err := rows.Scan(&startAt); err != nil {
			return nil, err
		}
		starts[startAt.Unix()] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return starts, nil
}

// InsertSlots batch-writes slots. The unique index on (provider_id, start_at)
// plus ON CONFLICT DO NOTHING makes concurrent generation runs safe: the
// reported count is rows that actually landed.
func (r *SlotRepository) InsertSlots(ctx context.Context, slots []model.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO slots (id, provider_id, start_at, booked, available, created_at, updated_at)
			VALUES ($1, $2, $3, false, true, $4, $5)
			ON CONFLICT (provider_id, start_at) DO NOTHING
		`, s.ID, s.ProviderID, s.StartAt, s.CreatedAt, s.UpdatedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range slots {
		tag, err := results.Exec()
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (r *SlotRepository) FindAvailable(ctx context.Context, providerID string, from, to time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, start_at, booked, available, created_at, updated_at
		FROM slots
		WHERE provider_id = $1
			AND available
			AND NOT booked
			AND start_at >= $2
			AND start_at < $3
		ORDER BY start_at ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.StartAt, &s.Booked, &s.Available, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}
