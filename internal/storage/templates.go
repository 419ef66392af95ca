package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/libs/db"
)

type TemplateRepository struct {
	pool *db.Pool
}

func NewTemplateRepository(pool *db.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

func (r *TemplateRepository) Insert(ctx context.Context, tpl model.AvailabilityTemplate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_templates
			(id, provider_id, day_of_week, start_time, end_time, slot_minutes, break_start, break_end, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
	`, tpl.ID, tpl.ProviderID, int(tpl.DayOfWeek), tpl.StartTime, tpl.EndTime, tpl.SlotMinutes,
		tpl.BreakStart, tpl.BreakEnd, tpl.Active, tpl.CreatedAt, tpl.UpdatedAt)
	return err
}

func (r *TemplateRepository) Get(ctx context.Context, id string) (model.AvailabilityTemplate, error) {
	var tpl model.AvailabilityTemplate
	var dow int
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time, slot_minutes,
			COALESCE(break_start, ''), COALESCE(break_end, ''), active, created_at, updated_at
		FROM availability_templates
		WHERE id = $1
	`, id).Scan(&tpl.ID, &tpl.ProviderID, &dow, &tpl.StartTime, &tpl.EndTime, &tpl.SlotMinutes,
		&tpl.BreakStart, &tpl.BreakEnd, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return model.AvailabilityTemplate{}, notFoundOr(err)
	}
	tpl.DayOfWeek = time.Weekday(dow)
	return tpl, nil
}

func (r *TemplateRepository) ListActive(ctx context.Context) ([]model.AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, day_of_week, start_time, end_time, slot_minutes,
			COALESCE(break_start, ''), COALESCE(break_end, ''), active, created_at, updated_at
		FROM availability_templates
		WHERE active
		ORDER BY provider_id, day_of_week
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tpls []model.AvailabilityTemplate
	for rows.Next() {
		var tpl model.AvailabilityTemplate
		var dow int
		if err := rows.Scan(&tpl.ID, &tpl.ProviderID, &dow, &tpl.StartTime, &tpl.EndTime, &tpl.SlotMinutes,
			&tpl.BreakStart, &tpl.BreakEnd, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		tpl.DayOfWeek = time.Weekday(dow)
		tpls = append(tpls, tpl)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tpls, nil
}

// Deactivate retires a template. Templates are never deleted.
func (r *TemplateRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE availability_templates
		SET active = false,
			updated_at = now()
		WHERE id = $1
	`, id)
	return err
}
