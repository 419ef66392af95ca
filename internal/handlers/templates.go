package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/schedule"
	"github.com/md-rashed-zaman/careslot/internal/storage"
)

// TemplatesHandler manages availability templates on the ops server.
// Creating a template triggers generation immediately; the refresher keeps
// the horizon rolling afterwards.
type TemplatesHandler struct {
	templates *storage.TemplateRepository
	gen       *schedule.Generator
	logger    *slog.Logger
}

func NewTemplatesHandler(templates *storage.TemplateRepository, gen *schedule.Generator, logger *slog.Logger) *TemplatesHandler {
	return &TemplatesHandler{templates: templates, gen: gen, logger: logger}
}

type createTemplateRequest struct {
	ProviderID  string `json:"provider_id"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
	BreakStart  string `json:"break_start"`
	BreakEnd    string `json:"break_end"`
}

type createTemplateResponse struct {
	TemplateID   string `json:"template_id"`
	SlotsCreated int    `json:"slots_created"`
}

// Create handles POST /v1/templates.
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}
	if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
		http.Error(w, "day_of_week must be 0 (Sunday) through 6", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	tpl := model.AvailabilityTemplate{
		ID:          uuid.NewString(),
		ProviderID:  req.ProviderID,
		DayOfWeek:   time.Weekday(req.DayOfWeek),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		SlotMinutes: req.SlotMinutes,
		BreakStart:  req.BreakStart,
		BreakEnd:    req.BreakEnd,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := schedule.ValidateTemplate(tpl); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.templates.Insert(r.Context(), tpl); err != nil {
		h.logger.Error("template insert failed", "provider_id", tpl.ProviderID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	created, err := h.gen.Generate(r.Context(), tpl, time.Time{}, 0)
	if err != nil {
		// The template is persisted; the refresher will retry generation.
		h.logger.Error("initial generation failed", "template_id", tpl.ID, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createTemplateResponse{TemplateID: tpl.ID, SlotsCreated: created})
}

// Deactivate handles DELETE /v1/templates/{id}. Existing slots stay; the
// template just stops producing new ones.
func (h *TemplatesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/templates/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "template id is required", http.StatusBadRequest)
		return
	}

	if _, err := h.templates.Get(r.Context(), id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "template not found", http.StatusNotFound)
			return
		}
		h.logger.Error("template lookup failed", "template_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.templates.Deactivate(r.Context(), id); err != nil {
		h.logger.Error("template deactivation failed", "template_id", id, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
