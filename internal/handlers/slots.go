package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/storage"
)

// SlotsHandler serves the operational slot listing on the ops server.
type SlotsHandler struct {
	slots  *storage.SlotRepository
	logger *slog.Logger
}

func NewSlotsHandler(slots *storage.SlotRepository, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{slots: slots, logger: logger}
}

type slotItem struct {
	ID      string `json:"id"`
	StartAt string `json:"start_at"`
}

type listSlotsResponse struct {
	ProviderID string     `json:"provider_id"`
	Slots      []slotItem `json:"slots"`
}

// List handles GET /v1/slots?provider_id=...&from=...&to=... where from/to
// are RFC 3339 and default to the rolling 30-day horizon.
func (h *SlotsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	from := now
	to := now.AddDate(0, 0, 30)
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = t
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	slots, err := h.slots.FindAvailable(r.Context(), providerID, from, to)
	if err != nil {
		h.logger.Error("slot listing failed", "provider_id", providerID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := listSlotsResponse{ProviderID: providerID, Slots: make([]slotItem, 0, len(slots))}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, slotItem{
			ID:      s.ID,
			StartAt: s.StartAt.UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
