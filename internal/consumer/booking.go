package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/careslot/internal/booking"
)

// TopicBookingRequested carries external booking requests into the engine.
const TopicBookingRequested = "careslot.booking.requested.v1"

type bookingRequest struct {
	SlotID      string `json:"slot_id"`
	RequesterID string `json:"requester_id"`
	Notes       string `json:"notes"`
}

// BookingHandler turns booking-request messages into Coordinator.Book calls.
// Business rejections (slot gone, slot taken, unknown requester) are logged
// and swallowed so the message is not redelivered; they will not succeed on
// retry either.
func BookingHandler(coord *booking.Coordinator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var req bookingRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logger.Error("malformed booking request", "err", err)
			return nil
		}
		if req.SlotID == "" || req.RequesterID == "" {
			logger.Error("booking request missing slot_id or requester_id")
			return nil
		}

		appt, err := coord.Book(ctx, req.RequesterID, req.SlotID, req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, booking.ErrSlotNotFound),
				errors.Is(err, booking.ErrSlotUnavailable),
				errors.Is(err, booking.ErrRequesterNotFound):
				logger.Info("booking request rejected",
					"slot_id", req.SlotID,
					"requester_id", req.RequesterID,
					"reason", err.Error(),
				)
				return nil
			default:
				return fmt.Errorf("book slot %s: %w", req.SlotID, err)
			}
		}

		logger.Info("booking request fulfilled",
			"appointment_id", appt.ID,
			"slot_id", req.SlotID,
		)
		return nil
	}
}
