package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

// ErrInvalidTemplate is returned when a template cannot produce slots.
// Wrapped errors carry the specific reason.
var ErrInvalidTemplate = errors.New("invalid availability template")

// window is a validated, parsed view of a template's clock fields, as
// offsets from midnight.
type window struct {
	start      time.Duration
	end        time.Duration
	slot       time.Duration
	breakStart time.Duration
	breakEnd   time.Duration
	hasBreak   bool
}

func parseWindow(tpl model.AvailabilityTemplate) (window, error) {
	var w window

	if tpl.SlotMinutes <= 0 {
		return w, fmt.Errorf("%w: slot duration must be positive (got %d)", ErrInvalidTemplate, tpl.SlotMinutes)
	}
	w.slot = time.Duration(tpl.SlotMinutes) * time.Minute

	var err error
	if w.start, err = clockOffset(tpl.StartTime); err != nil {
		return w, fmt.Errorf("%w: start time: %v", ErrInvalidTemplate, err)
	}
	if w.end, err = clockOffset(tpl.EndTime); err != nil {
		return w, fmt.Errorf("%w: end time: %v", ErrInvalidTemplate, err)
	}
	if w.start >= w.end {
		return w, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidTemplate, tpl.StartTime, tpl.EndTime)
	}

	if tpl.BreakStart == "" && tpl.BreakEnd == "" {
		return w, nil
	}
	if tpl.BreakStart == "" || tpl.BreakEnd == "" {
		return w, fmt.Errorf("%w: break window must set both start and end", ErrInvalidTemplate)
	}
	if w.breakStart, err = clockOffset(tpl.BreakStart); err != nil {
		return w, fmt.Errorf("%w: break start: %v", ErrInvalidTemplate, err)
	}
	if w.breakEnd, err = clockOffset(tpl.BreakEnd); err != nil {
		return w, fmt.Errorf("%w: break end: %v", ErrInvalidTemplate, err)
	}
	if w.breakStart >= w.breakEnd {
		return w, fmt.Errorf("%w: break start %s is not before break end %s", ErrInvalidTemplate, tpl.BreakStart, tpl.BreakEnd)
	}
	if w.breakStart < w.start || w.breakEnd > w.end {
		return w, fmt.Errorf("%w: break window outside working window", ErrInvalidTemplate)
	}
	w.hasBreak = true
	return w, nil
}

// ValidateTemplate rejects templates that generation would refuse.
func ValidateTemplate(tpl model.AvailabilityTemplate) error {
	_, err := parseWindow(tpl)
	return err
}

// dailyStarts enumerates candidate slot starts for one calendar date,
// stepping the slot duration across [start, end) and skipping any start
// inside [breakStart, breakEnd).
func (w window) dailyStarts(date time.Time) []time.Time {
	var starts []time.Time
	for off := w.start; off < w.end; off += w.slot {
		if w.hasBreak && off >= w.breakStart && off < w.breakEnd {
			continue
		}
		starts = append(starts, date.Add(off))
	}
	return starts
}

func clockOffset(clock string) (time.Duration, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", clock)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
