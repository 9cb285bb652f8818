package layout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agenda/internal/model"
)

// DragMIME is the data-transfer type under which the payload travels.
const DragMIME = "application/x-agenda-appointment"

const dragPrefix = "appointment:"

var ErrBadPayload = errors.New("layout: bad drag payload")

// EncodeDragPayload attaches the appointment id to a drag.
func EncodeDragPayload(id string) string {
	return dragPrefix + id
}

// DecodeDragPayload reads the id back from the drop side.
func DecodeDragPayload(s string) (string, error) {
	id, ok := strings.CutPrefix(strings.TrimSpace(s), dragPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", ErrBadPayload, s)
	}
	return id, nil
}

// Drop is the grid cell an appointment was dropped on. Hour is nil for
// month cells, which have no hour rows.
type Drop struct {
	Day  time.Time `json:"day"`
	Hour *int      `json:"hour,omitempty"`
}

// Reschedule moves a to the drop cell. The new start is the cell's day at
// the cell's hour (or at the original time of day for month cells); the
// duration is kept exactly and a due date moves by the same offset. No
// check against other appointments is made.
func Reschedule(a model.Appointment, d Drop, loc *time.Location) (model.Appointment, error) {
	if loc == nil {
		loc = time.Local
	}
	day := d.Day.In(loc)
	orig := a.Start.In(loc)

	var start time.Time
	if d.Hour != nil {
		if *d.Hour < 0 || *d.Hour >= HoursPerDay {
			return a, fmt.Errorf("layout: hour %d out of range", *d.Hour)
		}
		start = time.Date(day.Year(), day.Month(), day.Day(), *d.Hour, 0, 0, 0, loc)
	} else {
		start = time.Date(day.Year(), day.Month(), day.Day(),
			orig.Hour(), orig.Minute(), orig.Second(), orig.Nanosecond(), loc)
	}

	out := a.Clone()
	shift := start.Sub(a.Start)
	out.Start = start
	out.End = start.Add(a.Duration())
	if out.DueDate != nil {
		due := out.DueDate.Add(shift)
		out.DueDate = &due
	}
	return out, nil
}
