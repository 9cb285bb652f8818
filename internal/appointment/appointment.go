// Package appointment holds the operations on a single appointment record:
// id generation, update history, status flips and subtask edits. Every
// function returns a new value and leaves its input untouched.
package appointment

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"agenda/internal/model"
)

var (
	ErrEndBeforeStart = errors.New("appointment: end must be after start")
	ErrDueBeforeStart = errors.New("appointment: due date must be after start")
	ErrSubtaskMissing = errors.New("appointment: subtask not found")
	ErrEmptySubtask   = errors.New("appointment: subtask title is empty")
)

// NewID returns the client-style identifier "app-<unix millis>".
func NewID(now time.Time) string {
	return "app-" + strconv.FormatInt(now.UnixMilli(), 10)
}

// CheckInvariants enforces the temporal invariants every stored record holds.
func CheckInvariants(a model.Appointment) error {
	if !a.End.After(a.Start) {
		return ErrEndBeforeStart
	}
	if a.DueDate != nil && !a.DueDate.After(a.Start) {
		return ErrDueBeforeStart
	}
	return nil
}

// ApplyUpdate prepares next as the full replacement of prev. A history entry
// with prev's title/start/end is appended if and only if one of them changed.
func ApplyUpdate(prev, next model.Appointment, modifiedBy string, now time.Time) model.Appointment {
	out := next.Clone()
	out.ID = prev.ID
	out.CompanyID = prev.CompanyID
	out.CreatedBy = prev.CreatedBy
	out.CreatedAt = prev.CreatedAt
	out.History = append([]model.HistoryEntry(nil), prev.History...)
	out.UpdatedAt = now

	if changed(prev, next) {
		out.History = append(out.History, model.HistoryEntry{
			Title:      prev.Title,
			Start:      prev.Start,
			End:        prev.End,
			ModifiedBy: modifiedBy,
			ModifiedAt: now,
		})
	}
	return out
}

func changed(prev, next model.Appointment) bool {
	return prev.Title != next.Title || !prev.Start.Equal(next.Start) || !prev.End.Equal(next.End)
}

// Complete flips the status to completed and stamps End with now. If now is
// not after Start the end is left alone so the record stays valid.
func Complete(a model.Appointment, now time.Time) model.Appointment {
	out := a.Clone()
	out.Status = model.StatusCompleted
	if now.After(out.Start) {
		out.End = now
	}
	out.UpdatedAt = now
	return out
}

// Reopen reverses Complete. The stamped end is kept.
func Reopen(a model.Appointment, now time.Time) model.Appointment {
	out := a.Clone()
	out.Status = model.StatusScheduled
	out.UpdatedAt = now
	return out
}

// NewSubtask builds an open subtask with a fresh id.
func NewSubtask(title string) (model.Subtask, error) {
	if title == "" {
		return model.Subtask{}, ErrEmptySubtask
	}
	return model.Subtask{ID: uuid.NewString(), Title: title}, nil
}

// AddSubtask appends st to the appointment's subtasks.
func AddSubtask(a model.Appointment, st model.Subtask) model.Appointment {
	out := a.Clone()
	out.Subtasks = append(out.Subtasks, st)
	return out
}

// ToggleSubtask flips the completed flag of the subtask with id. Nothing
// else on the record changes.
func ToggleSubtask(a model.Appointment, id string) (model.Appointment, error) {
	out := a.Clone()
	for i := range out.Subtasks {
		if out.Subtasks[i].ID == id {
			out.Subtasks[i].Completed = !out.Subtasks[i].Completed
			return out, nil
		}
	}
	return a, fmt.Errorf("%w: %s", ErrSubtaskMissing, id)
}

// DeleteSubtask removes the subtask with id.
func DeleteSubtask(a model.Appointment, id string) (model.Appointment, error) {
	out := a.Clone()
	for i := range out.Subtasks {
		if out.Subtasks[i].ID == id {
			out.Subtasks = append(out.Subtasks[:i], out.Subtasks[i+1:]...)
			return out, nil
		}
	}
	return a, fmt.Errorf("%w: %s", ErrSubtaskMissing, id)
}
