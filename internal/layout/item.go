// Package layout projects an appointment collection onto the calendar views.
// Every engine is a pure function of its input; switching views never needs
// a reload.
package layout

import (
	"time"

	"agenda/internal/model"
	"agenda/internal/store"
)

// Options is shared by all engines.
type Options struct {
	Location   *time.Location
	WeekStart  time.Weekday
	Categories model.Categories
}

func (o Options) loc() *time.Location {
	if o.Location == nil {
		return time.Local
	}
	return o.Location
}

// Item is the view model of one appointment in any layout.
type Item struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Location  string              `json:"location,omitempty"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	DueDate   *time.Time          `json:"dueDate,omitempty"`
	Category  string              `json:"category"`
	Style     model.CategoryStyle `json:"style"`
	Status    model.Status        `json:"status"`
	Recurring bool                `json:"recurring"`
	Subtasks  int                 `json:"subtasks"`
	Done      int                 `json:"subtasksDone"`
}

func newItem(a model.Appointment, o Options) Item {
	done := 0
	for _, st := range a.Subtasks {
		if st.Completed {
			done++
		}
	}
	cat := a.Category
	if cat == "" {
		cat = model.CategoryOther
	}
	return Item{
		ID:        a.ID,
		Title:     a.Title,
		Location:  a.Location,
		Start:     a.Start.In(o.loc()),
		End:       a.End.In(o.loc()),
		DueDate:   a.DueDate,
		Category:  cat,
		Style:     o.Categories.Lookup(a.Category),
		Status:    a.Status,
		Recurring: a.Recurrence != nil,
		Subtasks:  len(a.Subtasks),
		Done:      done,
	}
}

func items(apps []model.Appointment, o Options) []Item {
	sorted := append([]model.Appointment(nil), apps...)
	store.SortByStart(sorted)
	out := make([]Item, 0, len(sorted))
	for _, a := range sorted {
		out = append(out, newItem(a, o))
	}
	return out
}

// List is the flat chronological view.
func List(apps []model.Appointment, o Options) []Item {
	return items(apps, o)
}
