package layout

import (
	"time"

	"agenda/internal/datetime"
	"agenda/internal/model"
)

// Bucket is one column of the board view.
type Bucket string

const (
	BucketOverdue  Bucket = "overdue"
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
	BucketNext7    Bucket = "next7"
	BucketFuture   Bucket = "future"
)

// Buckets lists the board columns in display order.
var Buckets = []Bucket{BucketOverdue, BucketToday, BucketTomorrow, BucketNext7, BucketFuture}

type Column struct {
	Bucket Bucket `json:"bucket"`
	Items  []Item `json:"items"`
}

type Board struct {
	Columns []Column `json:"columns"`
}

// Column returns the items of bucket b.
func (b Board) Column(bucket Bucket) []Item {
	for _, c := range b.Columns {
		if c.Bucket == bucket {
			return c.Items
		}
	}
	return nil
}

// bounds are the day boundaries computed once per board render.
type bounds struct {
	now, tomorrow, dayAfter, weekEnd time.Time
}

func newBounds(now time.Time, loc *time.Location) bounds {
	today := datetime.StartOfDay(now.In(loc))
	return bounds{
		now:      now,
		tomorrow: datetime.AddDays(today, 1),
		dayAfter: datetime.AddDays(today, 2),
		weekEnd:  datetime.AddDays(today, 8),
	}
}

func (b bounds) bucket(a model.Appointment) Bucket {
	due := a.End
	if a.DueDate != nil {
		due = *a.DueDate
	}
	switch {
	case due.Before(b.now):
		return BucketOverdue
	case a.Start.Before(b.tomorrow):
		return BucketToday
	case a.Start.Before(b.dayAfter):
		return BucketTomorrow
	case a.Start.Before(b.weekEnd):
		return BucketNext7
	default:
		return BucketFuture
	}
}

// BucketOf classifies one non-completed appointment relative to now.
// Overdue means the due date (or end, without one) has passed; otherwise the
// start decides: before tomorrow is today, then tomorrow, then the seven days
// after tomorrow, then future.
func BucketOf(a model.Appointment, now time.Time, loc *time.Location) Bucket {
	return newBounds(now, loc).bucket(a)
}

// BoardView buckets every non-completed appointment into exactly one
// column. Each column is sorted by start.
func BoardView(apps []model.Appointment, now time.Time, o Options) Board {
	b := newBounds(now, o.loc())
	grouped := make(map[Bucket][]model.Appointment, len(Buckets))
	for _, a := range apps {
		if a.Completed() {
			continue
		}
		k := b.bucket(a)
		grouped[k] = append(grouped[k], a)
	}

	board := Board{Columns: make([]Column, 0, len(Buckets))}
	for _, k := range Buckets {
		board.Columns = append(board.Columns, Column{Bucket: k, Items: items(grouped[k], o)})
	}
	return board
}
