package layout

import (
	"time"

	"agenda/internal/datetime"
	"agenda/internal/model"
)

// HoursPerDay is the number of rows of every time-grid column.
const HoursPerDay = 24

type GridItem struct {
	Item
	TopPercent    float64 `json:"top"`
	HeightPercent float64 `json:"height"`
}

type GridDay struct {
	Date     time.Time       `json:"date"`
	Items    []GridItem      `json:"items"`
	Holidays []model.Holiday `json:"holidays"`
}

type TimeGrid struct {
	Days  []GridDay `json:"days"`
	Hours int       `json:"hours"`
}

// Position returns the vertical placement of a within its start day as
// percentages of the column: top = startMinutes/1440, height =
// durationMinutes/1440, clipped at midnight.
func Position(a model.Appointment, loc *time.Location) (top, height float64) {
	startMin := datetime.MinutesSinceMidnight(a.Start, loc)
	dur := a.Duration().Minutes()
	if rest := float64(datetime.MinutesPerDay - startMin); dur > rest {
		dur = rest
	}
	if dur < 0 {
		dur = 0
	}
	return float64(startMin) / datetime.MinutesPerDay * 100, dur / datetime.MinutesPerDay * 100
}

// WeekView lays out the seven days of anchor's week.
func WeekView(apps []model.Appointment, holidays []model.Holiday, anchor time.Time, o Options) TimeGrid {
	return BuildTimeGrid(apps, holidays, datetime.WeekDays(anchor.In(o.loc()), o.WeekStart), o)
}

// DayView lays out a single day.
func DayView(apps []model.Appointment, holidays []model.Holiday, day time.Time, o Options) TimeGrid {
	return BuildTimeGrid(apps, holidays, []time.Time{day}, o)
}

// BuildTimeGrid places every appointment in the column of its start day.
func BuildTimeGrid(apps []model.Appointment, holidays []model.Holiday, days []time.Time, o Options) TimeGrid {
	loc := o.loc()
	grid := TimeGrid{Hours: HoursPerDay, Days: make([]GridDay, 0, len(days))}

	for _, d := range days {
		day := datetime.StartOfDay(d.In(loc))
		col := GridDay{Date: day, Items: []GridItem{}, Holidays: []model.Holiday{}}

		var onDay []model.Appointment
		for _, a := range apps {
			if datetime.SameDay(a.Start, day, loc) {
				onDay = append(onDay, a)
			}
		}
		byID := make(map[string]model.Appointment, len(onDay))
		for _, a := range onDay {
			byID[a.ID] = a
		}
		for _, it := range items(onDay, o) {
			top, height := Position(byID[it.ID], loc)
			col.Items = append(col.Items, GridItem{Item: it, TopPercent: top, HeightPercent: height})
		}
		for _, h := range holidays {
			if h.On(day) {
				col.Holidays = append(col.Holidays, h)
			}
		}
		grid.Days = append(grid.Days, col)
	}
	return grid
}

type NowLine struct {
	Visible    bool    `json:"visible"`
	DayIndex   int     `json:"dayIndex"`
	TopPercent float64 `json:"top"`
}

// NowLine locates the current-time indicator on the grid. It is hidden when
// now is outside the displayed days.
func (g TimeGrid) NowLine(now time.Time, loc *time.Location) NowLine {
	for i, d := range g.Days {
		if datetime.SameDay(d.Date, now, loc) {
			return NowLine{
				Visible:    true,
				DayIndex:   i,
				TopPercent: float64(datetime.MinutesSinceMidnight(now, loc)) / datetime.MinutesPerDay * 100,
			}
		}
	}
	return NowLine{}
}
