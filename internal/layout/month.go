package layout

import (
	"time"

	"agenda/internal/datetime"
	"agenda/internal/model"
)

type DayCell struct {
	Date     time.Time       `json:"date"`
	InMonth  bool            `json:"inMonth"`
	Today    bool            `json:"today"`
	Items    []Item          `json:"items"`
	Holidays []model.Holiday `json:"holidays"`
}

// HasContent reports whether clicking the cell opens a popover.
func (c DayCell) HasContent() bool {
	return len(c.Items) > 0 || len(c.Holidays) > 0
}

type MonthGrid struct {
	Year  int         `json:"year"`
	Month time.Month  `json:"month"`
	Weeks [][]DayCell `json:"weeks"`
}

// Cell returns the cell for day, if it is on the grid.
func (g MonthGrid) Cell(day time.Time) (DayCell, bool) {
	for _, w := range g.Weeks {
		for _, c := range w {
			if c.Date.Year() == day.Year() && c.Date.YearDay() == day.YearDay() {
				return c, true
			}
		}
	}
	return DayCell{}, false
}

// MonthView builds the seven-column grid for year/month. The grid starts on
// the week containing the 1st and ends on the week containing the last day;
// each cell holds the appointments starting that day, sorted by start, plus
// the holidays on that date.
func MonthView(apps []model.Appointment, holidays []model.Holiday, year int, month time.Month, now time.Time, o Options) MonthGrid {
	loc := o.loc()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := datetime.AddDays(first.AddDate(0, 1, 0), -1)
	gridStart := datetime.StartOfWeek(first, o.WeekStart)
	gridEnd := datetime.EndOfWeek(last, o.WeekStart)

	byDay := make(map[string][]model.Appointment)
	for _, a := range apps {
		k := dayKey(a.Start.In(loc))
		byDay[k] = append(byDay[k], a)
	}
	hByDay := make(map[string][]model.Holiday)
	for _, h := range holidays {
		k := h.Date.Format(model.DateLayout)
		hByDay[k] = append(hByDay[k], h)
	}

	grid := MonthGrid{Year: year, Month: month}
	var week []DayCell
	for d := gridStart; !d.After(gridEnd); d = datetime.AddDays(d, 1) {
		k := dayKey(d)
		week = append(week, DayCell{
			Date:     d,
			InMonth:  d.Month() == month,
			Today:    datetime.SameDay(d, now, loc),
			Items:    items(byDay[k], o),
			Holidays: append([]model.Holiday{}, hByDay[k]...),
		})
		if len(week) == 7 {
			grid.Weeks = append(grid.Weeks, week)
			week = nil
		}
	}
	return grid
}

func dayKey(t time.Time) string {
	return t.Format(model.DateLayout)
}
