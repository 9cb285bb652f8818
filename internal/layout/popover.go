package layout

import (
	"time"

	"agenda/internal/model"
)

// PopoverGap is the space between the clicked cell and the popover.
const PopoverGap = 8

// Rect is a client-space rectangle in pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Side string

const (
	SideRight Side = "right"
	SideLeft  Side = "left"
)

type Placement struct {
	Side Side    `json:"side"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// PlacePopover opens to the right of anchor and flips to the left when the
// popover would cross the right edge of the viewport.
func PlacePopover(anchor Rect, popoverWidth, viewportWidth float64) Placement {
	right := anchor.X + anchor.Width + PopoverGap
	if right+popoverWidth <= viewportWidth {
		return Placement{Side: SideRight, X: right, Y: anchor.Y}
	}
	left := anchor.X - PopoverGap - popoverWidth
	if left < 0 {
		left = 0
	}
	return Placement{Side: SideLeft, X: left, Y: anchor.Y}
}

type Popover struct {
	Placement Placement       `json:"placement"`
	Date      time.Time       `json:"date"`
	Items     []Item          `json:"items"`
	Holidays  []model.Holiday `json:"holidays"`
}

// OpenPopover returns the popover for a clicked month cell; cells without
// appointments or holidays do not open one.
func OpenPopover(cell DayCell, anchor Rect, popoverWidth, viewportWidth float64) (Popover, bool) {
	if !cell.HasContent() {
		return Popover{}, false
	}
	// Cell items are already sorted by start.
	return Popover{
		Placement: PlacePopover(anchor, popoverWidth, viewportWidth),
		Date:      cell.Date,
		Items:     append([]Item(nil), cell.Items...),
		Holidays:  cell.Holidays,
	}, true
}
