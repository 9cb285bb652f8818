package model

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire format of holiday dates.
const DateLayout = "2006-01-02"

// Holiday is a read-only calendar annotation fetched per year.
type Holiday struct {
	Date time.Time
	Name string
	Type string
}

type holidayJSON struct {
	Date string `json:"date"`
	Name string `json:"name"`
	Type string `json:"type"`
}

func (h Holiday) MarshalJSON() ([]byte, error) {
	return json.Marshal(holidayJSON{Date: h.Date.Format(DateLayout), Name: h.Name, Type: h.Type})
}

func (h *Holiday) UnmarshalJSON(data []byte) error {
	var in holidayJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	d, err := time.Parse(DateLayout, in.Date)
	if err != nil {
		return err
	}
	*h = Holiday{Date: d, Name: in.Name, Type: in.Type}
	return nil
}

// On reports whether the holiday falls on the calendar day of t, comparing
// the date parts only.
func (h Holiday) On(t time.Time) bool {
	y1, m1, d1 := h.Date.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// CategoryStyle is the presentation attached to a category key.
type CategoryStyle struct {
	Icon  string `yaml:"icon" json:"icon"`
	Color string `yaml:"color" json:"color"`
}

// CategoryOther is the fallback key for unknown categories.
const CategoryOther = "other"

var defaultOtherStyle = CategoryStyle{Icon: "calendar", Color: "#6b7280"}

// Categories maps category keys to their presentation.
type Categories map[string]CategoryStyle

// Lookup returns the style for key, falling back to the "other" entry and
// then to a built-in neutral style.
func (c Categories) Lookup(key string) CategoryStyle {
	if s, ok := c[key]; ok {
		return s
	}
	if s, ok := c[CategoryOther]; ok {
		return s
	}
	return defaultOtherStyle
}
