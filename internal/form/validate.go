package form

import (
	"strconv"
	"strings"
	"time"

	"agenda/internal/model"
	"agenda/internal/recurrence"
)

// Field names a form control. The same names key the Errors map.
type Field string

const (
	FieldGeneral     Field = "general"
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldLocation    Field = "location"
	FieldCategory    Field = "category"
	FieldStart       Field = "start"
	FieldEnd         Field = "end"
	FieldDueDate     Field = "dueDate"
	FieldReminder    Field = "reminder"
	FieldRepeat      Field = "repeat"
	FieldFrequency   Field = "frequency"
	FieldUntil       Field = "until"
)

// Error codes reported per field.
const (
	CodeRequired              = "required"
	CodeInvalidDate           = "invalid_date"
	CodeEndBeforeStart        = "end_before_start"
	CodeDueBeforeStart        = "due_before_start"
	CodeRecurrenceEndRequired = "recurrence_end_required"
	CodeInvalidFrequency      = "invalid_frequency"
)

// Errors maps a field to its error code. An empty map means valid.
type Errors map[Field]string

func (e Errors) Has(f Field) bool {
	_, ok := e[f]
	return ok
}

// Draft is the raw content of the form controls.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	Start       string `json:"start"`
	End         string `json:"end"`
	DueDate     string `json:"dueDate"`
	Reminder    string `json:"reminder"`
	Repeat      bool   `json:"repeat"`
	Frequency   string `json:"frequency"`
	Until       string `json:"until"`

	Participants []model.Participant `json:"participants"`
	Attachments  []model.Attachment  `json:"attachments"`
}

// Parsed holds the typed values of a valid draft.
type Parsed struct {
	Start      time.Time
	End        time.Time
	DueDate    *time.Time
	Reminder   *int
	Recurrence *model.RecurrenceRule
}

// InputLayout is the format of start/end/due values produced by DraftFrom.
const InputLayout = "2006-01-02T15:04"

const inputLayoutSeconds = "2006-01-02T15:04:05"

var dateTimeLayouts = []string{
	InputLayout,
	inputLayoutSeconds,
	"2006-01-02 15:04",
}

// ParseInstant accepts RFC 3339 or a zone-less date-time interpreted in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseUntil accepts a calendar date (the series runs through the end of
// that day) or a full instant.
func parseUntil(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation(model.DateLayout, s, loc); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc), nil
	}
	return ParseInstant(s, loc)
}

// ReminderOptions are the accepted reminder values in minutes.
var ReminderOptions = []int{0, 5, 10, 15, 30, 60, 120, 1440}

// ParseReminder coerces the reminder select value to minutes. "none", empty
// or anything outside ReminderOptions means no reminder.
func ParseReminder(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	for _, opt := range ReminderOptions {
		if opt == n {
			return &n
		}
	}
	return nil
}

// Validate checks the draft and collects every applicable error. Rules run
// in order: required fields, parseable dates, end after start, due after
// start, until present when repeating.
func Validate(d Draft, loc *time.Location) (Parsed, Errors) {
	if loc == nil {
		loc = time.Local
	}
	errs := Errors{}
	var p Parsed

	// (a) required
	if strings.TrimSpace(d.Title) == "" {
		errs[FieldTitle] = CodeRequired
	}
	if strings.TrimSpace(d.Start) == "" {
		errs[FieldStart] = CodeRequired
	}
	if strings.TrimSpace(d.End) == "" {
		errs[FieldEnd] = CodeRequired
	}
	if len(errs) > 0 {
		errs[FieldGeneral] = CodeRequired
	}

	// (b) parseable instants
	startOK, endOK := false, false
	if !errs.Has(FieldStart) {
		t, err := ParseInstant(d.Start, loc)
		if err != nil {
			errs[FieldStart] = CodeInvalidDate
		} else {
			p.Start, startOK = t, true
		}
	}
	if !errs.Has(FieldEnd) {
		t, err := ParseInstant(d.End, loc)
		if err != nil {
			errs[FieldEnd] = CodeInvalidDate
		} else {
			p.End, endOK = t, true
		}
	}

	// (c) only when both parsed, so it never overlaps (b)
	if startOK && endOK && !p.End.After(p.Start) {
		errs[FieldEnd] = CodeEndBeforeStart
	}

	// (d) optional due date
	if strings.TrimSpace(d.DueDate) != "" {
		due, err := ParseInstant(d.DueDate, loc)
		switch {
		case err != nil:
			errs[FieldDueDate] = CodeInvalidDate
		case startOK && !due.After(p.Start):
			errs[FieldDueDate] = CodeDueBeforeStart
		default:
			p.DueDate = &due
		}
	}

	// (e) repeat needs an end
	if d.Repeat {
		freq, ferr := recurrence.ParseFrequency(defaultFrequency(d.Frequency))
		if ferr != nil {
			errs[FieldFrequency] = CodeInvalidFrequency
		}
		if strings.TrimSpace(d.Until) == "" {
			errs[FieldUntil] = CodeRecurrenceEndRequired
		} else if until, err := parseUntil(d.Until, loc); err != nil {
			errs[FieldUntil] = CodeInvalidDate
		} else if ferr == nil {
			p.Recurrence = &model.RecurrenceRule{Frequency: freq, Until: until}
		}
	}

	p.Reminder = ParseReminder(d.Reminder)
	return p, errs
}

func defaultFrequency(s string) string {
	if strings.TrimSpace(s) == "" {
		return string(model.FrequencyWeekly)
	}
	return s
}
