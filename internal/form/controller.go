// Package form turns raw appointment form input into a typed save intent.
//
// A Controller is bound to at most one record for its whole life: without a
// record it creates, with one it edits. Switching means building a new
// Controller.
package form

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"agenda/internal/appointment"
	"agenda/internal/model"
	"agenda/internal/store"
)

type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Options carries the session context a controller stamps on new records.
type Options struct {
	CompanyID string
	UserID    string
	Location  *time.Location
	Now       func() time.Time
}

type Controller struct {
	opts     Options
	record   *model.Appointment
	draft    Draft
	snapshot Draft
	errs     Errors
}

// NewController loads record (nil for a new appointment) into a fresh draft.
func NewController(record *model.Appointment, opts Options) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{opts: opts, errs: Errors{}}
	if record != nil {
		r := record.Clone()
		c.record = &r
		c.draft = DraftFrom(r, opts.Location)
	}
	c.snapshot = cloneDraft(c.draft)
	return c
}

// DraftFrom renders a record as form input.
func DraftFrom(a model.Appointment, loc *time.Location) Draft {
	d := Draft{
		Title:        a.Title,
		Description:  a.Description,
		Location:     a.Location,
		Category:     a.Category,
		Start:        formatInput(a.Start, loc),
		End:          formatInput(a.End, loc),
		Reminder:     "none",
		Participants: append([]model.Participant(nil), a.Participants...),
		Attachments:  append([]model.Attachment(nil), a.Attachments...),
	}
	if a.DueDate != nil {
		d.DueDate = formatInput(*a.DueDate, loc)
	}
	if a.Reminder != nil {
		d.Reminder = strconv.Itoa(*a.Reminder)
	}
	if a.Recurrence != nil {
		d.Repeat = true
		d.Frequency = string(a.Recurrence.Frequency)
		d.Until = a.Recurrence.Until.In(loc).Format(model.DateLayout)
	}
	return d
}

// formatInput renders t at minute precision unless that would drop seconds.
func formatInput(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	switch {
	case t.Nanosecond() != 0:
		return t.Format(time.RFC3339Nano)
	case t.Second() != 0:
		return t.Format(inputLayoutSeconds)
	}
	return t.Format(InputLayout)
}

func (c *Controller) Mode() Mode {
	if c.record != nil {
		return ModeEdit
	}
	return ModeCreate
}

// Draft returns a copy of the working draft.
func (c *Controller) Draft() Draft {
	return cloneDraft(c.draft)
}

// Errors returns the errors of the last Submit that have not been cleared
// by later edits.
func (c *Controller) Errors() Errors {
	out := make(Errors, len(c.errs))
	for k, v := range c.errs {
		out[k] = v
	}
	return out
}

// Set changes one scalar field and clears that field's error only.
func (c *Controller) Set(field Field, value string) error {
	switch field {
	case FieldTitle:
		c.draft.Title = value
	case FieldDescription:
		c.draft.Description = value
	case FieldLocation:
		c.draft.Location = value
	case FieldCategory:
		c.draft.Category = value
	case FieldStart:
		c.draft.Start = value
	case FieldEnd:
		c.draft.End = value
	case FieldDueDate:
		c.draft.DueDate = value
	case FieldReminder:
		c.draft.Reminder = value
	case FieldFrequency:
		c.draft.Frequency = value
	case FieldUntil:
		c.draft.Until = value
	case FieldRepeat:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("form: repeat: %w", err)
		}
		c.draft.Repeat = b
	default:
		return fmt.Errorf("form: unknown field %q", field)
	}
	delete(c.errs, field)
	return nil
}

// Apply copies every field of d that differs from the working draft, going
// through Set so per-field errors clear the same way as single edits.
func (c *Controller) Apply(d Draft) {
	set := func(f Field, cur, next string) {
		if cur != next {
			_ = c.Set(f, next)
		}
	}
	set(FieldTitle, c.draft.Title, d.Title)
	set(FieldDescription, c.draft.Description, d.Description)
	set(FieldLocation, c.draft.Location, d.Location)
	set(FieldCategory, c.draft.Category, d.Category)
	set(FieldStart, c.draft.Start, d.Start)
	set(FieldEnd, c.draft.End, d.End)
	set(FieldDueDate, c.draft.DueDate, d.DueDate)
	set(FieldReminder, c.draft.Reminder, d.Reminder)
	set(FieldFrequency, c.draft.Frequency, d.Frequency)
	set(FieldUntil, c.draft.Until, d.Until)
	set(FieldRepeat, strconv.FormatBool(c.draft.Repeat), strconv.FormatBool(d.Repeat))
	if d.Participants != nil {
		c.SetParticipants(d.Participants)
	}
	if d.Attachments != nil {
		c.draft.Attachments = append([]model.Attachment(nil), d.Attachments...)
	}
}

// SetParticipants replaces the participant list, dropping duplicates.
func (c *Controller) SetParticipants(ps []model.Participant) {
	c.draft.Participants = model.DedupeParticipants(ps)
}

// AddAttachment reads r fully and embeds it as a base64 data URL. There is
// no size or type limit.
func (c *Controller) AddAttachment(name, mimeType string, r io.Reader) (model.Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("form: read attachment %q: %w", name, err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	att := model.Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Content:  "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	c.draft.Attachments = append(c.draft.Attachments, att)
	return att, nil
}

// RemoveAttachment drops the attachment with id and reports whether it was
// present.
func (c *Controller) RemoveAttachment(id string) bool {
	for i, a := range c.draft.Attachments {
		if a.ID == id {
			c.draft.Attachments = append(c.draft.Attachments[:i:i], c.draft.Attachments[i+1:]...)
			return true
		}
	}
	return false
}

// Dirty reports whether the draft differs from what was loaded. Scalars are
// compared by value, participants and attachments by their JSON form.
func (c *Controller) Dirty() bool {
	a, b := c.draft, c.snapshot
	if a.Title != b.Title || a.Description != b.Description || a.Location != b.Location ||
		a.Category != b.Category || a.Start != b.Start || a.End != b.End ||
		a.DueDate != b.DueDate || a.Reminder != b.Reminder || a.Repeat != b.Repeat ||
		a.Frequency != b.Frequency || a.Until != b.Until {
		return true
	}
	return serialized(a.Participants) != serialized(b.Participants) ||
		serialized(a.Attachments) != serialized(b.Attachments)
}

func serialized(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	s := string(data)
	if s == "null" {
		return "[]"
	}
	return s
}

// Submit validates the draft. On success it returns the ADD or UPDATE intent
// and a nil Errors; otherwise the intent is zero and the errors are kept on
// the controller until their fields are edited.
func (c *Controller) Submit() (store.Intent, Errors) {
	parsed, errs := Validate(c.draft, c.opts.Location)
	if len(errs) > 0 {
		c.errs = errs
		return store.Intent{}, c.Errors()
	}
	c.errs = Errors{}

	now := c.opts.Now()
	next := c.build(parsed)

	var in store.Intent
	if c.record == nil {
		next.ID = appointment.NewID(now)
		next.CompanyID = c.opts.CompanyID
		next.Status = model.StatusScheduled
		next.CreatedBy = c.opts.UserID
		next.CreatedAt = now
		next.UpdatedAt = now
		next.Subtasks = []model.Subtask{}
		next.History = []model.HistoryEntry{}
		in = store.Intent{Type: store.AddAppointment, Appointment: next}
	} else {
		in = store.Intent{
			Type:        store.UpdateAppointment,
			Appointment: appointment.ApplyUpdate(*c.record, next, c.opts.UserID, now),
		}
	}

	c.snapshot = cloneDraft(c.draft)
	return in, nil
}

// build lays the parsed draft over the backing record (or an empty one).
// Fields the form does not edit, like status and subtasks, carry over.
func (c *Controller) build(p Parsed) model.Appointment {
	var next model.Appointment
	if c.record != nil {
		next = c.record.Clone()
	}
	next.Title = strings.TrimSpace(c.draft.Title)
	next.Description = c.draft.Description
	next.Location = c.draft.Location
	next.Category = c.draft.Category
	next.Start = p.Start
	next.End = p.End
	next.DueDate = p.DueDate
	next.Reminder = p.Reminder
	if keep := c.keptReminder(); keep != nil {
		next.Reminder = keep
	}
	next.Recurrence = p.Recurrence
	next.Participants = model.DedupeParticipants(c.draft.Participants)
	next.Attachments = append([]model.Attachment{}, c.draft.Attachments...)
	return next
}

// keptReminder returns the record's reminder when the draft still shows it
// unchanged. Imported records may carry minutes outside ReminderOptions.
func (c *Controller) keptReminder() *int {
	if c.record == nil || c.record.Reminder == nil {
		return nil
	}
	if strings.TrimSpace(c.draft.Reminder) != strconv.Itoa(*c.record.Reminder) {
		return nil
	}
	n := *c.record.Reminder
	return &n
}

func cloneDraft(d Draft) Draft {
	out := d
	out.Participants = append([]model.Participant(nil), d.Participants...)
	out.Attachments = append([]model.Attachment(nil), d.Attachments...)
	return out
}
