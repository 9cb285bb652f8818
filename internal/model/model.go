package model

import "time"

// Status is the lifecycle state of an appointment. Only scheduled and
// completed are flipped by the service; the others are accepted and stored.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusNoShow    Status = "no-show"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCanceled, StatusNoShow:
		return true
	}
	return false
}

// Frequency is the repeat unit of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// RecurrenceRule marks an appointment as the master of a series. The rule is
// stored as-is; occurrences are created as separate appointments.
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency"`
	Until     time.Time `json:"until"`
}

type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Attachment content is a base64 data URL ("data:<mime>;base64,...").
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

// HistoryEntry snapshots the title/start/end an appointment had before an
// update changed any of them.
type HistoryEntry struct {
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	ModifiedBy string    `json:"modifiedBy"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Appointment is the central record. It is always replaced as a whole on
// update; End is strictly after Start, and DueDate (if set) too.
type Appointment struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Category    string `json:"category,omitempty"`

	Start   time.Time  `json:"start"`
	End     time.Time  `json:"end"`
	DueDate *time.Time `json:"dueDate,omitempty"`

	// Reminder is the number of minutes before Start; nil means no reminder.
	Reminder *int `json:"reminder,omitempty"`

	Status       Status          `json:"status"`
	Participants []Participant   `json:"participants"`
	Recurrence   *RecurrenceRule `json:"recurrenceRule,omitempty"`
	Subtasks     []Subtask       `json:"subtasks"`
	Attachments  []Attachment    `json:"attachments"`
	History      []HistoryEntry  `json:"history"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Duration returns End - Start.
func (a Appointment) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Completed reports whether the appointment is in the completed state.
func (a Appointment) Completed() bool {
	return a.Status == StatusCompleted
}

// Clone returns a deep copy so that callers can mutate slices and pointers
// without touching the original.
func (a Appointment) Clone() Appointment {
	out := a
	if a.DueDate != nil {
		d := *a.DueDate
		out.DueDate = &d
	}
	if a.Reminder != nil {
		r := *a.Reminder
		out.Reminder = &r
	}
	if a.Recurrence != nil {
		r := *a.Recurrence
		out.Recurrence = &r
	}
	out.Participants = append([]Participant(nil), a.Participants...)
	out.Subtasks = append([]Subtask(nil), a.Subtasks...)
	out.Attachments = append([]Attachment(nil), a.Attachments...)
	out.History = append([]HistoryEntry(nil), a.History...)
	return out
}
