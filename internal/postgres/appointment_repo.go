package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agenda/internal/model"
	"agenda/internal/recurrence"
	"agenda/internal/store"
)

const appointmentColumns = `id, company_id, title, description, location, category,
	start_at, end_at, due_at, reminder_minutes, status,
	participants, recurrence, subtasks, attachments, history,
	created_by, created_at, updated_at`

const upsertAppointment = `INSERT INTO appointments (` + appointmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	location = EXCLUDED.location,
	category = EXCLUDED.category,
	start_at = EXCLUDED.start_at,
	end_at = EXCLUDED.end_at,
	due_at = EXCLUDED.due_at,
	reminder_minutes = EXCLUDED.reminder_minutes,
	status = EXCLUDED.status,
	participants = EXCLUDED.participants,
	recurrence = EXCLUDED.recurrence,
	subtasks = EXCLUDED.subtasks,
	attachments = EXCLUDED.attachments,
	history = EXCLUDED.history,
	updated_at = EXCLUDED.updated_at
WHERE appointments.company_id = EXCLUDED.company_id`

// AppointmentRepository stores whole appointment records. Every intent is
// persisted as an upsert of the record it produced.
type AppointmentRepository struct {
	db DB
}

func NewAppointmentRepository(db DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

var _ store.Persister = (*AppointmentRepository)(nil)
var _ store.Loader = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) Persist(ctx context.Context, intent store.Intent, a model.Appointment) error {
	args, err := appointmentArgs(a)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, upsertAppointment, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s %s: %w", intent.Type, a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s %s: owned by another company", intent.Type, a.ID)
	}
	return nil
}

func (r *AppointmentRepository) List(ctx context.Context) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list appointments: %w", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		var (
			a            model.Appointment
			due          *time.Time
			reminder     *int32
			status       string
			rrule        *string
			participants []byte
			subtasks     []byte
			attachments  []byte
			history      []byte
		)
		if err := rows.Scan(
			&a.ID, &a.CompanyID, &a.Title, &a.Description, &a.Location, &a.Category,
			&a.Start, &a.End, &due, &reminder, &status,
			&participants, &rrule, &subtasks, &attachments, &history,
			&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan appointment: %w", err)
		}

		a.DueDate = due
		if reminder != nil {
			m := int(*reminder)
			a.Reminder = &m
		}
		a.Status = model.Status(status)
		if rrule != nil && *rrule != "" {
			rule, err := recurrence.Decode(*rrule)
			if err != nil {
				return nil, fmt.Errorf("postgres: appointment %s recurrence: %w", a.ID, err)
			}
			a.Recurrence = &rule
		}
		for _, col := range []struct {
			name string
			data []byte
			dst  any
		}{
			{"participants", participants, &a.Participants},
			{"subtasks", subtasks, &a.Subtasks},
			{"attachments", attachments, &a.Attachments},
			{"history", history, &a.History},
		} {
			if len(col.data) == 0 {
				continue
			}
			if err := json.Unmarshal(col.data, col.dst); err != nil {
				return nil, fmt.Errorf("postgres: appointment %s %s: %w", a.ID, col.name, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list appointments: %w", err)
	}
	return out, nil
}

func appointmentArgs(a model.Appointment) ([]any, error) {
	var rrule *string
	if a.Recurrence != nil {
		s, err := recurrence.Encode(*a.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("postgres: appointment %s recurrence: %w", a.ID, err)
		}
		rrule = &s
	}
	var reminder *int32
	if a.Reminder != nil {
		m := int32(*a.Reminder)
		reminder = &m
	}

	blobs := make([][]byte, 0, 4)
	for _, v := range []any{nonNil(a.Participants), nonNil(a.Subtasks), nonNil(a.Attachments), nonNil(a.History)} {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("postgres: appointment %s: %w", a.ID, err)
		}
		blobs = append(blobs, b)
	}

	return []any{
		a.ID, a.CompanyID, a.Title, a.Description, a.Location, a.Category,
		a.Start, a.End, a.DueDate, reminder, string(a.Status),
		blobs[0], rrule, blobs[1], blobs[2], blobs[3],
		a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	}, nil
}

// nonNil keeps empty lists as "[]" rather than "null" in the JSON columns.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
