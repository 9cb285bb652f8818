package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/model"
	"agenda/internal/store"
)

var columns = []string{
	"id", "company_id", "title", "description", "location", "category",
	"start_at", "end_at", "due_at", "reminder_minutes", "status",
	"participants", "recurrence", "subtasks", "attachments", "history",
	"created_by", "created_at", "updated_at",
}

func sample() model.Appointment {
	start := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	reminder := 15
	return model.Appointment{
		ID:        "app-1741600800000",
		CompanyID: "acme",
		Title:     "Reunião de alinhamento",
		Start:     start,
		End:       start.Add(time.Hour),
		Reminder:  &reminder,
		Status:    model.StatusScheduled,
		Recurrence: &model.RecurrenceRule{
			Frequency: model.FrequencyWeekly,
			Until:     time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC),
		},
		CreatedBy: "u1",
		CreatedAt: start.Add(-time.Hour),
		UpdatedAt: start.Add(-time.Hour),
	}
}

func TestPersist_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sample()
	rem := int32(15)
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(
			a.ID, a.CompanyID, a.Title, "", "", "",
			a.Start, a.End, (*time.Time)(nil), &rem, "scheduled",
			[]byte("[]"), pgxmock.AnyArg(), []byte("[]"), []byte("[]"), []byte("[]"),
			"u1", a.CreatedAt, a.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewAppointmentRepository(mock)
	err = repo.Persist(context.Background(), store.Intent{Type: store.AddAppointment, Appointment: a}, a)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_Errors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sample()
	mock.ExpectExec("INSERT INTO appointments").WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("INSERT INTO appointments").WillReturnResult(pgxmock.NewResult("INSERT", 0))

	repo := NewAppointmentRepository(mock)
	err = repo.Persist(context.Background(), store.Intent{Type: store.UpdateAppointment}, a)
	assert.ErrorContains(t, err, "connection reset")

	err = repo.Persist(context.Background(), store.Intent{Type: store.UpdateAppointment}, a)
	assert.ErrorContains(t, err, "another company")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sample()
	due := a.Start.Add(2 * time.Hour)
	rem := int32(30)
	rule := "FREQ=WEEKLY;UNTIL=20250630T235959Z"
	noRule := (*string)(nil)

	rows := pgxmock.NewRows(columns).
		AddRow(a.ID, a.CompanyID, a.Title, "pauta", "Sala 2", "meeting",
			a.Start, a.End, &due, &rem, "scheduled",
			[]byte(`[{"kind":"customer","id":"c1","name":"Cliente","email":"c@example.com"}]`), &rule,
			[]byte(`[{"id":"s1","title":"preparar slides","completed":true}]`), []byte(`[]`), []byte(`[]`),
			"u1", a.CreatedAt, a.UpdatedAt).
		AddRow("app-2", "other", "Visita", "", "", "",
			a.Start.Add(24*time.Hour), a.End.Add(24*time.Hour), (*time.Time)(nil), (*int32)(nil), "completed",
			[]byte(`[]`), noRule, []byte(`[]`), []byte(`[]`), []byte(`[]`),
			"u2", a.CreatedAt, a.UpdatedAt)
	mock.ExpectQuery("SELECT (.+) FROM appointments ORDER BY start_at, id").WillReturnRows(rows)

	got, err := NewAppointmentRepository(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "Sala 2", first.Location)
	require.NotNil(t, first.DueDate)
	assert.Equal(t, due, *first.DueDate)
	require.NotNil(t, first.Reminder)
	assert.Equal(t, 30, *first.Reminder)
	require.NotNil(t, first.Recurrence)
	assert.Equal(t, model.FrequencyWeekly, first.Recurrence.Frequency)
	assert.True(t, a.Recurrence.Until.Equal(first.Recurrence.Until))
	require.Len(t, first.Participants, 1)
	assert.Equal(t, model.KindCustomer, first.Participants[0].Kind)
	require.Len(t, first.Subtasks, 1)
	assert.True(t, first.Subtasks[0].Completed)

	second := got[1]
	assert.Nil(t, second.DueDate)
	assert.Nil(t, second.Reminder)
	assert.Nil(t, second.Recurrence)
	assert.True(t, second.Completed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM appointments").WillReturnError(errors.New("relation does not exist"))
	_, err = NewAppointmentRepository(mock).List(context.Background())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestReloadThroughStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	a := sample()
	rows := pgxmock.NewRows(columns).
		AddRow(a.ID, a.CompanyID, a.Title, "", "", "",
			a.Start, a.End, (*time.Time)(nil), (*int32)(nil), "scheduled",
			[]byte(`[]`), (*string)(nil), []byte(`[]`), []byte(`[]`), []byte(`[]`),
			"u1", a.CreatedAt, a.UpdatedAt)
	mock.ExpectQuery("SELECT (.+) FROM appointments").WillReturnRows(rows)

	repo := NewAppointmentRepository(mock)
	s := store.New(repo)
	require.NoError(t, s.Reload(context.Background(), repo))

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.Title, got.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}
