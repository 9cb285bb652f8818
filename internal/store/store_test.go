package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agenda/internal/model"
)

var t0 = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func appt(id, company string, start time.Time) model.Appointment {
	return model.Appointment{
		ID:        id,
		CompanyID: company,
		Title:     "Reunião " + id,
		Start:     start,
		End:       start.Add(time.Hour),
		Status:    model.StatusScheduled,
		Subtasks:  []model.Subtask{{ID: "s1", Title: "agenda"}},
	}
}

type recordingPersister struct {
	mu      sync.Mutex
	intents []Intent
	records []model.Appointment
	err     error
}

func (p *recordingPersister) Persist(_ context.Context, in Intent, rec model.Appointment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, in)
	p.records = append(p.records, rec)
	return p.err
}

func TestDispatch_AddAndUpdate(t *testing.T) {
	p := &recordingPersister{}
	s := New(p)
	ctx := context.Background()

	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.NoError(t, err)

	upd := appt("app-1", "acme", t0.Add(2*time.Hour))
	upd.Title = "Reunião mudada"
	got, err := s.Dispatch(ctx, Intent{Type: UpdateAppointment, Appointment: upd})
	require.NoError(t, err)
	assert.Equal(t, "Reunião mudada", got.Title)

	stored, ok := s.Get("app-1")
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Hour), stored.Start)

	require.Len(t, p.intents, 2)
	assert.Equal(t, AddAppointment, p.intents[0].Type)
	assert.Equal(t, UpdateAppointment, p.intents[1].Type)
}

func TestDispatch_RejectsEndNotAfterStart(t *testing.T) {
	p := &recordingPersister{}
	s := New(p)

	bad := appt("app-1", "acme", t0)
	bad.End = bad.Start

	_, err := s.Dispatch(context.Background(), Intent{Type: AddAppointment, Appointment: bad})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Empty(t, s.Snapshot())
	assert.Empty(t, p.intents, "rejected intents never reach the persister")
}

func TestDispatch_RejectsDuplicateAndMissing(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.NoError(t, err)

	_, err = s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.Dispatch(ctx, Intent{Type: UpdateAppointment, Appointment: appt("app-9", "acme", t0)})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Dispatch(ctx, Intent{Type: "DELETE_APPOINTMENT"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDispatch_UpdateCannotMoveTenant(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.NoError(t, err)

	moved := appt("app-1", "globex", t0)
	got, err := s.Dispatch(ctx, Intent{Type: UpdateAppointment, Appointment: moved})
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CompanyID)
}

func TestDispatch_PersistFailureKeepsLocalStateAndMarksDivergence(t *testing.T) {
	p := &recordingPersister{err: errors.New("connection reset")}
	s := New(p)

	_, err := s.Dispatch(context.Background(), Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.ErrorIs(t, err, ErrPersist)

	_, ok := s.Get("app-1")
	assert.True(t, ok, "optimistic change is not rolled back")
	assert.Contains(t, s.Diverged(), "app-1")

	// A later successful persist of the full record brings it back in sync.
	p.err = nil
	upd := appt("app-1", "acme", t0)
	upd.Location = "Sala 2"
	_, err = s.Dispatch(context.Background(), Intent{Type: UpdateAppointment, Appointment: upd})
	require.NoError(t, err)
	assert.Empty(t, s.Diverged())
}

func TestReplace_ClearsDivergence(t *testing.T) {
	p := &recordingPersister{err: errors.New("down")}
	s := New(p)
	_, _ = s.Dispatch(context.Background(), Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.NotEmpty(t, s.Diverged())

	s.Replace([]model.Appointment{appt("app-2", "acme", t0)})

	assert.Empty(t, s.Diverged())
	_, ok := s.Get("app-1")
	assert.False(t, ok)
}

type staticLoader []model.Appointment

func (l staticLoader) List(context.Context) ([]model.Appointment, error) { return l, nil }

func TestReload(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Reload(context.Background(), staticLoader{appt("app-1", "acme", t0)}))
	assert.Len(t, s.Snapshot(), 1)
}

func TestSubtaskIntents(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	orig := appt("app-1", "acme", t0)
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: orig})
	require.NoError(t, err)

	_, err = s.Dispatch(ctx, Intent{Type: AddSubtask, AppointmentID: "app-1", Subtask: model.Subtask{ID: "s2", Title: "enviar proposta"}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = s.Dispatch(ctx, Intent{Type: ToggleSubtaskStatus, AppointmentID: "app-1", SubtaskID: "s1"})
		require.NoError(t, err)
	}

	got, _ := s.Get("app-1")
	require.Len(t, got.Subtasks, 2)
	assert.False(t, got.Subtasks[0].Completed)
	assert.Equal(t, orig.Title, got.Title)
	assert.Equal(t, orig.Start, got.Start)

	_, err = s.Dispatch(ctx, Intent{Type: DeleteSubtask, AppointmentID: "app-1", SubtaskID: "s2"})
	require.NoError(t, err)
	got, _ = s.Get("app-1")
	assert.Len(t, got.Subtasks, 1)

	_, err = s.Dispatch(ctx, Intent{Type: ToggleSubtaskStatus, AppointmentID: "app-1", SubtaskID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Dispatch(ctx, Intent{Type: AddSubtask, AppointmentID: "app-1"})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCompleteAndReopen(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("app-1", "acme", t0)})
	require.NoError(t, err)

	now := t0.Add(30 * time.Minute)
	done, err := s.Complete(ctx, "app-1", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Equal(t, now, done.End)

	back, err := s.Reopen(ctx, "app-1", "u1", now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, back.Status)
	assert.Len(t, back.History, 1, "reopen keeps the end, so nothing new is recorded")

	_, err = s.Complete(ctx, "missing", "u1", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComplete_HistoryOnlyWhenEndChanges(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	a := appt("a", "acme", t0)
	a.End = t0.Add(2 * time.Hour)
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: a})
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("b", "acme", t0)})
	require.NoError(t, err)

	now := t0.Add(30 * time.Minute)
	done, err := s.Complete(ctx, "a", "u1", now)
	require.NoError(t, err)
	require.Len(t, done.History, 1)
	h := done.History[0]
	assert.Equal(t, t0.Add(2*time.Hour), h.End)
	assert.Equal(t, t0, h.Start)
	assert.Equal(t, "u1", h.ModifiedBy)
	assert.Equal(t, now, h.ModifiedAt)

	early, err := s.Complete(ctx, "b", "u1", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), early.End)
	assert.Empty(t, early.History)
}

func TestComplete_DoesNotLoseConcurrentEdits(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("a", "acme", t0)})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			st := model.Subtask{ID: fmt.Sprintf("c%d", i), Title: "item"}
			_, err := s.Dispatch(ctx, Intent{Type: AddSubtask, AppointmentID: "a", Subtask: st})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.Complete(ctx, "a", "u1", t0.Add(time.Duration(i+1)*time.Minute))
			} else {
				_, err = s.Reopen(ctx, "a", "u1", t0)
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Len(t, got.Subtasks, n+1)
}

func TestVisible_TenantScope(t *testing.T) {
	s := New(nil)
	s.Replace([]model.Appointment{
		appt("a", "acme", t0),
		appt("b", "globex", t0),
		appt("c", "acme", t0.Add(time.Hour)),
	})

	acme := s.Visible(Scope{CompanyID: "acme"})
	require.Len(t, acme, 2)
	assert.Equal(t, "a", acme[0].ID)
	assert.Equal(t, "c", acme[1].ID)

	assert.Len(t, s.Visible(Scope{SuperAdmin: true}), 3)
	assert.Empty(t, s.Visible(Scope{}))
}

func TestSubscribe_ReceivesLatestSnapshot(t *testing.T) {
	s := New(nil)
	ch, cancel := s.Subscribe()
	defer cancel()

	ctx := context.Background()
	_, err := s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("a", "acme", t0)})
	require.NoError(t, err)
	_, err = s.Dispatch(ctx, Intent{Type: AddAppointment, Appointment: appt("b", "acme", t0)})
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Len(t, snap, 2, "slow readers only see the newest snapshot")
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
