// Package store owns the in-memory appointment collection. Every change goes
// through Dispatch as an Intent; the new state is applied locally first, then
// handed to a Persister. A failed persist is not rolled back: the record is
// marked as diverged until the next Replace.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"agenda/internal/appointment"
	appLog "agenda/internal/log"
	"agenda/internal/model"
)

var (
	ErrNotFound = errors.New("store: appointment not found")
	ErrExists   = errors.New("store: appointment already exists")
	ErrInvalid  = errors.New("store: invalid intent")
	ErrPersist  = errors.New("store: persist failed")
)

// IntentType names the change carried by an Intent.
type IntentType string

const (
	AddAppointment      IntentType = "ADD_APPOINTMENT"
	UpdateAppointment   IntentType = "UPDATE_APPOINTMENT"
	AddSubtask          IntentType = "ADD_SUBTASK"
	ToggleSubtaskStatus IntentType = "TOGGLE_SUBTASK_STATUS"
	DeleteSubtask       IntentType = "DELETE_SUBTASK"
)

// Intent is a fully formed change request. ADD/UPDATE carry the whole record
// in Appointment; subtask intents address their parent by AppointmentID.
type Intent struct {
	Type          IntentType        `json:"type"`
	Appointment   model.Appointment `json:"appointment,omitempty"`
	AppointmentID string            `json:"appointmentId,omitempty"`
	Subtask       model.Subtask     `json:"subtask,omitempty"`
	SubtaskID     string            `json:"subtaskId,omitempty"`
}

// Persister durably stores the record produced by an intent.
type Persister interface {
	Persist(ctx context.Context, intent Intent, record model.Appointment) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, intent Intent, record model.Appointment) error

func (f PersisterFunc) Persist(ctx context.Context, intent Intent, record model.Appointment) error {
	return f(ctx, intent, record)
}

// Loader returns the full durable collection, used for reloads.
type Loader interface {
	List(ctx context.Context) ([]model.Appointment, error)
}

// Scope restricts reads to one tenant unless SuperAdmin is set.
type Scope struct {
	CompanyID  string
	SuperAdmin bool
}

// Allows reports whether a record is visible in the scope.
func (sc Scope) Allows(a model.Appointment) bool {
	return sc.SuperAdmin || (sc.CompanyID != "" && a.CompanyID == sc.CompanyID)
}

type Store struct {
	persister Persister

	mu       sync.RWMutex
	items    map[string]model.Appointment
	diverged map[string]error

	subMu   sync.Mutex
	subs    map[int]chan []model.Appointment
	nextSub int
}

// New creates an empty store. A nil persister keeps everything in memory.
func New(p Persister) *Store {
	return &Store{
		persister: p,
		items:     make(map[string]model.Appointment),
		diverged:  make(map[string]error),
		subs:      make(map[int]chan []model.Appointment),
	}
}

// Dispatch applies the intent and returns the resulting record. Invariant
// violations are rejected before anything changes. If the persister fails the
// local change stays applied and the error wraps ErrPersist.
func (s *Store) Dispatch(ctx context.Context, in Intent) (model.Appointment, error) {
	s.mu.Lock()
	return s.commit(ctx, in)
}

// commit reduces and applies in. It must be called with s.mu held and
// releases it before persisting.
func (s *Store) commit(ctx context.Context, in Intent) (model.Appointment, error) {
	rec, err := s.reduce(in)
	if err != nil {
		s.mu.Unlock()
		return model.Appointment{}, err
	}
	s.items[rec.ID] = rec
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snap)

	if s.persister == nil {
		return rec.Clone(), nil
	}

	if perr := s.persister.Persist(ctx, in, rec.Clone()); perr != nil {
		s.mu.Lock()
		s.diverged[rec.ID] = perr
		s.mu.Unlock()
		appLog.Error("store: persist failed; local state diverges until reload", perr,
			"id", rec.ID, "intent", string(in.Type))
		return rec.Clone(), fmt.Errorf("%w: %s: %v", ErrPersist, rec.ID, perr)
	}

	s.mu.Lock()
	delete(s.diverged, rec.ID)
	s.mu.Unlock()
	return rec.Clone(), nil
}

func (s *Store) reduce(in Intent) (model.Appointment, error) {
	switch in.Type {
	case AddAppointment:
		a := in.Appointment.Clone()
		if a.ID == "" || a.CompanyID == "" {
			return a, fmt.Errorf("%w: id and companyId are required", ErrInvalid)
		}
		if _, ok := s.items[a.ID]; ok {
			return a, fmt.Errorf("%w: %s", ErrExists, a.ID)
		}
		if err := checkRecord(a); err != nil {
			return a, err
		}
		return a, nil

	case UpdateAppointment:
		a := in.Appointment.Clone()
		prev, ok := s.items[a.ID]
		if !ok {
			return a, fmt.Errorf("%w: %s", ErrNotFound, a.ID)
		}
		// Tenant ownership never moves on update.
		a.CompanyID = prev.CompanyID
		if err := checkRecord(a); err != nil {
			return a, err
		}
		return a, nil

	case AddSubtask, ToggleSubtaskStatus, DeleteSubtask:
		prev, ok := s.items[in.AppointmentID]
		if !ok {
			return model.Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, in.AppointmentID)
		}
		return reduceSubtask(prev, in)
	}
	return model.Appointment{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, in.Type)
}

func reduceSubtask(prev model.Appointment, in Intent) (model.Appointment, error) {
	switch in.Type {
	case AddSubtask:
		if in.Subtask.ID == "" || in.Subtask.Title == "" {
			return prev, fmt.Errorf("%w: subtask id and title are required", ErrInvalid)
		}
		return appointment.AddSubtask(prev, in.Subtask), nil
	case ToggleSubtaskStatus:
		out, err := appointment.ToggleSubtask(prev, in.SubtaskID)
		if err != nil {
			return prev, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return out, nil
	default:
		out, err := appointment.DeleteSubtask(prev, in.SubtaskID)
		if err != nil {
			return prev, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return out, nil
	}
}

func checkRecord(a model.Appointment) error {
	if err := appointment.CheckInvariants(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, a.Status)
	}
	return nil
}

// Complete flips the appointment to completed, stamping End with now. A
// changed end is recorded in the history under userID.
func (s *Store) Complete(ctx context.Context, id, userID string, now time.Time) (model.Appointment, error) {
	return s.modify(ctx, id, func(prev model.Appointment) model.Appointment {
		return appointment.ApplyUpdate(prev, appointment.Complete(prev, now), userID, now)
	})
}

// Reopen reverses Complete.
func (s *Store) Reopen(ctx context.Context, id, userID string, now time.Time) (model.Appointment, error) {
	return s.modify(ctx, id, func(prev model.Appointment) model.Appointment {
		return appointment.ApplyUpdate(prev, appointment.Reopen(prev, now), userID, now)
	})
}

// modify dispatches an update built from the current record. The read and
// the write happen under one lock.
func (s *Store) modify(ctx context.Context, id string, build func(prev model.Appointment) model.Appointment) (model.Appointment, error) {
	s.mu.Lock()
	prev, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return model.Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.commit(ctx, Intent{Type: UpdateAppointment, Appointment: build(prev.Clone())})
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (model.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return model.Appointment{}, false
	}
	return a.Clone(), true
}

// Snapshot returns every record ordered by start, then id.
func (s *Store) Snapshot() []model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []model.Appointment {
	out := make([]model.Appointment, 0, len(s.items))
	for _, a := range s.items {
		out = append(out, a.Clone())
	}
	SortByStart(out)
	return out
}

// Visible returns the records allowed by scope, ordered by start.
func (s *Store) Visible(scope Scope) []model.Appointment {
	return Filter(s.Snapshot(), scope)
}

// Filter keeps the records allowed by scope.
func Filter(all []model.Appointment, scope Scope) []model.Appointment {
	out := make([]model.Appointment, 0, len(all))
	for _, a := range all {
		if scope.Allows(a) {
			out = append(out, a)
		}
	}
	return out
}

// Replace swaps the whole collection, as after a full reload, and clears the
// divergence markers.
func (s *Store) Replace(all []model.Appointment) {
	s.mu.Lock()
	s.items = make(map[string]model.Appointment, len(all))
	for _, a := range all {
		s.items[a.ID] = a.Clone()
	}
	s.diverged = make(map[string]error)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snap)
}

// Reload replaces the collection with what the loader returns.
func (s *Store) Reload(ctx context.Context, l Loader) error {
	all, err := l.List(ctx)
	if err != nil {
		return fmt.Errorf("store: reload: %w", err)
	}
	s.Replace(all)
	appLog.Info("store reloaded", "count", len(all))
	return nil
}

// Diverged returns the ids whose last persist failed, with the error.
func (s *Store) Diverged() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.diverged))
	for k, v := range s.diverged {
		out[k] = v
	}
	return out
}

// Subscribe returns a channel receiving the latest snapshot after every
// change. Slow readers only ever see the most recent snapshot. Call the
// returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan []model.Appointment, func()) {
	ch := make(chan []model.Appointment, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) broadcast(snap []model.Appointment) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot and keep only the newest.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// SortByStart orders appointments ascending by start, ties by id.
func SortByStart(apps []model.Appointment) {
	sort.SliceStable(apps, func(i, j int) bool {
		if !apps[i].Start.Equal(apps[j].Start) {
			return apps[i].Start.Before(apps[j].Start)
		}
		return apps[i].ID < apps[j].ID
	})
}
