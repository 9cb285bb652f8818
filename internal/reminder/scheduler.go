// Package reminder polls the appointment collection and fires each
// configured reminder at most once per session.
package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"agenda/internal/log"
	"agenda/internal/model"
)

// DefaultSchedule is the scan interval.
const DefaultSchedule = "@every 30s"

var ErrRunning = errors.New("reminder: scheduler already running")

// Source yields the current collection. *store.Store satisfies it.
type Source interface {
	Snapshot() []model.Appointment
}

// Notifier receives one call per fired reminder.
type Notifier interface {
	Notify(ctx context.Context, a model.Appointment)
}

type NotifierFunc func(ctx context.Context, a model.Appointment)

func (f NotifierFunc) Notify(ctx context.Context, a model.Appointment) { f(ctx, a) }

// Sender delivers the reminder message to one participant.
type Sender interface {
	SendReminder(ctx context.Context, a model.Appointment, p model.Participant) error
}

type Options struct {
	Schedule string
	Now      func() time.Time
}

type Scheduler struct {
	src      Source
	notifier Notifier
	sender   Sender
	schedule string
	now      func() time.Time

	mu      sync.Mutex
	shown   map[string]struct{}
	cron    *cron.Cron
	running bool
	cancel  context.CancelFunc

	sends sync.WaitGroup
}

// New builds a stopped scheduler. notifier and sender may be nil.
func New(src Source, notifier Notifier, sender Sender, opts Options) *Scheduler {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		src:      src,
		notifier: notifier,
		sender:   sender,
		schedule: opts.Schedule,
		now:      opts.Now,
	}
}

// Due reports whether a's reminder window contains now:
// start - reminder <= now < start. Completed appointments and appointments
// without a reminder are never due.
func Due(a model.Appointment, now time.Time) bool {
	if a.Reminder == nil || a.Completed() {
		return false
	}
	at := a.Start.Add(-time.Duration(*a.Reminder) * time.Minute)
	return !now.Before(at) && now.Before(a.Start)
}

// Start begins a session: the shown set is reset and Scan runs on the
// configured schedule until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{}),
		cron.Recover(cronLogger{}),
	))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, func() { s.Scan(runCtx) }); err != nil {
		cancel()
		return err
	}

	s.shown = make(map[string]struct{})
	s.cron = c
	s.cancel = cancel
	s.running = true
	c.Start()

	go func() {
		<-runCtx.Done()
		s.stop(c)
	}()

	log.Info("reminder scheduler started", "schedule", s.schedule)
	return nil
}

// Stop ends the session. It waits for a running scan and for in-flight
// sends, then discards the shown set. Calling Stop on a stopped scheduler
// is a no-op.
func (s *Scheduler) Stop() {
	s.stop(nil)
}

// stop ends the session run by c, or the current one when c is nil.
func (s *Scheduler) stop(c *cron.Cron) {
	s.mu.Lock()
	if !s.running || (c != nil && c != s.cron) {
		s.mu.Unlock()
		return
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	s.sends.Wait()

	s.mu.Lock()
	s.shown = nil
	s.mu.Unlock()
	log.Info("reminder scheduler stopped")
}

// Running reports whether a session is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shown reports whether id already fired in this session.
func (s *Scheduler) Shown(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.shown[id]
	return ok
}

// Scan fires every due reminder not yet shown and returns how many fired.
// Sends run on their own goroutines and are not awaited.
func (s *Scheduler) Scan(ctx context.Context) int {
	now := s.now()
	apps := s.src.Snapshot()

	var fire []model.Appointment
	s.mu.Lock()
	if s.shown == nil {
		s.shown = make(map[string]struct{})
	}
	for _, a := range apps {
		if _, done := s.shown[a.ID]; done || !Due(a, now) {
			continue
		}
		s.shown[a.ID] = struct{}{}
		fire = append(fire, a)
	}
	s.mu.Unlock()

	for _, a := range fire {
		log.Info("reminder fired", "id", a.ID, "start", a.Start, "minutes", *a.Reminder)
		if s.notifier != nil {
			s.notifier.Notify(ctx, a)
		}
		s.dispatch(ctx, a)
	}
	return len(fire)
}

func (s *Scheduler) dispatch(ctx context.Context, a model.Appointment) {
	if s.sender == nil {
		return
	}
	for _, p := range a.Participants {
		if p.Email == "" {
			continue
		}
		s.sends.Add(1)
		go func(p model.Participant) {
			defer s.sends.Done()
			if err := s.sender.SendReminder(ctx, a, p); err != nil {
				log.Debug("reminder send failed", "id", a.ID, "to", p.Email, "err", err)
			}
		}(p)
	}
}

// cronLogger routes cron's own messages into the package logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	log.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	log.Error("cron: "+msg, err, kv...)
}
