// Package reminder delivers scheduled data-entry reminders.
//
// A per-minute cron sweep reads every subscriber's preferences from the
// store and sends reminders whose user-local wall time matches. Because
// the store is the only source of truth, reminders survive restarts
// without any rescheduling step.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/FunnelCoach/internal/models"
)

// sweepSpec fires the sweep once per minute.
const sweepSpec = "* * * * *"

// Reminder message bodies.
const (
	dailyMessage  = "Time to log today's funnel events. Send \"report\" to start."
	weeklyMessage = "A new week started. Send \"report\" to log last week's funnel counts."
)

// UserLister is the slice of the store the scheduler reads.
type UserLister interface {
	ListUsersByReminderFrequency(freq models.ReminderFrequency) ([]models.User, error)
}

// Sender delivers one reminder message.
type Sender interface {
	SendMessage(ctx context.Context, to, message string) error
}

// Scheduler owns the cron loop. One sweep covers all users; a failed
// delivery is logged and never blocks the rest of the sweep.
type Scheduler struct {
	cron   *cron.Cron
	users  UserLister
	sender Sender
	now    func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNowFunc overrides the clock, used in tests.
func WithNowFunc(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(users UserLister, sender Sender, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(),
		users:  users,
		sender: sender,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(sweepSpec, func() {
		s.Sweep(ctx, s.now())
	})
	if err != nil {
		slog.Error("Failed to register reminder sweep", "error", err)
		return fmt.Errorf("failed to register reminder sweep: %w", err)
	}
	s.cron.Start()
	slog.Debug("Reminder scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Debug("Reminder scheduler stopped")
}

// Sweep delivers every reminder due at the given instant. Exported so the
// delivery logic is testable without running cron.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	s.sweepFrequency(ctx, now, models.ReminderDaily, dailyMessage, nil)
	monday := time.Monday
	s.sweepFrequency(ctx, now, models.ReminderWeekly, weeklyMessage, &monday)
}

// sweepFrequency sends to every user of one frequency whose local time
// matches their configured send time (and weekday, when set).
func (s *Scheduler) sweepFrequency(ctx context.Context, now time.Time, freq models.ReminderFrequency, message string, weekday *time.Weekday) {
	users, err := s.users.ListUsersByReminderFrequency(freq)
	if err != nil {
		slog.Error("Reminder sweep failed to list users", "error", err, "frequency", freq)
		return
	}
	for _, u := range users {
		if !dueNow(u, now, weekday) {
			continue
		}
		if err := s.sender.SendMessage(ctx, u.ID, message); err != nil {
			slog.Error("Reminder delivery failed", "error", err, "userID", u.ID, "frequency", freq)
			continue
		}
		slog.Debug("Reminder delivered", "userID", u.ID, "frequency", freq)
	}
}

// dueNow reports whether the user's local wall time matches their send time
// this minute. A bad timezone is logged and treated as not due.
func dueNow(u models.User, now time.Time, weekday *time.Weekday) bool {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		slog.Error("Reminder skipped: bad timezone", "error", err, "userID", u.ID, "timezone", u.Timezone)
		return false
	}
	local := now.In(loc)
	if weekday != nil && local.Weekday() != *weekday {
		return false
	}
	return local.Format("15:04") == u.ReminderTime
}
