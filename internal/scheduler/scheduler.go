// Package scheduler runs the time-triggered passes: lesson reminders, the
// unpaid-enrollment check, the administrator's daily summary and event-log
// housekeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/config"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
)

// Pass names, used in logs and metrics.
const (
	PassLessonReminders = "lesson_reminders"
	PassUnpaidCheck     = "unpaid_check"
	PassDailySummary    = "daily_summary"
	PassPurge           = "purge"
)

const (
	passTimeout  = 5 * time.Minute
	purgeTimeout = 30 * time.Second
)

// Registry is the part of the CRM the passes read.
type Registry interface {
	ListGroups(ctx context.Context, filter registry.GroupFilter) ([]model.Group, error)
	GetGroup(ctx context.Context, groupID string) (*model.Group, error)
	ListUnpaid(ctx context.Context) ([]model.Person, error)
	GetPayments(ctx context.Context, personID string) ([]model.Payment, error)
	ListStudents(ctx context.Context, filter registry.StudentFilter) ([]model.Person, error)
	ListPayments(ctx context.Context, from, to time.Time) ([]model.Payment, error)
}

// Messenger delivers reminders to students.
type Messenger interface {
	SendText(ctx context.Context, recipientID, text, tag string) error
}

// Notifier delivers the daily summary to the administrator.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Purger drops expired dedup records.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper drops expired in-process entries such as sync tags and idle seat
// counts.
type Sweeper interface {
	Sweep() int
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Registry  Registry
	Messenger Messenger
	Notifier  Notifier
	Events    Purger
	Tags      Sweeper
	Seats     Sweeper
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// Scheduler owns the cron runner and the passes it triggers.
type Scheduler struct {
	Deps
	schedules config.Schedules
	loc       *time.Location
	cron      *cron.Cron
	nowFn     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New constructs a Scheduler firing in loc.
func New(deps Deps, schedules config.Schedules, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{deps.Log.Sugar()}
	return &Scheduler{
		Deps:      deps,
		schedules: schedules,
		loc:       loc,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		nowFn: time.Now,
	}
}

// Start registers the passes and starts the runner. Passes run on contexts
// derived from ctx; Stop cancels them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	base, cancel := context.WithCancel(ctx)
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		run     func(context.Context) error
	}{
		{PassLessonReminders, s.schedules.LessonReminders, passTimeout, s.lessonRemindersPass},
		{PassUnpaidCheck, s.schedules.UnpaidCheck, passTimeout, s.unpaidPass},
		{PassDailySummary, s.schedules.DailySummary, passTimeout, s.dailySummaryPass},
		{PassPurge, s.schedules.Purge, purgeTimeout, s.Purge},
	}
	ids := make([]cron.EntryID, 0, len(jobs))
	for _, j := range jobs {
		id, err := s.cron.AddFunc(j.spec, func() { s.runPass(base, j.name, j.timeout, j.run) })
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			cancel()
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		ids = append(ids, id)
	}

	s.cancel = cancel
	s.cron.Start()
	s.Log.Info("scheduler started", zap.String("timezone", s.loc.String()), zap.Int("jobs", len(jobs)))
	return nil
}

// Stop cancels running passes and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	s.Log.Info("stopping scheduler")
	cancel()
	<-s.cron.Stop().Done()
}

// runPass executes one pass with its own timeout. A failing pass is logged and
// counted; it has no effect on the others.
func (s *Scheduler) runPass(base context.Context, name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	start := time.Now()
	log := s.Log.With(zap.String("pass", name))
	log.Debug("pass started")
	if err := fn(ctx); err != nil {
		s.Metrics.SchedulerRuns.WithLabelValues(name, "error").Inc()
		log.Error("pass failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	s.Metrics.SchedulerRuns.WithLabelValues(name, "ok").Inc()
	log.Info("pass finished", zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) lessonRemindersPass(ctx context.Context) error {
	_, err := s.SendLessonReminders(ctx)
	return err
}

func (s *Scheduler) unpaidPass(ctx context.Context) error {
	_, err := s.CheckUnpaid(ctx)
	return err
}

func (s *Scheduler) dailySummaryPass(ctx context.Context) error {
	_, err := s.SendDailySummary(ctx)
	return err
}

// cronLogger routes the runner's own messages into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
