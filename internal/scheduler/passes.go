package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/messenger"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
)

// sendConcurrency caps parallel reminder sends within a pass.
const sendConcurrency = 4

// dueLesson is a lesson falling in the reminder window, with its group.
type dueLesson struct {
	group  *model.Group
	lesson model.Lesson
}

// Unpaid is a student with no paid payment record, enriched with the
// details a reminder needs.
type Unpaid struct {
	Person    model.Person
	GroupID   string
	StartDate string
	Price     int64
}

// dayBounds returns [start of day, start of next day) for t in loc.
func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// tomorrowWindow returns the next full calendar day after now in loc.
func tomorrowWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	today, _ := dayBounds(now, loc)
	from := today.AddDate(0, 0, 1)
	return from, from.AddDate(0, 0, 1)
}

// lessonsInWindow selects lessons dated in [from, to). Date-only lessons
// start at midnight in loc.
func lessonsInWindow(groups []model.Group, from, to time.Time, loc *time.Location) []dueLesson {
	var due []dueLesson
	for i := range groups {
		g := &groups[i]
		for _, l := range g.Lessons {
			at := l.Date.In(loc)
			if !at.Before(from) && at.Before(to) {
				due = append(due, dueLesson{group: g, lesson: l})
			}
		}
	}
	return due
}

// SendLessonReminders reminds every member of every open group about
// tomorrow's lessons. Members without a Messenger account are skipped. It
// returns the number of reminders sent.
func (s *Scheduler) SendLessonReminders(ctx context.Context) (int, error) {
	groups, err := s.Registry.ListGroups(ctx, registry.GroupFilter{Status: model.GroupOpen})
	if err != nil {
		return 0, fmt.Errorf("list open groups: %w", err)
	}
	for i := range groups {
		if groups[i].Lessons != nil {
			continue
		}
		full, err := s.Registry.GetGroup(ctx, groups[i].ID)
		if err != nil {
			s.Log.Warn("could not load group schedule", zap.String("group_id", groups[i].ID), zap.Error(err))
			continue
		}
		groups[i] = *full
	}

	from, to := tomorrowWindow(s.nowFn(), s.loc)
	due := lessonsInWindow(groups, from, to, s.loc)
	s.Log.Info("lessons due tomorrow", zap.Int("lessons", len(due)), zap.Time("from", from))

	var sent, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for _, d := range due {
		text := lessonReminderText(d.lesson, s.loc)
		for _, member := range d.group.Students {
			if member.MessengerID == "" {
				s.Log.Debug("member without messenger account, skipping", zap.String("person_id", member.ID))
				continue
			}
			g.Go(func() error {
				if err := s.Messenger.SendText(gctx, member.MessengerID, text, ""); err != nil {
					failures.Add(1)
					s.Log.Warn("lesson reminder failed", zap.String("person_id", member.ID), zap.Error(err))
					return nil
				}
				sent.Add(1)
				s.Metrics.RemindersSent.WithLabelValues("lesson").Inc()
				return nil
			})
		}
	}
	_ = g.Wait()

	if n := failures.Load(); n > 0 {
		return int(sent.Load()), fmt.Errorf("%d lesson reminders failed", n)
	}
	return int(sent.Load()), nil
}

func lessonReminderText(l model.Lesson, loc *time.Location) string {
	text := fmt.Sprintf("📚 Reminder: you have a lesson tomorrow!\n\n📅 %s", l.Date.In(loc).Format("02.01.2006"))
	if l.Time != "" {
		text += "\n⏰ " + l.Time
	}
	if l.Location != "" {
		text += "\n📍 " + l.Location
	}
	return text
}

// CheckUnpaid finds enrolled students without a paid payment record and
// sends each one a payment reminder.
func (s *Scheduler) CheckUnpaid(ctx context.Context) ([]Unpaid, error) {
	people, err := s.Registry.ListUnpaid(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unpaid: %w", err)
	}

	groups := map[string]*model.Group{}
	var (
		unpaid []Unpaid
		errs   []error
	)
	for _, p := range people {
		payments, err := s.Registry.GetPayments(ctx, p.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("payments of %s: %w", p.ID, err))
			continue
		}
		if hasPaid(payments) {
			continue
		}

		u := Unpaid{Person: p, GroupID: p.GroupID}
		if p.GroupID != "" {
			g, ok := groups[p.GroupID]
			if !ok {
				g, err = s.Registry.GetGroup(ctx, p.GroupID)
				if err != nil {
					s.Log.Warn("could not load group of unpaid student", zap.String("person_id", p.ID), zap.Error(err))
				}
				groups[p.GroupID] = g
			}
			if g != nil {
				u.StartDate, u.Price = g.StartDate, g.Price
			}
		}
		unpaid = append(unpaid, u)

		if p.MessengerID == "" {
			continue
		}
		if err := s.Messenger.SendText(ctx, p.MessengerID, paymentReminderText(u), ""); err != nil {
			errs = append(errs, fmt.Errorf("remind %s: %w", p.ID, err))
			continue
		}
		s.Metrics.RemindersSent.WithLabelValues("payment").Inc()
	}

	s.Log.Info("unpaid check done", zap.Int("registered", len(people)), zap.Int("unpaid", len(unpaid)))
	return unpaid, errors.Join(errs...)
}

func hasPaid(payments []model.Payment) bool {
	for _, p := range payments {
		if p.Paid {
			return true
		}
	}
	return false
}

func paymentReminderText(u Unpaid) string {
	text := "💳 Reminder: we have not received your course payment yet."
	if u.StartDate != "" {
		text += "\n\n📅 Classes start: " + u.StartDate
	}
	if u.Price > 0 {
		text += fmt.Sprintf("\n💰 Amount due: %d sum", u.Price)
	}
	return text
}

// SendDailySummary aggregates today's figures and sends them to the
// administrator.
func (s *Scheduler) SendDailySummary(ctx context.Context) (model.DailySummary, error) {
	summary, err := s.BuildDailySummary(ctx)
	if err != nil {
		return summary, err
	}
	s.Notifier.Notify(ctx, messenger.FormatDailySummary(summary))
	return summary, nil
}

// BuildDailySummary collects the figures of the current local day.
func (s *Scheduler) BuildDailySummary(ctx context.Context) (model.DailySummary, error) {
	from, to := dayBounds(s.nowFn(), s.loc)
	var sum model.DailySummary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		leads, err := s.Registry.ListStudents(gctx, registry.StudentFilter{CreatedFrom: from, CreatedTo: to})
		if err != nil {
			return fmt.Errorf("new leads: %w", err)
		}
		sum.NewLeads = len(leads)
		return nil
	})
	g.Go(func() error {
		payments, err := s.Registry.ListPayments(gctx, from, to)
		if err != nil {
			return fmt.Errorf("payments: %w", err)
		}
		for _, p := range payments {
			if p.Paid {
				sum.Payments++
				sum.TotalAmount += p.Amount
			}
		}
		return nil
	})
	// The Registry stores a paying student as either paid or active.
	var paid, active int
	g.Go(func() error {
		people, err := s.Registry.ListStudents(gctx, registry.StudentFilter{Status: model.StatusPaid})
		if err != nil {
			return fmt.Errorf("paid students: %w", err)
		}
		paid = len(people)
		return nil
	})
	g.Go(func() error {
		people, err := s.Registry.ListStudents(gctx, registry.StudentFilter{Status: model.StatusActive})
		if err != nil {
			return fmt.Errorf("active students: %w", err)
		}
		active = len(people)
		return nil
	})
	g.Go(func() error {
		open, err := s.Registry.ListGroups(gctx, registry.GroupFilter{Status: model.GroupOpen})
		if err != nil {
			return fmt.Errorf("open groups: %w", err)
		}
		sum.OpenGroups = len(open)
		return nil
	})
	g.Go(func() error {
		full, err := s.Registry.ListGroups(gctx, registry.GroupFilter{Status: model.GroupFull, FilledFrom: from, FilledTo: to})
		if err != nil {
			return fmt.Errorf("full groups: %w", err)
		}
		sum.FullGroups = len(full)
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.DailySummary{}, fmt.Errorf("daily summary: %w", err)
	}
	sum.ActiveStudents = paid + active
	return sum, nil
}

// Purge drops expired dedup records, sync tags and idle seat counts.
func (s *Scheduler) Purge(ctx context.Context) error {
	removed, err := s.Events.Purge(ctx, s.nowFn())
	if err != nil {
		return fmt.Errorf("purge event log: %w", err)
	}
	tags := s.Tags.Sweep()
	seats := s.Seats.Sweep()
	s.Log.Debug("housekeeping done", zap.Int64("events", removed), zap.Int("tags", tags), zap.Int("seats", seats))
	return nil
}
