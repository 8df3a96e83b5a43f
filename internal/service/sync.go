package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/metrics"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
)

// statusTemplates are the fixed messages sent when a student's status changes.
var statusTemplates = map[model.Status]string{
	model.StatusRegistered: "✅ You are enrolled in the course!",
	model.StatusPaid:       "💰 Payment received. Thank you!",
	model.StatusCompleted:  "🎓 Congratulations on completing the course!",
	model.StatusCancelled:  "❌ Your enrollment has been cancelled.",
}

const (
	genericStatusText = "Your enrollment status has been updated."
	feedbackPrompt    = "The lesson is over! 🎉\n\nPlease rate it from 1 to 5 and leave a comment."
	ratingPrefix      = "rate_"
)

// SyncMediator is the only component that writes to one platform because of
// something the other reported. Every write it issues carries a sync tag so
// the echo webhook can be recognised and dropped.
type SyncMediator struct {
	registry  Registry
	messenger Messenger
	tags      *TagBook
	metrics   *metrics.Metrics
	log       *zap.Logger
	nowFn     func() time.Time
}

// NewSyncMediator constructs a SyncMediator.
func NewSyncMediator(reg Registry, msg Messenger, tags *TagBook, m *metrics.Metrics, log *zap.Logger) *SyncMediator {
	return &SyncMediator{
		registry:  reg,
		messenger: msg,
		tags:      tags,
		metrics:   m,
		log:       log,
		nowFn:     time.Now,
	}
}

// IsEcho reports whether tag belongs to a write this service issued.
func (m *SyncMediator) IsEcho(tag string) bool {
	return m.tags.Issued(tag)
}

// Propagate reflects a change on the Messenger side: a status template, a
// payment receipt and/or a lesson rating prompt. A change without a
// Messenger identity is skipped.
func (m *SyncMediator) Propagate(ctx context.Context, ch model.Change) error {
	log := m.log.With(zap.String("person_id", ch.PersonID), zap.String("suvvi_id", ch.MessengerID))
	if ch.MessengerID == "" {
		log.Info("no linked messenger account, skipping sync")
		m.metrics.Propagations.WithLabelValues("any", "skipped").Inc()
		return nil
	}

	if ch.Status != "" {
		if err := m.propagateStatus(ctx, ch.MessengerID, ch.Status, log); err != nil {
			return err
		}
	}
	if ch.Payment > 0 {
		text := fmt.Sprintf("💰 Payment of %d sum received.\n\nThank you!", ch.Payment)
		if err := m.messenger.SendText(ctx, ch.MessengerID, text, m.tags.Issue()); err != nil {
			return fmt.Errorf("send payment receipt: %w", err)
		}
		if ch.Status == "" {
			m.tags.RememberDelivery(ch.MessengerID, model.StatusPaid)
		}
		m.metrics.Propagations.WithLabelValues("payment", "sent").Inc()
	}
	if ch.FeedbackLessonID != "" {
		choices := RatingChoices(ch.FeedbackLessonID)
		if err := m.messenger.SendInteractive(ctx, ch.MessengerID, feedbackPrompt, choices, m.tags.Issue()); err != nil {
			return fmt.Errorf("send feedback request: %w", err)
		}
		m.metrics.Propagations.WithLabelValues("feedback_request", "sent").Inc()
	}
	log.Debug("sync to messenger done")
	return nil
}

func (m *SyncMediator) propagateStatus(ctx context.Context, recipient string, status model.Status, log *zap.Logger) error {
	status = status.Normalize()
	if last, ok := m.tags.LastDelivered(recipient); ok && last == status {
		log.Info("recipient already told about this status, suppressing", zap.String("status", string(status)))
		m.metrics.Propagations.WithLabelValues("status", "suppressed").Inc()
		return nil
	}
	text, ok := statusTemplates[status]
	if !ok {
		text = genericStatusText
	}
	return m.Announce(ctx, recipient, status, text)
}

// Announce sends text to a Messenger recipient and records that the
// recipient now knows about status. Handlers use it for status messages with
// custom content, such as the enrollment confirmation with group details.
func (m *SyncMediator) Announce(ctx context.Context, recipient string, status model.Status, text string) error {
	if err := m.messenger.SendText(ctx, recipient, text, m.tags.Issue()); err != nil {
		return fmt.Errorf("send status message: %w", err)
	}
	if status != "" {
		m.tags.RememberDelivery(recipient, status)
	}
	m.metrics.Propagations.WithLabelValues("status", "sent").Inc()
	return nil
}

// Reply sends a tagged free-form text that carries no state, such as a
// thank-you or an error apology.
func (m *SyncMediator) Reply(ctx context.Context, recipient, text string) error {
	if recipient == "" {
		m.log.Info("no linked messenger account, reply dropped")
		return nil
	}
	if err := m.messenger.SendText(ctx, recipient, text, m.tags.Issue()); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// ApplyStatus writes a status to the Registry. The write is skipped when the
// Registry already reports that status, which breaks loops for changes that
// arrive without a usable tag. It reports whether a write was issued.
func (m *SyncMediator) ApplyStatus(ctx context.Context, personID string, status model.Status) (bool, error) {
	log := m.log.With(zap.String("person_id", personID), zap.String("status", string(status)))
	current, err := m.registry.GetPerson(ctx, personID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return false, fmt.Errorf("update status of %s: %w", personID, err)
	case err != nil:
		log.Warn("could not read current status, writing anyway", zap.Error(err))
	case current.Status.Normalize() == status.Normalize():
		log.Info("registry already reports this status, skipping write")
		m.metrics.Propagations.WithLabelValues("registry_status", "suppressed").Inc()
		return false, nil
	}

	if err := m.registry.UpdateStatus(ctx, personID, status, m.tags.Issue()); err != nil {
		return false, err
	}
	m.metrics.Propagations.WithLabelValues("registry_status", "sent").Inc()
	return true, nil
}

// ApplyPayment records a confirmed payment in the Registry.
func (m *SyncMediator) ApplyPayment(ctx context.Context, personID string, amount int64) error {
	if err := m.registry.RecordPayment(ctx, personID, amount, true, m.nowFn(), m.tags.Issue()); err != nil {
		return err
	}
	m.metrics.Propagations.WithLabelValues("registry_payment", "sent").Inc()
	return nil
}

// Sweep drops expired tags.
func (m *SyncMediator) Sweep() int {
	return m.tags.Sweep()
}

// RatingChoices returns the five rating buttons for a lesson.
func RatingChoices(lessonID string) []model.Choice {
	choices := make([]model.Choice, 0, 5)
	for n := 1; n <= 5; n++ {
		choices = append(choices, model.Choice{
			Label: strings.Repeat("⭐", n) + " " + strconv.Itoa(n),
			Token: RatingToken(n, lessonID),
		})
	}
	return choices
}

// RatingToken encodes a rating and lesson into a callback token.
func RatingToken(rating int, lessonID string) string {
	return ratingPrefix + strconv.Itoa(rating) + "_" + lessonID
}

// ParseRatingToken decodes a token produced by RatingToken.
func ParseRatingToken(token string) (int, string, bool) {
	rest, ok := strings.CutPrefix(token, ratingPrefix)
	if !ok {
		return 0, "", false
	}
	num, lesson, ok := strings.Cut(rest, "_")
	if !ok || lesson == "" {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 || n > 5 {
		return 0, "", false
	}
	return n, lesson, true
}
