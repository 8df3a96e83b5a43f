package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

const (
	enrollmentErrorText = "❌ Something went wrong while enrolling you. Please contact the administrator."
	feedbackThanksText  = "Thank you for your feedback! Your opinion matters to us. 💙"
	cancellationText    = "We're sorry you decided to cancel. We hope to see you again! 👋"
)

// Handlers holds the per-kind event handlers of both platforms.
type Handlers struct {
	registry  Registry
	allocator *CapacityAllocator
	mediator  *SyncMediator
	notifier  Notifier
	log       *zap.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(reg Registry, alloc *CapacityAllocator, med *SyncMediator, notifier Notifier, log *zap.Logger) *Handlers {
	return &Handlers{registry: reg, allocator: alloc, mediator: med, notifier: notifier, log: log}
}

// RegisterAll binds every handler to the dispatcher.
func (h *Handlers) RegisterAll(d *EventDispatcher) {
	d.Register(model.SourceMessenger, model.KindNewLead, h.NewLead)
	d.Register(model.SourceMessenger, model.KindPaymentConfirmed, h.PaymentConfirmed)
	d.Register(model.SourceMessenger, model.KindFeedbackReceived, h.FeedbackReceived)
	d.Register(model.SourceMessenger, model.KindCancellation, h.Cancellation)
	d.Register(model.SourceRegistry, model.KindStudentStatusChanged, h.StatusChanged)
	d.Register(model.SourceRegistry, model.KindPaymentCreated, h.PaymentCreated)
	d.Register(model.SourceRegistry, model.KindGroupFull, h.GroupFull)
	d.Register(model.SourceRegistry, model.KindLessonCompleted, h.LessonCompleted)
}

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: empty data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return v, nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrMalformedEvent, field)
}

// partial reports a failure that happened after durable Registry writes.
// Those writes stay; the administrator is told so the gap can be closed.
func (h *Handlers) partial(ctx context.Context, what, personID string, err error) error {
	h.log.Error("partial completion", zap.String("step", what), zap.String("person_id", personID), zap.Error(err))
	h.notifier.Notify(ctx, fmt.Sprintf("Partial completion for student %s: %s failed: %v", personID, what, err))
	return fmt.Errorf("%s: %w", what, err)
}

// NewLead registers a lead in the CRM, seats them in a group and confirms.
func (h *Handlers) NewLead(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.NewLeadData](ev.Data)
	if err != nil {
		return err
	}
	switch {
	case data.Phone == "":
		return missing("phone")
	case data.CourseID == "":
		return missing("course_id")
	}

	person, err := h.registry.FindOrCreatePerson(ctx, data.Phone, data.Name, data.Email)
	if err != nil {
		h.apologize(ctx, data.LeadID)
		return fmt.Errorf("find or create student: %w", err)
	}

	group, err := h.enrolledGroup(ctx, person, data.CourseID)
	if err != nil {
		h.apologize(ctx, data.LeadID)
		return err
	}

	if _, err := h.mediator.ApplyStatus(ctx, person.ID, model.StatusRegistered); err != nil {
		return h.partial(ctx, "status update to registered", person.ID, err)
	}

	recipient := data.LeadID
	if recipient == "" {
		recipient = person.MessengerID
	}
	if recipient == "" {
		h.log.Info("lead has no messenger account, confirmation skipped", zap.String("person_id", person.ID))
		return nil
	}
	text := fmt.Sprintf("✅ You are enrolled in group #%s!\n\n📅 Classes start: %s\n⏰ Time: %s\n👥 Seats taken: %d/%d",
		group.DisplayName(), group.StartDate, group.Schedule, group.MembersCount, model.MaxGroupSize)
	if err := h.mediator.Announce(ctx, recipient, model.StatusRegistered, text); err != nil {
		return h.partial(ctx, "enrollment confirmation", person.ID, err)
	}
	h.log.Info("lead processed", zap.String("person_id", person.ID), zap.String("group_id", group.ID))
	return nil
}

// enrolledGroup returns the group the person already holds in this course,
// which makes a redelivered new_lead safe, or assigns a new seat.
func (h *Handlers) enrolledGroup(ctx context.Context, person *model.Person, courseID string) (*model.Group, error) {
	if person.GroupID != "" {
		g, err := h.registry.GetGroup(ctx, person.GroupID)
		if err == nil && g.CourseID == courseID {
			h.log.Info("student already enrolled in course", zap.String("person_id", person.ID), zap.String("group_id", g.ID))
			return g, nil
		}
	}
	return h.allocator.Assign(ctx, person.ID, courseID)
}

func (h *Handlers) apologize(ctx context.Context, recipient string) {
	if err := h.mediator.Reply(ctx, recipient, enrollmentErrorText); err != nil {
		h.log.Error("could not send enrollment error message", zap.Error(err))
	}
}

// PaymentConfirmed records a payment, marks the student paid and sends one
// receipt.
func (h *Handlers) PaymentConfirmed(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.PaymentData](ev.Data)
	if err != nil {
		return err
	}
	switch {
	case data.StudentID == "":
		return missing("student_id")
	case data.Amount <= 0:
		return missing("positive amount")
	}

	if err := h.mediator.ApplyPayment(ctx, data.StudentID, data.Amount); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if _, err := h.mediator.ApplyStatus(ctx, data.StudentID, model.StatusPaid); err != nil {
		return h.partial(ctx, "status update to paid", data.StudentID, err)
	}
	change := model.Change{PersonID: data.StudentID, MessengerID: data.MessengerID, Payment: data.Amount}
	if err := h.mediator.Propagate(ctx, change); err != nil {
		return h.partial(ctx, "payment receipt", data.StudentID, err)
	}
	h.log.Info("payment processed", zap.String("person_id", data.StudentID), zap.Int64("amount", data.Amount))
	return nil
}

// FeedbackReceived stores a lesson rating and thanks the student.
func (h *Handlers) FeedbackReceived(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.FeedbackData](ev.Data)
	if err != nil {
		return err
	}
	if (data.Rating == 0 || data.LessonID == "") && data.Callback != "" {
		if rating, lesson, ok := ParseRatingToken(data.Callback); ok {
			if data.Rating == 0 {
				data.Rating = rating
			}
			if data.LessonID == "" {
				data.LessonID = lesson
			}
		}
	}
	switch {
	case data.StudentID == "":
		return missing("student_id")
	case data.LessonID == "":
		return missing("lesson_id")
	case data.Rating < 1 || data.Rating > 5:
		return fmt.Errorf("%w: %w", ErrMalformedEvent, ErrInvalidRating)
	}

	fb := model.Feedback{StudentID: data.StudentID, LessonID: data.LessonID, Rating: data.Rating, Comment: data.Comment}
	if err := h.registry.SubmitFeedback(ctx, fb); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	if err := h.mediator.Reply(ctx, data.MessengerID, feedbackThanksText); err != nil {
		return h.partial(ctx, "feedback thank-you", data.StudentID, err)
	}
	h.log.Info("feedback stored", zap.String("person_id", data.StudentID), zap.Int("rating", data.Rating))
	return nil
}

// Cancellation marks the student cancelled and says goodbye.
func (h *Handlers) Cancellation(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.CancellationData](ev.Data)
	if err != nil {
		return err
	}
	if data.StudentID == "" {
		return missing("student_id")
	}

	if _, err := h.mediator.ApplyStatus(ctx, data.StudentID, model.StatusCancelled); err != nil {
		return fmt.Errorf("update status to cancelled: %w", err)
	}
	if data.MessengerID == "" {
		h.log.Info("cancellation without messenger account", zap.String("person_id", data.StudentID))
		return nil
	}
	if err := h.mediator.Announce(ctx, data.MessengerID, model.StatusCancelled, cancellationText); err != nil {
		return h.partial(ctx, "cancellation message", data.StudentID, err)
	}
	h.log.Info("cancellation processed", zap.String("person_id", data.StudentID), zap.String("reason", data.Reason))
	return nil
}

// StatusChanged forwards a Registry status change to the student, unless it
// is the echo of a write this service made.
func (h *Handlers) StatusChanged(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.StatusChangedData](ev.Data)
	if err != nil {
		return err
	}
	switch {
	case data.StudentID == "":
		return missing("student_id")
	case data.Status == "":
		return missing("status")
	}
	if h.mediator.IsEcho(data.SyncTag) {
		h.log.Info("echo of own status write, not propagating", zap.String("person_id", data.StudentID))
		return nil
	}
	change := model.Change{
		PersonID:    data.StudentID,
		MessengerID: h.messengerID(ctx, data.StudentID, data.MessengerID),
		Status:      data.Status,
	}
	return h.mediator.Propagate(ctx, change)
}

// PaymentCreated forwards a payment recorded directly in the Registry.
func (h *Handlers) PaymentCreated(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.PaymentData](ev.Data)
	if err != nil {
		return err
	}
	if data.StudentID == "" {
		return missing("student_id")
	}
	if h.mediator.IsEcho(data.SyncTag) {
		h.log.Info("echo of own payment write, not propagating", zap.String("person_id", data.StudentID))
		return nil
	}
	if data.Paid != nil && !*data.Paid {
		h.log.Info("unpaid payment record, nothing to announce", zap.String("person_id", data.StudentID))
		return nil
	}
	change := model.Change{
		PersonID:    data.StudentID,
		MessengerID: h.messengerID(ctx, data.StudentID, data.MessengerID),
		Payment:     data.Amount,
	}
	return h.mediator.Propagate(ctx, change)
}

// GroupFull marks a group full as reported by the Registry.
func (h *Handlers) GroupFull(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.GroupFullData](ev.Data)
	if err != nil {
		return err
	}
	if data.GroupID == "" {
		return missing("group_id")
	}
	if !h.allocator.MarkFull(ctx, data.GroupID, data.MembersCount) {
		h.log.Info("group already known to be full", zap.String("group_id", data.GroupID))
	}
	return nil
}

// LessonCompleted asks every student of the lesson for a rating.
func (h *Handlers) LessonCompleted(ctx context.Context, ev model.InboundEvent) error {
	data, err := decode[model.LessonCompletedData](ev.Data)
	if err != nil {
		return err
	}
	if data.LessonID == "" {
		return missing("lesson_id")
	}

	students := data.Students
	if data.MessengerID != "" || data.StudentID != "" {
		students = append(students, model.Member{ID: data.StudentID, MessengerID: data.MessengerID})
	}
	if len(students) == 0 && data.GroupID != "" {
		g, err := h.registry.GetGroup(ctx, data.GroupID)
		if err != nil {
			return fmt.Errorf("load group %s: %w", data.GroupID, err)
		}
		students = g.Students
	}

	var errs []error
	for _, s := range students {
		change := model.Change{PersonID: s.ID, MessengerID: s.MessengerID, FeedbackLessonID: data.LessonID}
		if err := h.mediator.Propagate(ctx, change); err != nil {
			errs = append(errs, fmt.Errorf("student %s: %w", s.ID, err))
		}
	}
	return errors.Join(errs...)
}

// messengerID returns known, or looks the student up when the event did not
// carry their Messenger identity.
func (h *Handlers) messengerID(ctx context.Context, personID, known string) string {
	if known != "" {
		return known
	}
	p, err := h.registry.GetPerson(ctx, personID)
	if err != nil {
		h.log.Warn("could not look up messenger account", zap.String("person_id", personID), zap.Error(err))
		return ""
	}
	return p.MessengerID
}
