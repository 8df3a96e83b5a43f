package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Source identifies the platform that delivered a webhook.
type Source string

const (
	SourceRegistry  Source = "registry"
	SourceMessenger Source = "messenger"
)

// Kind is the event name carried in a webhook envelope.
type Kind string

// Messenger event kinds.
const (
	KindNewLead          Kind = "new_lead"
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindFeedbackReceived Kind = "feedback_received"
	KindCancellation     Kind = "cancellation"
)

// Registry event kinds.
const (
	KindStudentStatusChanged Kind = "student.status_changed"
	KindPaymentCreated       Kind = "payment.created"
	KindGroupFull            Kind = "group.full"
	KindLessonCompleted      Kind = "lesson.completed"
)

// KnownKinds lists every kind a source is expected to deliver.
var KnownKinds = map[Source][]Kind{
	SourceMessenger: {KindNewLead, KindPaymentConfirmed, KindFeedbackReceived, KindCancellation},
	SourceRegistry:  {KindStudentStatusChanged, KindPaymentCreated, KindGroupFull, KindLessonCompleted},
}

// Envelope is the JSON body both platforms post to their webhook endpoint.
type Envelope struct {
	Event   string          `json:"event"`
	EventID string          `json:"event_id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// InboundEvent is a webhook admitted for dispatch.
type InboundEvent struct {
	Source     Source
	Kind       Kind
	DedupKey   string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// NewInboundEvent builds an InboundEvent from a decoded envelope. The
// dedup key is the source-provided identifier when there is one, otherwise a
// hash of the whole payload.
func NewInboundEvent(src Source, env Envelope, now time.Time) InboundEvent {
	key := env.EventID
	if key == "" {
		key = idFromData(env.Data)
	}
	if key == "" {
		key = PayloadHash(src, env)
	} else {
		key = string(src) + ":" + key
	}
	return InboundEvent{
		Source:     src,
		Kind:       Kind(env.Event),
		DedupKey:   key,
		Data:       env.Data,
		ReceivedAt: now,
	}
}

func idFromData(data json.RawMessage) string {
	var ids struct {
		EventID string `json:"event_id"`
	}
	if len(data) == 0 || json.Unmarshal(data, &ids) != nil {
		return ""
	}
	return ids.EventID
}

// PayloadHash returns a stable hex digest of an envelope. Whitespace
// differences in the payload do not change the digest.
func PayloadHash(src Source, env Envelope) string {
	h := sha256.New()
	h.Write([]byte(src))
	h.Write([]byte{0})
	h.Write([]byte(env.Event))
	h.Write([]byte{0})
	var buf bytes.Buffer
	if err := json.Compact(&buf, env.Data); err == nil {
		h.Write(buf.Bytes())
	} else {
		h.Write(env.Data)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Change is a state change to be reflected on the Messenger side.
type Change struct {
	PersonID         string
	MessengerID      string
	Status           Status
	Payment          int64
	FeedbackLessonID string
}

// NewLeadData is the payload of a Messenger new_lead event.
type NewLeadData struct {
	LeadID   string `json:"lead_id"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	CourseID string `json:"course_id"`
}

// PaymentData is the payload of payment_confirmed and payment.created events.
type PaymentData struct {
	StudentID   string `json:"student_id"`
	Amount      int64  `json:"amount"`
	Paid        *bool  `json:"paid,omitempty"`
	MessengerID string `json:"suvvi_id"`
	SyncTag     string `json:"sync_tag,omitempty"`
}

// FeedbackData is the payload of a Messenger feedback_received event.
type FeedbackData struct {
	StudentID   string `json:"student_id"`
	LessonID    string `json:"lesson_id"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment"`
	Callback    string `json:"callback_data"`
	MessengerID string `json:"suvvi_id"`
}

// CancellationData is the payload of a Messenger cancellation event.
type CancellationData struct {
	StudentID   string `json:"student_id"`
	Reason      string `json:"reason"`
	MessengerID string `json:"suvvi_id"`
}

// StatusChangedData is the payload of a Registry student.status_changed event.
type StatusChangedData struct {
	StudentID   string `json:"student_id"`
	Status      Status `json:"status"`
	MessengerID string `json:"suvvi_id"`
	SyncTag     string `json:"sync_tag,omitempty"`
}

// GroupFullData is the payload of a Registry group.full event.
type GroupFullData struct {
	GroupID      string `json:"group_id"`
	CourseID     string `json:"course_id"`
	MembersCount int    `json:"members_count"`
}

// LessonCompletedData is the payload of a Registry lesson.completed event.
type LessonCompletedData struct {
	LessonID    string   `json:"lesson_id"`
	GroupID     string   `json:"group_id"`
	StudentID   string   `json:"student_id,omitempty"`
	MessengerID string   `json:"suvvi_id,omitempty"`
	Students    []Member `json:"students,omitempty"`
}
