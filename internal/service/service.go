// Package service implements the enrollment coordination logic: group seat
// allocation, cross-platform state propagation and idempotent webhook
// dispatch. Remote platforms are reached only through the interfaces below.
package service

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/Shivanand-hulikatti/enrollment-bridge/internal/service Messenger,Notifier

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
)

// ErrAssignmentFailed is returned when a person could not be placed in any
// group after the selection retry.
var ErrAssignmentFailed = errors.New("assignment failed")

// ErrMalformedEvent is returned when an event payload cannot be decoded or
// misses a required field.
var ErrMalformedEvent = errors.New("malformed event")

// ErrInvalidRating is returned for feedback outside the 1..5 range.
var ErrInvalidRating = errors.New("rating must be between 1 and 5")

// Registry is the subset of the CRM façade the services use.
type Registry interface {
	FindOrCreatePerson(ctx context.Context, phone, name, email string) (*model.Person, error)
	GetPerson(ctx context.Context, personID string) (*model.Person, error)
	ListOpenGroups(ctx context.Context, courseID string) ([]model.Group, error)
	GetGroup(ctx context.Context, groupID string) (*model.Group, error)
	CreateGroup(ctx context.Context, courseID string) (*model.Group, error)
	AddMember(ctx context.Context, groupID, personID string) error
	UpdateStatus(ctx context.Context, personID string, status model.Status, tag string) error
	RecordPayment(ctx context.Context, personID string, amount int64, paid bool, at time.Time, tag string) error
	SubmitFeedback(ctx context.Context, fb model.Feedback) error
}

// Messenger sends messages to students.
type Messenger interface {
	SendText(ctx context.Context, recipientID, text, tag string) error
	SendInteractive(ctx context.Context, recipientID, text string, choices []model.Choice, tag string) error
}

// Notifier is the administrator notification sink.
type Notifier interface {
	Notify(ctx context.Context, message string)
}
