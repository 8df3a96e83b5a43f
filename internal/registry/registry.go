// Package registry is a typed façade over the CRM's REST API: students,
// groups, memberships, payments and lesson feedback. It holds no business
// logic.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/remote"
)

// ErrNotFound is returned when the Registry has no such record.
var ErrNotFound = errors.New("registry: not found")

// ErrRejected is returned when the Registry refuses a membership write,
// typically because the group is already full.
var ErrRejected = errors.New("registry: write rejected")

// ErrPhoneRequired is returned when a person lookup has no phone number.
var ErrPhoneRequired = errors.New("registry: phone is required")

// leadSource tags students created by this service in the CRM.
const leadSource = "Suvvi"

// StudentFilter narrows ListStudents.
type StudentFilter struct {
	Status      model.Status
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// GroupFilter narrows ListGroups.
type GroupFilter struct {
	CourseID   string
	Status     model.GroupStatus
	FilledFrom time.Time
	FilledTo   time.Time
}

// Client talks to the Registry.
type Client struct {
	http *remote.Client
}

// New constructs a Client over an authenticated remote client.
func New(http *remote.Client) *Client {
	return &Client{http: http}
}

// FindOrCreatePerson returns the student with the given phone, creating one
// when none exists.
func (c *Client) FindOrCreatePerson(ctx context.Context, phone, name, email string) (*model.Person, error) {
	if phone == "" {
		return nil, ErrPhoneRequired
	}
	var found []model.Person
	if err := c.http.Get(ctx, "/students", url.Values{"phone": {phone}}, &found); err != nil {
		return nil, fmt.Errorf("search student: %w", err)
	}
	if len(found) > 0 {
		return &found[0], nil
	}

	var created model.Person
	body := map[string]string{"name": name, "phone": phone, "email": email, "source": leadSource}
	if err := c.http.Post(ctx, "/students", body, &created); err != nil {
		return nil, fmt.Errorf("create student: %w", err)
	}
	return &created, nil
}

// GetPerson returns a student or ErrNotFound.
func (c *Client) GetPerson(ctx context.Context, personID string) (*model.Person, error) {
	var p model.Person
	if err := c.http.Get(ctx, "/students/"+url.PathEscape(personID), nil, &p); err != nil {
		if remote.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return &p, nil
}

// ListOpenGroups returns open groups of a course, or of every course when
// courseID is empty.
func (c *Client) ListOpenGroups(ctx context.Context, courseID string) ([]model.Group, error) {
	return c.ListGroups(ctx, GroupFilter{CourseID: courseID, Status: model.GroupOpen})
}

// ListGroups returns groups matching filter.
func (c *Client) ListGroups(ctx context.Context, filter GroupFilter) ([]model.Group, error) {
	q := url.Values{}
	if filter.CourseID != "" {
		q.Set("course", filter.CourseID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	setTime(q, "filled_from", filter.FilledFrom)
	setTime(q, "filled_to", filter.FilledTo)

	var groups []model.Group
	if err := c.http.Get(ctx, "/groups", q, &groups); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GetGroup returns a group or ErrNotFound.
func (c *Client) GetGroup(ctx context.Context, groupID string) (*model.Group, error) {
	var g model.Group
	if err := c.http.Get(ctx, "/groups/"+url.PathEscape(groupID), nil, &g); err != nil {
		if remote.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// CreateGroup opens a new group for a course.
func (c *Client) CreateGroup(ctx context.Context, courseID string) (*model.Group, error) {
	var g model.Group
	body := map[string]string{"course_id": courseID, "status": string(model.GroupOpen)}
	if err := c.http.Post(ctx, "/groups", body, &g); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if g.CourseID == "" {
		g.CourseID = courseID
	}
	if g.Status == "" {
		g.Status = model.GroupOpen
	}
	return &g, nil
}

// AddMember enrolls a student into a group.
func (c *Client) AddMember(ctx context.Context, groupID, personID string) error {
	body := map[string]string{"student_id": personID}
	if err := c.http.Post(ctx, "/groups/"+url.PathEscape(groupID)+"/members", body, nil); err != nil {
		if remote.IsConflict(err) {
			return fmt.Errorf("add member to %s: %w: %w", groupID, ErrRejected, err)
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// UpdateStatus changes a student's status. The tag is echoed back by the
// Registry on the resulting webhook.
func (c *Client) UpdateStatus(ctx context.Context, personID string, status model.Status, tag string) error {
	body := map[string]string{"status": string(status), "sync_tag": tag}
	if err := c.http.Patch(ctx, "/students/"+url.PathEscape(personID), body, nil); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// RecordPayment attaches a payment record to a student.
func (c *Client) RecordPayment(ctx context.Context, personID string, amount int64, paid bool, at time.Time, tag string) error {
	body := map[string]any{
		"amount":   amount,
		"paid":     paid,
		"paid_at":  at.UTC().Format(time.RFC3339),
		"sync_tag": tag,
	}
	if err := c.http.Post(ctx, "/students/"+url.PathEscape(personID)+"/payments", body, nil); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// GetPayments lists a student's payment records.
func (c *Client) GetPayments(ctx context.Context, personID string) ([]model.Payment, error) {
	var payments []model.Payment
	if err := c.http.Get(ctx, "/students/"+url.PathEscape(personID)+"/payments", nil, &payments); err != nil {
		return nil, fmt.Errorf("get payments: %w", err)
	}
	return payments, nil
}

// ListUnpaid returns students enrolled but not yet paid. Callers confirm the
// classification against each student's payment records.
func (c *Client) ListUnpaid(ctx context.Context) ([]model.Person, error) {
	return c.ListStudents(ctx, StudentFilter{Status: model.StatusRegistered})
}

// ListStudents returns students matching filter.
func (c *Client) ListStudents(ctx context.Context, filter StudentFilter) ([]model.Person, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	setTime(q, "created_from", filter.CreatedFrom)
	setTime(q, "created_to", filter.CreatedTo)

	var people []model.Person
	if err := c.http.Get(ctx, "/students", q, &people); err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return people, nil
}

// ListPayments returns paid payment records dated in [from, to).
func (c *Client) ListPayments(ctx context.Context, from, to time.Time) ([]model.Payment, error) {
	q := url.Values{"paid": {strconv.FormatBool(true)}}
	setTime(q, "from", from)
	setTime(q, "to", to)

	var payments []model.Payment
	if err := c.http.Get(ctx, "/payments", q, &payments); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// SubmitFeedback stores a lesson rating.
func (c *Client) SubmitFeedback(ctx context.Context, fb model.Feedback) error {
	if err := c.http.Post(ctx, "/feedback", fb, nil); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

func setTime(q url.Values, key string, t time.Time) {
	if !t.IsZero() {
		q.Set(key, t.UTC().Format(time.RFC3339))
	}
}
