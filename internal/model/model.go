// Package model defines the core domain types shared by the Registry and
// Messenger façades, the enrollment services and the HTTP layer.
package model

import "time"

// MaxGroupSize is the fixed seat capacity of every group.
const MaxGroupSize = 8

// Status is a student's lifecycle status as stored by the Registry.
type Status string

const (
	StatusNew        Status = "new"
	StatusRegistered Status = "registered"
	StatusPaid       Status = "paid"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Normalize folds the Registry's "active" alias into "paid".
func (s Status) Normalize() Status {
	if s == StatusActive {
		return StatusPaid
	}
	return s
}

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupOpen   GroupStatus = "open"
	GroupFull   GroupStatus = "full"
	GroupClosed GroupStatus = "closed"
)

// Person represents a prospective or enrolled student owned by the Registry.
type Person struct {
	ID          string     `json:"id"`
	MessengerID string     `json:"suvvi_id,omitempty"`
	Phone       string     `json:"phone"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Status      Status     `json:"status,omitempty"`
	GroupID     string     `json:"group_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Member is a student as listed inside a group.
type Member struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	MessengerID string `json:"suvvi_id,omitempty"`
}

// Lesson is one scheduled session of a group.
type Lesson struct {
	ID       string     `json:"id"`
	Date     LessonDate `json:"date"`
	Time     string     `json:"time,omitempty"`
	Location string     `json:"location,omitempty"`
}

// Group is a capacity-bounded cohort for a course.
type Group struct {
	ID           string      `json:"id"`
	CourseID     string      `json:"course_id"`
	Name         string      `json:"name,omitempty"`
	Status       GroupStatus `json:"status"`
	MembersCount int         `json:"members_count"`
	StartDate    string      `json:"start_date,omitempty"`
	Schedule     string      `json:"schedule,omitempty"`
	Price        int64       `json:"price,omitempty"`
	FilledAt     *time.Time  `json:"filled_at,omitempty"`
	Lessons      []Lesson    `json:"lessons,omitempty"`
	Students     []Member    `json:"students,omitempty"`
}

// IsFull returns true when no seats remain.
func (g *Group) IsFull() bool {
	return g.MembersCount >= MaxGroupSize
}

// DisplayName returns the group's name, falling back to its identifier.
func (g *Group) DisplayName() string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}

// Payment is a payment record attached to a student in the Registry.
type Payment struct {
	ID        string    `json:"id,omitempty"`
	StudentID string    `json:"student_id"`
	Amount    int64     `json:"amount"`
	Paid      bool      `json:"paid"`
	PaidAt    time.Time `json:"paid_at"`
}

// Feedback is a lesson rating left by a student.
type Feedback struct {
	StudentID string `json:"student_id"`
	LessonID  string `json:"lesson_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

// Choice is one interactive button attached to an outbound message.
type Choice struct {
	Label string `json:"text"`
	Token string `json:"callback_data"`
}

// GroupSlots summarises free seats of a single open group.
type GroupSlots struct {
	GroupID   string `json:"group_id"`
	CourseID  string `json:"course_id"`
	Available int    `json:"available"`
	Total     int    `json:"total"`
	StartDate string `json:"start_date,omitempty"`
	Schedule  string `json:"schedule,omitempty"`
}

// Slots summarises the free seats of a course across its open groups.
type Slots struct {
	TotalAvailable int          `json:"total_available"`
	Groups         []GroupSlots `json:"groups"`
}

// DailySummary is the aggregate delivered to the administrator every evening.
type DailySummary struct {
	NewLeads       int   `json:"new_leads"`
	Payments       int   `json:"payments"`
	TotalAmount    int64 `json:"total_amount"`
	ActiveStudents int   `json:"active_students"`
	OpenGroups     int   `json:"open_groups"`
	FullGroups     int   `json:"full_groups"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
