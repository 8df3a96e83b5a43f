package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
)

type statusWrite struct {
	personID string
	status   model.Status
	tag      string
}

type paymentWrite struct {
	personID string
	amount   int64
	paid     bool
	tag      string
}

// fakeRegistry is an in-memory Registry. Like the real CRM it has no atomic
// "add if under capacity" call, so it happily overfills a group; tests use
// that to observe what the allocator lets through.
type fakeRegistry struct {
	mu       sync.Mutex
	nextID   int
	people   map[string]*model.Person
	groups   map[string]*model.Group
	members  map[string][]string
	added    map[string]int
	statuses []statusWrite
	payments []paymentWrite
	feedback []model.Feedback

	addDelay    time.Duration
	addCalls    int
	createCalls int
	failAdd     func(groupID string, call int) error
	failGet     error
	// hideAdds makes reads lag: the last hideAdds members added through
	// AddMember are left out of every reported count.
	hideAdds int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		nextID:  100,
		people:  map[string]*model.Person{},
		groups:  map[string]*model.Group{},
		members: map[string][]string{},
		added:   map[string]int{},
	}
}

func (f *fakeRegistry) id() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *fakeRegistry) addGroup(id, courseID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[id] = &model.Group{ID: id, CourseID: courseID, Status: model.GroupOpen, StartDate: "2026-11-01", Schedule: "Mon/Wed 18:00"}
	for i := 0; i < count; i++ {
		f.members[id] = append(f.members[id], "seed-"+id+"-"+strconv.Itoa(i))
	}
}

func (f *fakeRegistry) addPerson(p model.Person) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.people[p.ID] = &cp
}

func (f *fakeRegistry) groupView(id string) model.Group {
	g := *f.groups[id]
	g.MembersCount = len(f.members[id]) - min(f.hideAdds, f.added[id])
	if g.MembersCount >= model.MaxGroupSize {
		g.Status = model.GroupFull
	}
	return g
}

// fill seeds groupID up to count members, as if other clients had enrolled.
func (f *fakeRegistry) fill(groupID string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.members[groupID]) < count {
		f.members[groupID] = append(f.members[groupID], "other-"+strconv.Itoa(len(f.members[groupID])))
	}
}

func (f *fakeRegistry) memberCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[id])
}

func (f *fakeRegistry) FindOrCreatePerson(_ context.Context, phone, name, email string) (*model.Person, error) {
	if phone == "" {
		return nil, registry.ErrPhoneRequired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.people {
		if p.Phone == phone {
			cp := *p
			return &cp, nil
		}
	}
	p := &model.Person{ID: f.id(), Phone: phone, Name: name, Email: email, Status: model.StatusNew}
	f.people[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeRegistry) GetPerson(_ context.Context, personID string) (*model.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.people[personID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRegistry) ListOpenGroups(_ context.Context, courseID string) ([]model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Group
	for id, g := range f.groups {
		if g.CourseID != courseID {
			continue
		}
		if v := f.groupView(id); v.Status == model.GroupOpen {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRegistry) GetGroup(_ context.Context, groupID string) (*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	if _, ok := f.groups[groupID]; !ok {
		return nil, registry.ErrNotFound
	}
	g := f.groupView(groupID)
	return &g, nil
}

func (f *fakeRegistry) CreateGroup(_ context.Context, courseID string) (*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	id := f.id()
	f.groups[id] = &model.Group{ID: id, CourseID: courseID, Status: model.GroupOpen}
	g := f.groupView(id)
	return &g, nil
}

func (f *fakeRegistry) AddMember(_ context.Context, groupID, personID string) error {
	f.mu.Lock()
	f.addCalls++
	call := f.addCalls
	fail := f.failAdd
	f.mu.Unlock()

	if fail != nil {
		if err := fail(groupID, call); err != nil {
			return err
		}
	}
	if f.addDelay > 0 {
		time.Sleep(f.addDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.groups[groupID]; !ok {
		return registry.ErrNotFound
	}
	f.members[groupID] = append(f.members[groupID], personID)
	f.added[groupID]++
	if p, ok := f.people[personID]; ok {
		p.GroupID = groupID
	}
	return nil
}

func (f *fakeRegistry) UpdateStatus(_ context.Context, personID string, status model.Status, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.people[personID]
	if !ok {
		return registry.ErrNotFound
	}
	p.Status = status
	f.statuses = append(f.statuses, statusWrite{personID: personID, status: status, tag: tag})
	return nil
}

func (f *fakeRegistry) RecordPayment(_ context.Context, personID string, amount int64, paid bool, _ time.Time, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, paymentWrite{personID: personID, amount: amount, paid: paid, tag: tag})
	return nil
}

func (f *fakeRegistry) SubmitFeedback(_ context.Context, fb model.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, fb)
	return nil
}

// recordingNotifier collects administrator messages.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type sentMessage struct {
	recipient string
	text      string
	choices   []model.Choice
	tag       string
}

// recordingMessenger collects outbound messages.
type recordingMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *recordingMessenger) SendText(_ context.Context, recipient, text, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{recipient: recipient, text: text, tag: tag})
	return nil
}

func (m *recordingMessenger) SendInteractive(_ context.Context, recipient, text string, choices []model.Choice, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{recipient: recipient, text: text, choices: choices, tag: tag})
	return nil
}

func (m *recordingMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

var errRemoteDown = errors.New("remote unavailable")
