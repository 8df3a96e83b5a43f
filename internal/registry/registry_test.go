package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/model"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/registry"
	"github.com/Shivanand-hulikatti/enrollment-bridge/internal/remote"
)

type crmStub struct {
	students  []model.Person
	created   map[string]string
	patched   map[string]string
	payments  map[string]any
	lastQuery string
}

func (s *crmStub) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/students", func(w http.ResponseWriter, r *http.Request) {
		s.lastQuery = r.URL.RawQuery
		phone := r.URL.Query().Get("phone")
		out := []model.Person{}
		for _, p := range s.students {
			if phone == "" || p.Phone == phone {
				out = append(out, p)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	r.Post("/students", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&s.created)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(model.Person{ID: "new-1", Phone: s.created["phone"], Name: s.created["name"]})
	})
	r.Get("/students/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, p := range s.students {
			if p.ID == chi.URLParam(r, "id") {
				_ = json.NewEncoder(w).Encode(p)
				return
			}
		}
		http.NotFound(w, r)
	})
	r.Patch("/students/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&s.patched)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/students/{id}/payments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&s.payments)
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/groups", func(w http.ResponseWriter, r *http.Request) {
		s.lastQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]model.Group{{ID: "g1", CourseID: "C1", Status: model.GroupOpen, MembersCount: 3}})
	})
	r.Get("/groups/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != "dated" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"dated","course_id":"C1","members_count":2,
			"lessons":[{"id":"L1","date":"2026-11-02"},{"id":"L2","date":"2026-11-03T14:00:00Z"},{"id":"L3","date":null}]}`))
	})
	r.Post("/groups", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(model.Group{ID: "g2"})
	})
	r.Post("/groups/{id}/members", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") == "full" {
			http.Error(w, `{"error":"group is full"}`, http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	return r
}

func newClient(t *testing.T, stub *crmStub) *registry.Client {
	t.Helper()
	srv := httptest.NewServer(stub.router())
	t.Cleanup(srv.Close)
	return registry.New(remote.New(srv.URL, "tok", time.Second))
}

func TestFindOrCreatePerson(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("existing student is reused", func(t *testing.T) {
		t.Parallel()
		stub := &crmStub{students: []model.Person{{ID: "s1", Phone: "+998901112233"}}}
		c := newClient(t, stub)

		p, err := c.FindOrCreatePerson(ctx, "+998901112233", "Aziz", "")
		require.NoError(t, err)
		assert.Equal(t, "s1", p.ID)
		assert.Nil(t, stub.created)
	})

	t.Run("missing student is created", func(t *testing.T) {
		t.Parallel()
		stub := &crmStub{}
		c := newClient(t, stub)

		p, err := c.FindOrCreatePerson(ctx, "+998907778899", "Dilnoza", "d@example.com")
		require.NoError(t, err)
		assert.Equal(t, "new-1", p.ID)
		assert.Equal(t, "Suvvi", stub.created["source"])
		assert.Equal(t, "d@example.com", stub.created["email"])
	})

	t.Run("phone is required", func(t *testing.T) {
		t.Parallel()
		c := newClient(t, &crmStub{})
		_, err := c.FindOrCreatePerson(ctx, "", "x", "")
		assert.ErrorIs(t, err, registry.ErrPhoneRequired)
	})
}

func TestGetPerson_NotFound(t *testing.T) {
	t.Parallel()
	c := newClient(t, &crmStub{})

	_, err := c.GetPerson(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestUpdateStatusAndPaymentCarryTag(t *testing.T) {
	t.Parallel()
	stub := &crmStub{}
	c := newClient(t, stub)
	ctx := context.Background()

	require.NoError(t, c.UpdateStatus(ctx, "s1", model.StatusPaid, "eb-tag-1"))
	assert.Equal(t, "paid", stub.patched["status"])
	assert.Equal(t, "eb-tag-1", stub.patched["sync_tag"])

	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, c.RecordPayment(ctx, "s1", 500000, true, at, "eb-tag-2"))
	assert.EqualValues(t, 500000, stub.payments["amount"])
	assert.Equal(t, true, stub.payments["paid"])
	assert.Equal(t, "2026-05-01T09:30:00Z", stub.payments["paid_at"])
	assert.Equal(t, "eb-tag-2", stub.payments["sync_tag"])
}

func TestGroups(t *testing.T) {
	t.Parallel()
	stub := &crmStub{}
	c := newClient(t, stub)
	ctx := context.Background()

	groups, err := c.ListOpenGroups(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "course=C1&status=open", stub.lastQuery)

	g, err := c.CreateGroup(ctx, "C7")
	require.NoError(t, err)
	assert.Equal(t, "g2", g.ID)
	assert.Equal(t, "C7", g.CourseID, "course id is filled in when the API omits it")
	assert.Equal(t, model.GroupOpen, g.Status)
}

func TestAddMember(t *testing.T) {
	c := newClient(t, &crmStub{})
	ctx := context.Background()

	require.NoError(t, c.AddMember(ctx, "g1", "s1"))

	err := c.AddMember(ctx, "full", "s1")
	assert.ErrorIs(t, err, registry.ErrRejected)
}

func TestGetGroup_DateOnlyLessons(t *testing.T) {
	c := newClient(t, &crmStub{})

	g, err := c.GetGroup(context.Background(), "dated")
	require.NoError(t, err)
	require.Len(t, g.Lessons, 3)

	zone := time.FixedZone("UZT", 5*60*60)
	assert.True(t, g.Lessons[0].Date.DateOnly)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, zone), g.Lessons[0].Date.In(zone))
	assert.False(t, g.Lessons[1].Date.DateOnly)
	assert.Equal(t, time.Date(2026, 11, 3, 14, 0, 0, 0, time.UTC), g.Lessons[1].Date.Time)
	assert.True(t, g.Lessons[2].Date.IsZero())
}
