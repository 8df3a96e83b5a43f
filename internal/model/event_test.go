package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewInboundEvent_DedupKey(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		src  Source
		env  Envelope
		want string
	}{
		{
			name: "envelope id",
			src:  SourceRegistry,
			env:  Envelope{Event: "group.full", EventID: "e-1", Data: json.RawMessage(`{"event_id":"ignored"}`)},
			want: "registry:e-1",
		},
		{
			name: "id inside data",
			src:  SourceMessenger,
			env:  Envelope{Event: "new_lead", Data: json.RawMessage(`{"event_id":"e-2","phone":"1"}`)},
			want: "messenger:e-2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewInboundEvent(tt.src, tt.env, now)
			assert.Equal(t, tt.want, ev.DedupKey)
			assert.Equal(t, Kind(tt.env.Event), ev.Kind)
			assert.Equal(t, now, ev.ReceivedAt)
		})
	}
}

func TestPayloadHash(t *testing.T) {
	a := Envelope{Event: "new_lead", Data: json.RawMessage(`{"phone":"1","course_id":"c1"}`)}
	b := Envelope{Event: "new_lead", Data: json.RawMessage("{ \"phone\": \"1\",\n \"course_id\": \"c1\" }")}
	c := Envelope{Event: "new_lead", Data: json.RawMessage(`{"phone":"2","course_id":"c1"}`)}

	ha := NewInboundEvent(SourceMessenger, a, time.Now()).DedupKey
	assert.True(t, strings.HasPrefix(ha, "sha256:"))
	assert.Equal(t, ha, PayloadHash(SourceMessenger, b), "whitespace must not change the key")
	assert.NotEqual(t, ha, PayloadHash(SourceMessenger, c))
	assert.NotEqual(t, ha, PayloadHash(SourceRegistry, a), "sources have separate key spaces")
}

func TestStatusNormalize(t *testing.T) {
	assert.Equal(t, StatusPaid, StatusActive.Normalize())
	assert.Equal(t, StatusRegistered, StatusRegistered.Normalize())
}
