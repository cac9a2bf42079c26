package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidatesSubscriptions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		sub  *Subscription
	}{
		{"missing url", &Subscription{Events: []EventType{EventAttendanceCommitted}}},
		{"no events", &Subscription{URL: "https://hr.example.com/hook"}},
		{"unknown event", &Subscription{URL: "https://hr.example.com/hook", Events: []EventType{"attendance.vanished"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Register(tt.sub))
		})
	}
}

func TestRegisterIndexesByEvent(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{
		URL:    "https://hr.example.com/hook",
		Events: []EventType{EventAttendanceCommitted, EventGroupCommitResult},
	}
	require.NoError(t, r.Register(sub))
	require.NotEmpty(t, sub.ID)
	assert.True(t, sub.Active)

	assert.Len(t, r.Subscribers(EventAttendanceCommitted), 1)
	assert.Len(t, r.Subscribers(EventGroupCommitResult), 1)
	assert.Empty(t, r.Subscribers(EventAttendanceRejected))

	require.NoError(t, r.Unregister(sub.ID))
	assert.Empty(t, r.Subscribers(EventAttendanceCommitted))
	assert.Error(t, r.Unregister(sub.ID))
}

func TestChronicFailuresDisableSubscription(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{URL: "https://hr.example.com/hook", Events: []EventType{EventAttendanceCommitted}}
	require.NoError(t, r.Register(sub))

	for i := 0; i < disableAfter-1; i++ {
		r.MarkFailed(sub.ID)
	}
	assert.Len(t, r.Subscribers(EventAttendanceCommitted), 1, "still active below the threshold")

	r.MarkFailed(sub.ID)
	assert.Empty(t, r.Subscribers(EventAttendanceCommitted), "disabled at the threshold")
}

func TestDeliveryResetsFailureStreak(t *testing.T) {
	r := NewRegistry()
	sub := &Subscription{URL: "https://hr.example.com/hook", Events: []EventType{EventAttendanceCommitted}}
	require.NoError(t, r.Register(sub))

	r.MarkFailed(sub.ID)
	r.MarkFailed(sub.ID)
	r.MarkDelivered(sub.ID)

	got, ok := r.Get(sub.ID)
	require.True(t, ok)
	assert.Zero(t, got.FailCount)
}

func TestSignPayloadIsDeterministic(t *testing.T) {
	payload := []byte(`{"type":"attendance.committed"}`)
	a := SignPayload(payload, "topsecret")
	b := SignPayload(payload, "topsecret")
	c := SignPayload(payload, "othersecret")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
