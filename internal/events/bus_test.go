package events

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeByType(t *testing.T) {
	bus := NewEventBus()
	committed := bus.Subscribe(TypeAttendanceCommitted)

	bus.Emit(TypeAttendanceCommitted, "kiosk/test", "s-1", map[string]interface{}{"record_id": int64(1)})
	bus.Emit(TypeAttendanceRejected, "kiosk/test", "s-2", map[string]interface{}{"code": "early_clockout"})

	ev := <-committed
	assert.Equal(t, TypeAttendanceCommitted, ev.Type)
	assert.Equal(t, "s-1", ev.Subject)
	assert.Empty(t, committed, "rejected event must not reach a committed-only subscriber")
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	all := bus.Subscribe()

	bus.Emit(TypeGroupAdmitted, "kiosk/test", "s-1", nil)
	bus.Emit(TypeGroupRejected, "kiosk/test", "s-2", nil)

	first := <-all
	second := <-all
	assert.Equal(t, TypeGroupAdmitted, first.Type)
	assert.Equal(t, TypeGroupRejected, second.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestSlowSubscriberLosesEventsNotEngine(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe() // never consumed

	for i := 0; i < 105; i++ {
		bus.Emit(TypeRecognitionTrace, "kiosk/test", "", map[string]interface{}{"frame": i})
	}
	assert.Equal(t, uint64(5), bus.Dropped())
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewCloudEvent(TypeAttendanceCommitted, "kiosk/test", "s-1", nil)
	b := NewCloudEvent(TypeAttendanceCommitted, "kiosk/test", "s-1", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "1.0", a.SpecVersion)
}

func TestSSEFormat(t *testing.T) {
	ev := NewCloudEvent(TypeAttendanceCommitted, "kiosk/test", "s-1", map[string]interface{}{"late": true})
	raw, err := ev.SSEFormat()
	require.NoError(t, err)

	text := string(raw)
	assert.True(t, strings.HasPrefix(text, "event: attendance.committed\n"))
	assert.Contains(t, text, "data: {")
	assert.Contains(t, text, `"late":true`)
	assert.True(t, strings.HasSuffix(text, "\n\n"))
}
