package intake

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftgate/kiosk/pb"
)

func det(frame uint64, ref string) Detection {
	return Detection{
		FrameIndex: frame,
		Box:        pb.BoundingBox{X: 100, Y: 50, Width: 80, Height: 90},
		Confidence: 0.93,
		FrameRef:   ref,
	}
}

func TestMailboxDelivers(t *testing.T) {
	m := NewMailbox()
	m.Post(det(1, "cam0/1"))

	got, ok := m.Receive(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.FrameIndex)
	assert.Equal(t, "cam0/1", got.FrameRef)
}

func TestMailboxMostRecentWins(t *testing.T) {
	m := NewMailbox()
	m.Post(det(1, "cam0/1"))
	m.Post(det(2, "cam0/2"))
	m.Post(det(3, "cam0/3"))

	got, ok := m.Receive(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.FrameIndex)
	assert.Equal(t, uint64(2), m.Dropped())
}

func TestMailboxReceiveWaitsForPost(t *testing.T) {
	m := NewMailbox()
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Post(det(7, "cam0/7"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := m.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.FrameIndex)
}

func TestMailboxReceiveHonoursContext(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := m.Receive(ctx)
	assert.False(t, ok)
}

func TestMailboxCloseDrainsLastFrame(t *testing.T) {
	m := NewMailbox()
	m.Post(det(5, "cam0/5"))
	m.Close()

	got, ok := m.Receive(context.Background())
	require.True(t, ok, "a posted frame survives Close")
	assert.Equal(t, uint64(5), got.FrameIndex)

	_, ok = m.Receive(context.Background())
	assert.False(t, ok)

	m.Post(det(6, "cam0/6")) // ignored after Close
	_, ok = m.Receive(context.Background())
	assert.False(t, ok)
}

func TestDetectionIngressFeedsMailbox(t *testing.T) {
	m := NewMailbox()
	srv := httptest.NewServer(NewDetectionIngress(m))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(det(42, "cam0/42")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, ok := m.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(42), got.FrameIndex)
	assert.Equal(t, "cam0/42", got.FrameRef)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)

	require.NoError(t, conn.WriteJSON(det(43, "cam0/43")))
	got, ok = m.Receive(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(43), got.FrameIndex)
}
