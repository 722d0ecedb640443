package timeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmtrv/parley/internal/api"
	"github.com/dmtrv/parley/internal/realtime"
	"github.com/dmtrv/parley/internal/testutil"
	"github.com/dmtrv/parley/internal/timeline"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// Full round trip through the real transport: login, dial, activate,
// send, echo, deactivate.
func TestClientRoundTrip(t *testing.T) {
	backend := testutil.NewBackend(t)
	now := time.Now().UTC()
	backend.SetHistory(7, []api.HistoryMessage{
		{ID: 1, SenderID: 10, Content: "earlier", Type: realtime.MessageText, CreatedAt: now},
	})

	ctx := context.Background()

	client := api.New(backend.URL(), 5*time.Second, staticToken(""))
	result, err := client.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	authed := api.New(backend.URL(), 5*time.Second, staticToken(result.Token))

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	channel, err := realtime.Dial(dialCtx, backend.SocketURL(), result.Token)
	cancel()
	require.NoError(t, err)
	t.Cleanup(channel.Close)
	backend.WaitConnected(t)

	reconciler := timeline.New(channel, authed, result.User.ID)

	reconciler.Activate(ctx, 7)

	frame := backend.NextFrame(t)
	assert.Equal(t, "joinRoom", frame.Event)

	entries := reconciler.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "earlier", entries[0].Content)
	assert.Equal(t, int64(1), entries[0].HistoryID)

	// Outgoing send reaches the backend but is not rendered locally
	// until the broadcast comes back.
	reconciler.Send(ctx, "hello")
	frame = backend.NextFrame(t)
	assert.Equal(t, "sendMessage", frame.Event)
	assert.Len(t, reconciler.Entries(), 1)

	backend.PushChat(t, 7, result.User.ID, "hello", realtime.MessageText)
	waitFor(t, func() bool { return len(reconciler.Entries()) == 2 }, "echo never appended")

	entries = reconciler.Entries()
	assert.Equal(t, "hello", entries[1].Content)
	assert.Equal(t, result.User.ID, entries[1].Sender)

	// An empty send never reaches the wire.
	reconciler.Send(ctx, "")
	if f, ok := backend.TryNextFrame(200 * time.Millisecond); ok {
		t.Fatalf("empty send emitted a frame: %+v", f)
	}

	reconciler.Deactivate(ctx)
	frame = backend.NextFrame(t)
	assert.Equal(t, "leaveRoom", frame.Event)
}

// A membership notice from the backend lands in the timeline; one for a
// different room's leave does not.
func TestSystemEventsOverTransport(t *testing.T) {
	backend := testutil.NewBackend(t)
	ctx := context.Background()

	client := api.New(backend.URL(), 5*time.Second, staticToken("tok"))

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	channel, err := realtime.Dial(dialCtx, backend.SocketURL(), "tok")
	cancel()
	require.NoError(t, err)
	t.Cleanup(channel.Close)
	backend.WaitConnected(t)

	reconciler := timeline.New(channel, client, 1)
	reconciler.Activate(ctx, 7)
	backend.NextFrame(t) // joinRoom

	backend.PushSystem(t, "joinRoom", 7, 42)
	waitFor(t, func() bool { return len(reconciler.Entries()) == 1 }, "join notice never appended")
	assert.Equal(t, timeline.KindJoined, reconciler.Entries()[0].Kind)

	backend.PushSystem(t, "leaveRoom", 99, 42)
	backend.PushChat(t, 7, 42, "marker", realtime.MessageText)
	waitFor(t, func() bool { return len(reconciler.Entries()) == 2 }, "marker never appended")

	// The foreign leave was dropped; only the join notice and the
	// marker message remain.
	entries := reconciler.Entries()
	assert.Equal(t, timeline.KindJoined, entries[0].Kind)
	assert.Equal(t, "marker", entries[1].Content)
}
