package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"screen-share/internal/store"
	sig "screen-share/pkg/signal"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// codeQueue hands out the given codes in order, then repeats the last one.
func codeQueue(codes ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c
	}
}

type fixture struct {
	srv      *Server
	rooms    *store.RoomStore
	sessions *store.SessionStore
	clock    *testClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	clock := newTestClock()
	rooms := store.NewRoomStore(store.WithClock(clock.Now))
	sessions := store.NewSessionStore(store.WithClock(clock.Now))
	return &fixture{
		srv:      NewServer(rooms, sessions, opts),
		rooms:    rooms,
		sessions: sessions,
		clock:    clock,
	}
}

// connect registers an in-memory connection; frames land on its Send channel.
func (f *fixture) connect(id string) *Client {
	c := &Client{
		Send:          make(chan []byte, 64),
		ParticipantID: id,
		Server:        f.srv,
	}
	f.srv.registerClient(c)
	return c
}

func (f *fixture) send(t *testing.T, c *Client, typ sig.MessageType, payload any) {
	t.Helper()
	b, err := sig.Encode(typ, payload)
	require.NoError(t, err)
	f.srv.RouteMessage(c, b)
}

// recv pops the next queued frame; handlers run synchronously, so a
// missing frame is a failure rather than a wait.
func recv(t *testing.T, c *Client) sig.Envelope {
	t.Helper()
	select {
	case b, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var env sig.Envelope
		require.NoError(t, json.Unmarshal(b, &env))
		return env
	default:
		require.FailNow(t, "no frame queued for "+c.ParticipantID)
		return sig.Envelope{}
	}
}

func recvRaw(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case b := <-c.Send:
		return b
	default:
		require.FailNow(t, "no frame queued for "+c.ParticipantID)
		return nil
	}
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b, ok := <-c.Send:
		if ok {
			require.FailNow(t, "unexpected frame for "+c.ParticipantID+": "+string(b))
		}
	default:
	}
}

func payload[T any](t *testing.T, env sig.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
