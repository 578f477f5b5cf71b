package server

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"screen-share/internal/store"
	sig "screen-share/pkg/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openRoom has host create AB12CD and viewer join it, draining the frames.
func openRoom(t *testing.T, f *fixture, host *Client, viewers ...*Client) {
	t.Helper()
	f.send(t, host, sig.MsgTypeCreateRoom, nil)
	created := payload[sig.RoomCreated](t, recv(t, host))
	require.True(t, created.Success)

	for _, v := range viewers {
		f.send(t, v, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: created.RoomCode})
		require.True(t, payload[sig.RoomJoined](t, recv(t, v)).Success)
		for _, other := range append([]*Client{host}, viewers...) {
			if other != v && other.RoomCode() == created.RoomCode {
				assert.Equal(t, sig.MsgTypeViewerJoined, recv(t, other).Type)
			}
		}
	}
}

func TestCreateAndJoinScenario(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host := f.connect("user_host")
	viewer := f.connect("user_123")

	f.send(t, host, sig.MsgTypeCreateRoom, nil)
	env := recv(t, host)
	assert.Equal(t, sig.MsgTypeRoomCreated, env.Type)
	created := payload[sig.RoomCreated](t, env)
	assert.Equal(t, sig.RoomCreated{RoomCode: "AB12CD", Success: true, ParticipantID: "user_host"}, created)

	f.send(t, viewer, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: "AB12CD"})
	env = recv(t, viewer)
	assert.Equal(t, sig.MsgTypeRoomJoined, env.Type)
	joined := payload[sig.RoomJoined](t, env)
	assert.Equal(t, "AB12CD", joined.RoomCode)
	assert.True(t, joined.Success)
	assert.Equal(t, 1, joined.ViewerCount)

	env = recv(t, host)
	assert.Equal(t, sig.MsgTypeViewerJoined, env.Type)
	assert.Equal(t, sig.ViewerJoined{ViewerID: "user_123", ViewerCount: 1}, payload[sig.ViewerJoined](t, env))
	expectNone(t, viewer)

	room, ok := f.rooms.GetRoom("AB12CD")
	require.True(t, ok)
	assert.Equal(t, "user_host", room.HostID)
	assert.Equal(t, []string{"user_123"}, room.Viewers)
	assert.Len(t, f.sessions.GetSessionsByRoom("AB12CD"), 2)
	assert.Equal(t, store.RoleHost, host.Role())
	assert.Equal(t, store.RoleViewer, viewer.Role())
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture(t, Options{})
	viewer := f.connect("user_1")

	f.send(t, viewer, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: "ZZZZZZ"})
	joined := payload[sig.RoomJoined](t, recv(t, viewer))

	assert.False(t, joined.Success)
	assert.Equal(t, 0, f.rooms.ActiveCount())
	assert.Equal(t, 0, f.sessions.TotalCount())
	assert.Empty(t, viewer.RoomCode())
}

func TestJoinInvalidCode(t *testing.T) {
	f := newFixture(t, Options{})
	viewer := f.connect("user_1")

	for _, code := range []string{"", "ABC", "AB-12C", "AB12CDE"} {
		f.send(t, viewer, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: code})
		joined := payload[sig.RoomJoined](t, recv(t, viewer))
		assert.False(t, joined.Success, "code %q", code)
		assert.Equal(t, "invalid room code", joined.Error)
	}
	assert.Equal(t, 0, f.sessions.TotalCount())
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host := f.connect("host")
	viewer := f.connect("viewer")
	f.send(t, host, sig.MsgTypeCreateRoom, nil)
	recv(t, host)

	f.send(t, viewer, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: " ab12cd "})
	joined := payload[sig.RoomJoined](t, recv(t, viewer))
	assert.True(t, joined.Success)
	assert.Equal(t, "AB12CD", viewer.RoomCode())
}

func TestJoinFullRoom(t *testing.T) {
	f := newFixture(t, Options{MaxViewers: 1, GenerateCode: codeQueue("AB12CD")})
	host, v1, v2 := f.connect("host"), f.connect("v1"), f.connect("v2")
	openRoom(t, f, host, v1)

	f.send(t, v2, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: "AB12CD"})
	joined := payload[sig.RoomJoined](t, recv(t, v2))
	assert.False(t, joined.Success)
	assert.Equal(t, "room is full", joined.Error)
	assert.Equal(t, 1, f.rooms.ViewerCount("AB12CD"))
	expectNone(t, host)
	expectNone(t, v1)
}

func TestCreateWhileBoundIsRejected(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD", "CD34EF")})
	host := f.connect("host")
	openRoom(t, f, host)

	f.send(t, host, sig.MsgTypeCreateRoom, nil)
	created := payload[sig.RoomCreated](t, recv(t, host))
	assert.False(t, created.Success)
	assert.Equal(t, 1, f.rooms.ActiveCount())

	f.send(t, host, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: "AB12CD"})
	assert.False(t, payload[sig.RoomJoined](t, recv(t, host)).Success)
}

func TestCreateRetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AAAAAA", "AAAAAA", "BBBBBB")})
	h1, h2 := f.connect("h1"), f.connect("h2")

	f.send(t, h1, sig.MsgTypeCreateRoom, nil)
	assert.Equal(t, "AAAAAA", payload[sig.RoomCreated](t, recv(t, h1)).RoomCode)

	f.send(t, h2, sig.MsgTypeCreateRoom, nil)
	created := payload[sig.RoomCreated](t, recv(t, h2))
	assert.True(t, created.Success)
	assert.Equal(t, "BBBBBB", created.RoomCode)

	room, _ := f.rooms.GetRoom("AAAAAA")
	assert.Equal(t, "h1", room.HostID, "collision must not overwrite")
}

func TestCreateFailsWhenCodesExhausted(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AAAAAA")})
	h1, h2 := f.connect("h1"), f.connect("h2")
	f.send(t, h1, sig.MsgTypeCreateRoom, nil)
	recv(t, h1)

	f.send(t, h2, sig.MsgTypeCreateRoom, nil)
	created := payload[sig.RoomCreated](t, recv(t, h2))
	assert.False(t, created.Success)
	assert.Equal(t, "failed to create room", created.Error)
	assert.Empty(t, h2.RoomCode())
	assert.Equal(t, 0, f.srv.locks.size())
}

func TestICECandidateReachesOnlyRoomPeers(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("ROOM01", "ROOM02")})
	a, b := f.connect("a"), f.connect("b")
	other, otherViewer := f.connect("other"), f.connect("other-viewer")
	openRoom(t, f, a, b)
	openRoom(t, f, other, otherViewer)

	frame := []byte(`{"type":"ice-candidate","data":{"candidate":{"candidate":"candidate:1 1 udp 2130706431 10.0.0.2 50000 typ host","sdpMid":"0"},"from":"a","to":"b"}}`)
	f.srv.RouteMessage(a, frame)

	assert.Equal(t, frame, recvRaw(t, b))
	expectNone(t, a)
	expectNone(t, other)
	expectNone(t, otherViewer)
}

func TestOfferAnswerRelay(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, v1, v2 := f.connect("host"), f.connect("v1"), f.connect("v2")
	openRoom(t, f, host, v1, v2)

	offer := []byte(`{"type":"webrtc-offer","data":{"offer":{"type":"offer","sdp":"v=0"},"from":"host","to":"v1"}}`)
	f.srv.RouteMessage(host, offer)
	assert.Equal(t, offer, recvRaw(t, v1))
	assert.Equal(t, offer, recvRaw(t, v2), "relay does not read the addressee")
	expectNone(t, host)

	answer := []byte(`{"type":"webrtc-answer","data":{"answer":{"type":"answer","sdp":"v=0"},"from":"v1","to":"host"}}`)
	f.srv.RouteMessage(v1, answer)
	assert.Equal(t, answer, recvRaw(t, host))
	assert.Equal(t, answer, recvRaw(t, v2))
}

func TestSignalBeforeBindingIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.connect("loner")

	for _, typ := range []sig.MessageType{sig.MsgTypeOffer, sig.MsgTypeAnswer, sig.MsgTypeICECandidate} {
		f.send(t, c, typ, map[string]string{"sdp": "v=0"})
		env := recv(t, c)
		assert.Equal(t, sig.MsgTypeError, env.Type)
		assert.Equal(t, "not in a room", payload[sig.Error](t, env).Message)
	}
}

func TestSoleViewerLeaveDeletesRoom(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, viewer := f.connect("host"), f.connect("viewer")
	openRoom(t, f, host, viewer)

	f.send(t, viewer, sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: "AB12CD"})
	assert.True(t, payload[sig.RoomLeft](t, recv(t, viewer)).Success)

	env := recv(t, host)
	assert.Equal(t, sig.MsgTypeViewerLeft, env.Type)
	assert.Equal(t, sig.ViewerLeft{ViewerID: "viewer", ViewerCount: 0}, payload[sig.ViewerLeft](t, env))

	_, ok := f.rooms.GetRoom("AB12CD")
	assert.False(t, ok)
	assert.Empty(t, f.sessions.GetSessionsByParticipant("viewer"))
	assert.Len(t, f.sessions.GetSessionsByParticipant("host"), 1, "only the leaver's sessions go")

	// The host's own leave is now a no-op that still succeeds.
	f.send(t, host, sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: "AB12CD"})
	left := payload[sig.RoomLeft](t, recv(t, host))
	assert.True(t, left.Success)
	assert.Empty(t, left.Error)
	assert.Empty(t, host.RoomCode())
	expectNone(t, viewer)
}

func TestDoubleLeaveIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, v1, v2 := f.connect("host"), f.connect("v1"), f.connect("v2")
	openRoom(t, f, host, v1, v2)

	f.send(t, v1, sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: "AB12CD"})
	recv(t, v1)
	recv(t, host)
	recv(t, v2)

	f.send(t, v1, sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: "AB12CD"})
	assert.True(t, payload[sig.RoomLeft](t, recv(t, v1)).Success)
	expectNone(t, host)
	expectNone(t, v2)
	assert.Equal(t, 1, f.rooms.ViewerCount("AB12CD"))
}

func TestLeaveOtherRoomIsRejected(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, viewer := f.connect("host"), f.connect("viewer")
	openRoom(t, f, host, viewer)

	f.send(t, viewer, sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: "ZZZZZZ"})
	left := payload[sig.RoomLeft](t, recv(t, viewer))
	assert.False(t, left.Success)
	assert.Equal(t, "AB12CD", viewer.RoomCode())
	assert.Equal(t, 1, f.rooms.ViewerCount("AB12CD"))
}

func TestViewerDisconnectIsImplicitLeave(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, v1, v2 := f.connect("host"), f.connect("v1"), f.connect("v2")
	openRoom(t, f, host, v1, v2)

	f.srv.unregisterClient(v1)

	for _, c := range []*Client{host, v2} {
		env := recv(t, c)
		assert.Equal(t, sig.MsgTypeViewerLeft, env.Type)
		assert.Equal(t, sig.ViewerLeft{ViewerID: "v1", ViewerCount: 1}, payload[sig.ViewerLeft](t, env))
	}
	assert.Equal(t, 1, f.rooms.ViewerCount("AB12CD"))
	assert.Empty(t, f.sessions.GetSessionsByParticipant("v1"))
	assert.Equal(t, 2, f.srv.ClientCount())

	_, open := <-v1.Send
	assert.False(t, open, "send channel closed on disconnect")

	// A second cleanup pass changes nothing.
	f.srv.unregisterClient(v1)
	expectNone(t, host)
	expectNone(t, v2)
}

func TestHostDisconnectClosesRoom(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, v1, v2 := f.connect("host"), f.connect("v1"), f.connect("v2")
	openRoom(t, f, host, v1, v2)

	f.srv.unregisterClient(host)

	for _, c := range []*Client{v1, v2} {
		env := recv(t, c)
		assert.Equal(t, sig.MsgTypeHostLeft, env.Type)
		assert.Equal(t, sig.HostLeft{HostID: "host", RoomCode: "AB12CD"}, payload[sig.HostLeft](t, env))

		env = recv(t, c)
		assert.Equal(t, sig.MsgTypeRoomClosed, env.Type)
		assert.Equal(t, "host left", payload[sig.RoomClosed](t, env).Reason)
		assert.Empty(t, c.RoomCode())
	}
	assert.Equal(t, 0, f.rooms.ActiveCount())
	assert.Equal(t, 0, f.sessions.TotalCount())

	// Evicted viewers can no longer relay.
	f.send(t, v1, sig.MsgTypeOffer, map[string]string{"sdp": "v=0"})
	assert.Equal(t, sig.MsgTypeError, recv(t, v1).Type)
	expectNone(t, v2)
}

func TestMalformedAndUnknownFrames(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.connect("c")

	f.srv.RouteMessage(c, []byte("{nope"))
	assert.Equal(t, "invalid message format", payload[sig.Error](t, recv(t, c)).Message)

	f.srv.RouteMessage(c, []byte(`{"type":"teleport"}`))
	assert.Equal(t, "unknown message type", payload[sig.Error](t, recv(t, c)).Message)

	f.srv.RouteMessage(c, []byte(`{"type":"join-room"}`))
	assert.Equal(t, "invalid message format", payload[sig.Error](t, recv(t, c)).Message)
}

func TestSweepRoomsEvictsMembers(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("OLD000", "NEW000")})
	oldHost, oldViewer := f.connect("old-host"), f.connect("old-viewer")
	newHost := f.connect("new-host")
	openRoom(t, f, oldHost, oldViewer)

	f.clock.Advance(40 * time.Minute)
	openRoom(t, f, newHost)
	f.clock.Advance(21 * time.Minute)

	assert.Equal(t, 1, f.srv.SweepRooms())

	for _, c := range []*Client{oldHost, oldViewer} {
		env := recv(t, c)
		assert.Equal(t, sig.MsgTypeRoomClosed, env.Type)
		assert.Equal(t, sig.RoomClosed{RoomCode: "OLD000", Reason: "expired"}, payload[sig.RoomClosed](t, env))
		assert.Empty(t, c.RoomCode())
	}
	assert.False(t, f.rooms.IsActive("OLD000"))
	assert.True(t, f.rooms.IsActive("NEW000"))
	assert.Empty(t, f.sessions.GetSessionsByRoom("OLD000"))
	assert.Len(t, f.sessions.GetSessionsByRoom("NEW000"), 1)
	expectNone(t, newHost)
}

func TestPongKeepsRoomAlive(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host := f.connect("host")
	openRoom(t, f, host)

	for i := 0; i < 3; i++ {
		f.clock.Advance(25 * time.Minute)
		f.srv.touch(host)
	}
	f.clock.Advance(25 * time.Minute)

	assert.Equal(t, 0, f.srv.SweepRooms())
	assert.Equal(t, 0, f.srv.SweepSessions())
	assert.True(t, f.rooms.IsActive("AB12CD"))
}

func TestSweepSessions(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host, viewer := f.connect("host"), f.connect("viewer")
	openRoom(t, f, host, viewer)

	f.clock.Advance(20 * time.Minute)
	f.srv.touch(host)
	f.clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, f.srv.SweepSessions())
	assert.Empty(t, f.sessions.GetSessionsByParticipant("viewer"))
	assert.Len(t, f.sessions.GetSessionsByParticipant("host"), 1)
	assert.True(t, f.rooms.IsActive("AB12CD"), "session sweep leaves rooms alone")
}

func TestConcurrentMembershipChanges(t *testing.T) {
	f := newFixture(t, Options{GenerateCode: codeQueue("AB12CD")})
	host := f.connect("host")
	openRoom(t, f, host)

	const n = 40
	viewers := make([]*Client, n)
	for i := range viewers {
		viewers[i] = &Client{Send: make(chan []byte, 4*n), ParticipantID: fmt.Sprintf("v%02d", i), Server: f.srv}
		f.srv.registerClient(viewers[i])
	}
	host.Send = make(chan []byte, 4*n)

	var wg sync.WaitGroup
	for _, v := range viewers {
		wg.Add(1)
		go func(v *Client) {
			defer wg.Done()
			f.send(t, v, sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: "AB12CD"})
		}(v)
	}
	wg.Wait()
	require.Equal(t, n, f.rooms.ViewerCount("AB12CD"))

	for i, v := range viewers {
		if i%2 == 0 {
			continue
		}
		wg.Add(1)
		go func(v *Client) {
			defer wg.Done()
			f.srv.unregisterClient(v)
		}(v)
	}
	wg.Wait()

	assert.Equal(t, n/2, f.rooms.ViewerCount("AB12CD"))
	assert.Equal(t, n/2+1, f.sessions.TotalCount())
	assert.Equal(t, 0, f.srv.locks.size())

	joins, leaves := 0, 0
	for len(host.Send) > 0 {
		switch recv(t, host).Type {
		case sig.MsgTypeViewerJoined:
			joins++
		case sig.MsgTypeViewerLeft:
			leaves++
		}
	}
	assert.Equal(t, n, joins)
	assert.Equal(t, n/2, leaves)
}
