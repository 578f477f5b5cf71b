package server

import (
	"errors"
	"strings"

	"screen-share/internal/store"
	"screen-share/pkg/roomcode"
	sig "screen-share/pkg/signal"

	"go.uber.org/zap"
)

// RouteMessage decodes one inbound frame and runs its handler. A failing
// handler is contained here so the connection and other rooms carry on.
func (s *Server) RouteMessage(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked",
				zap.String("participant_id", c.ParticipantID),
				zap.Any("panic", r))
			c.SendError("internal error")
		}
	}()

	req, err := sig.DecodeRequest(raw)
	if err != nil {
		s.log.Debug("rejecting frame", zap.String("participant_id", c.ParticipantID), zap.Error(err))
		if errors.Is(err, sig.ErrUnknownType) {
			c.SendError("unknown message type")
		} else {
			c.SendError("invalid message format")
		}
		return
	}

	switch req := req.(type) {
	case *sig.CreateRoom:
		s.handleCreateRoom(c)
	case *sig.JoinRoom:
		s.handleJoinRoom(c, req)
	case *sig.LeaveRoom:
		s.handleLeaveRoom(c, req)
	case *sig.Relay:
		s.forwardSignal(c, req)
	default:
		c.SendError("unknown message type")
	}
}

func (s *Server) handleCreateRoom(c *Client) {
	if c.RoomCode() != "" {
		c.SendJSON(sig.MsgTypeRoomCreated, sig.RoomCreated{Success: false, Error: "already in a room"})
		return
	}

	var unlock func()
	code, err := roomcode.Unique(s.opts.GenerateCode, maxCodeAttempts, func(code string) bool {
		release := s.locks.Lock(code)
		// A deleted room can still have bound members; its code is not free.
		if s.hasMembers(code) {
			release()
			return false
		}
		if _, err := s.rooms.CreateRoom(code, c.ParticipantID); err != nil {
			release()
			return false
		}
		unlock = release
		return true
	})
	if err != nil {
		s.log.Error("failed to create room", zap.String("participant_id", c.ParticipantID), zap.Error(err))
		c.SendJSON(sig.MsgTypeRoomCreated, sig.RoomCreated{Success: false, Error: "failed to create room"})
		return
	}
	defer unlock()

	sess := s.sessions.CreateSession(code, c.ParticipantID, store.RoleHost)
	s.bind(c, code, store.RoleHost, sess.ID)

	c.SendJSON(sig.MsgTypeRoomCreated, sig.RoomCreated{
		RoomCode:      code,
		Success:       true,
		ParticipantID: c.ParticipantID,
	})
	s.log.Info("room opened", zap.String("room_code", code), zap.String("participant_id", c.ParticipantID))
}

func (s *Server) handleJoinRoom(c *Client, req *sig.JoinRoom) {
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))
	reject := func(msg string) {
		c.SendJSON(sig.MsgTypeRoomJoined, sig.RoomJoined{RoomCode: code, Success: false, Error: msg})
	}

	if !roomcode.Validate(code) {
		reject("invalid room code")
		return
	}
	if c.RoomCode() != "" {
		reject("already in a room")
		return
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	room, ok := s.rooms.GetRoom(code)
	if !ok {
		reject("room not found")
		return
	}
	if s.opts.MaxViewers > 0 && room.ViewerCount() >= s.opts.MaxViewers {
		reject("room is full")
		return
	}
	if !s.rooms.JoinRoom(code, c.ParticipantID) {
		reject("room not found")
		return
	}

	sess := s.sessions.CreateSession(code, c.ParticipantID, store.RoleViewer)
	s.bind(c, code, store.RoleViewer, sess.ID)
	count := s.rooms.ViewerCount(code)

	c.SendJSON(sig.MsgTypeRoomJoined, sig.RoomJoined{
		RoomCode:      code,
		Success:       true,
		ViewerCount:   count,
		ParticipantID: c.ParticipantID,
	})
	s.broadcast(code, c, sig.MsgTypeViewerJoined, sig.ViewerJoined{
		ViewerID:    c.ParticipantID,
		ViewerCount: count,
	})
}

func (s *Server) handleLeaveRoom(c *Client, req *sig.LeaveRoom) {
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))

	bound := c.RoomCode()
	if bound == "" {
		c.SendJSON(sig.MsgTypeRoomLeft, sig.RoomLeft{Success: true})
		return
	}
	if bound != code {
		c.SendJSON(sig.MsgTypeRoomLeft, sig.RoomLeft{Success: false, Error: "not in that room"})
		return
	}

	s.depart(c, code)
	c.SendJSON(sig.MsgTypeRoomLeft, sig.RoomLeft{Success: true})
}

// depart removes c from code and tells the remaining members. It is shared
// by leave-room and disconnect and does nothing once c is no longer bound
// to code.
func (s *Server) depart(c *Client, code string) {
	unlock := s.locks.Lock(code)
	defer unlock()

	if c.RoomCode() != code {
		return
	}
	pid := c.ParticipantID

	s.rooms.LeaveRoom(code, pid)
	s.sessions.DeleteParticipantSessions(code, pid)
	s.unbind(c)

	room, ok := s.rooms.GetRoom(code)
	if ok && room.HostID == pid {
		s.broadcast(code, nil, sig.MsgTypeHostLeft, sig.HostLeft{HostID: pid, RoomCode: code})
		s.rooms.DeleteRoom(code)
		s.evictMembers(code, "host left")
		s.log.Info("host left, room closed", zap.String("room_code", code), zap.String("participant_id", pid))
		return
	}

	count := s.rooms.ViewerCount(code)
	s.broadcast(code, nil, sig.MsgTypeViewerLeft, sig.ViewerLeft{ViewerID: pid, ViewerCount: count})
	if ok && count == 0 {
		s.rooms.DeleteRoom(code)
	}
	s.log.Info("participant left room",
		zap.String("room_code", code),
		zap.String("participant_id", pid),
		zap.Int("viewer_count", count))
}

// evictMembers drops every session of code and unbinds its connections.
// The caller holds the room lock and has already deleted the room.
func (s *Server) evictMembers(code, reason string) {
	s.sessions.DeleteSessionsByRoom(code)
	for _, m := range s.peers(code, nil) {
		s.unbind(m)
		m.SendJSON(sig.MsgTypeRoomClosed, sig.RoomClosed{RoomCode: code, Reason: reason})
	}
}

// forwardSignal relays an offer, answer or candidate verbatim to every
// other member of the sender's room.
func (s *Server) forwardSignal(c *Client, req *sig.Relay) {
	code := c.RoomCode()
	if code == "" {
		c.SendError("not in a room")
		return
	}

	unlock := s.locks.Lock(code)
	defer unlock()

	if c.RoomCode() != code {
		c.SendError("not in a room")
		return
	}
	s.rooms.Touch(code)
	s.sessions.TouchParticipant(code, c.ParticipantID)

	for _, p := range s.peers(code, c) {
		p.sendRaw(req.Raw)
	}
}

// touch marks the connection's room and session as alive.
func (s *Server) touch(c *Client) {
	code := c.RoomCode()
	if code == "" {
		return
	}
	s.rooms.Touch(code)
	s.sessions.TouchParticipant(code, c.ParticipantID)
}
