package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session records one participant's membership of one room.
type Session struct {
	ID            string
	RoomCode      string
	ParticipantID string
	Role          Role
	CreatedAt     time.Time
	LastActivity  time.Time
}

// SessionUpdate carries the fields UpdateSession should overwrite; nil
// fields are left alone.
type SessionUpdate struct {
	RoomCode      *string
	ParticipantID *string
	Role          *Role
}

// SessionStore tracks sessions by id. Ids are random UUIDs, so two
// sessions created in the same instant never collide.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	log      *zap.Logger
}

// NewSessionStore returns an empty store.
func NewSessionStore(opts ...Option) *SessionStore {
	o := buildOptions(opts)
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      o.now,
		log:      o.log,
	}
}

// CreateSession stores and returns a new session.
func (s *SessionStore) CreateSession(roomCode, participantID string, role Role) Session {
	now := s.now()
	sess := &Session{
		ID:            uuid.NewString(),
		RoomCode:      roomCode,
		ParticipantID: participantID,
		Role:          role,
		CreatedAt:     now,
		LastActivity:  now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("room_code", roomCode),
		zap.String("participant_id", participantID),
		zap.String("role", string(role)))
	return *sess
}

// GetSession returns the session and refreshes its activity time.
func (s *SessionStore) GetSession(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	sess.LastActivity = s.now()
	return *sess, true
}

// GetSessionsByRoom returns every session for roomCode.
func (s *SessionStore) GetSessionsByRoom(roomCode string) []Session {
	return s.filter(func(sess *Session) bool { return sess.RoomCode == roomCode })
}

// GetSessionsByParticipant returns every session for participantID.
func (s *SessionStore) GetSessionsByParticipant(participantID string) []Session {
	return s.filter(func(sess *Session) bool { return sess.ParticipantID == participantID })
}

// UpdateSession applies upd and refreshes the activity time.
func (s *SessionStore) UpdateSession(id string, upd SessionUpdate) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	if upd.RoomCode != nil {
		sess.RoomCode = *upd.RoomCode
	}
	if upd.ParticipantID != nil {
		sess.ParticipantID = *upd.ParticipantID
	}
	if upd.Role != nil {
		sess.Role = *upd.Role
	}
	sess.LastActivity = s.now()
	return *sess, true
}

// DeleteSession removes one session and reports whether it existed.
func (s *SessionStore) DeleteSession(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.log.Info("session deleted", zap.String("session_id", id))
	}
	return ok
}

// DeleteSessionsByRoom removes every session of roomCode.
func (s *SessionStore) DeleteSessionsByRoom(roomCode string) int {
	n := s.deleteWhere(func(sess *Session) bool { return sess.RoomCode == roomCode })
	s.log.Info("room sessions deleted", zap.String("room_code", roomCode), zap.Int("count", n))
	return n
}

// DeleteParticipantSessions removes the sessions participantID holds in roomCode.
func (s *SessionStore) DeleteParticipantSessions(roomCode, participantID string) int {
	return s.deleteWhere(func(sess *Session) bool {
		return sess.RoomCode == roomCode && sess.ParticipantID == participantID
	})
}

// TouchParticipant refreshes the sessions participantID holds in roomCode.
func (s *SessionStore) TouchParticipant(roomCode, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, sess := range s.sessions {
		if sess.RoomCode == roomCode && sess.ParticipantID == participantID {
			sess.LastActivity = now
		}
	}
}

// TotalCount returns the number of stored sessions.
func (s *SessionStore) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IdleSessions lists sessions idle for longer than maxIdle.
func (s *SessionStore) IdleSessions(maxIdle time.Duration) []Session {
	now := s.now()
	return s.filter(func(sess *Session) bool { return now.Sub(sess.LastActivity) > maxIdle })
}

// DeleteIfIdle removes the session only if it is still idle.
func (s *SessionStore) DeleteIfIdle(id string, maxIdle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.now().Sub(sess.LastActivity) <= maxIdle {
		return false
	}
	delete(s.sessions, id)
	return true
}

func (s *SessionStore) filter(keep func(*Session) bool) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if keep(sess) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *SessionStore) deleteWhere(match func(*Session) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if match(sess) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
