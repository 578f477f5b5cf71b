package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRoomExists is returned by CreateRoom when the code is already taken.
var ErrRoomExists = errors.New("room already exists")

// Room is a point-in-time copy of a room record.
type Room struct {
	Code         string
	HostID       string
	Viewers      []string
	CreatedAt    time.Time
	LastActivity time.Time
}

// ViewerCount returns len(r.Viewers).
func (r Room) ViewerCount() int { return len(r.Viewers) }

// HasViewer reports whether id is in the viewer set.
func (r Room) HasViewer(id string) bool {
	for _, v := range r.Viewers {
		if v == id {
			return true
		}
	}
	return false
}

type roomRecord struct {
	code         string
	hostID       string
	viewers      map[string]struct{}
	createdAt    time.Time
	lastActivity time.Time
}

func (r *roomRecord) snapshot() Room {
	viewers := make([]string, 0, len(r.viewers))
	for id := range r.viewers {
		viewers = append(viewers, id)
	}
	sort.Strings(viewers)
	return Room{
		Code:         r.code,
		HostID:       r.hostID,
		Viewers:      viewers,
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
}

// RoomStore tracks active rooms by code. All methods are safe for
// concurrent use; callers that need several calls to be atomic hold the
// relay's per-room lock around them.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomRecord
	now   func() time.Time
	log   *zap.Logger
}

// NewRoomStore returns an empty store.
func NewRoomStore(opts ...Option) *RoomStore {
	o := buildOptions(opts)
	return &RoomStore{
		rooms: make(map[string]*roomRecord),
		now:   o.now,
		log:   o.log,
	}
}

// CreateRoom inserts a room hosted by hostID with no viewers.
func (s *RoomStore) CreateRoom(code, hostID string) (Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[code]; exists {
		return Room{}, ErrRoomExists
	}
	now := s.now()
	r := &roomRecord{
		code:         code,
		hostID:       hostID,
		viewers:      make(map[string]struct{}),
		createdAt:    now,
		lastActivity: now,
	}
	s.rooms[code] = r
	s.log.Info("room created", zap.String("room_code", code), zap.String("host_id", hostID))
	return r.snapshot(), nil
}

// GetRoom returns the room and refreshes its activity time.
func (s *RoomStore) GetRoom(code string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return Room{}, false
	}
	r.lastActivity = s.now()
	return r.snapshot(), true
}

// Touch refreshes the room's activity time without copying it.
func (s *RoomStore) Touch(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if ok {
		r.lastActivity = s.now()
	}
	return ok
}

// JoinRoom adds viewerID to the room. It returns false when the room does
// not exist; joining twice is harmless.
func (s *RoomStore) JoinRoom(code, viewerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return false
	}
	r.viewers[viewerID] = struct{}{}
	r.lastActivity = s.now()
	s.log.Info("viewer joined room", zap.String("room_code", code), zap.String("viewer_id", viewerID))
	return true
}

// LeaveRoom removes viewerID and reports whether membership changed.
func (s *RoomStore) LeaveRoom(code, viewerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok {
		return false
	}
	r.lastActivity = s.now()
	if _, member := r.viewers[viewerID]; !member {
		return false
	}
	delete(r.viewers, viewerID)
	s.log.Info("viewer left room", zap.String("room_code", code), zap.String("viewer_id", viewerID))
	return true
}

// DeleteRoom removes the room and reports whether it existed.
func (s *RoomStore) DeleteRoom(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[code]; !ok {
		return false
	}
	delete(s.rooms, code)
	s.log.Info("room deleted", zap.String("room_code", code))
	return true
}

// ViewerCount returns the number of viewers, 0 for an unknown room.
func (s *RoomStore) ViewerCount(code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rooms[code]; ok {
		return len(r.viewers)
	}
	return 0
}

// IsActive reports whether a room with this code exists.
func (s *RoomStore) IsActive(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[code]
	return ok
}

// ActiveCount returns the number of live rooms.
func (s *RoomStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Rooms returns a snapshot of every room, ordered by code.
func (s *RoomStore) Rooms() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// IdleCodes lists rooms whose last activity is older than maxIdle.
func (s *RoomStore) IdleCodes(maxIdle time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var codes []string
	for code, r := range s.rooms {
		if now.Sub(r.lastActivity) > maxIdle {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// DeleteIfIdle removes the room only if it is still idle, so a join that
// landed after IdleCodes keeps it alive.
func (s *RoomStore) DeleteIfIdle(code string, maxIdle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[code]
	if !ok || s.now().Sub(r.lastActivity) <= maxIdle {
		return false
	}
	delete(s.rooms, code)
	s.log.Info("idle room reclaimed", zap.String("room_code", code))
	return true
}
