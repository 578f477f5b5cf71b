package server

import (
	"net/http"
	"sync"
	"time"

	"screen-share/internal/store"
	"screen-share/pkg/roomcode"
	sig "screen-share/pkg/signal"
	"screen-share/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes a Server. Zero values fall back to the defaults below.
type Options struct {
	Logger         *zap.Logger
	MaxMessageSize int64
	// MaxViewers caps each room; 0 means unlimited.
	MaxViewers int

	RoomSweepInterval    time.Duration
	RoomIdleTimeout      time.Duration
	SessionSweepInterval time.Duration
	SessionIdleTimeout   time.Duration

	GenerateCode          func() string
	GenerateParticipantID func() string
}

const (
	defaultMaxMessageSize       = 512 * 1024
	defaultRoomSweepInterval    = 10 * time.Minute
	defaultRoomIdleTimeout      = time.Hour
	defaultSessionSweepInterval = 5 * time.Minute
	defaultSessionIdleTimeout   = 30 * time.Minute

	maxCodeAttempts = 10
)

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.RoomSweepInterval <= 0 {
		o.RoomSweepInterval = defaultRoomSweepInterval
	}
	if o.RoomIdleTimeout <= 0 {
		o.RoomIdleTimeout = defaultRoomIdleTimeout
	}
	if o.SessionSweepInterval <= 0 {
		o.SessionSweepInterval = defaultSessionSweepInterval
	}
	if o.SessionIdleTimeout <= 0 {
		o.SessionIdleTimeout = defaultSessionIdleTimeout
	}
	if o.GenerateCode == nil {
		o.GenerateCode = roomcode.Generate
	}
	if o.GenerateParticipantID == nil {
		o.GenerateParticipantID = utils.GenParticipantID
	}
}

// Server is the signaling relay. It binds connections to rooms, relays
// offers, answers and ICE candidates between room members and keeps the
// room and session stores in step with membership.
type Server struct {
	rooms    *store.RoomStore
	sessions *store.SessionStore
	locks    *roomLocks
	opts     Options
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	members map[string]map[*Client]struct{} // roomCode -> bound connections

	upgrader websocket.Upgrader
}

// NewServer returns a relay over the given stores.
func NewServer(rooms *store.RoomStore, sessions *store.SessionStore, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		rooms:    rooms,
		sessions: sessions,
		locks:    newRoomLocks(),
		opts:     opts,
		log:      opts.Logger,
		clients:  make(map[*Client]struct{}),
		members:  make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Rooms exposes the room store for read-only status queries.
func (s *Server) Rooms() *store.RoomStore { return s.rooms }

// Sessions exposes the session store for read-only status queries.
func (s *Server) Sessions() *store.SessionStore { return s.sessions }

// ServeWS upgrades the request and starts the connection's pumps.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.log.Info("client connected", zap.String("participant_id", c.ParticipantID))
}

// unregisterClient runs once per connection after its read loop ends and
// treats the disconnect as an implicit leave.
func (s *Server) unregisterClient(c *Client) {
	s.log.Info("client disconnected", zap.String("participant_id", c.ParticipantID))

	if code := c.RoomCode(); code != "" {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("disconnect cleanup panicked",
						zap.String("participant_id", c.ParticipantID),
						zap.String("room_code", code),
						zap.Any("panic", r))
				}
			}()
			s.depart(c, code)
		}()
	}

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()

	c.closeSend()
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) bind(c *Client, code string, role store.Role, sessionID string) {
	c.setBinding(code, role, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[code] == nil {
		s.members[code] = make(map[*Client]struct{})
	}
	s.members[code][c] = struct{}{}
}

func (s *Server) unbind(c *Client) {
	code := c.clearBinding()
	if code == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[code]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(s.members, code)
		}
	}
}

// peers returns the connections bound to code, minus except.
func (s *Server) peers(code string, except *Client) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.members[code]
	out := make([]*Client, 0, len(m))
	for c := range m {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) hasMembers(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[code]) > 0
}

// broadcast encodes payload once and queues it for every member but except.
func (s *Server) broadcast(code string, except *Client, t sig.MessageType, payload any) {
	b, err := sig.Encode(t, payload)
	if err != nil {
		s.log.Error("broadcast encode failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	for _, p := range s.peers(code, except) {
		p.sendRaw(b)
	}
}
