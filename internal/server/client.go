package server

import (
	"sync"
	"time"

	"screen-share/internal/store"
	sig "screen-share/pkg/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Client is one participant connection. ParticipantID is fixed for the
// life of the connection; the room binding changes on join and leave.
type Client struct {
	Conn          *websocket.Conn
	Send          chan []byte
	ParticipantID string
	Server        *Server

	mu        sync.Mutex
	roomCode  string
	role      store.Role
	sessionID string
	closed    bool
}

func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		Server:        s,
		ParticipantID: s.opts.GenerateParticipantID(),
	}
}

// RoomCode returns the bound room, or "" when unbound.
func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

// Role returns the role held in the bound room.
func (c *Client) Role() store.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) setBinding(code string, role store.Role, sessionID string) {
	c.mu.Lock()
	c.roomCode, c.role, c.sessionID = code, role, sessionID
	c.mu.Unlock()
}

func (c *Client) clearBinding() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := c.roomCode
	c.roomCode, c.role, c.sessionID = "", "", ""
	return code
}

func (c *Client) readPump() {
	defer func() {
		c.Server.unregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Server.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Server.touch(c)
		return nil
	})

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Server.log.Debug("websocket read error",
					zap.String("participant_id", c.ParticipantID), zap.Error(err))
			}
			break
		}
		c.Server.RouteMessage(c, msgBytes)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON queues an envelope of type t.
func (c *Client) SendJSON(t sig.MessageType, payload any) {
	b, err := sig.Encode(t, payload)
	if err != nil {
		c.Server.log.Error("SendJSON marshal error", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.sendRaw(b)
}

// SendError queues an error frame.
func (c *Client) SendError(msg string) {
	c.SendJSON(sig.MsgTypeError, sig.Error{Message: msg})
}

// sendRaw never blocks; a full buffer drops the frame.
func (c *Client) sendRaw(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- b:
	default:
		c.Server.log.Warn("client send buffer full", zap.String("participant_id", c.ParticipantID))
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
