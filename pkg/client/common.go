package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	sig "screen-share/pkg/signal"
)

// Status is a coarse driver state reported to the caller.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusWaiting      Status = "waiting"
	StatusStreaming    Status = "streaming"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// StatusFunc receives status updates. It may be called from any goroutine.
type StatusFunc func(st Status, text string)

var ErrNotConnected = errors.New("signaling connection not established")

// DefaultSignalURL is used when a driver is started without one.
const DefaultSignalURL = "ws://127.0.0.1:3002/ws"

var DefaultICEServers = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

const dialTimeout = 10 * time.Second

// peerMessage is the data of a relayed offer, answer or candidate frame.
// From and To are relay-assigned participant ids; the relay never reads them.
type peerMessage struct {
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	From      string                     `json:"from"`
	To        string                     `json:"to,omitempty"`
}

// SignalConn is a client-side relay connection. Writes are serialized;
// reads happen on the goroutine running ReadLoop.
type SignalConn struct {
	log *zap.Logger

	mu sync.Mutex
	ws *websocket.Conn
}

// Dial connects to the relay at url.
func Dial(ctx context.Context, url string, log *zap.Logger) (*SignalConn, error) {
	if url == "" {
		url = DefaultSignalURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &SignalConn{ws: ws, log: log}, nil
}

// Send writes one frame of type t.
func (c *SignalConn) Send(t sig.MessageType, payload any) error {
	b, err := sig.Encode(t, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(dialTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// ReadLoop decodes frames and hands them to handle until the connection
// fails or is closed. Frames that are not valid envelopes are skipped.
func (c *SignalConn) ReadLoop(handle func(sig.Envelope)) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var env sig.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		handle(env)
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *SignalConn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Close()
}

func decode[T any](env sig.Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, fmt.Errorf("%s: empty data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%s: %w", env.Type, err)
	}
	return v, nil
}

// peerLink pairs a negotiator with a mutex that orders the local
// description ahead of the candidates it produces.
type peerLink struct {
	n      *Negotiator
	sendMu sync.Mutex
}

// driver is the lifecycle shared by Host and Viewer: one relay connection,
// one read goroutine, one terminal error.
type driver struct {
	conn     *SignalConn
	log      *zap.Logger
	onStatus StatusFunc
	release  func()

	once sync.Once
	done chan struct{}
	err  error
}

func newDriver(conn *SignalConn, log *zap.Logger, onStatus StatusFunc) *driver {
	return &driver{
		conn:     conn,
		log:      log,
		onStatus: onStatus,
		done:     make(chan struct{}),
	}
}

func (d *driver) status(st Status, text string) {
	d.log.Debug("status", zap.String("status", string(st)), zap.String("text", text))
	if d.onStatus != nil {
		d.onStatus(st, text)
	}
}

func (d *driver) run(handle func(sig.Envelope)) {
	err := d.conn.ReadLoop(handle)
	d.finish(fmt.Errorf("signaling: %w", err))
}

// finish tears the driver down once. A nil err marks a requested stop.
func (d *driver) finish(err error) {
	d.once.Do(func() {
		d.err = err
		if d.release != nil {
			d.release()
		}
		_ = d.conn.Close()
		if err != nil {
			d.log.Warn("driver stopped", zap.Error(err))
			d.status(StatusError, err.Error())
		}
		d.status(StatusStopped, "stopped")
		close(d.done)
	})
}

// Done is closed once the driver has stopped.
func (d *driver) Done() <-chan struct{} { return d.done }

// Err returns why the driver stopped, or nil while running or after Stop.
func (d *driver) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}
