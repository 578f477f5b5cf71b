package client

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// State is where a Negotiator is in the offer/answer exchange.
type State string

const (
	StateIdle        State = "idle"
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateFailed      State = "failed"
	StateClosed      State = "closed"
)

var (
	ErrUninitialized      = errors.New("peer connection not initialized")
	ErrAlreadyInitialized = errors.New("peer connection already initialized")
	ErrClosed             = errors.New("negotiator closed")
)

// OutboundTrack is a local source that is attached to a peer connection
// before the local description is produced. Stop releases it.
type OutboundTrack interface {
	AttachTo(pc *webrtc.PeerConnection) error
	Stop()
}

// MediaTrack attaches a pion TrackLocal as an RTP sender.
type MediaTrack struct {
	Track webrtc.TrackLocal

	mu     sync.Mutex
	sender *webrtc.RTPSender
}

func (m *MediaTrack) AttachTo(pc *webrtc.PeerConnection) error {
	sender, err := pc.AddTrack(m.Track)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sender = sender
	m.mu.Unlock()
	return nil
}

func (m *MediaTrack) Stop() {
	m.mu.Lock()
	sender := m.sender
	m.sender = nil
	m.mu.Unlock()
	if sender != nil {
		_ = sender.Stop()
	}
}

// Callbacks are invoked from pion's goroutines. Any of them may be nil.
type Callbacks struct {
	OnICECandidate    func(webrtc.ICECandidateInit)
	OnRemoteTrack     func(*webrtc.TrackRemote)
	OnDataChannel     func(*webrtc.DataChannel)
	OnStateChange     func(State)
	OnConnectionState func(webrtc.PeerConnectionState)
}

// Negotiator sequences one offer/answer/candidate exchange against a pion
// PeerConnection. Initialize must run before any other step; Close may run
// at any time, any number of times.
type Negotiator struct {
	iceServers []string
	cb         Callbacks
	log        *zap.Logger

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	state     State
	tracks    []OutboundTrack
	attached  bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// NewNegotiator returns an idle negotiator. It does not touch the network
// until Initialize.
func NewNegotiator(iceServers []string, cb Callbacks, log *zap.Logger) *Negotiator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Negotiator{
		iceServers: iceServers,
		cb:         cb,
		log:        log,
		state:      StateIdle,
	}
}

// State returns the current state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetLocalTracks replaces the outbound tracks used by the next offer or answer.
func (n *Negotiator) SetLocalTracks(tracks ...OutboundTrack) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracks = append([]OutboundTrack(nil), tracks...)
	n.attached = false
}

// Initialize builds the peer connection. After a failure it may be called
// again to start over with a fresh connection.
func (n *Negotiator) Initialize() error {
	n.mu.Lock()
	switch {
	case n.state == StateClosed:
		n.mu.Unlock()
		return ErrClosed
	case n.pc != nil && n.state != StateFailed:
		n.mu.Unlock()
		return ErrAlreadyInitialized
	}
	old := n.pc
	n.pc = nil
	n.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	cfg := webrtc.Configuration{}
	if len(n.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: n.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	n.register(pc)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		_ = pc.Close()
		return ErrClosed
	}
	n.pc = pc
	n.state = StateIdle
	n.attached = false
	n.remoteSet = false
	n.pending = nil
	return nil
}

func (n *Negotiator) register(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || n.cb.OnICECandidate == nil {
			return
		}
		n.cb.OnICECandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.log.Debug("remote track", zap.String("kind", track.Kind().String()), zap.String("id", track.ID()))
		n.transition(pc, StateConnected)
		if n.cb.OnRemoteTrack != nil {
			n.cb.OnRemoteTrack(track)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		n.log.Debug("remote data channel", zap.String("label", dc.Label()))
		n.transition(pc, StateConnected)
		if n.cb.OnDataChannel != nil {
			n.cb.OnDataChannel(dc)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.log.Debug("connection state", zap.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateConnected:
			n.transition(pc, StateConnected)
		case webrtc.PeerConnectionStateFailed:
			n.transition(pc, StateFailed)
		}
		if n.cb.OnConnectionState != nil {
			n.cb.OnConnectionState(s)
		}
	})
}

// transition moves to next unless pc is stale or the state is terminal.
func (n *Negotiator) transition(pc *webrtc.PeerConnection, next State) {
	n.mu.Lock()
	if pc != nil && n.pc != pc {
		n.mu.Unlock()
		return
	}
	if n.state == StateClosed || n.state == next {
		n.mu.Unlock()
		return
	}
	if n.state == StateFailed && next != StateClosed {
		n.mu.Unlock()
		return
	}
	n.state = next
	n.mu.Unlock()

	if n.cb.OnStateChange != nil {
		n.cb.OnStateChange(next)
	}
}

// current returns the live peer connection or the reason there is none.
func (n *Negotiator) current() (*webrtc.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateClosed {
		return nil, ErrClosed
	}
	if n.pc == nil {
		return nil, ErrUninitialized
	}
	return n.pc, nil
}

func (n *Negotiator) fail(pc *webrtc.PeerConnection, step string, err error) error {
	n.transition(pc, StateFailed)
	return fmt.Errorf("%s: %w", step, err)
}

func (n *Negotiator) attachTracks(pc *webrtc.PeerConnection) error {
	n.mu.Lock()
	if n.attached {
		n.mu.Unlock()
		return nil
	}
	tracks := n.tracks
	n.attached = true
	n.mu.Unlock()

	for _, t := range tracks {
		if err := t.AttachTo(pc); err != nil {
			return err
		}
	}
	return nil
}

// CreateOffer attaches the outbound tracks, commits an offer as the local
// description and returns it for the relay.
func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	pc, err := n.current()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	n.transition(pc, StateNegotiating)

	if err := n.attachTracks(pc); err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "attach tracks", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "set local description", err)
	}
	return offer, nil
}

// HandleOffer commits the remote offer and returns the answer to send back.
func (n *Negotiator) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := n.current()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	n.transition(pc, StateNegotiating)

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "set remote description", err)
	}
	n.flushCandidates(pc)

	if err := n.attachTracks(pc); err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "attach tracks", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, n.fail(pc, "set local description", err)
	}
	return answer, nil
}

// HandleAnswer commits the remote answer, completing the exchange.
func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) error {
	pc, err := n.current()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return n.fail(pc, "set remote description", err)
	}
	n.flushCandidates(pc)
	return nil
}

// AddICECandidate feeds a remote candidate to the connection. Candidates
// that arrive before the remote description are held and applied once it
// is set.
func (n *Negotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return ErrClosed
	}
	pc := n.pc
	if pc == nil {
		n.mu.Unlock()
		return ErrUninitialized
	}
	if !n.remoteSet {
		n.pending = append(n.pending, c)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (n *Negotiator) flushCandidates(pc *webrtc.PeerConnection) {
	n.mu.Lock()
	if n.pc != pc {
		n.mu.Unlock()
		return
	}
	n.remoteSet = true
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			n.log.Warn("buffered ice candidate rejected", zap.Error(err))
		}
	}
}

// Close releases the peer connection and stops the outbound tracks.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return nil
	}
	pc := n.pc
	tracks := n.tracks
	n.pc = nil
	n.tracks = nil
	n.pending = nil
	n.state = StateClosed
	n.mu.Unlock()

	for _, t := range tracks {
		t.Stop()
	}
	var err error
	if pc != nil {
		err = pc.Close()
	}
	if n.cb.OnStateChange != nil {
		n.cb.OnStateChange(StateClosed)
	}
	return err
}
