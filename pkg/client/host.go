package client

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	sig "screen-share/pkg/signal"
)

// HostConfig controls a sharing session.
type HostConfig struct {
	SignalURL  string
	ICEServers []string
	Logger     *zap.Logger
	// NewTrack builds the outbound track handed to one viewer's connection.
	NewTrack func() OutboundTrack
	OnStatus StatusFunc
	// OnRoom receives every room code the host opens.
	OnRoom func(code string)
}

// Host opens a room on the relay and runs one Negotiator per viewer.
type Host struct {
	*driver
	cfg HostConfig

	mu     sync.Mutex
	code   string
	selfID string
	peers  map[string]*peerLink
}

// StartHost dials the relay and asks for a room. The room code arrives
// asynchronously through OnRoom and RoomCode.
func StartHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}

	conn, err := Dial(ctx, cfg.SignalURL, cfg.Logger)
	if err != nil {
		if cfg.OnStatus != nil {
			cfg.OnStatus(StatusError, err.Error())
		}
		return nil, err
	}

	h := &Host{
		driver: newDriver(conn, cfg.Logger, cfg.OnStatus),
		cfg:    cfg,
		peers:  make(map[string]*peerLink),
	}
	h.release = h.closePeers

	if err := conn.Send(sig.MsgTypeCreateRoom, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	h.status(StatusConnected, "connected to relay")
	go h.run(h.handle)
	return h, nil
}

// RoomCode returns the current room code, empty until the relay confirms.
func (h *Host) RoomCode() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

// ViewerCount returns the number of viewers with a live negotiator.
func (h *Host) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Stop leaves the room and closes every viewer connection.
func (h *Host) Stop() {
	if code := h.RoomCode(); code != "" {
		_ = h.conn.Send(sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: code})
	}
	h.finish(nil)
}

func (h *Host) handle(env sig.Envelope) {
	switch env.Type {
	case sig.MsgTypeRoomCreated:
		p, err := decode[sig.RoomCreated](env)
		if err != nil {
			h.log.Warn("bad room-created", zap.Error(err))
			return
		}
		if !p.Success {
			h.finish(errors.New("create room: " + p.Error))
			return
		}
		h.mu.Lock()
		h.code = p.RoomCode
		h.selfID = p.ParticipantID
		h.mu.Unlock()
		h.log.Info("room opened", zap.String("room_code", p.RoomCode))
		h.status(StatusWaiting, "room "+p.RoomCode+" waiting for viewers")
		if h.cfg.OnRoom != nil {
			h.cfg.OnRoom(p.RoomCode)
		}

	case sig.MsgTypeViewerJoined:
		p, err := decode[sig.ViewerJoined](env)
		if err != nil {
			h.log.Warn("bad viewer-joined", zap.Error(err))
			return
		}
		if err := h.offer(p.ViewerID); err != nil {
			h.log.Error("offer failed", zap.String("participant_id", p.ViewerID), zap.Error(err))
			h.dropPeer(p.ViewerID)
		}

	case sig.MsgTypeViewerLeft:
		p, err := decode[sig.ViewerLeft](env)
		if err != nil {
			h.log.Warn("bad viewer-left", zap.Error(err))
			return
		}
		h.dropPeer(p.ViewerID)
		if p.ViewerCount == 0 {
			h.reopen()
		}

	case sig.MsgTypeAnswer:
		pm, link := h.route(env)
		if link == nil || pm.Answer == nil {
			return
		}
		if err := link.n.HandleAnswer(*pm.Answer); err != nil {
			h.log.Error("answer rejected", zap.String("participant_id", pm.From), zap.Error(err))
		}

	case sig.MsgTypeICECandidate:
		pm, link := h.route(env)
		if link == nil || pm.Candidate == nil {
			return
		}
		if err := link.n.AddICECandidate(*pm.Candidate); err != nil {
			h.log.Warn("candidate rejected", zap.String("participant_id", pm.From), zap.Error(err))
		}

	case sig.MsgTypeRoomClosed:
		p, _ := decode[sig.RoomClosed](env)
		h.finish(errors.New("room closed: " + p.Reason))

	case sig.MsgTypeError:
		p, _ := decode[sig.Error](env)
		h.status(StatusError, p.Message)
	}
}

// route decodes a relayed frame and finds the negotiator it belongs to.
func (h *Host) route(env sig.Envelope) (peerMessage, *peerLink) {
	pm, err := decode[peerMessage](env)
	if err != nil {
		h.log.Warn("bad peer frame", zap.String("type", string(env.Type)), zap.Error(err))
		return pm, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if pm.To != h.selfID {
		return pm, nil
	}
	return pm, h.peers[pm.From]
}

// offer starts a fresh negotiation with viewerID.
func (h *Host) offer(viewerID string) error {
	h.mu.Lock()
	self := h.selfID
	h.mu.Unlock()

	link := &peerLink{}
	log := h.log.With(zap.String("participant_id", viewerID))
	link.n = NewNegotiator(h.cfg.ICEServers, Callbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			link.sendMu.Lock()
			defer link.sendMu.Unlock()
			if err := h.conn.Send(sig.MsgTypeICECandidate, peerMessage{Candidate: &c, From: self, To: viewerID}); err != nil {
				log.Warn("send candidate", zap.Error(err))
			}
		},
		OnStateChange: func(s State) {
			switch s {
			case StateConnected:
				h.status(StatusStreaming, "viewer "+viewerID+" connected")
			case StateFailed:
				log.Warn("viewer connection failed")
			}
		},
	}, log)
	if h.cfg.NewTrack != nil {
		link.n.SetLocalTracks(h.cfg.NewTrack())
	}

	h.mu.Lock()
	old := h.peers[viewerID]
	h.peers[viewerID] = link
	h.mu.Unlock()
	if old != nil {
		_ = old.n.Close()
	}

	link.sendMu.Lock()
	defer link.sendMu.Unlock()
	if err := link.n.Initialize(); err != nil {
		return err
	}
	offer, err := link.n.CreateOffer()
	if err != nil {
		return err
	}
	return h.conn.Send(sig.MsgTypeOffer, peerMessage{Offer: &offer, From: self, To: viewerID})
}

func (h *Host) dropPeer(viewerID string) {
	h.mu.Lock()
	link := h.peers[viewerID]
	delete(h.peers, viewerID)
	h.mu.Unlock()
	if link != nil {
		_ = link.n.Close()
		h.log.Info("viewer dropped", zap.String("participant_id", viewerID))
	}
}

// reopen asks for a new room after the relay deleted the empty one.
func (h *Host) reopen() {
	h.mu.Lock()
	code := h.code
	h.code = ""
	h.mu.Unlock()

	if code != "" {
		_ = h.conn.Send(sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: code})
	}
	if err := h.conn.Send(sig.MsgTypeCreateRoom, nil); err != nil {
		h.finish(err)
		return
	}
	h.status(StatusConnected, "room emptied, reopening")
}

func (h *Host) closePeers() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peerLink)
	h.mu.Unlock()
	for _, link := range peers {
		_ = link.n.Close()
	}
}
