package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"screen-share/pkg/roomcode"
	"screen-share/pkg/screen"
	sig "screen-share/pkg/signal"
)

// ViewerConfig controls a viewing session.
type ViewerConfig struct {
	SignalURL  string
	ICEServers []string
	Logger     *zap.Logger
	// OnFrame receives each encoded frame from the host's frame channel.
	OnFrame func(data []byte)
	// OnTrack receives remote media tracks.
	OnTrack  func(*webrtc.TrackRemote)
	OnStatus StatusFunc
}

// Viewer joins a room and answers the host's offer.
type Viewer struct {
	*driver
	cfg  ViewerConfig
	code string

	mu     sync.Mutex
	selfID string
	hostID string
	link   *peerLink
}

// StartViewer dials the relay and joins the room named by code. Typed
// input is normalized first; a code that is still malformed is rejected
// without contacting the relay.
func StartViewer(ctx context.Context, code string, cfg ViewerConfig) (*Viewer, error) {
	code = roomcode.Normalize(code)
	if !roomcode.Validate(code) {
		return nil, fmt.Errorf("invalid room code %q", code)
	}
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

	v := &Viewer{
		driver: newDriver(conn, cfg.Logger.With(zap.String("room_code", code)), cfg.OnStatus),
		cfg:    cfg,
		code:   code,
	}
	v.release = v.closePeer

	if err := conn.Send(sig.MsgTypeJoinRoom, sig.JoinRoom{RoomCode: code}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	v.status(StatusConnected, "connected to relay")
	go v.run(v.handle)
	return v, nil
}

// RoomCode returns the normalized code this viewer joined.
func (v *Viewer) RoomCode() string { return v.code }

// State returns the negotiation state with the host, idle before an offer.
func (v *Viewer) State() State {
	v.mu.Lock()
	link := v.link
	v.mu.Unlock()
	if link == nil {
		return StateIdle
	}
	return link.n.State()
}

// Stop leaves the room and closes the peer connection.
func (v *Viewer) Stop() {
	_ = v.conn.Send(sig.MsgTypeLeaveRoom, sig.LeaveRoom{RoomCode: v.code})
	v.finish(nil)
}

func (v *Viewer) handle(env sig.Envelope) {
	switch env.Type {
	case sig.MsgTypeRoomJoined:
		p, err := decode[sig.RoomJoined](env)
		if err != nil {
			v.log.Warn("bad room-joined", zap.Error(err))
			return
		}
		if !p.Success {
			v.finish(errors.New("join room: " + p.Error))
			return
		}
		v.mu.Lock()
		v.selfID = p.ParticipantID
		v.mu.Unlock()
		v.status(StatusWaiting, "joined "+p.RoomCode+" ("+strconv.Itoa(p.ViewerCount)+" viewers)")

	case sig.MsgTypeOffer:
		pm, err := decode[peerMessage](env)
		if err != nil || pm.Offer == nil {
			v.log.Warn("bad offer", zap.Error(err))
			return
		}
		if !v.addressed(pm) {
			return
		}
		if err := v.answer(pm.From, *pm.Offer); err != nil {
			v.log.Error("answer failed", zap.Error(err))
			v.status(StatusError, err.Error())
		}

	case sig.MsgTypeICECandidate:
		pm, err := decode[peerMessage](env)
		if err != nil || pm.Candidate == nil || !v.addressed(pm) {
			return
		}
		v.mu.Lock()
		link := v.link
		fromHost := pm.From == v.hostID
		v.mu.Unlock()
		if link == nil || !fromHost {
			return
		}
		if err := link.n.AddICECandidate(*pm.Candidate); err != nil {
			v.log.Warn("candidate rejected", zap.Error(err))
		}

	case sig.MsgTypeViewerJoined, sig.MsgTypeViewerLeft:
		v.log.Debug("room membership changed", zap.String("type", string(env.Type)))

	case sig.MsgTypeHostLeft:
		v.log.Info("host left")
		v.finish(nil)

	case sig.MsgTypeRoomClosed:
		p, _ := decode[sig.RoomClosed](env)
		v.finish(errors.New("room closed: " + p.Reason))

	case sig.MsgTypeError:
		p, _ := decode[sig.Error](env)
		v.status(StatusError, p.Message)
	}
}

func (v *Viewer) addressed(pm peerMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selfID != "" && pm.To == v.selfID
}

// answer replaces any previous negotiation with a fresh one for hostID.
func (v *Viewer) answer(hostID string, offer webrtc.SessionDescription) error {
	v.mu.Lock()
	self := v.selfID
	v.mu.Unlock()

	link := &peerLink{}
	link.n = NewNegotiator(v.cfg.ICEServers, Callbacks{
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			link.sendMu.Lock()
			defer link.sendMu.Unlock()
			if err := v.conn.Send(sig.MsgTypeICECandidate, peerMessage{Candidate: &c, From: self, To: hostID}); err != nil {
				v.log.Warn("send candidate", zap.Error(err))
			}
		},
		OnDataChannel: func(dc *webrtc.DataChannel) {
			if dc.Label() != screen.FrameChannelLabel {
				return
			}
			dc.OnOpen(func() { v.status(StatusStreaming, "receiving frames") })
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if v.cfg.OnFrame != nil {
					v.cfg.OnFrame(msg.Data)
				}
			})
		},
		OnRemoteTrack: v.cfg.OnTrack,
	}, v.log)

	v.mu.Lock()
	old := v.link
	v.link = link
	v.hostID = hostID
	v.mu.Unlock()
	if old != nil {
		_ = old.n.Close()
	}

	link.sendMu.Lock()
	defer link.sendMu.Unlock()
	if err := link.n.Initialize(); err != nil {
		return err
	}
	answer, err := link.n.HandleOffer(offer)
	if err != nil {
		return err
	}
	return v.conn.Send(sig.MsgTypeAnswer, peerMessage{Answer: &answer, From: self, To: hostID})
}

func (v *Viewer) closePeer() {
	v.mu.Lock()
	link := v.link
	v.mu.Unlock()
	if link != nil {
		_ = link.n.Close()
	}
}
