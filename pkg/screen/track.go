package screen

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// FrameChannelLabel names the data channel that carries frames.
const FrameChannelLabel = "screen-frames"

// FrameTrack carries a FrameSource to one peer connection over its own
// data channel. The channel subscribes to the source only while open.
type FrameTrack struct {
	src *FrameSource
	log *zap.Logger

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	unsubscribe func()
	stopped     bool
}

func NewFrameTrack(src *FrameSource, log *zap.Logger) *FrameTrack {
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameTrack{src: src, log: log}
}

// AttachTo creates the frame channel on pc. It must run before the offer
// is created so the channel is part of it.
func (t *FrameTrack) AttachTo(pc *webrtc.PeerConnection) error {
	dc, err := pc.CreateDataChannel(FrameChannelLabel, nil)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stopped || t.unsubscribe != nil {
			return
		}
		t.unsubscribe = t.src.Subscribe(func(frame []byte) {
			if err := dc.Send(frame); err != nil {
				t.log.Debug("send frame", zap.Error(err))
			}
		})
	})
	dc.OnClose(t.detach)
	return nil
}

func (t *FrameTrack) detach() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Stop unsubscribes from the source and closes the channel.
func (t *FrameTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	dc := t.dc
	t.mu.Unlock()

	t.detach()
	if dc != nil {
		_ = dc.Close()
	}
}
