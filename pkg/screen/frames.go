package screen

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	MaxFrameRate     = 30
	DefaultFrameRate = 15
	DefaultQuality   = 60
)

// GrabFunc produces one frame.
type GrabFunc func() (image.Image, error)

// FrameSource grabs frames at a fixed rate, encodes them as JPEG and hands
// the bytes to every subscriber. Nothing is grabbed while there are no
// subscribers.
type FrameSource struct {
	grab    GrabFunc
	rate    int
	quality int
	log     *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[int]func([]byte)
}

// NewFrameSource returns a source grabbing fps frames per second, clamped
// to [1, MaxFrameRate]; zero selects DefaultFrameRate.
func NewFrameSource(grab GrabFunc, fps int, log *zap.Logger) *FrameSource {
	switch {
	case fps == 0:
		fps = DefaultFrameRate
	case fps < 1:
		fps = 1
	case fps > MaxFrameRate:
		fps = MaxFrameRate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FrameSource{
		grab:    grab,
		rate:    fps,
		quality: DefaultQuality,
		log:     log,
		subs:    make(map[int]func([]byte)),
	}
}

// FrameRate returns the effective frames per second.
func (s *FrameSource) FrameRate() int { return s.rate }

// Subscribe registers fn for every encoded frame and returns its removal.
func (s *FrameSource) Subscribe(fn func([]byte)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (s *FrameSource) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Run grabs and fans out frames until ctx is done.
func (s *FrameSource) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick grabs, encodes and delivers one frame. It reports whether a frame
// was delivered.
func (s *FrameSource) Tick() bool {
	s.mu.RLock()
	if len(s.subs) == 0 {
		s.mu.RUnlock()
		return false
	}
	s.mu.RUnlock()

	img, err := s.grab()
	if err != nil {
		s.log.Warn("grab frame", zap.Error(err))
		return false
	}
	payload, err := EncodeFrame(img, s.quality)
	if err != nil {
		s.log.Warn("encode frame", zap.Error(err))
		return false
	}

	s.mu.RLock()
	subs := make([]func([]byte), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()

	for _, fn := range subs {
		fn(payload)
	}
	return true
}

// EncodeFrame JPEG-encodes img at the given quality.
func EncodeFrame(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses one received frame.
func DecodeFrame(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}
