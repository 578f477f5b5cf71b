package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run drives the room and session sweeps until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		every(ctx, s.opts.RoomSweepInterval, func() { s.SweepRooms() })
	}()
	go func() {
		defer wg.Done()
		every(ctx, s.opts.SessionSweepInterval, func() { s.SweepSessions() })
	}()
	wg.Wait()
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// SweepRooms reclaims rooms idle for longer than the room timeout,
// whatever their occupancy, and returns how many it removed.
func (s *Server) SweepRooms() int {
	removed := 0
	for _, code := range s.rooms.IdleCodes(s.opts.RoomIdleTimeout) {
		unlock := s.locks.Lock(code)
		if s.rooms.DeleteIfIdle(code, s.opts.RoomIdleTimeout) {
			s.evictMembers(code, "expired")
			removed++
		}
		unlock()
	}
	if removed > 0 {
		s.log.Info("cleaned up inactive rooms", zap.Int("count", removed))
	}
	return removed
}

// SweepSessions reclaims sessions idle for longer than the session timeout
// and returns how many it removed.
func (s *Server) SweepSessions() int {
	removed := 0
	for _, sess := range s.sessions.IdleSessions(s.opts.SessionIdleTimeout) {
		unlock := s.locks.Lock(sess.RoomCode)
		if s.sessions.DeleteIfIdle(sess.ID, s.opts.SessionIdleTimeout) {
			removed++
		}
		unlock()
	}
	if removed > 0 {
		s.log.Info("cleaned up expired sessions", zap.Int("count", removed))
	}
	return removed
}
