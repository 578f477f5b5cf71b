// Package store keeps the in-memory room and session records the relay
// coordinates. Nothing here survives a restart.
package store

import (
	"time"

	"go.uber.org/zap"
)

// Role is the part a participant plays in a room.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

type options struct {
	now func() time.Time
	log *zap.Logger
}

// Option configures a RoomStore or SessionStore.
type Option func(*options)

// WithClock replaces time.Now; tests use it to age records.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for mutation events.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
