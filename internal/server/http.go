package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter mounts the WebSocket endpoint and the health checks.
func NewRouter(s *Server) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	health := NewHealthHandler(s)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/ws", func(c *gin.Context) {
		s.ServeWS(c.Writer, c.Request)
	})
	return r
}

// StartHTTPServer serves s on addr in the background. addr may use port 0.
// It returns the bound address and a stop func that shuts the listener
// down gracefully.
func StartHTTPServer(addr string, s *Server) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	actualAddr := ln.Addr().String()

	srv := &http.Server{
		Handler:           NewRouter(s),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("signaling server error", zap.Error(err))
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("signaling server shutdown error", zap.Error(err))
		}
	}

	return actualAddr, stop, nil
}
