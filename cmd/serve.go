package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screen-share/internal/config"
	"screen-share/internal/server"
	"screen-share/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay (HTTP + WebSocket)",
	RunE:  runServe,
}

var serveFlags struct {
	port       string
	maxViewers int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.port, "port", "", "listen port (overrides APP_PORT)")
	serveCmd.Flags().IntVar(&serveFlags.maxViewers, "max-viewers", 0, "viewers per room, 0 = unlimited (overrides ROOM_MAX_VIEWERS)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveFlags.port != "" {
		cfg.HTTPPort = serveFlags.port
	}
	if cmd.Flags().Changed("max-viewers") {
		cfg.RoomMaxViewers = serveFlags.maxViewers
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv := server.NewServer(
		store.NewRoomStore(store.WithLogger(logger)),
		store.NewSessionStore(store.WithLogger(logger)),
		server.Options{
			Logger:               logger,
			MaxMessageSize:       cfg.WSMaxMessageSize,
			MaxViewers:           cfg.RoomMaxViewers,
			RoomSweepInterval:    cfg.RoomSweepInterval,
			RoomIdleTimeout:      cfg.RoomIdleTimeout,
			SessionSweepInterval: cfg.SessionSweepInterval,
			SessionIdleTimeout:   cfg.SessionIdleTimeout,
		},
	)

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.Run(ctx)

	addr, shutdown, err := server.StartHTTPServer(cfg.Addr(), srv)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	logger.Info("signaling relay listening",
		zap.String("addr", addr),
		zap.String("ws", "ws://"+addr+"/ws"),
		zap.String("env", cfg.AppEnv))

	<-ctx.Done()
	logger.Info("shutting down")
	shutdown()
	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
