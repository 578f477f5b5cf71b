package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screen-share/internal/config"
	"screen-share/pkg/client"
	"screen-share/pkg/screen"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Join a room and write the latest received frame to a file",
	RunE:  runView,
}

var errNoCode = errors.New("--code is required")

var viewFlags struct {
	code      string
	signalURL string
	out       string
}

func init() {
	f := viewCmd.Flags()
	f.StringVar(&viewFlags.code, "code", "", "room code to join")
	f.StringVar(&viewFlags.signalURL, "signal-url", "", "relay WebSocket URL (overrides SIGNAL_URL)")
	f.StringVar(&viewFlags.out, "out", "frame.jpg", "file receiving the latest frame")
}

func runView(cmd *cobra.Command, _ []string) error {
	if viewFlags.code == "" {
		return errNoCode
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if viewFlags.signalURL != "" {
		cfg.SignalURL = viewFlags.signalURL
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var frames atomic.Int64
	v, err := client.StartViewer(ctx, viewFlags.code, client.ViewerConfig{
		SignalURL:  cfg.SignalURL,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
		OnFrame: func(data []byte) {
			if err := writeFrame(viewFlags.out, data); err != nil {
				logger.Warn("frame dropped", zap.Error(err))
				return
			}
			frames.Add(1)
		},
		OnStatus: func(st client.Status, text string) {
			logger.Info("viewer status", zap.String("status", string(st)), zap.String("text", text))
		},
	})
	if err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		v.Stop()
	case <-v.Done():
		runErr = v.Err()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d frames received\n", frames.Load())
	return runErr
}

// writeFrame validates data and replaces path with it atomically.
func writeFrame(path string, data []byte) error {
	if _, err := screen.DecodeFrame(data); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
