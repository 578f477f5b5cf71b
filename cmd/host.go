package cmd

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screen-share/internal/config"
	"screen-share/pkg/client"
	"screen-share/pkg/discovery"
	"screen-share/pkg/screen"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Share this screen: open a room and stream to every viewer",
	RunE:  runHost,
}

var hostFlags struct {
	signalURL string
	display   int
	fps       int
	width     int
	height    int
	announce  bool
	name      string
}

func init() {
	f := hostCmd.Flags()
	f.StringVar(&hostFlags.signalURL, "signal-url", "", "relay WebSocket URL (overrides SIGNAL_URL)")
	f.IntVar(&hostFlags.display, "display", 0, "display index to capture")
	f.IntVar(&hostFlags.fps, "fps", screen.DefaultFrameRate, "frames per second, at most 30")
	f.IntVar(&hostFlags.width, "width", 0, "scale frames to this width (0 = native)")
	f.IntVar(&hostFlags.height, "height", 0, "scale frames to this height (0 = native)")
	f.BoolVar(&hostFlags.announce, "announce", false, "broadcast the room code on the local network")
	f.StringVar(&hostFlags.name, "name", "", "name shown to discover")
}

func runHost(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if hostFlags.signalURL != "" {
		cfg.SignalURL = hostFlags.signalURL
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	displays := screen.ListDisplays()
	if hostFlags.display < 0 || hostFlags.display >= len(displays) {
		return fmt.Errorf("%w: index %d, %d attached", screen.ErrNoDisplay, hostFlags.display, len(displays))
	}
	capture := screen.NewCapture(hostFlags.display)
	capture.SetSize(hostFlags.width, hostFlags.height)
	src := screen.NewFrameSource(capture.Grab, hostFlags.fps, logger)
	logger.Info("capturing",
		zap.String("display", displays[hostFlags.display].Label),
		zap.Int("fps", src.FrameRate()))

	ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go src.Run(ctx)

	out := cmd.OutOrStdout()
	h, err := client.StartHost(ctx, client.HostConfig{
		SignalURL:  cfg.SignalURL,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
		NewTrack: func() client.OutboundTrack {
			return screen.NewFrameTrack(src, logger)
		},
		OnStatus: func(st client.Status, text string) {
			logger.Info("host status", zap.String("status", string(st)), zap.String("text", text))
		},
		OnRoom: func(code string) {
			fmt.Fprintf(out, "Room code: %s\n", code)
		},
	})
	if err != nil {
		return err
	}

	if hostFlags.announce {
		signalURL := lanURL(cfg.SignalURL)
		go func() {
			err := discovery.Beacon(ctx, func() discovery.Announcement {
				return discovery.Announcement{
					RoomCode:  h.RoomCode(),
					SignalURL: signalURL,
					Name:      hostFlags.name,
				}
			}, logger)
			if err != nil {
				logger.Warn("beacon stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		h.Stop()
		return nil
	case <-h.Done():
		return h.Err()
	}
}

// lanURL swaps a loopback host in raw for this machine's LAN address so
// that announcements are reachable from other machines.
func lanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return raw
	}
	lan := discovery.LocalIPv4()
	if lan == "" {
		return raw
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(lan, port)
	} else {
		u.Host = lan
	}
	return u.String()
}
