// Package discovery announces open rooms on the local network over UDP
// broadcast and collects those announcements.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"screen-share/pkg/roomcode"
)

const (
	Port     = 47815
	Interval = 3 * time.Second
	magic    = "screen-share-v1"
)

// Announcement is one broadcast beacon.
type Announcement struct {
	Magic     string `json:"magic"`
	RoomCode  string `json:"roomCode"`
	SignalURL string `json:"signalUrl"`
	Name      string `json:"name,omitempty"`
}

// Beacon broadcasts the announcement returned by current every Interval
// until ctx is done. Ticks where current reports no room are skipped.
func Beacon(ctx context.Context, current func() Announcement, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("beacon socket: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload, ok := encode(current())
			if !ok {
				continue
			}
			if _, err := conn.WriteTo(payload, dst); err != nil {
				log.Debug("beacon write", zap.Error(err))
			}
		}
	}
}

func encode(ann Announcement) ([]byte, bool) {
	if ann.RoomCode == "" || ann.SignalURL == "" {
		return nil, false
	}
	ann.Magic = magic
	b, err := json.Marshal(ann)
	return b, err == nil
}

// Discover listens for timeout and returns each distinct announcement seen.
func Discover(ctx context.Context, timeout time.Duration) ([]Announcement, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("listen udp %d: %w", Port, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	var out []Announcement
	seen := make(map[string]bool)
	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			// deadline reached
			break
		}
		ann, ok := parseAnnouncement(buf[:n])
		if !ok {
			continue
		}
		key := ann.RoomCode + "|" + ann.SignalURL
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ann)
	}
	return out, nil
}

func parseAnnouncement(b []byte) (Announcement, bool) {
	var ann Announcement
	if err := json.Unmarshal(b, &ann); err != nil {
		return Announcement{}, false
	}
	if ann.Magic != magic || !roomcode.Validate(ann.RoomCode) || ann.SignalURL == "" {
		return Announcement{}, false
	}
	return ann, true
}

// LocalIPv4 returns the first non-loopback IPv4 address of an interface
// that is up, or "".
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&(net.FlagUp|net.FlagLoopback) != net.FlagUp {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip = ip.To4(); ip == nil || ip.IsLoopback() {
				continue
			}
			return ip.String()
		}
	}
	return ""
}
