// Package discovery implements presence announcements over plain UDP
// broadcast. Unlike mDNS it needs no multicast support from the network:
// every device periodically shouts an announcement datagram at the local
// broadcast domain and passively listens for everyone else's.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"godrop/models"
)

const (
	// MessageAnnounce is the announcement datagram prefix. Changing it (or
	// the field layout) breaks interoperability with unmodified peers.
	MessageAnnounce = "PYDROP_ANNOUNCE"
	// DefaultDiscoveryPort is the fixed UDP port announcements travel on.
	DefaultDiscoveryPort = 8766
	// DefaultBroadcastAddress is the limited-broadcast target.
	DefaultBroadcastAddress = "255.255.255.255"
	// DefaultBroadcastInterval is the pause between announcements.
	DefaultBroadcastInterval = 4 * time.Second
	// DefaultReadTimeout bounds each listener read so shutdown is prompt.
	DefaultReadTimeout = 2 * time.Second
	// maxDatagramSize bounds announcement reads.
	maxDatagramSize = 1024

	announceFieldCount = 4
)

const (
	// EventDeviceSeen is emitted for every well-formed remote announcement.
	EventDeviceSeen EventType = "device_seen"
)

// EventType identifies discovery updates.
type EventType string

// Event carries discovery updates for registry/UI consumers.
type Event struct {
	Type   EventType
	Device models.Device
}

type sendFunc func(payload []byte) error

// Config controls the UDP announce/listen service.
type Config struct {
	SelfDeviceID string
	DeviceName   string
	HTTPPort     int

	DiscoveryPort     int
	BroadcastAddress  string
	BroadcastInterval time.Duration
	ReadTimeout       time.Duration

	Logger *zerolog.Logger

	sendFn sendFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.DiscoveryPort == 0 {
		out.DiscoveryPort = DefaultDiscoveryPort
	}
	if out.BroadcastAddress == "" {
		out.BroadcastAddress = DefaultBroadcastAddress
	}
	if out.BroadcastInterval <= 0 {
		out.BroadcastInterval = DefaultBroadcastInterval
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.Logger == nil {
		nop := zerolog.Nop()
		out.Logger = &nop
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.SelfDeviceID) == "" {
		return errors.New("self device ID is required")
	}
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device name is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return errors.New("http port must be in 1..65535")
	}
	if strings.Contains(c.DeviceName, "|") {
		return errors.New("device name must not contain the field delimiter")
	}
	return nil
}

// Service broadcasts local presence and listens for remote announcements.
type Service struct {
	cfg Config

	conn   *net.UDPConn
	events chan Event

	running atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a discovery service with config defaults applied.
func NewService(config Config) (*Service, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Service{
		cfg:    cfg,
		events: make(chan Event, 128),
	}, nil
}

// Start binds the listen socket and launches the listener and broadcaster
// goroutines. It is idempotent; repeated calls return the first outcome.
// Failures inside the running goroutines never propagate back here.
func (s *Service) Start() error {
	s.startOnce.Do(func() {
		conn, err := listenAnnouncements(s.cfg.DiscoveryPort)
		if err != nil {
			s.startErr = err
			return
		}

		s.conn = conn
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.running.Store(true)

		s.wg.Add(2)
		go s.listenLoop()
		go s.broadcastLoop()
	})
	return s.startErr
}

// Stop terminates both goroutines. The listener unblocks via socket close,
// the broadcaster wakes from its interval wait immediately; neither waits
// out a full broadcast interval.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.wg.Wait()
		close(s.events)
	})
}

// Events provides asynchronous discovery updates.
func (s *Service) Events() <-chan Event {
	return s.events
}

// Port returns the actual bound discovery port.
func (s *Service) Port() int {
	if s.conn == nil {
		return s.cfg.DiscoveryPort
	}
	if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return s.cfg.DiscoveryPort
}

func (s *Service) listenLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !s.running.Load() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// A read timeout is just the periodic running-flag check.
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.cfg.Logger.Debug().Err(err).Msg("discovery receive error, continuing")
			continue
		}

		device, ok := parseAnnouncement(buf[:n], addr.IP, s.cfg.SelfDeviceID)
		if !ok {
			continue
		}
		device.LastSeen = time.Now()
		s.emitEvent(Event{Type: EventDeviceSeen, Device: device})
	}
}

func (s *Service) broadcastLoop() {
	defer s.wg.Done()

	payload := []byte(announcementPayload(s.cfg.SelfDeviceID, s.cfg.DeviceName, s.cfg.HTTPPort))
	send := s.cfg.sendFn
	if send == nil {
		target := net.JoinHostPort(s.cfg.BroadcastAddress, strconv.Itoa(s.cfg.DiscoveryPort))
		send = func(p []byte) error {
			return sendDatagram(target, p)
		}
	}

	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		if err := send(payload); err != nil {
			// Transient by definition; try again next interval.
			s.cfg.Logger.Debug().Err(err).Msg("discovery announce failed")
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) emitEvent(event Event) {
	select {
	case s.events <- event:
	default:
	}
}

func announcementPayload(deviceID, deviceName string, httpPort int) string {
	return fmt.Sprintf("%s|%s|%s|%d", MessageAnnounce, deviceID, deviceName, httpPort)
}

// parseAnnouncement decodes one datagram. The device address always comes
// from the packet source, never from the payload; payloads are untrusted.
func parseAnnouncement(data []byte, src net.IP, selfDeviceID string) (models.Device, bool) {
	if len(data) == 0 || !utf8.Valid(data) {
		return models.Device{}, false
	}

	msg := strings.TrimSpace(string(data))
	parts := strings.Split(msg, "|")
	if len(parts) < announceFieldCount {
		return models.Device{}, false
	}
	if parts[0] != MessageAnnounce {
		return models.Device{}, false
	}

	deviceID := strings.TrimSpace(parts[1])
	if deviceID == "" || deviceID == selfDeviceID {
		return models.Device{}, false
	}

	httpPort, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil || httpPort < 1 || httpPort > 65535 {
		return models.Device{}, false
	}

	name := strings.TrimSpace(parts[2])
	if name == "" {
		name = deviceID
	}

	address := src.String()
	if ip4 := src.To4(); ip4 != nil {
		address = ip4.String()
	}

	return models.Device{
		DeviceID:   deviceID,
		DeviceName: name,
		Address:    address,
		HTTPPort:   httpPort,
	}, true
}

func listenAnnouncements(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: controlBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind discovery port %d: %w", port, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}
	return conn, nil
}

func sendDatagram(target string, payload []byte) error {
	dialer := net.Dialer{Control: controlBroadcast}
	conn, err := dialer.Dial("udp4", target)
	if err != nil {
		return fmt.Errorf("dial broadcast target %q: %w", target, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}
	return nil
}
