package discovery

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"godrop/models"
)

func TestParseAnnouncement(t *testing.T) {
	src := net.ParseIP("192.168.1.50")

	tests := []struct {
		name    string
		payload []byte
		want    models.Device
		ok      bool
	}{
		{
			name:    "well formed",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|Laptop|8080"),
			want: models.Device{
				DeviceID:   "abc123def456",
				DeviceName: "Laptop",
				Address:    "192.168.1.50",
				HTTPPort:   8080,
			},
			ok: true,
		},
		{
			name:    "extra fields ignored",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|Laptop|8080|surplus|fields"),
			want: models.Device{
				DeviceID:   "abc123def456",
				DeviceName: "Laptop",
				Address:    "192.168.1.50",
				HTTPPort:   8080,
			},
			ok: true,
		},
		{
			name:    "address comes from packet source not payload",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|10.0.0.99|8080"),
			want: models.Device{
				DeviceID:   "abc123def456",
				DeviceName: "10.0.0.99",
				Address:    "192.168.1.50",
				HTTPPort:   8080,
			},
			ok: true,
		},
		{
			name:    "too few fields",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|Laptop"),
			ok:      false,
		},
		{
			name:    "wrong prefix",
			payload: []byte("PYDROP_DISCOVER|abc123def456|Laptop|8080"),
			ok:      false,
		},
		{
			name:    "self echo",
			payload: []byte("PYDROP_ANNOUNCE|self-device-id|Laptop|8080"),
			ok:      false,
		},
		{
			name:    "empty device id",
			payload: []byte("PYDROP_ANNOUNCE||Laptop|8080"),
			ok:      false,
		},
		{
			name:    "non-numeric port",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|Laptop|eighty"),
			ok:      false,
		},
		{
			name:    "port out of range",
			payload: []byte("PYDROP_ANNOUNCE|abc123def456|Laptop|70000"),
			ok:      false,
		},
		{
			name:    "not utf8",
			payload: []byte{0xff, 0xfe, 0xfd, '|', 'x'},
			ok:      false,
		},
		{
			name:    "empty datagram",
			payload: nil,
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseAnnouncement(tt.payload, src, "self-device-id")
			if ok != tt.ok {
				t.Fatalf("parseAnnouncement ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.DeviceID != tt.want.DeviceID ||
				got.DeviceName != tt.want.DeviceName ||
				got.Address != tt.want.Address ||
				got.HTTPPort != tt.want.HTTPPort {
				t.Fatalf("parseAnnouncement = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestListenerDeliversRemoteAnnouncementsOnly(t *testing.T) {
	service := newTestService(t, Config{
		SelfDeviceID: "self-device-id",
		DeviceName:   "Self",
		HTTPPort:     8080,
	})

	// Hostile input first: none of these may surface or kill the listener.
	sendToService(t, service, []byte{0x00, 0xff, 0x01})
	sendToService(t, service, []byte("PYDROP_ANNOUNCE|too|few"))
	sendToService(t, service, []byte("PYDROP_ANNOUNCE|self-device-id|Self|8080"))
	sendToService(t, service, []byte("PYDROP_ANNOUNCE|peer-1|Laptop|9090"))

	device := waitForDevice(t, service.Events(), "peer-1", 2*time.Second)
	if device.Address != "127.0.0.1" {
		t.Fatalf("expected source address 127.0.0.1, got %q", device.Address)
	}
	if device.HTTPPort != 9090 {
		t.Fatalf("expected announced port 9090, got %d", device.HTTPPort)
	}
	if device.LastSeen.IsZero() {
		t.Fatalf("expected LastSeen to be stamped")
	}

	// The earlier malformed traffic must not have produced events.
	select {
	case extra := <-service.Events():
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcasterAnnouncesOnInterval(t *testing.T) {
	var mu sync.Mutex
	var payloads []string

	newTestService(t, Config{
		SelfDeviceID:      "self-device-id",
		DeviceName:        "Self",
		HTTPPort:          8080,
		BroadcastInterval: 20 * time.Millisecond,
		sendFn: func(payload []byte) error {
			mu.Lock()
			payloads = append(payloads, string(payload))
			mu.Unlock()
			return nil
		},
	})

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) >= 3
	})

	mu.Lock()
	first := payloads[0]
	mu.Unlock()
	want := fmt.Sprintf("%s|self-device-id|Self|8080", MessageAnnounce)
	if first != want {
		t.Fatalf("announcement payload = %q, want %q", first, want)
	}
}

func TestBroadcasterSurvivesSendErrors(t *testing.T) {
	var mu sync.Mutex
	sends := 0

	newTestService(t, Config{
		SelfDeviceID:      "self-device-id",
		DeviceName:        "Self",
		HTTPPort:          8080,
		BroadcastInterval: 10 * time.Millisecond,
		sendFn: func(payload []byte) error {
			mu.Lock()
			sends++
			mu.Unlock()
			return fmt.Errorf("network unreachable")
		},
	})

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sends >= 3
	})
}

func TestStopUnblocksBothLoopsPromptly(t *testing.T) {
	service := newTestService(t, Config{
		SelfDeviceID:      "self-device-id",
		DeviceName:        "Self",
		HTTPPort:          8080,
		BroadcastInterval: time.Hour,
		ReadTimeout:       30 * time.Second,
	})

	started := time.Now()
	service.Stop()
	elapsed := time.Since(started)

	// Closing the socket unblocks the read and the context wakes the
	// broadcaster, so Stop must not wait out either interval.
	if elapsed > time.Second {
		t.Fatalf("Stop took %v, expected prompt shutdown", elapsed)
	}

	if _, open := <-service.Events(); open {
		t.Fatalf("expected events channel to be closed after Stop")
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	service, err := NewService(Config{
		SelfDeviceID:      "self-device-id",
		DeviceName:        "Self",
		HTTPPort:          8080,
		DiscoveryPort:     -1, // ":-1" cannot bind; Start must fail cleanly
		BroadcastInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := service.Start(); err == nil {
		t.Fatalf("expected Start to fail on an unbindable port")
	}
	if err := service.Start(); err == nil {
		t.Fatalf("expected repeated Start to report the first failure")
	}

	ok := newTestService(t, Config{
		SelfDeviceID:      "self-device-id",
		DeviceName:        "Self",
		HTTPPort:          8080,
		BroadcastInterval: time.Hour,
	})
	ok.Stop()
	ok.Stop()
}

func TestNewServiceValidatesConfig(t *testing.T) {
	if _, err := NewService(Config{DeviceName: "Self", HTTPPort: 8080}); err == nil {
		t.Fatalf("expected missing device ID to be rejected")
	}
	if _, err := NewService(Config{SelfDeviceID: "id", HTTPPort: 8080}); err == nil {
		t.Fatalf("expected missing device name to be rejected")
	}
	if _, err := NewService(Config{SelfDeviceID: "id", DeviceName: "Self"}); err == nil {
		t.Fatalf("expected missing HTTP port to be rejected")
	}
	if _, err := NewService(Config{SelfDeviceID: "id", DeviceName: "A|B", HTTPPort: 8080}); err == nil {
		t.Fatalf("expected delimiter in device name to be rejected")
	}
}

// newTestService starts a service bound to an ephemeral port with a short
// read timeout, registered for cleanup.
func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()

	cfg.DiscoveryPort = 0
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.BroadcastInterval == 0 {
		cfg.BroadcastInterval = time.Hour
	}

	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := service.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(service.Stop)
	return service
}

func sendToService(t *testing.T, service *Service, payload []byte) {
	t.Helper()

	conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", service.Port()))
	if err != nil {
		t.Fatalf("dial test service: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("send test datagram: %v", err)
	}
}

func waitForDevice(t *testing.T, events <-chan Event, deviceID string, timeout time.Duration) models.Device {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed while waiting for %q", deviceID)
			}
			if event.Type == EventDeviceSeen && event.Device.DeviceID == deviceID {
				return event.Device
			}
		case <-deadline:
			t.Fatalf("no announcement from %q within %s", deviceID, timeout)
		}
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}
