// Package node wires discovery, the device registry, the HTTP receiver
// and the sender into one process-lifetime unit, and exposes a single
// event stream to whatever shell (GUI, CLI) sits on top.
package node

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"godrop/discovery"
	"godrop/models"
	"godrop/receiver"
	"godrop/registry"
	"godrop/sender"
	"godrop/storage"
)

const (
	// EventDeviceFound is emitted once per distinct newly-learned device ID.
	EventDeviceFound EventType = "device_found"
	// EventFileReceived is emitted once per completed inbound upload.
	EventFileReceived EventType = "file_received"
	// EventFileSent is emitted once per successful outbound transfer.
	EventFileSent EventType = "file_sent"
)

// EventType identifies node notifications.
type EventType string

// Event carries notifications for the external sink.
type Event struct {
	Type   EventType
	Device models.Device
	File   models.FileRecord
}

// ErrUnknownDevice is returned when sending to an ID the registry has not seen.
var ErrUnknownDevice = errors.New("node: unknown device")

// Options controls a node.
type Options struct {
	DeviceName    string
	HTTPPort      int
	DiscoveryPort int
	DownloadDir   string

	Store  *storage.Store
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	out := o
	if out.Logger == nil {
		nop := zerolog.Nop()
		out.Logger = &nop
	}
	return out
}

func (o Options) validate() error {
	if strings.TrimSpace(o.DeviceName) == "" {
		return errors.New("device name is required")
	}
	if strings.TrimSpace(o.DownloadDir) == "" {
		return errors.New("download directory is required")
	}
	return nil
}

// Node owns the device registry and the long-lived services around it.
type Node struct {
	options Options

	deviceID string
	registry *registry.Registry
	sender   *sender.Sender

	discovery *discovery.Service
	receiver  *receiver.Receiver

	downloadMu  sync.RWMutex
	downloadDir string

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	wg        sync.WaitGroup
}

// New creates a node with a fresh process-lifetime device ID.
func New(options Options) (*Node, error) {
	opts := options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &Node{
		options:     opts,
		deviceID:    models.NewDeviceID(),
		registry:    registry.New(),
		sender:      sender.New(sender.Options{}),
		downloadDir: opts.DownloadDir,
		events:      make(chan Event, 64),
	}, nil
}

// Start launches the receiver, the discovery service and the event pump.
// It is idempotent; repeated calls return the first outcome.
func (n *Node) Start() error {
	n.startOnce.Do(func() {
		recv, err := receiver.New(receiver.Options{
			HTTPPort:    n.options.HTTPPort,
			DownloadDir: n.DownloadDir,
			Identity: receiver.Identity{
				DeviceID:   n.deviceID,
				DeviceName: n.options.DeviceName,
				LocalIP:    LocalIP,
			},
			Store:  n.options.Store,
			Logger: n.options.Logger,
		})
		if err != nil {
			n.startErr = err
			return
		}
		if err := recv.Start(); err != nil {
			n.startErr = err
			return
		}
		n.receiver = recv

		// Announce the port the receiver actually bound, which may differ
		// from the configured one when it was 0.
		disc, err := discovery.NewService(discovery.Config{
			SelfDeviceID:  n.deviceID,
			DeviceName:    n.options.DeviceName,
			HTTPPort:      recv.Port(),
			DiscoveryPort: n.options.DiscoveryPort,
			Logger:        n.options.Logger,
		})
		if err != nil {
			recv.Stop()
			n.startErr = err
			return
		}
		if err := disc.Start(); err != nil {
			recv.Stop()
			n.startErr = err
			return
		}
		n.discovery = disc

		n.wg.Add(1)
		go n.eventPump()

		n.options.Logger.Info().
			Str("device_id", n.deviceID).
			Str("device_name", n.options.DeviceName).
			Int("http_port", recv.Port()).
			Int("discovery_port", disc.Port()).
			Msg("node started")
	})
	return n.startErr
}

// Stop tears down discovery and the receiver and closes the event stream.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.discovery != nil {
			n.discovery.Stop()
		}
		if n.receiver != nil {
			n.receiver.Stop()
		}
		n.wg.Wait()
		close(n.events)
	})
}

// Events provides device and transfer notifications for the sink.
func (n *Node) Events() <-chan Event {
	return n.events
}

// DeviceID returns the process-lifetime local device ID.
func (n *Node) DeviceID() string {
	return n.deviceID
}

// HTTPPort returns the actual bound receiver port.
func (n *Node) HTTPPort() int {
	if n.receiver == nil {
		return n.options.HTTPPort
	}
	return n.receiver.Port()
}

// DiscoveryPort returns the actual bound discovery port.
func (n *Node) DiscoveryPort() int {
	if n.discovery == nil {
		return n.options.DiscoveryPort
	}
	return n.discovery.Port()
}

// Devices returns a snapshot of known devices.
func (n *Node) Devices() []models.Device {
	return n.registry.List()
}

// ClearDevices empties the registry, typically on a user-triggered refresh.
func (n *Node) ClearDevices() {
	n.registry.Clear()
}

// DownloadDir returns the current destination directory for uploads.
func (n *Node) DownloadDir() string {
	n.downloadMu.RLock()
	defer n.downloadMu.RUnlock()
	return n.downloadDir
}

// SetDownloadDir changes where future uploads land without a restart.
func (n *Node) SetDownloadDir(dir string) {
	n.downloadMu.Lock()
	defer n.downloadMu.Unlock()
	n.downloadDir = dir
}

// SendFile pushes a local file to a known device and records the transfer.
// It blocks for the duration of the upload; callers on a UI thread should
// invoke it from a goroutine.
func (n *Node) SendFile(ctx context.Context, deviceID, filePath string) (models.FileRecord, error) {
	device, ok := n.registry.Get(deviceID)
	if !ok {
		return models.FileRecord{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}

	if err := n.sender.Send(ctx, device, filePath); err != nil {
		n.options.Logger.Warn().Err(err).
			Str("device_id", deviceID).
			Str("path", filePath).
			Msg("send failed")
		return models.FileRecord{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("stat sent file: %w", err)
	}

	record := models.FileRecord{
		FileID:     models.NewFileID(),
		Filename:   filepath.Base(filePath),
		Filesize:   info.Size(),
		Filetype:   guessContentType(filePath),
		StoredPath: filePath,
		Direction:  models.DirectionSend,
		PeerName:   device.DeviceName,
		Timestamp:  time.Now().UnixMilli(),
	}

	if n.options.Store != nil {
		if err := n.options.Store.SaveFileRecord(record); err != nil {
			n.options.Logger.Warn().Err(err).Str("file_id", record.FileID).Msg("catalogue write failed")
		}
	}

	n.options.Logger.Info().
		Str("file_id", record.FileID).
		Str("device_id", deviceID).
		Int64("size", record.Filesize).
		Msg("file sent")

	n.emitEvent(Event{Type: EventFileSent, File: record})
	return record, nil
}

// eventPump is the single writer of the registry: it folds discovery and
// receiver updates into node state and forwards notifications.
func (n *Node) eventPump() {
	defer n.wg.Done()

	discoveryEvents := n.discovery.Events()
	receiverEvents := n.receiver.Events()

	for discoveryEvents != nil || receiverEvents != nil {
		select {
		case event, ok := <-discoveryEvents:
			if !ok {
				discoveryEvents = nil
				continue
			}
			n.handleDeviceSeen(event.Device)
		case record, ok := <-receiverEvents:
			if !ok {
				receiverEvents = nil
				continue
			}
			n.emitEvent(Event{Type: EventFileReceived, File: record})
		}
	}
}

func (n *Node) handleDeviceSeen(device models.Device) {
	isNew := n.registry.Upsert(device)

	if n.options.Store != nil {
		if err := n.options.Store.UpsertDevice(device); err != nil {
			n.options.Logger.Warn().Err(err).Str("device_id", device.DeviceID).Msg("persist device failed")
		}
	}

	if !isNew {
		return
	}

	n.options.Logger.Info().
		Str("device_id", device.DeviceID).
		Str("device_name", device.DeviceName).
		Str("address", device.Address).
		Int("http_port", device.HTTPPort).
		Msg("device found")

	n.emitEvent(Event{Type: EventDeviceFound, Device: device})
}

func (n *Node) emitEvent(event Event) {
	select {
	case n.events <- event:
	default:
	}
}

// LocalIP finds the outbound interface address by opening a throwaway UDP
// socket; no packet is actually sent.
func LocalIP() string {
	conn, err := net.Dial("udp4", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer func() {
		_ = conn.Close()
	}()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func guessContentType(filePath string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath)))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
