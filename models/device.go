package models

import "time"

// Device represents a peer discovered on the local network.
type Device struct {
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Address    string    `json:"address"`
	HTTPPort   int       `json:"http_port"`
	LastSeen   time.Time `json:"last_seen"`
}
