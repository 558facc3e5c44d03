package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"godrop/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// DeviceRow is the SQLite representation of a device seen on the network.
type DeviceRow struct {
	DeviceID   string
	DeviceName string
	Address    string
	HTTPPort   int
	FirstSeen  int64
	LastSeen   int64
}

// Device converts a row back into the shared model.
func (d DeviceRow) Device() models.Device {
	return models.Device{
		DeviceID:   d.DeviceID,
		DeviceName: d.DeviceName,
		Address:    d.Address,
		HTTPPort:   d.HTTPPort,
		LastSeen:   time.UnixMilli(d.LastSeen),
	}
}

func validateDirection(direction string) error {
	switch direction {
	case models.DirectionSend, models.DirectionReceive:
		return nil
	default:
		return fmt.Errorf("invalid transfer direction %q", direction)
	}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
