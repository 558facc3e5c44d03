package models

import (
	"strings"

	"github.com/google/uuid"
)

const (
	deviceIDLength = 12
	fileIDLength   = 8
)

// NewDeviceID generates a 12-hex-character process-lifetime device ID.
func NewDeviceID() string {
	return randomHex(deviceIDLength)
}

// NewFileID generates an 8-hex-character transfer ID.
func NewFileID() string {
	return randomHex(fileIDLength)
}

func randomHex(length int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if length > len(hex) {
		length = len(hex)
	}
	return hex[:length]
}
