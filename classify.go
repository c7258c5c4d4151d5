package devicehub

import (
	"strconv"
	"strings"
)

const (
	emulatorIDPrefix  = "emulator-"
	loopbackAddress   = "127.0.0.1"
	defaultRemotePort = 5555
)

// ClassifyConnection derives the connection kind from the shape of a bridge
// device identifier: an ip:port pair is a remote emulator, a bridge-assigned
// emulator id is a local emulator, anything else is a USB-attached device.
func ClassifyConnection(deviceID string) ConnectionKind {
	switch {
	case strings.Contains(deviceID, ":"):
		return KindRemoteEmulator
	case strings.HasPrefix(deviceID, emulatorIDPrefix):
		return KindLocalEmulator
	default:
		return KindUSB
	}
}

// splitDeviceAddress extracts address and port from an ip:port identifier.
// The port defaults to 5555 when missing or malformed.
func splitDeviceAddress(deviceID string) (addr string, port int) {
	idx := strings.LastIndex(deviceID, ":")
	if idx < 0 {
		return deviceID, defaultRemotePort
	}
	addr = deviceID[:idx]
	port = defaultRemotePort
	if parsed, err := strconv.Atoi(deviceID[idx+1:]); err == nil && parsed > 0 && parsed <= 65535 {
		port = parsed
	}
	return addr, port
}
