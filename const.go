package devicehub

import "github.com/httprunner/devicehub/internal/storage"

// Device and execution status values are defined next to the SQLite layer
// that enforces them, and re-exported here so callers can depend on the root
// devicehub package only.
type (
	DeviceStatus    = storage.DeviceStatus
	ConnectionKind  = storage.ConnectionKind
	ExecutionStatus = storage.ExecutionStatus

	Device    = storage.Device
	Execution = storage.Execution
)

const (
	DeviceStatusOnline  = storage.DeviceStatusOnline
	DeviceStatusOffline = storage.DeviceStatusOffline
	DeviceStatusLocked  = storage.DeviceStatusLocked

	KindUSB            = storage.KindUSB
	KindLocalEmulator  = storage.KindLocalEmulator
	KindRemoteEmulator = storage.KindRemoteEmulator

	ExecutionPending = storage.ExecutionPending
	ExecutionRunning = storage.ExecutionRunning
	ExecutionSuccess = storage.ExecutionSuccess
	ExecutionFailed  = storage.ExecutionFailed
	ExecutionStopped = storage.ExecutionStopped
)

// Environment variable names shared by the CLI and the API server.
const (
	EnvDBPath       = "DEVICEHUB_DB_PATH"
	EnvBridgePath   = "DEVICEHUB_BRIDGE_PATH"
	EnvListenAddr   = "DEVICEHUB_ADDR"
	EnvPollInterval = "DEVICEHUB_POLL_INTERVAL"
	EnvWorkerCount  = "DEVICEHUB_WORKERS"
)
