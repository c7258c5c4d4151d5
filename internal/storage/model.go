package storage

import "time"

// DeviceStatus reflects the latest known reachability and lock state of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusLocked  DeviceStatus = "locked"
)

// ConnectionKind classifies how a device is attached to the bridge.
type ConnectionKind string

const (
	KindUSB            ConnectionKind = "usb"
	KindLocalEmulator  ConnectionKind = "local-emulator"
	KindRemoteEmulator ConnectionKind = "remote-emulator"
)

// ExecutionStatus tracks one test run through its lifecycle.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionStopped ExecutionStatus = "stopped"
)

// Terminal reports whether no further status transition is permitted.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionStopped:
		return true
	}
	return false
}

// Device is a durable registry record keyed by DeviceID.
type Device struct {
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name"`
	OSVersion      string         `json:"os_version"`
	ConnectionKind ConnectionKind `json:"connection_kind"`
	IPAddress      string         `json:"ip_address,omitempty"`
	Port           int            `json:"port,omitempty"`
	Status         DeviceStatus   `json:"status"`
	LockedBy       string         `json:"locked_by,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Execution is one run of a test case against a device.
type Execution struct {
	ID           int64           `json:"id"`
	TestCaseID   string          `json:"test_case_id"`
	DeviceID     string          `json:"device_id"`
	Owner        string          `json:"owner"`
	Status       ExecutionStatus `json:"status"`
	Progress     int             `json:"progress"`
	Message      string          `json:"message,omitempty"`
	JobHandle    string          `json:"job_handle,omitempty"`
	ReportPath   string          `json:"report_path,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	DurationSecs *float64        `json:"duration,omitempty"`
}
