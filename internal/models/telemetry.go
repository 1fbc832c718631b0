package models

import "time"

// TelemetryRecord is one simulated production sample. The JSON form is the
// telemetry payload sent to the control plane.
type TelemetryRecord struct {
	DeviceID    string    `json:"deviceId"`
	Temperature float64   `json:"temperature"`
	NewUnits    int64     `json:"newUnits"`
	Overheated  bool      `json:"overheated"`
	RecordedAt  time.Time `json:"-"`
}
