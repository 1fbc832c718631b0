package models

import (
	"encoding/json"
	"time"
)

// DeviceState is the console view of the device: the simulated temperature
// plus the reported property document.
type DeviceState struct {
	DeviceID       string          `json:"device_id"`
	Temperature    float64         `json:"temperature"`
	Revision       uint64          `json:"revision"`
	DesiredVersion int64           `json:"desired_version"`
	Properties     json.RawMessage `json:"properties"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
