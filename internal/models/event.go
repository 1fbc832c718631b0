package models

import (
	"slices"
	"time"
)

// Device event types recorded in the event log.
const (
	EventOverheat        = "OVERHEAT"
	EventCooldown        = "COOLDOWN"
	EventDesiredApplied  = "DESIRED_APPLIED"
	EventDesiredRejected = "DESIRED_REJECTED"
	EventTelemetryFailed = "TELEMETRY_FAILED"
	EventPushFailed      = "PUSH_FAILED"
	EventC2DMessage      = "C2D_MESSAGE"
)

// EventTypes lists every event type in the order they are documented.
var EventTypes = []string{
	EventOverheat,
	EventCooldown,
	EventDesiredApplied,
	EventDesiredRejected,
	EventTelemetryFailed,
	EventPushFailed,
	EventC2DMessage,
}

// IsEventType reports whether typ is a known event type.
func IsEventType(typ string) bool {
	return slices.Contains(EventTypes, typ)
}

// DeviceEvent is a single log entry.
type DeviceEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}
