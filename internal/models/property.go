package models

import "encoding/json"

// Acknowledgment status and message attached to properties applied from a desired document.
const (
	AckStatusCompleted  = "completed"
	AckMessageProcessed = "Processed"
)

// Ack is the completion metadata reported alongside a property that was
// requested through the desired document.
type Ack struct {
	Status         string `json:"status"`
	DesiredVersion int64  `json:"desiredVersion"`
	Message        string `json:"message"`
}

// Property is a named device property as stored and reported.
type Property struct {
	Value Value
	Ack   *Ack
}

// NewAcknowledged wraps v with a "completed" acknowledgment for the given desired version.
func NewAcknowledged(v Value, desiredVersion int64) Property {
	return Property{
		Value: v,
		Ack: &Ack{
			Status:         AckStatusCompleted,
			DesiredVersion: desiredVersion,
			Message:        AckMessageProcessed,
		},
	}
}

// Equal compares value and acknowledgment metadata.
func (p Property) Equal(o Property) bool {
	if p.Value != o.Value {
		return false
	}
	if p.Ack == nil || o.Ack == nil {
		return p.Ack == nil && o.Ack == nil
	}
	return *p.Ack == *o.Ack
}

// wireProperty is the reported-document shape of a single property.
type wireProperty struct {
	Value          Value  `json:"value"`
	Status         string `json:"status,omitempty"`
	DesiredVersion *int64 `json:"desiredVersion,omitempty"`
	Message        string `json:"message,omitempty"`
}

// MarshalJSON renders {"value": v} or the acknowledgment form
// {"value": v, "status": ..., "desiredVersion": ..., "message": ...}.
func (p Property) MarshalJSON() ([]byte, error) {
	w := wireProperty{Value: p.Value}
	if p.Ack != nil {
		version := p.Ack.DesiredVersion
		w.Status = p.Ack.Status
		w.DesiredVersion = &version
		w.Message = p.Ack.Message
	}
	return json.Marshal(w)
}
