package transport

import (
	"context"
	"time"

	"factory_device/internal/models"
)

// Message is a cloud-to-device message.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// DesiredHandler is invoked when the control plane patches desired properties.
type DesiredHandler func(models.DesiredDocument)

// Connection is the device's link to the control plane. Implementations own
// reconnection; callers treat failures as transient.
type Connection interface {
	// SendTelemetry publishes one telemetry payload.
	SendTelemetry(ctx context.Context, payload []byte) error
	// Receive waits up to timeout for a cloud-to-device message.
	// It returns ErrReceiveTimeout when nothing arrived.
	Receive(ctx context.Context, timeout time.Duration) (Message, error)
	// GetDesired fetches the current desired-properties document.
	GetDesired(ctx context.Context) (models.DesiredDocument, error)
	// PushReported patches the reported-properties document.
	PushReported(ctx context.Context, doc []byte) error
	// OnDesiredChanged registers the callback for desired-property patches.
	OnDesiredChanged(handler DesiredHandler) error
	Close() error
}
