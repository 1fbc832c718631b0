package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factory_device/internal/models"
)

// Fanout mirrors telemetry to an optional secondary connection. Everything
// else (twin, inbound messages) goes through the primary only.
type Fanout struct {
	primary   Connection
	secondary Connection
}

var _ Connection = (*Fanout)(nil)

// NewFanout returns a Fanout. secondary may be nil.
func NewFanout(primary, secondary Connection) *Fanout {
	return &Fanout{primary: primary, secondary: secondary}
}

// SendTelemetry sends to the primary first, then to the secondary. A primary
// failure does not prevent the secondary send.
func (f *Fanout) SendTelemetry(ctx context.Context, payload []byte) error {
	var errs []error
	if err := f.primary.SendTelemetry(ctx, payload); err != nil {
		errs = append(errs, fmt.Errorf("primary: %w", err))
	}
	if f.secondary != nil {
		if err := f.secondary.SendTelemetry(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("secondary: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Receive(ctx context.Context, timeout time.Duration) (Message, error) {
	return f.primary.Receive(ctx, timeout)
}

func (f *Fanout) GetDesired(ctx context.Context) (models.DesiredDocument, error) {
	return f.primary.GetDesired(ctx)
}

func (f *Fanout) PushReported(ctx context.Context, doc []byte) error {
	return f.primary.PushReported(ctx, doc)
}

func (f *Fanout) OnDesiredChanged(handler DesiredHandler) error {
	return f.primary.OnDesiredChanged(handler)
}

// Close closes both connections and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	if err := f.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if f.secondary != nil {
		if err := f.secondary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
