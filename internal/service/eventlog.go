package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/repository"
)

// EventRecorder appends entries to the device event log. Failures are
// logged by the implementation and never returned.
type EventRecorder interface {
	Record(ctx context.Context, typ, description string, meta any)
}

var (
	errInvalidTimeRange = errors.New("invalid time range: From must be <= To")

	// ErrUnknownEventType is returned when a filter names a type the device never records.
	ErrUnknownEventType = errors.New("unknown event type")
)

// EventLogService records device events and serves them back filtered.
type EventLogService struct {
	events repository.EventRepo
	log    *logger.Logger
	now    func() time.Time
}

func NewEventLogService(events repository.EventRepo, log *logger.Logger) *EventLogService {
	if log == nil {
		log = logger.Nop()
	}
	return &EventLogService{events: events, log: log, now: time.Now}
}

// normalizeRange converts both bounds to UTC and validates their order.
// Zero bounds stay zero.
func normalizeRange(from, to time.Time) (time.Time, time.Time, error) {
	if !from.IsZero() {
		from = from.UTC()
	}
	if !to.IsZero() {
		to = to.UTC()
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return time.Time{}, time.Time{}, errInvalidTimeRange
	}
	return from, to, nil
}

// eventTypeFilter canonicalizes a type filter. Empty matches every type.
func eventTypeFilter(raw string) (string, error) {
	typ := strings.ToUpper(strings.TrimSpace(raw))
	if typ == "" || models.IsEventType(typ) {
		return typ, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}

// List returns the events matching f, oldest first.
func (s *EventLogService) List(ctx context.Context, f LogFilter) ([]models.DeviceEvent, error) {
	from, to, err := normalizeRange(f.From, f.To)
	if err != nil {
		return nil, err
	}
	typ, err := eventTypeFilter(f.Type)
	if err != nil {
		return nil, err
	}
	return s.events.List(ctx, from, to, typ)
}

// Record appends an event stamped with the current UTC time. A nil
// repository turns recording into a no-op.
func (s *EventLogService) Record(ctx context.Context, typ, description string, meta any) {
	if s == nil || s.events == nil {
		return
	}
	err := s.events.Append(ctx, models.DeviceEvent{
		OccurredAt:  s.now().UTC(),
		Type:        typ,
		Description: description,
		Metadata:    meta,
	})
	if err != nil {
		s.log.Warnw("event_append_failed", "type", typ, "err", err)
	}
}

// nopRecorder drops every event.
type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, any) {}
