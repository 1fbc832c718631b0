package service

import (
	"context"
	"sync"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/property"
	"factory_device/internal/transport"
)

// recorderStub captures recorded events.
type recorderStub struct {
	mu     sync.Mutex
	events []models.DeviceEvent
}

func (r *recorderStub) Record(_ context.Context, typ, description string, meta any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.DeviceEvent{Type: typ, Description: description, Metadata: meta})
}

func (r *recorderStub) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// senderStub records telemetry payloads and fails while err is set.
type senderStub struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (s *senderStub) SendTelemetry(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return s.err
}

func (s *senderStub) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// sinkStub captures records written to a telemetry sink.
type sinkStub struct {
	records []models.TelemetryRecord
	err     error
}

func (s *sinkStub) WriteTelemetry(_ context.Context, rec models.TelemetryRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

// pushRecorder collects store pushes.
type pushRecorder struct {
	mu    sync.Mutex
	snaps []property.Snapshot
}

func (p *pushRecorder) push(s property.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

func (p *pushRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

// desiredSourceStub serves a fixed desired document.
type desiredSourceStub struct {
	doc     models.DesiredDocument
	err     error
	handler transport.DesiredHandler
}

func (d *desiredSourceStub) GetDesired(context.Context) (models.DesiredDocument, error) {
	return d.doc, d.err
}

func (d *desiredSourceStub) OnDesiredChanged(h transport.DesiredHandler) error {
	d.handler = h
	return nil
}

// sleepRecorder replaces the loop delay. It returns false after limit calls
// and runs onSleep before returning.
type sleepRecorder struct {
	durations []time.Duration
	limit     int
	onSleep   func(n int)
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) bool {
	s.durations = append(s.durations, d)
	if s.onSleep != nil {
		s.onSleep(len(s.durations))
	}
	return len(s.durations) < s.limit
}

func mustSet(t interface{ Fatalf(string, ...any) }, s *property.Store, name string, v models.Value) {
	if err := s.Set(name, v); err != nil {
		t.Fatalf("set %s: %v", name, err)
	}
}
