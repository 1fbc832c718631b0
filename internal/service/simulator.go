package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/property"
)

const (
	// AmbientC is the starting temperature and the floor the device never cools below.
	AmbientC = 20.0

	// minSleep keeps a zero or negative SendIntervalInMs from spinning the loop.
	minSleep = 100 * time.Millisecond
)

// TelemetrySender publishes telemetry payloads to the control plane.
type TelemetrySender interface {
	SendTelemetry(ctx context.Context, payload []byte) error
}

// Tick is the outcome of one simulation step.
type Tick struct {
	Record models.TelemetryRecord
	// Emit is false while the device is deactivated.
	Emit bool
	// Transition is EventOverheat or EventCooldown when the overheat flag flipped.
	Transition string
}

// SimulatorService advances the production process once per send interval.
type SimulatorService struct {
	store    *property.Store
	sender   TelemetrySender
	deviceID string

	events EventRecorder
	sinks  []TelemetrySink
	log    *logger.Logger
	random func() float64
	sleep  func(ctx context.Context, d time.Duration) bool

	mu          sync.Mutex
	temperature float64
}

type SimulatorOption func(*SimulatorService)

// WithRandom replaces the [0,1) source used for heat generation.
func WithRandom(f func() float64) SimulatorOption {
	return func(s *SimulatorService) { s.random = f }
}

// WithSleep replaces the inter-tick delay. The function returns false when
// ctx was canceled during the wait.
func WithSleep(f func(ctx context.Context, d time.Duration) bool) SimulatorOption {
	return func(s *SimulatorService) { s.sleep = f }
}

func WithEvents(r EventRecorder) SimulatorOption {
	return func(s *SimulatorService) { s.events = r }
}

func WithSinks(sinks ...TelemetrySink) SimulatorOption {
	return func(s *SimulatorService) { s.sinks = sinks }
}

func WithLogger(l *logger.Logger) SimulatorOption {
	return func(s *SimulatorService) { s.log = l }
}

// NewSimulatorService returns a simulator starting at ambient temperature.
func NewSimulatorService(store *property.Store, sender TelemetrySender, deviceID string, opts ...SimulatorOption) *SimulatorService {
	s := &SimulatorService{
		store:       store,
		sender:      sender,
		deviceID:    deviceID,
		events:      nopRecorder{},
		log:         logger.Nop(),
		random:      rand.Float64,
		sleep:       sleepCtx,
		temperature: AmbientC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Temperature returns the current simulated temperature.
func (s *SimulatorService) Temperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature
}

// Run ticks until ctx is canceled. SendIntervalInMs is read once per
// iteration and drives both the step and the delay that follows it.
func (s *SimulatorService) Run(ctx context.Context) {
	s.log.Infow("simulator_started", "device_id", s.deviceID)
	defer s.log.Infow("simulator_stopped", "device_id", s.deviceID)

	for ctx.Err() == nil {
		ms := s.store.Int(property.SendIntervalInMs)
		interval := time.Duration(ms) * time.Millisecond
		if interval < minSleep {
			interval = minSleep
		}

		s.handleTick(ctx, s.step(ms))

		if !s.sleep(ctx, interval) {
			return
		}
	}
}

// Step advances the simulation by one send interval without any I/O.
// Property writes go through the store and may trigger a push.
func (s *SimulatorService) Step() Tick {
	return s.step(s.store.Int(property.SendIntervalInMs))
}

// step advances the simulation by intervalMs. Sub-second intervals give a
// fractional dt; a negative interval counts as zero.
func (s *SimulatorService) step(intervalMs int64) Tick {
	dt := float64(max(intervalMs, 0)) / 1000
	overheated := s.store.Bool(property.Overheated)
	activated := s.store.Bool(property.Activated)

	unitsPerSec := s.store.Float(property.UnitPerMinute) / 60
	coolPerSec := s.store.Float(property.CooldownPerMinute) / 60

	s.mu.Lock()
	temp := s.temperature
	var units int64
	nowOverheated := overheated

	switch {
	case overheated:
		temp = maxFloat(AmbientC, temp-coolPerSec*dt)
		if s.store.Float(property.RestartCooldownTemp) > temp {
			nowOverheated = false
		}
	case activated:
		units = int64(unitsPerSec * dt)
		heat := s.random() * s.store.Float(property.HeatPerUnit) * unitsPerSec * dt
		temp = maxFloat(AmbientC, temp+heat-coolPerSec*dt)
		nowOverheated = temp > s.store.Float(property.OverheatLimit)
	}
	s.temperature = temp
	s.mu.Unlock()

	if nowOverheated != overheated {
		if err := s.store.Set(property.Overheated, models.Bool(nowOverheated)); err != nil {
			s.log.Errorw("overheat_flag_update_failed", "err", err)
		}
	}

	tick := Tick{
		Record: models.TelemetryRecord{
			DeviceID:    s.deviceID,
			Temperature: temp,
			NewUnits:    units,
			Overheated:  nowOverheated,
		},
		Emit: activated,
	}
	switch {
	case nowOverheated && !overheated:
		tick.Transition = models.EventOverheat
	case !nowOverheated && overheated:
		tick.Transition = models.EventCooldown
	}
	return tick
}

// handleTick records transitions and emits telemetry.
func (s *SimulatorService) handleTick(ctx context.Context, t Tick) {
	switch t.Transition {
	case models.EventOverheat:
		s.log.Warnw("device_overheated", "temperature", t.Record.Temperature)
		s.events.Record(ctx, models.EventOverheat, "Overheat detected; production halted", map[string]any{
			"temperature":    t.Record.Temperature,
			"overheat_limit": s.store.Float(property.OverheatLimit),
		})
	case models.EventCooldown:
		s.log.Infow("device_cooled_down", "temperature", t.Record.Temperature)
		s.events.Record(ctx, models.EventCooldown, "Cooled below restart temperature; production resumed", map[string]any{
			"temperature":           t.Record.Temperature,
			"restart_cooldown_temp": s.store.Float(property.RestartCooldownTemp),
		})
	}

	if t.Emit {
		s.emit(ctx, t.Record)
	}
}

// emit sends the record and, once accepted, hands it to the sinks.
// Failures are logged and never stop the loop.
func (s *SimulatorService) emit(ctx context.Context, rec models.TelemetryRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Errorw("telemetry_marshal_failed", "err", err)
		return
	}
	if err := s.sender.SendTelemetry(ctx, payload); err != nil {
		s.log.Warnw("telemetry_send_failed", "err", err)
		s.events.Record(ctx, models.EventTelemetryFailed, "Telemetry send failed", map[string]any{"error": err.Error()})
		return
	}
	s.log.Debugw("telemetry_sent", "temperature", rec.Temperature, "new_units", rec.NewUnits, "overheated", rec.Overheated)

	rec.RecordedAt = time.Now().UTC()
	for _, sink := range s.sinks {
		if err := sink.WriteTelemetry(ctx, rec); err != nil {
			s.log.Warnw("telemetry_sink_failed", "sink", fmt.Sprintf("%T", sink), "err", err)
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func maxFloat(a, b float64) float64 {
	if a >= b {
		return a
	}
	return b
}
