package service

import (
	"context"
	"math/rand"
	"time"

	"factory_device/internal/logger"
	"factory_device/internal/models"
	"factory_device/internal/property"
	"factory_device/internal/repository"
	"factory_device/internal/transport"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Monitoring exposes the read-only device state.
type Monitoring interface {
	GetState(ctx context.Context) (models.DeviceState, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.DeviceEvent, error)
}

// TelemetryHistory exposes the locally recorded telemetry.
type TelemetryHistory interface {
	List(ctx context.Context, f TelemetryFilter) ([]models.TelemetryRecord, error)
}

// Reconciler applies desired-property documents to the store.
type Reconciler interface {
	Reconcile(ctx context.Context, doc models.DesiredDocument) ReconcileResult
	Sync(ctx context.Context) (ReconcileResult, error)
	Listen(ctx context.Context) error
}

// Simulator runs the production loop. Stop via context cancellation.
type Simulator interface {
	Run(ctx context.Context)
	Temperature() float64
}

// Worker is a background loop stopped by context cancellation.
type Worker interface {
	Run(ctx context.Context)
}

// Deps carries everything NewService wires together.
type Deps struct {
	DeviceID string
	Store    *property.Store
	Conn     transport.Connection
	Repos    *repository.Repository
	Sinks    []TelemetrySink
	Log      *logger.Logger
	Rand     *rand.Rand

	RetryInterval  time.Duration
	PushTimeout    time.Duration
	ReceiveTimeout time.Duration

	SigningKey string
	TokenTTL   time.Duration
}

// Service aggregates all sub-services.
type Service struct {
	Monitoring
	EventLog
	TelemetryHistory
	Authorization
	Reconciler Reconciler
	Simulator  Simulator
	Reporter   Worker
	Receiver   Worker
}

// NewService wires the store, the connection and the repositories into
// concrete services. The store's push callback is attached to the reporter.
func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}

	events := NewEventLogService(d.Repos.EventRepo, log)
	history := NewTelemetryHistoryService(d.Repos.TelemetryRepo)

	reporter := NewReporter(d.Conn, events, log, d.RetryInterval, d.PushTimeout)
	d.Store.SetPush(reporter.Enqueue)

	opts := []SimulatorOption{
		WithEvents(events),
		WithSinks(append([]TelemetrySink{history}, d.Sinks...)...),
		WithLogger(log),
	}
	if d.Rand != nil {
		opts = append(opts, WithRandom(d.Rand.Float64))
	}
	sim := NewSimulatorService(d.Store, d.Conn, d.DeviceID, opts...)

	return &Service{
		Monitoring:       NewMonitoringService(d.DeviceID, d.Store, sim),
		EventLog:         events,
		TelemetryHistory: history,
		Authorization:    NewAuthService(d.Repos.Operators, d.DeviceID, d.SigningKey, d.TokenTTL),
		Reconciler:       NewReconcileService(d.Store, d.Conn, events, log),
		Simulator:        sim,
		Reporter:         reporter,
		Receiver:         NewReceiverService(d.Conn, d.Store, events, log, d.ReceiveTimeout),
	}
}
