package repository

import (
	"context"
	"database/sql"
	"time"

	"factory_device/internal/models"
)

type Operators interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.Operator, error)
}

type EventRepo interface {
	Append(ctx context.Context, e models.DeviceEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.DeviceEvent, error)
}

type TelemetryRepo interface {
	Append(ctx context.Context, r models.TelemetryRecord) error
	List(ctx context.Context, from, to time.Time, limit int) ([]models.TelemetryRecord, error)
}

type Repository struct {
	EventRepo     EventRepo
	TelemetryRepo TelemetryRepo
	Operators     Operators
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo:     NewEventSQLite(db),
		TelemetryRepo: NewTelemetrySQLite(db),
		Operators:     NewOperatorRepository(db),
	}
}
