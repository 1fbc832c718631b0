package service

import (
	"context"
	"errors"

	"factory_device/internal/models"
	"factory_device/internal/repository"
)

// TelemetrySink receives every record the control plane accepted.
type TelemetrySink interface {
	WriteTelemetry(ctx context.Context, rec models.TelemetryRecord) error
}

var errNegativeLimit = errors.New("limit must not be negative")

// TelemetryHistoryService stores telemetry locally and serves it back to the console.
type TelemetryHistoryService struct {
	repo repository.TelemetryRepo
}

func NewTelemetryHistoryService(repo repository.TelemetryRepo) *TelemetryHistoryService {
	return &TelemetryHistoryService{repo: repo}
}

// WriteTelemetry implements TelemetrySink.
func (s *TelemetryHistoryService) WriteTelemetry(ctx context.Context, rec models.TelemetryRecord) error {
	return s.repo.Append(ctx, rec)
}

// List returns records in the filter window, newest first.
func (s *TelemetryHistoryService) List(ctx context.Context, f TelemetryFilter) ([]models.TelemetryRecord, error) {
	from, to, err := normalizeRange(f.From, f.To)
	if err != nil {
		return nil, err
	}
	if f.Limit < 0 {
		return nil, errNegativeLimit
	}
	return s.repo.List(ctx, from, to, f.Limit)
}
