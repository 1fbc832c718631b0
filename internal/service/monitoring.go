package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/property"
)

// TemperatureSource reports the simulated temperature.
type TemperatureSource interface {
	Temperature() float64
}

type MonitoringService struct {
	deviceID string
	store    *property.Store
	temp     TemperatureSource
	now      func() time.Time
}

func NewMonitoringService(deviceID string, store *property.Store, temp TemperatureSource) *MonitoringService {
	return &MonitoringService{deviceID: deviceID, store: store, temp: temp, now: time.Now}
}

// GetState returns the current temperature together with the reported
// property document as it would be pushed right now.
func (s *MonitoringService) GetState(ctx context.Context) (models.DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceState{}, err
	}
	snap := s.store.Snapshot()
	props, err := json.Marshal(snap)
	if err != nil {
		return models.DeviceState{}, fmt.Errorf("marshal properties: %w", err)
	}

	temp := AmbientC
	if s.temp != nil {
		temp = s.temp.Temperature()
	}
	return models.DeviceState{
		DeviceID:       s.deviceID,
		Temperature:    temp,
		Revision:       snap.Revision,
		DesiredVersion: snap.Version,
		Properties:     props,
		UpdatedAt:      toUTC(s.now()),
	}, nil
}

// toUTC normalizes non-zero time to UTC, preserving zero values.
func toUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
