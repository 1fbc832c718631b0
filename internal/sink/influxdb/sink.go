package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"factory_device/internal/config"
	"factory_device/internal/models"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushSeconds   = 10

	millisecondsPerSecond = 1000

	measurement = "production"
)

// Sink exports accepted telemetry records to InfluxDB.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Writes are non-blocking and batched; failures arrive through SetOnError.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected bool
	mu        sync.RWMutex

	onError func(err error)
}

// Connect pings the server and prepares a batched write API.
func Connect(cfg config.InfluxDBConfig) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushSeconds
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := &Sink{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go s.handleWriteErrors(s.writeAPI.Errors())
	return s, nil
}

func (s *Sink) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		s.mu.RLock()
		callback := s.onError
		s.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets the callback for asynchronous write failures.
func (s *Sink) SetOnError(callback func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

// WriteTelemetry queues one record. It only fails once the sink is closed.
func (s *Sink) WriteTelemetry(_ context.Context, rec models.TelemetryRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return ErrNotConnected
	}
	s.writeAPI.WritePoint(toPoint(rec))
	return nil
}

// toPoint maps a record to the "production" measurement tagged by device.
func toPoint(rec models.TelemetryRecord) *write.Point {
	ts := rec.RecordedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		measurement,
		map[string]string{"device_id": rec.DeviceID},
		map[string]interface{}{
			"temperature": rec.Temperature,
			"new_units":   rec.NewUnits,
			"overheated":  rec.Overheated,
		},
		ts,
	)
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	s.writeAPI.Flush()
	s.client.Close()
	return nil
}
