package influxdb

import "errors"

var (
	// ErrNotConnected indicates the sink was closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the exporter is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
