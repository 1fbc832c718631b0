package transport

import "errors"

// Error kinds surfaced by connections. Use errors.Is to check them.
var (
	ErrNotConnected    = errors.New("transport: not connected")
	ErrConnectFailed   = errors.New("transport: connection failed")
	ErrSendFailed      = errors.New("transport: telemetry send failed")
	ErrPushFailed      = errors.New("transport: reported properties push failed")
	ErrFetchFailed     = errors.New("transport: desired properties fetch failed")
	ErrReceiveTimeout  = errors.New("transport: receive timed out")
	ErrFormatViolation = errors.New("transport: identity format violation")
	ErrClosed          = errors.New("transport: connection closed")
)
