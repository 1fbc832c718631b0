package mqtt

import "errors"

var (
	// ErrInvalidConnectionString is returned for a connection string missing
	// HostName, DeviceId or SharedAccessKey.
	ErrInvalidConnectionString = errors.New("mqtt: invalid connection string")

	// ErrNoCredentials is returned when neither a key nor a certificate was given.
	ErrNoCredentials = errors.New("mqtt: no credentials configured")

	// ErrUnexpectedStatus is returned when a twin request is answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("mqtt: unexpected twin response status")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
