package service

import "time"

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "OVERHEAT", "COOLDOWN", "DESIRED_APPLIED", ...
}

// TelemetryFilter selects a window of the local telemetry history.
type TelemetryFilter struct {
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
	Limit int       // 0 means the repository default
}
