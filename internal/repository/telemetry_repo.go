package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"factory_device/internal/models"
)

// TelemetrySQLite keeps a local history of emitted telemetry records.
type TelemetrySQLite struct {
	db *sql.DB
}

func NewTelemetrySQLite(db *sql.DB) *TelemetrySQLite { return &TelemetrySQLite{db: db} }

const (
	insertTelemetrySQL = `INSERT INTO telemetry (device_id, temperature, new_units, overheated, recorded_at) VALUES (?, ?, ?, ?, ?)`
	selectTelemetrySQL = `SELECT device_id, temperature, new_units, overheated, recorded_at FROM telemetry`

	defaultTelemetryLimit = 100
	maxTelemetryLimit     = 1000
)

// Append stores one record. A zero RecordedAt is replaced by the current time.
func (r *TelemetrySQLite) Append(ctx context.Context, rec models.TelemetryRecord) error {
	ts := rec.RecordedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, insertTelemetrySQL,
		rec.DeviceID,
		rec.Temperature,
		rec.NewUnits,
		rec.Overheated,
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// List returns the newest records within [from, to], newest first.
// limit is clamped to (0, 1000]; 0 means the default of 100.
func (r *TelemetrySQLite) List(ctx context.Context, from, to time.Time, limit int) ([]models.TelemetryRecord, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, to.UTC())
	}

	q := selectTelemetrySQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(limit))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select telemetry: %w", err)
	}
	defer rows.Close()

	var out []models.TelemetryRecord
	for rows.Next() {
		var rec models.TelemetryRecord
		if err := rows.Scan(&rec.DeviceID, &rec.Temperature, &rec.NewUnits, &rec.Overheated, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		rec.RecordedAt = rec.RecordedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultTelemetryLimit
	case limit > maxTelemetryLimit:
		return maxTelemetryLimit
	default:
		return limit
	}
}
