// Package store persists telemetry readings in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pumprelay/pkg/metrics"
	"github.com/edgeflare/pumprelay/pkg/pgx"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	pgxv5 "github.com/jackc/pgx/v5"
)

// Recent never returns more than MaxLimit rows; a smaller limit may be requested.
const (
	DefaultLimit = 20
	MaxLimit     = DefaultLimit
)

const schema = `
CREATE TABLE IF NOT EXISTS pump_telemetry (
	id                       BIGSERIAL PRIMARY KEY,
	pump_id                  TEXT NOT NULL,
	water_level_percent      DOUBLE PRECISION NOT NULL,
	current_amps             DOUBLE PRECISION NOT NULL,
	current_inflow_rate      DOUBLE PRECISION NOT NULL,
	street_flow_status       TEXT NOT NULL,
	pump_temperature_celsius DOUBLE PRECISION NULL,
	timestamp                TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pump_telemetry_timestamp_idx ON pump_telemetry (timestamp DESC, id DESC);
CREATE INDEX IF NOT EXISTS pump_telemetry_pump_id_timestamp_idx ON pump_telemetry (pump_id, timestamp DESC, id DESC);
`

const columns = `id, pump_id, timestamp, water_level_percent, current_amps, current_inflow_rate,
	street_flow_status, pump_temperature_celsius`

const insertSQL = `
INSERT INTO pump_telemetry (pump_id, water_level_percent, current_amps, current_inflow_rate,
	street_flow_status, pump_temperature_celsius, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, now()))
RETURNING id, timestamp`

const recentSQL = `SELECT ` + columns + `
FROM pump_telemetry
ORDER BY timestamp DESC, id DESC
LIMIT $1`

const latestPerPumpSQL = `SELECT DISTINCT ON (pump_id) ` + columns + `
FROM pump_telemetry
ORDER BY pump_id, timestamp DESC, id DESC`

// Postgres is the telemetry repository.
type Postgres struct {
	conn pgx.Conn
}

// NewPostgres wraps conn, which may be a pool or a single connection.
func NewPostgres(conn pgx.Conn) *Postgres {
	return &Postgres{conn: conn}
}

// Migrate creates the pump_telemetry table and its indexes if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	defer metrics.ObserveQuery("migrate", time.Now())
	if _, err := p.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Insert appends r and returns it with the assigned id and timestamp. A zero r.Timestamp lets
// the database default apply.
func (p *Postgres) Insert(ctx context.Context, r telemetry.Reading) (telemetry.Reading, error) {
	defer metrics.ObserveQuery("insert", time.Now())
	if r.PumpID == "" {
		return telemetry.Reading{}, errors.New("store: insert: empty pump id")
	}

	var ts any
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp
	}

	err := p.conn.QueryRow(ctx, insertSQL,
		r.PumpID.String(),
		r.WaterLevelPercent,
		r.CurrentAmps,
		r.InflowRate,
		r.FlowStatus,
		r.TemperatureCelsius,
		ts,
	).Scan(&r.ID, &r.Timestamp)
	if err != nil {
		return telemetry.Reading{}, fmt.Errorf("store: insert: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

// Recent returns up to limit readings, newest first. limit is clamped to [1, MaxLimit]; a
// non-positive limit means DefaultLimit.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	defer metrics.ObserveQuery("recent", time.Now())
	rows, err := p.conn.Query(ctx, recentSQL, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	readings, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return readings, nil
}

// LatestPerPump returns the most recent reading of every pump, ordered by pump id.
func (p *Postgres) LatestPerPump(ctx context.Context) ([]telemetry.Reading, error) {
	defer metrics.ObserveQuery("latest_per_pump", time.Now())
	rows, err := p.conn.Query(ctx, latestPerPumpSQL)
	if err != nil {
		return nil, fmt.Errorf("store: latest per pump: %w", err)
	}
	readings, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("store: latest per pump: %w", err)
	}
	// DISTINCT ON sorts pump ids as text; reapply numeric-aware ordering.
	return telemetry.LatestPerPump(readings), nil
}

// Ping checks that the database answers.
func (p *Postgres) Ping(ctx context.Context) error {
	defer metrics.ObserveQuery("ping", time.Now())
	return p.conn.Ping(ctx)
}

// ClampLimit maps limit into [1, MaxLimit], treating non-positive values as DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

type row struct {
	ID                 int64     `db:"id"`
	PumpID             string    `db:"pump_id"`
	Timestamp          time.Time `db:"timestamp"`
	WaterLevelPercent  float64   `db:"water_level_percent"`
	CurrentAmps        float64   `db:"current_amps"`
	InflowRate         float64   `db:"current_inflow_rate"`
	FlowStatus         string    `db:"street_flow_status"`
	TemperatureCelsius *float64  `db:"pump_temperature_celsius"`
}

func collect(rows pgxv5.Rows) ([]telemetry.Reading, error) {
	scanned, err := pgxv5.CollectRows(rows, pgxv5.RowToStructByName[row])
	if err != nil {
		return nil, err
	}
	readings := make([]telemetry.Reading, 0, len(scanned))
	for _, r := range scanned {
		readings = append(readings, telemetry.Reading{
			ID:                 r.ID,
			PumpID:             telemetry.PumpID(r.PumpID),
			Timestamp:          r.Timestamp.UTC(),
			WaterLevelPercent:  r.WaterLevelPercent,
			CurrentAmps:        r.CurrentAmps,
			InflowRate:         r.InflowRate,
			FlowStatus:         r.FlowStatus,
			TemperatureCelsius: r.TemperatureCelsius,
		})
	}
	return readings, nil
}
