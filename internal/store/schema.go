package store

import (
	"context"
	"fmt"
)

// Step is one idempotent schema statement.
type Step struct {
	Name string
	SQL  string
}

var Schema = []Step{
	{
		Name: "vehicles table",
		SQL: `CREATE TABLE IF NOT EXISTS vehicles (
			device_id    TEXT        PRIMARY KEY,
			name         TEXT        NOT NULL DEFAULT '',
			group_name   TEXT        NOT NULL DEFAULT '',
			sim_number   TEXT        NOT NULL DEFAULT '',
			device_type  TEXT        NOT NULL DEFAULT '',
			active       BOOLEAN     NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Name: "vehicle_positions table",
		SQL: `CREATE TABLE IF NOT EXISTS vehicle_positions (
			device_id            TEXT             PRIMARY KEY,
			lat                  DOUBLE PRECISION,
			lon                  DOUBLE PRECISION,
			speed_kmh            DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading              DOUBLE PRECISION NOT NULL DEFAULT 0,
			altitude             DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery_percent      DOUBLE PRECISION,
			ignition_on          BOOLEAN,
			ignition_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0
			                     CHECK (ignition_confidence BETWEEN 0 AND 1),
			ignition_method      TEXT
			                     CHECK (ignition_method IN ('status_bits', 'status_string', 'speed_heuristic', 'unknown')),
			is_online            BOOLEAN          NOT NULL DEFAULT FALSE,
			is_overspeeding      BOOLEAN          NOT NULL DEFAULT FALSE,
			vendor_overspeed     BOOLEAN          NOT NULL DEFAULT FALSE,
			total_mileage_km     DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_update          TIMESTAMPTZ,
			gps_fix_time         TIMESTAMPTZ,
			updated_at           TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Name: "position_history table",
		SQL: `CREATE TABLE IF NOT EXISTS position_history (
			id           BIGSERIAL        PRIMARY KEY,
			device_id    TEXT             NOT NULL,
			lat          DOUBLE PRECISION NOT NULL,
			lon          DOUBLE PRECISION NOT NULL,
			speed_kmh    DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading      DOUBLE PRECISION NOT NULL DEFAULT 0,
			ignition_on  BOOLEAN,
			recorded_at  TIMESTAMPTZ      NOT NULL
		)`,
	},
	{
		Name: "proactive_events table",
		SQL: `CREATE TABLE IF NOT EXISTS proactive_events (
			id          TEXT        PRIMARY KEY,
			device_id   TEXT        NOT NULL,
			event_type  TEXT        NOT NULL,
			severity    TEXT        NOT NULL CHECK (severity IN ('info', 'warning', 'critical')),
			title       TEXT        NOT NULL,
			message     TEXT        NOT NULL,
			metadata    JSONB       NOT NULL DEFAULT '{}'::jsonb,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Name: "gps51_sessions table",
		SQL: `CREATE TABLE IF NOT EXISTS gps51_sessions (
			id          INTEGER     PRIMARY KEY,
			token       TEXT        NOT NULL,
			username    TEXT        NOT NULL,
			server_id   TEXT        NOT NULL DEFAULT '',
			issued_at   TIMESTAMPTZ NOT NULL,
			expires_at  TIMESTAMPTZ NOT NULL
		)`,
	},
	{
		Name: "api_call_logs table",
		SQL: `CREATE TABLE IF NOT EXISTS api_call_logs (
			id           BIGSERIAL   PRIMARY KEY,
			cycle_id     TEXT        NOT NULL,
			action       TEXT        NOT NULL,
			success      BOOLEAN     NOT NULL,
			records      INTEGER     NOT NULL DEFAULT 0,
			duration_ms  BIGINT      NOT NULL DEFAULT 0,
			from_cache   BOOLEAN     NOT NULL DEFAULT FALSE,
			error        TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	},
	{
		Name: "idx_history_device_time",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_history_device_time ON position_history (device_id, recorded_at DESC)`,
	},
	{
		Name: "idx_events_device_type_time",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_events_device_type_time ON proactive_events (device_id, event_type, created_at DESC)`,
	},
	{
		Name: "idx_call_logs_time",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_call_logs_time ON api_call_logs (created_at DESC)`,
	},
}

// Migrate applies every schema step in order. report is called after each
// step and may be nil.
func (s *PostgresStore) Migrate(ctx context.Context, report func(step Step)) error {
	for _, step := range Schema {
		if _, err := s.db.Exec(ctx, step.SQL); err != nil {
			return fmt.Errorf("migrate %s: %w", step.Name, err)
		}
		if report != nil {
			report(step)
		}
	}
	return nil
}
