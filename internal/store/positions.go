package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"fleet-monitor/gps-poller/internal/domain"
)

var positionColumns = []string{
	"device_id",
	"lat",
	"lon",
	"speed_kmh",
	"heading",
	"altitude",
	"battery_percent",
	"ignition_on",
	"ignition_confidence",
	"ignition_method",
	"is_online",
	"is_overspeeding",
	"vendor_overspeed",
	"total_mileage_km",
	"last_update",
	"gps_fix_time",
}

// UpsertPositions writes the current-position rows. A row only replaces the
// stored one when it is not older, so an overtaken slow cycle cannot roll a
// device back.
func (s *PostgresStore) UpsertPositions(ctx context.Context, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	args := make([]any, 0, len(positions)*len(positionColumns))
	for _, p := range positions {
		var method *string
		if p.IgnitionMethod != "" {
			m := string(p.IgnitionMethod)
			method = &m
		}
		args = append(args,
			p.DeviceID,
			p.Lat,
			p.Lon,
			p.SpeedKmh,
			p.Heading,
			p.Altitude,
			p.BatteryPct,
			p.IgnitionOn,
			p.IgnitionConfidence,
			method,
			p.IsOnline,
			p.IsOverspeeding,
			p.VendorOverspeed,
			p.TotalMileageKm,
			p.LastUpdate,
			p.GPSFixTime,
		)
	}

	query := `INSERT INTO vehicle_positions (` + strings.Join(positionColumns, ", ") + `, updated_at) VALUES ` +
		valuesClause(len(positions), len(positionColumns), "NOW()") + `
		ON CONFLICT (device_id) DO UPDATE SET
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			speed_kmh = EXCLUDED.speed_kmh,
			heading = EXCLUDED.heading,
			altitude = EXCLUDED.altitude,
			battery_percent = EXCLUDED.battery_percent,
			ignition_on = EXCLUDED.ignition_on,
			ignition_confidence = EXCLUDED.ignition_confidence,
			ignition_method = EXCLUDED.ignition_method,
			is_online = EXCLUDED.is_online,
			is_overspeeding = EXCLUDED.is_overspeeding,
			vendor_overspeed = EXCLUDED.vendor_overspeed,
			total_mileage_km = EXCLUDED.total_mileage_km,
			last_update = EXCLUDED.last_update,
			gps_fix_time = EXCLUDED.gps_fix_time,
			updated_at = EXCLUDED.updated_at
		WHERE vehicle_positions.last_update IS NULL
			OR EXCLUDED.last_update >= vehicle_positions.last_update`

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d positions: %w", len(positions), err)
	}
	return nil
}

// PreviousPositions loads the stored current position of each device.
func (s *PostgresStore) PreviousPositions(ctx context.Context, deviceIDs []string) (map[string]domain.Position, error) {
	out := make(map[string]domain.Position, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+strings.Join(positionColumns, ", ")+`
		FROM vehicle_positions WHERE device_id = ANY($1)`, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p      domain.Position
			method *string
		)
		if err := rows.Scan(
			&p.DeviceID,
			&p.Lat,
			&p.Lon,
			&p.SpeedKmh,
			&p.Heading,
			&p.Altitude,
			&p.BatteryPct,
			&p.IgnitionOn,
			&p.IgnitionConfidence,
			&method,
			&p.IsOnline,
			&p.IsOverspeeding,
			&p.VendorOverspeed,
			&p.TotalMileageKm,
			&p.LastUpdate,
			&p.GPSFixTime,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.IgnitionMethod = domain.IgnitionUnknown
		if method != nil {
			p.IgnitionMethod = domain.IgnitionMethod(*method)
		}
		out[p.DeviceID] = p
	}
	return out, rows.Err()
}

var historyColumns = []string{
	"device_id",
	"lat",
	"lon",
	"speed_kmh",
	"heading",
	"ignition_on",
	"recorded_at",
}

// InsertSamples appends history samples with COPY.
func (s *PostgresStore) InsertSamples(ctx context.Context, samples []domain.HistorySample) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]any, len(samples))
	for i, h := range samples {
		rows[i] = []any{h.DeviceID, h.Lat, h.Lon, h.SpeedKmh, h.Heading, h.IgnitionOn, h.RecordedAt}
	}

	_, err := s.db.CopyFrom(ctx, pgx.Identifier{"position_history"}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy %d history samples: %w", len(samples), err)
	}
	return nil
}

// LatestSamples returns the newest history sample per device.
func (s *PostgresStore) LatestSamples(ctx context.Context, deviceIDs []string) (map[string]domain.HistorySample, error) {
	out := make(map[string]domain.HistorySample, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.Query(ctx, `SELECT DISTINCT ON (device_id) `+strings.Join(historyColumns, ", ")+`
		FROM position_history
		WHERE device_id = ANY($1)
		ORDER BY device_id, recorded_at DESC`, deviceIDs)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h domain.HistorySample
		if err := rows.Scan(&h.DeviceID, &h.Lat, &h.Lon, &h.SpeedKmh, &h.Heading, &h.IgnitionOn, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out[h.DeviceID] = h
	}
	return out, rows.Err()
}

// DeviceIDs lists the registered, active trackers.
func (s *PostgresStore) DeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT device_id FROM vehicles WHERE active ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("query vehicles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertVehicles syncs the registry from the vendor monitor list.
func (s *PostgresStore) UpsertVehicles(ctx context.Context, vehicles []domain.Vehicle) error {
	if len(vehicles) == 0 {
		return nil
	}

	args := make([]any, 0, len(vehicles)*5)
	for _, v := range vehicles {
		args = append(args, v.DeviceID, v.Name, v.GroupName, v.SimNumber, v.DeviceType)
	}

	query := `INSERT INTO vehicles (device_id, name, group_name, sim_number, device_type) VALUES ` +
		valuesClause(len(vehicles), 5, "") + `
		ON CONFLICT (device_id) DO UPDATE SET
			name = EXCLUDED.name,
			group_name = EXCLUDED.group_name,
			sim_number = EXCLUDED.sim_number,
			device_type = EXCLUDED.device_type,
			updated_at = NOW()`

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d vehicles: %w", len(vehicles), err)
	}
	return nil
}

func (s *PostgresStore) LogAPICall(ctx context.Context, l domain.CallLog) error {
	var errText *string
	if l.Error != "" {
		errText = &l.Error
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_call_logs
			(cycle_id, action, success, records, duration_ms, from_cache, error, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.CycleID,
		l.Action,
		l.Success,
		l.Records,
		l.Duration.Milliseconds(),
		l.FromCache,
		errText,
		l.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert api call log: %w", err)
	}
	return nil
}
