package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
)

// RecentEventKeys reports which (device, type) keys already have an event
// created at or after since.
func (s *PostgresStore) RecentEventKeys(ctx context.Context, keys []domain.EventKey, since time.Time) (map[domain.EventKey]bool, error) {
	out := make(map[domain.EventKey]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	devices := make([]string, 0, len(keys))
	types := make([]string, 0, len(keys))
	wanted := make(map[domain.EventKey]bool, len(keys))
	for _, k := range keys {
		devices = append(devices, k.DeviceID)
		types = append(types, string(k.Type))
		wanted[k] = true
	}

	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT device_id, event_type
		FROM proactive_events
		WHERE created_at >= $1
			AND device_id = ANY($2)
			AND event_type = ANY($3)`,
		since, devices, types,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			device    string
			eventType string
		)
		if err := rows.Scan(&device, &eventType); err != nil {
			return nil, fmt.Errorf("scan recent event: %w", err)
		}
		k := domain.EventKey{DeviceID: device, Type: domain.EventType(eventType)}
		if wanted[k] {
			out[k] = true
		}
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)*8)
	for _, ev := range events {
		md, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s/%s: %w", ev.DeviceID, ev.Type, err)
		}
		args = append(args,
			ev.ID,
			ev.DeviceID,
			string(ev.Type),
			string(ev.Severity),
			ev.Title,
			ev.Message,
			string(md),
			ev.CreatedAt,
		)
	}

	query := `INSERT INTO proactive_events
		(id, device_id, event_type, severity, title, message, metadata, created_at)
		VALUES ` + valuesClause(len(events), 8, "") + `
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}
