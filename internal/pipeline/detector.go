package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/gps-poller/internal/domain"
)

// EventStore is the slice of the backing store the detector needs.
type EventStore interface {
	// RecentEventKeys returns which keys already have an event created at or
	// after since.
	RecentEventKeys(ctx context.Context, keys []domain.EventKey, since time.Time) (map[domain.EventKey]bool, error)
	InsertEvents(ctx context.Context, events []domain.Event) error
}

type Detector struct {
	events     EventStore
	rules      []EventRule
	thresholds Thresholds
	cooldown   time.Duration
}

func NewDetector(events EventStore, thresholds Thresholds, cooldown time.Duration) *Detector {
	return &Detector{
		events:     events,
		rules:      DefaultEventRules,
		thresholds: thresholds,
		cooldown:   cooldown,
	}
}

// Detect evaluates every rule independently; all that fire produce an event.
func (d *Detector) Detect(prev, cur *domain.Position, now time.Time) []domain.Event {
	if cur == nil {
		return nil
	}

	var out []domain.Event
	for _, rule := range d.rules {
		if !rule.Fires(prev, cur, d.thresholds) {
			continue
		}
		title, message := rule.Describe(cur)
		out = append(out, domain.Event{
			ID:        uuid.NewString(),
			DeviceID:  cur.DeviceID,
			Type:      rule.Type,
			Severity:  rule.Severity,
			Title:     title,
			Message:   message,
			Metadata:  eventMetadata(prev, cur),
			CreatedAt: now,
		})
	}
	return out
}

// Filter drops candidates that repeat an earlier candidate of the same batch
// or an event stored within the cooldown window. The check and the later
// insert are not atomic; two overlapping pollers can both pass it.
func (d *Detector) Filter(ctx context.Context, candidates []domain.Event, now time.Time) ([]domain.Event, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	seen := make(map[domain.EventKey]bool, len(candidates))
	unique := make([]domain.Event, 0, len(candidates))
	keys := make([]domain.EventKey, 0, len(candidates))
	for _, ev := range candidates {
		k := ev.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, ev)
		keys = append(keys, k)
	}

	recent, err := d.events.RecentEventKeys(ctx, keys, now.Add(-d.cooldown))
	if err != nil {
		return nil, 0, fmt.Errorf("load recent events: %w", err)
	}

	kept := unique[:0]
	for _, ev := range unique {
		if recent[ev.Key()] {
			continue
		}
		kept = append(kept, ev)
	}
	return kept, len(candidates) - len(kept), nil
}

// Record filters and inserts candidates, returning what was stored.
func (d *Detector) Record(ctx context.Context, candidates []domain.Event, now time.Time) ([]domain.Event, int, error) {
	kept, suppressed, err := d.Filter(ctx, candidates, now)
	if err != nil {
		return nil, 0, err
	}
	if len(kept) == 0 {
		return nil, suppressed, nil
	}
	if err := d.events.InsertEvents(ctx, kept); err != nil {
		return nil, suppressed, fmt.Errorf("insert %d events: %w", len(kept), err)
	}
	return kept, suppressed, nil
}

func eventMetadata(prev, cur *domain.Position) map[string]any {
	md := map[string]any{
		"source":              "gps51",
		"speed_kmh":           cur.SpeedKmh,
		"ignition_method":     string(cur.IgnitionMethod),
		"ignition_confidence": cur.IgnitionConfidence,
		"vendor_overspeed":    cur.VendorOverspeed,
		"is_online":           cur.IsOnline,
	}
	if cur.IgnitionOn != nil {
		md["ignition_on"] = *cur.IgnitionOn
	}
	if cur.BatteryPct != nil {
		md["battery_percent"] = *cur.BatteryPct
	}
	if cur.HasCoordinates() {
		md["lat"] = *cur.Lat
		md["lon"] = *cur.Lon
	}
	if cur.LastUpdate != nil {
		md["last_update"] = cur.LastUpdate.Format(time.RFC3339)
	}
	if prev != nil {
		md["previous_speed_kmh"] = prev.SpeedKmh
	}
	return md
}
