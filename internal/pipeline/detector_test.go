package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type memEvents struct {
	stored    []domain.Event
	lookupErr error
	lookups   int
}

func (m *memEvents) RecentEventKeys(_ context.Context, keys []domain.EventKey, since time.Time) (map[domain.EventKey]bool, error) {
	m.lookups++
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	want := make(map[domain.EventKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := map[domain.EventKey]bool{}
	for _, ev := range m.stored {
		if want[ev.Key()] && !ev.CreatedAt.Before(since) {
			out[ev.Key()] = true
		}
	}
	return out, nil
}

func (m *memEvents) InsertEvents(_ context.Context, events []domain.Event) error {
	m.stored = append(m.stored, events...)
	return nil
}

func (m *memEvents) count(t domain.EventType) int {
	n := 0
	for _, ev := range m.stored {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }

func hasType(evs []domain.Event, t domain.EventType) bool {
	for _, ev := range evs {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func TestDetectorBatteryScenario(t *testing.T) {
	store := &memEvents{}
	d := NewDetector(store, DefaultThresholds(), 30*time.Minute)
	ctx := context.Background()

	first := &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(25)}
	if evs := d.Detect(nil, first, baseTime); len(evs) != 0 {
		t.Fatalf("expected no events at 25%%, got %+v", evs)
	}

	second := &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(15)}
	inserted, _, err := d.Record(ctx, d.Detect(first, second, baseTime.Add(time.Minute)), baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(inserted) != 1 || inserted[0].Type != domain.EventLowBattery || inserted[0].Severity != domain.SeverityWarning {
		t.Fatalf("expected one low_battery warning, got %+v", inserted)
	}
	if store.count(domain.EventLowBattery) != 1 {
		t.Fatalf("expected exactly one stored low_battery event")
	}
}

func TestDetectorBatteryBands(t *testing.T) {
	d := NewDetector(&memEvents{}, DefaultThresholds(), 30*time.Minute)

	evs := d.Detect(nil, &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(9)}, baseTime)
	if len(evs) != 1 || evs[0].Type != domain.EventCriticalBattery {
		t.Fatalf("expected critical_battery at 9%%, got %+v", evs)
	}
	evs = d.Detect(nil, &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(10)}, baseTime)
	if len(evs) != 1 || evs[0].Type != domain.EventLowBattery {
		t.Fatalf("expected low_battery at 10%%, got %+v", evs)
	}
	if evs := d.Detect(nil, &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(20)}, baseTime); len(evs) != 0 {
		t.Fatalf("expected nothing at 20%%, got %+v", evs)
	}
}

func TestDetectorIgnitionFlappingSuppressed(t *testing.T) {
	store := &memEvents{}
	d := NewDetector(store, DefaultThresholds(), 30*time.Minute)
	ctx := context.Background()

	on := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(true)}
	off := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(false)}

	inserted, _, err := d.Record(ctx, d.Detect(on, off, baseTime), baseTime)
	if err != nil || len(inserted) != 1 || inserted[0].Type != domain.EventIgnitionOff {
		t.Fatalf("expected first ignition_off to be stored, got %+v err=%v", inserted, err)
	}

	later := baseTime.Add(10 * time.Minute)
	inserted, suppressed, err := d.Record(ctx, d.Detect(on, off, later), later)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(inserted) != 0 || suppressed != 1 {
		t.Fatalf("expected flapping ignition_off to be suppressed, inserted=%+v suppressed=%d", inserted, suppressed)
	}

	afterCooldown := baseTime.Add(31 * time.Minute)
	inserted, _, _ = d.Record(ctx, d.Detect(on, off, afterCooldown), afterCooldown)
	if len(inserted) != 1 {
		t.Fatalf("expected ignition_off after cooldown to be stored, got %+v", inserted)
	}
	if store.count(domain.EventIgnitionOff) != 2 {
		t.Fatalf("expected two stored ignition_off events, got %d", store.count(domain.EventIgnitionOff))
	}
}

func TestDetectorDeduplicatesWithinBatch(t *testing.T) {
	store := &memEvents{}
	d := NewDetector(store, DefaultThresholds(), 30*time.Minute)

	cur := &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(5)}
	candidates := append(d.Detect(nil, cur, baseTime), d.Detect(nil, cur, baseTime)...)

	inserted, suppressed, err := d.Record(context.Background(), candidates, baseTime)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(inserted) != 1 || suppressed != 1 {
		t.Fatalf("expected 1 inserted and 1 suppressed, got %d/%d", len(inserted), suppressed)
	}
}

func TestDetectorUnknownIgnitionIsNotATransition(t *testing.T) {
	d := NewDetector(&memEvents{}, DefaultThresholds(), 30*time.Minute)

	on := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(true)}
	unknown := &domain.Position{DeviceID: "dev-1", IgnitionMethod: domain.IgnitionUnknown}

	if evs := d.Detect(on, unknown, baseTime); len(evs) != 0 {
		t.Fatalf("expected no events when ignition becomes unknown, got %+v", evs)
	}
	if evs := d.Detect(unknown, on, baseTime); len(evs) != 0 {
		t.Fatalf("expected no events when ignition becomes known, got %+v", evs)
	}
	if evs := d.Detect(nil, on, baseTime); len(evs) != 0 {
		t.Fatalf("expected no transition for first sighting, got %+v", evs)
	}
}

func TestDetectorOverspeedNeedsVendorFlag(t *testing.T) {
	d := NewDetector(&memEvents{}, DefaultThresholds(), 30*time.Minute)

	if evs := d.Detect(nil, &domain.Position{DeviceID: "dev-1", SpeedKmh: 140}, baseTime); hasType(evs, domain.EventOverspeeding) {
		t.Fatalf("expected no overspeed event without vendor flag")
	}
	evs := d.Detect(nil, &domain.Position{DeviceID: "dev-1", SpeedKmh: 140, VendorOverspeed: true}, baseTime)
	if !hasType(evs, domain.EventOverspeeding) {
		t.Fatalf("expected overspeed event, got %+v", evs)
	}
	if evs[0].Severity != domain.SeverityCritical || evs[0].Metadata["speed_kmh"] != 140.0 {
		t.Fatalf("unexpected overspeed event %+v", evs[0])
	}
}

func TestDetectorVehicleMovingAndOffline(t *testing.T) {
	d := NewDetector(&memEvents{}, DefaultThresholds(), 30*time.Minute)

	parked := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(true), SpeedKmh: 0, IsOnline: true}
	driving := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(true), SpeedKmh: 30, IsOnline: true}
	if evs := d.Detect(parked, driving, baseTime); !hasType(evs, domain.EventVehicleMoving) {
		t.Fatalf("expected vehicle_moving, got %+v", evs)
	}
	if evs := d.Detect(driving, driving, baseTime); hasType(evs, domain.EventVehicleMoving) {
		t.Fatalf("expected no vehicle_moving while already moving")
	}

	gone := &domain.Position{DeviceID: "dev-1", IgnitionOn: boolPtr(true), IsOnline: false}
	if evs := d.Detect(driving, gone, baseTime); !hasType(evs, domain.EventOffline) {
		t.Fatalf("expected offline event, got %+v", evs)
	}
}

func TestDetectorLookupFailureInsertsNothing(t *testing.T) {
	store := &memEvents{lookupErr: errors.New("db down")}
	d := NewDetector(store, DefaultThresholds(), 30*time.Minute)

	evs := d.Detect(nil, &domain.Position{DeviceID: "dev-1", BatteryPct: floatPtr(5)}, baseTime)
	if _, _, err := d.Record(context.Background(), evs, baseTime); err == nil {
		t.Fatalf("expected lookup error")
	}
	if len(store.stored) != 0 {
		t.Fatalf("expected nothing stored")
	}
}
