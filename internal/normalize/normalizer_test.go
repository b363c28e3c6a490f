package normalize

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func millis(t time.Time) domain.Number { return domain.NumberOf(float64(t.UnixMilli())) }

func TestNormalizeScaledSpeedWithStatusString(t *testing.T) {
	n := New(0)
	raw := &domain.RawRecord{
		DeviceID:   "dev-1",
		Speed:      domain.NumberOf(45000),
		StrStatus:  strPtr("ACC ON;GPS"),
		UpdateTime: millis(now.Add(-time.Minute)),
	}

	pos := n.Normalize(raw, now)

	if pos.SpeedKmh != 45 {
		t.Fatalf("expected 45 km/h, got %f", pos.SpeedKmh)
	}
	if pos.IgnitionOn == nil || !*pos.IgnitionOn {
		t.Fatalf("expected ignition on, got %v", pos.IgnitionOn)
	}
	if pos.IgnitionMethod != domain.IgnitionStatusString {
		t.Fatalf("expected status_string, got %s", pos.IgnitionMethod)
	}
	if pos.IgnitionConfidence <= stringConfidence {
		t.Fatalf("expected speed agreement to raise confidence above %f, got %f", stringConfidence, pos.IgnitionConfidence)
	}
	if !pos.IsOnline {
		t.Fatalf("expected device online")
	}
}

func TestSpeedScaledValues(t *testing.T) {
	for _, v := range []float64{1000, 2499, 2500, 45000, 120400, 299999, 300000, 999999, 5e6} {
		want := clamp(math.Round(v/1000), 0, MaxSpeedKmh)
		if want < NoiseSpeedKmh {
			want = 0
		}
		if got := Speed(domain.NumberOf(v)); got != want {
			t.Fatalf("speed %f: expected %f, got %f", v, want, got)
		}
	}
}

func TestSpeedNoiseAndBounds(t *testing.T) {
	cases := map[float64]float64{
		-4:    0,
		0:     0,
		2.9:   0,
		3:     3,
		64.37: 64.4,
		450:   300,
	}
	for in, want := range cases {
		if got := Speed(domain.NumberOf(in)); got != want {
			t.Fatalf("speed %f: expected %f, got %f", in, want, got)
		}
	}
	if got := Speed(domain.Number{}); got != 0 {
		t.Fatalf("missing speed: expected 0, got %f", got)
	}
}

func TestOnlineThreshold(t *testing.T) {
	n := New(10 * time.Minute)

	stale := n.Normalize(&domain.RawRecord{
		DeviceID:   "dev-1",
		UpdateTime: millis(now.Add(-20 * time.Minute)),
		Speed:      domain.NumberOf(80),
		Status:     domain.NumberOf(1),
	}, now)
	if stale.IsOnline {
		t.Fatalf("expected 20 minute old record to be offline")
	}

	edge := n.Normalize(&domain.RawRecord{DeviceID: "dev-1", UpdateTime: millis(now.Add(-10 * time.Minute))}, now)
	if edge.IsOnline {
		t.Fatalf("expected record exactly at threshold to be offline")
	}

	fresh := n.Normalize(&domain.RawRecord{DeviceID: "dev-1", UpdateTime: millis(now.Add(-9 * time.Minute))}, now)
	if !fresh.IsOnline {
		t.Fatalf("expected 9 minute old record to be online")
	}

	missing := n.Normalize(&domain.RawRecord{DeviceID: "dev-1"}, now)
	if missing.IsOnline {
		t.Fatalf("expected record without update time to be offline")
	}
}

func TestIgnitionUnknownWithoutSignals(t *testing.T) {
	pos := New(0).Normalize(&domain.RawRecord{DeviceID: "dev-1", Speed: domain.NumberOf(1)}, now)

	if pos.IgnitionOn != nil {
		t.Fatalf("expected unknown ignition, got %v", *pos.IgnitionOn)
	}
	if pos.IgnitionConfidence != 0 {
		t.Fatalf("expected confidence 0, got %f", pos.IgnitionConfidence)
	}
	if pos.IgnitionMethod != domain.IgnitionUnknown {
		t.Fatalf("expected unknown method, got %s", pos.IgnitionMethod)
	}
}

func TestIgnitionPriorityAndConfidence(t *testing.T) {
	cases := []struct {
		name   string
		raw    domain.RawRecord
		speed  float64
		on     bool
		method domain.IgnitionMethod
	}{
		{"bits on", domain.RawRecord{Status: domain.NumberOf(3)}, 0, true, domain.IgnitionStatusBits},
		{"bits off beats string on", domain.RawRecord{Status: domain.NumberOf(2), StrStatus: strPtr("ACC ON")}, 0, false, domain.IgnitionStatusBits},
		{"english fallback string", domain.RawRecord{StrStatus: strPtr("定位"), StrStatusEn: strPtr("acc off")}, 0, false, domain.IgnitionStatusString},
		{"chinese string", domain.RawRecord{StrStatus: strPtr("ACC开,已定位")}, 0, true, domain.IgnitionStatusString},
		{"speed only", domain.RawRecord{}, 40, true, domain.IgnitionSpeedHeuristic},
		{"all agree", domain.RawRecord{Status: domain.NumberOf(1), StrStatus: strPtr("ACC ON")}, 40, true, domain.IgnitionStatusBits},
		{"conflict", domain.RawRecord{Status: domain.NumberOf(0), StrStatus: strPtr("ACC ON")}, 40, false, domain.IgnitionStatusBits},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ign := DetectIgnition(&tc.raw, tc.speed, DefaultMovingKmh)
			if ign.On == nil || *ign.On != tc.on {
				t.Fatalf("expected on=%v, got %v", tc.on, ign.On)
			}
			if ign.Method != tc.method {
				t.Fatalf("expected method %s, got %s", tc.method, ign.Method)
			}
			if ign.Confidence < 0 || ign.Confidence > 1 {
				t.Fatalf("confidence out of range: %f", ign.Confidence)
			}
			if !ign.Method.Valid() {
				t.Fatalf("method outside closed set: %s", ign.Method)
			}
		})
	}

	agree := DetectIgnition(&domain.RawRecord{Status: domain.NumberOf(1), StrStatus: strPtr("ACC ON")}, 40, DefaultMovingKmh)
	alone := DetectIgnition(&domain.RawRecord{}, 40, DefaultMovingKmh)
	if agree.Confidence <= alone.Confidence {
		t.Fatalf("expected agreeing sources (%f) to beat speed heuristic alone (%f)", agree.Confidence, alone.Confidence)
	}
	if agree.Confidence != 1 {
		t.Fatalf("expected full agreement to reach 1, got %f", agree.Confidence)
	}
}

func TestNormalizeMissingCoordinates(t *testing.T) {
	pos := New(0).Normalize(&domain.RawRecord{
		DeviceID:   "dev-1",
		Lat:        domain.NumberOf(0),
		Lon:        domain.NumberOf(0),
		Status:     domain.NumberOf(1),
		UpdateTime: millis(now),
	}, now)

	if pos.HasCoordinates() {
		t.Fatalf("expected 0,0 fix to be treated as missing")
	}
	if !pos.IsOnline || pos.IgnitionOn == nil || !*pos.IgnitionOn {
		t.Fatalf("expected online and ignition logic unaffected: %+v", pos)
	}
}

func TestNormalizeOverspeed(t *testing.T) {
	n := New(0)

	flagged := n.Normalize(&domain.RawRecord{DeviceID: "d", Speed: domain.NumberOf(130), Overspeed: domain.NumberOf(1)}, now)
	if !flagged.IsOverspeeding || !flagged.VendorOverspeed {
		t.Fatalf("expected overspeed with vendor flag, got %+v", flagged)
	}

	vetoed := n.Normalize(&domain.RawRecord{DeviceID: "d", Speed: domain.NumberOf(130), Overspeed: domain.NumberOf(0)}, now)
	if vetoed.IsOverspeeding {
		t.Fatalf("expected explicit vendor no to veto overspeed")
	}

	noFlag := n.Normalize(&domain.RawRecord{DeviceID: "d", Speed: domain.NumberOf(130)}, now)
	if !noFlag.IsOverspeeding || noFlag.VendorOverspeed {
		t.Fatalf("expected speed-derived overspeed without vendor flag, got %+v", noFlag)
	}

	slow := n.Normalize(&domain.RawRecord{DeviceID: "d", Speed: domain.NumberOf(100), Overspeed: domain.NumberOf(1)}, now)
	if slow.IsOverspeeding {
		t.Fatalf("expected no overspeed below limit")
	}
}

func TestNormalizeAllToleratesMalformedFields(t *testing.T) {
	payload := `[
		{"deviceid": "dev-1", "speed": "abc", "callat": "22.54", "callon": 114.05, "voltagepercent": "", "status": null, "updatetime": "not-a-time", "totaldistance": 123456},
		{"deviceid": "", "speed": 10},
		{"deviceid": "dev-2", "speed": 30000, "course": -90, "strstatus": "ACC OFF", "validpoistiontime": 1772366400000}
	]`

	var raws []domain.RawRecord
	if err := json.Unmarshal([]byte(payload), &raws); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	out := New(0).NormalizeAll(raws, now)
	if len(out) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(out))
	}

	first := out[0]
	if first.SpeedKmh != 0 || first.BatteryPct != nil || first.LastUpdate != nil || first.IsOnline {
		t.Fatalf("expected malformed fields to degrade to unknown: %+v", first)
	}
	if !first.HasCoordinates() || *first.Lat != 22.54 {
		t.Fatalf("expected numeric string latitude to parse, got %v", first.Lat)
	}
	if first.TotalMileageKm != 123.46 {
		t.Fatalf("expected 123.46 km, got %f", first.TotalMileageKm)
	}

	second := out[1]
	if second.SpeedKmh != 30 || second.Heading != 270 {
		t.Fatalf("unexpected speed/heading: %f/%f", second.SpeedKmh, second.Heading)
	}
	if second.GPSFixTime == nil {
		t.Fatalf("expected gps fix time")
	}
}
