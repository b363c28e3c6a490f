package normalize

import (
	"math"
	"strings"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
)

const (
	DefaultOfflineThreshold = 10 * time.Minute
	DefaultOverspeedKmh     = 120.0
	DefaultMovingKmh        = 5.0
)

// Normalizer maps vendor records to canonical positions. It never fails: a
// field it cannot make sense of is reported as unknown.
type Normalizer struct {
	OfflineThreshold time.Duration
	OverspeedKmh     float64
	MovingKmh        float64
}

func New(offlineThreshold time.Duration) *Normalizer {
	if offlineThreshold <= 0 {
		offlineThreshold = DefaultOfflineThreshold
	}
	return &Normalizer{
		OfflineThreshold: offlineThreshold,
		OverspeedKmh:     DefaultOverspeedKmh,
		MovingKmh:        DefaultMovingKmh,
	}
}

func (n *Normalizer) Normalize(raw *domain.RawRecord, now time.Time) domain.Position {
	if raw == nil {
		return domain.Position{IgnitionMethod: domain.IgnitionUnknown}
	}

	pos := domain.Position{
		DeviceID:       strings.TrimSpace(raw.DeviceID),
		SpeedKmh:       Speed(raw.Speed),
		Heading:        heading(raw.Course),
		Altitude:       finiteOr(raw.Altitude, 0),
		BatteryPct:     battery(raw.VoltagePercent),
		TotalMileageKm: mileageKm(raw.TotalDistance),
		LastUpdate:     epochMillis(raw.UpdateTime),
		GPSFixTime:     epochMillis(raw.GPSFixTime),
	}

	pos.Lat, pos.Lon = coordinates(raw.Lat, raw.Lon)

	ign := DetectIgnition(raw, pos.SpeedKmh, n.MovingKmh)
	pos.IgnitionOn = ign.On
	pos.IgnitionConfidence = ign.Confidence
	pos.IgnitionMethod = ign.Method

	pos.IsOnline = pos.LastUpdate != nil && now.Sub(*pos.LastUpdate) < n.OfflineThreshold

	// An explicit vendor "no" vetoes the speed check; an absent flag does not.
	vendorSaysNo := raw.Overspeed.Valid && raw.Overspeed.Value == 0
	pos.VendorOverspeed = raw.Overspeed.Valid && raw.Overspeed.Value != 0
	pos.IsOverspeeding = pos.SpeedKmh > n.OverspeedKmh && !vendorSaysNo

	return pos
}

// NormalizeAll keeps vendor order and drops records without a device id.
func (n *Normalizer) NormalizeAll(raws []domain.RawRecord, now time.Time) []domain.Position {
	out := make([]domain.Position, 0, len(raws))
	for i := range raws {
		pos := n.Normalize(&raws[i], now)
		if pos.DeviceID == "" {
			continue
		}
		out = append(out, pos)
	}
	return out
}

func coordinates(lat, lon domain.Number) (*float64, *float64) {
	if !finite(lat) || !finite(lon) {
		return nil, nil
	}
	if lat.Value < -90 || lat.Value > 90 || lon.Value < -180 || lon.Value > 180 {
		return nil, nil
	}
	// 0,0 is what trackers without a fix report.
	if lat.Value == 0 && lon.Value == 0 {
		return nil, nil
	}
	la, lo := lat.Value, lon.Value
	return &la, &lo
}

func battery(v domain.Number) *float64 {
	if !finite(v) {
		return nil
	}
	b := clamp(v.Value, 0, 100)
	return &b
}

func heading(v domain.Number) float64 {
	if !finite(v) {
		return 0
	}
	h := math.Mod(v.Value, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func mileageKm(v domain.Number) float64 {
	if !finite(v) || v.Value < 0 {
		return 0
	}
	return math.Round(v.Value/10) / 100
}

func epochMillis(v domain.Number) *time.Time {
	if !finite(v) || v.Value <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(v.Value)).UTC()
	return &t
}

func finite(v domain.Number) bool {
	return v.Valid && !math.IsNaN(v.Value) && !math.IsInf(v.Value, 0)
}

func finiteOr(v domain.Number, fallback float64) float64 {
	if !finite(v) {
		return fallback
	}
	return v.Value
}
