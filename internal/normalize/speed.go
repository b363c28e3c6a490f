package normalize

import (
	"math"

	"fleet-monitor/gps-poller/internal/domain"
)

const (
	MaxSpeedKmh = 300.0
	// NoiseSpeedKmh is the jitter floor; slower readings are reported as 0.
	NoiseSpeedKmh = 3.0
	// ScaledSpeedFloor marks firmware that reports speed multiplied by 1000.
	ScaledSpeedFloor = 1000.0
)

// Speed converts a vendor speed reading to km/h.
func Speed(raw domain.Number) float64 {
	if !raw.Valid || math.IsNaN(raw.Value) || math.IsInf(raw.Value, 0) {
		return 0
	}

	v := raw.Value
	if v >= ScaledSpeedFloor {
		v = math.Round(v / 1000)
	}
	v = clamp(v, 0, MaxSpeedKmh)
	if v < NoiseSpeedKmh {
		return 0
	}
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
