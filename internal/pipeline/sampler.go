package pipeline

import (
	"math"
	"time"

	"fleet-monitor/gps-poller/internal/domain"
)

const earthRadiusM = 6_371_000.0

// HaversineM returns the great-circle distance in metres.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Sampler decides which positions go to the history table: a new sample is
// kept when the device moved more than MinDistanceM or MaxInterval elapsed
// since the last stored one.
type Sampler struct {
	MinDistanceM float64
	MaxInterval  time.Duration
}

func NewSampler(minDistanceM float64, maxInterval time.Duration) *Sampler {
	return &Sampler{MinDistanceM: minDistanceM, MaxInterval: maxInterval}
}

// ShouldPersist compares cur against the last stored sample. The sample time is
// the latest vendor time of cur, so a parked tracker with a frozen fix time
// still gets heartbeat samples. now stands in when the vendor sent no time.
func (s *Sampler) ShouldPersist(prev *domain.HistorySample, cur *domain.Position, now time.Time) (bool, domain.HistorySample) {
	if cur == nil || !cur.HasCoordinates() {
		return false, domain.HistorySample{}
	}

	at, ok := cur.ObservedAt()
	if !ok {
		at = now
	}
	sample := domain.HistorySample{
		DeviceID:   cur.DeviceID,
		Lat:        *cur.Lat,
		Lon:        *cur.Lon,
		SpeedKmh:   cur.SpeedKmh,
		Heading:    cur.Heading,
		IgnitionOn: cur.IgnitionOn,
		RecordedAt: at,
	}

	if prev == nil || prev.RecordedAt.IsZero() || !validCoord(prev.Lat, prev.Lon) {
		return true, sample
	}

	if HaversineM(prev.Lat, prev.Lon, sample.Lat, sample.Lon) > s.MinDistanceM {
		return true, sample
	}
	if sample.RecordedAt.Sub(prev.RecordedAt) > s.MaxInterval {
		return true, sample
	}
	return false, domain.HistorySample{}
}

func validCoord(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && !(lat == 0 && lon == 0)
}
