package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Number is a vendor numeric field. GPS51 sends numbers, numeric strings,
// empty strings or null depending on firmware, so a field that fails to parse
// is simply absent.
type Number struct {
	Value float64
	Valid bool
}

func NumberOf(v float64) Number { return Number{Value: v, Valid: true} }

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*n = NumberOf(f)
		}
		return nil
	}
	if b[0] == 't' || b[0] == 'f' {
		if bytes.Equal(b, []byte("true")) {
			*n = NumberOf(1)
		} else if bytes.Equal(b, []byte("false")) {
			*n = NumberOf(0)
		}
		return nil
	}
	if f, err := strconv.ParseFloat(string(b), 64); err == nil {
		*n = NumberOf(f)
	}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Text is a vendor string field. Numbers are kept as their literal text;
// objects, arrays and booleans leave the field absent.
type Text struct {
	Value string
	Valid bool
}

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			*t = Text{Value: s, Valid: true}
		}
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		if _, err := strconv.ParseFloat(string(b), 64); err == nil {
			*t = Text{Value: string(b), Valid: true}
		}
	}
	return nil
}

func (t Text) ptr() *string {
	if !t.Valid {
		return nil
	}
	v := t.Value
	return &v
}

// RawRecord is one GPS51 lastposition record. Every field may be missing.
type RawRecord struct {
	DeviceID       string  `json:"deviceid"`
	Status         Number  `json:"status"`
	StrStatus      *string `json:"strstatus"`
	StrStatusEn    *string `json:"strstatusen"`
	Speed          Number  `json:"speed"`
	Lat            Number  `json:"callat"`
	Lon            Number  `json:"callon"`
	Course         Number  `json:"course"`
	Altitude       Number  `json:"altitude"`
	VoltagePercent Number  `json:"voltagepercent"`
	UpdateTime     Number  `json:"updatetime"`
	GPSFixTime     Number  `json:"validpoistiontime"`
	Overspeed      Number  `json:"overspeed"`
	TotalDistance  Number  `json:"totaldistance"`
}

// UnmarshalJSON reads the string fields as Text so a firmware that sends a
// number there degrades the field instead of failing the record.
func (r *RawRecord) UnmarshalJSON(b []byte) error {
	type plain RawRecord
	aux := struct {
		*plain
		DeviceID    Text `json:"deviceid"`
		StrStatus   Text `json:"strstatus"`
		StrStatusEn Text `json:"strstatusen"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.DeviceID = aux.DeviceID.Value
	r.StrStatus = aux.StrStatus.ptr()
	r.StrStatusEn = aux.StrStatusEn.ptr()
	return nil
}

type IgnitionMethod string

const (
	IgnitionStatusBits     IgnitionMethod = "status_bits"
	IgnitionStatusString   IgnitionMethod = "status_string"
	IgnitionSpeedHeuristic IgnitionMethod = "speed_heuristic"
	IgnitionUnknown        IgnitionMethod = "unknown"
)

func (m IgnitionMethod) Valid() bool {
	switch m {
	case IgnitionStatusBits, IgnitionStatusString, IgnitionSpeedHeuristic, IgnitionUnknown:
		return true
	}
	return false
}

// Position is the canonical per-device snapshot. Lat, Lon, Battery and
// IgnitionOn are nil when unknown.
type Position struct {
	DeviceID string

	Lat      *float64
	Lon      *float64
	SpeedKmh float64
	Heading  float64
	Altitude float64

	BatteryPct *float64

	IgnitionOn         *bool
	IgnitionConfidence float64
	IgnitionMethod     IgnitionMethod

	IsOnline        bool
	IsOverspeeding  bool
	VendorOverspeed bool
	TotalMileageKm  float64

	LastUpdate *time.Time
	GPSFixTime *time.Time
}

func (p *Position) HasCoordinates() bool {
	return p.Lat != nil && p.Lon != nil
}

// ObservedAt is the latest vendor time seen for the device: the later of the
// GPS fix time and the update time. Parked trackers keep the fix time frozen
// while the update time advances.
func (p *Position) ObservedAt() (time.Time, bool) {
	switch {
	case p.GPSFixTime != nil && p.LastUpdate != nil:
		if p.LastUpdate.After(*p.GPSFixTime) {
			return *p.LastUpdate, true
		}
		return *p.GPSFixTime, true
	case p.GPSFixTime != nil:
		return *p.GPSFixTime, true
	case p.LastUpdate != nil:
		return *p.LastUpdate, true
	}
	return time.Time{}, false
}

// HistorySample is a retained position in the append-only history.
type HistorySample struct {
	DeviceID   string
	Lat        float64
	Lon        float64
	SpeedKmh   float64
	Heading    float64
	IgnitionOn *bool
	RecordedAt time.Time
}

// Vehicle is a device entry from the vendor monitor list.
type Vehicle struct {
	DeviceID   string
	Name       string
	GroupName  string
	SimNumber  string
	DeviceType string
}

// CallLog is one row of the vendor API call log.
type CallLog struct {
	CycleID    string
	Action     string
	Success    bool
	Records    int
	Duration   time.Duration
	FromCache  bool
	Error      string
	OccurredAt time.Time
}
