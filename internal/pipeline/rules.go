package pipeline

import (
	"fmt"

	"fleet-monitor/gps-poller/internal/domain"
)

type Thresholds struct {
	OverspeedKmh       float64
	MovingKmh          float64
	CriticalBatteryPct float64
	LowBatteryPct      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		OverspeedKmh:       120,
		MovingKmh:          5,
		CriticalBatteryPct: 10,
		LowBatteryPct:      20,
	}
}

// EventRule fires on the current position, optionally compared with the
// previously stored one. prev is nil for a device seen for the first time.
type EventRule struct {
	Type     domain.EventType
	Severity domain.Severity
	Fires    func(prev, cur *domain.Position, th Thresholds) bool
	Describe func(cur *domain.Position) (title, message string)
}

var DefaultEventRules = []EventRule{
	{
		Type:     domain.EventOverspeeding,
		Severity: domain.SeverityCritical,
		Fires: func(_, cur *domain.Position, th Thresholds) bool {
			return cur.SpeedKmh > th.OverspeedKmh && cur.VendorOverspeed
		},
		Describe: func(cur *domain.Position) (string, string) {
			return "Overspeed alert", fmt.Sprintf("Vehicle is travelling at %.0f km/h", cur.SpeedKmh)
		},
	},
	{
		Type:     domain.EventCriticalBattery,
		Severity: domain.SeverityCritical,
		Fires: func(_, cur *domain.Position, th Thresholds) bool {
			return cur.BatteryPct != nil && *cur.BatteryPct < th.CriticalBatteryPct
		},
		Describe: func(cur *domain.Position) (string, string) {
			return "Critical battery", fmt.Sprintf("Tracker battery is at %.0f%%", *cur.BatteryPct)
		},
	},
	{
		Type:     domain.EventLowBattery,
		Severity: domain.SeverityWarning,
		Fires: func(_, cur *domain.Position, th Thresholds) bool {
			return cur.BatteryPct != nil && *cur.BatteryPct >= th.CriticalBatteryPct && *cur.BatteryPct < th.LowBatteryPct
		},
		Describe: func(cur *domain.Position) (string, string) {
			return "Low battery", fmt.Sprintf("Tracker battery is at %.0f%%", *cur.BatteryPct)
		},
	},
	{
		Type:     domain.EventIgnitionOn,
		Severity: domain.SeverityInfo,
		Fires: func(prev, cur *domain.Position, _ Thresholds) bool {
			return ignitionIs(prev, false) && ignitionIs(cur, true)
		},
		Describe: func(*domain.Position) (string, string) {
			return "Ignition on", "Vehicle ignition was switched on"
		},
	},
	{
		Type:     domain.EventIgnitionOff,
		Severity: domain.SeverityInfo,
		Fires: func(prev, cur *domain.Position, _ Thresholds) bool {
			return ignitionIs(prev, true) && ignitionIs(cur, false)
		},
		Describe: func(*domain.Position) (string, string) {
			return "Ignition off", "Vehicle ignition was switched off"
		},
	},
	{
		Type:     domain.EventVehicleMoving,
		Severity: domain.SeverityInfo,
		Fires: func(prev, cur *domain.Position, th Thresholds) bool {
			return prev != nil && ignitionIs(cur, true) &&
				prev.SpeedKmh <= th.MovingKmh && cur.SpeedKmh > th.MovingKmh
		},
		Describe: func(cur *domain.Position) (string, string) {
			return "Vehicle moving", fmt.Sprintf("Vehicle started moving at %.0f km/h", cur.SpeedKmh)
		},
	},
	{
		Type:     domain.EventOffline,
		Severity: domain.SeverityWarning,
		Fires: func(prev, cur *domain.Position, _ Thresholds) bool {
			return prev != nil && prev.IsOnline && !cur.IsOnline
		},
		Describe: func(*domain.Position) (string, string) {
			return "Tracker offline", "Tracker stopped reporting"
		},
	},
}

// ignitionIs is false for an unknown state so that a tracker losing its ACC
// signal never looks like a transition.
func ignitionIs(p *domain.Position, on bool) bool {
	return p != nil && p.IgnitionOn != nil && *p.IgnitionOn == on
}
