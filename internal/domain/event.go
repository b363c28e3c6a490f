package domain

import "time"

type EventType string

const (
	EventOverspeeding    EventType = "overspeeding"
	EventCriticalBattery EventType = "critical_battery"
	EventLowBattery      EventType = "low_battery"
	EventIgnitionOn      EventType = "ignition_on"
	EventIgnitionOff     EventType = "ignition_off"
	EventVehicleMoving   EventType = "vehicle_moving"
	EventOffline         EventType = "offline"
	// EventUpcomingTrip is raised by the booking side; the poller never emits it.
	EventUpcomingTrip EventType = "upcoming_trip"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a proactive alert. Events are inserted once and never updated.
type Event struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"device_id"`
	Type      EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventKey identifies the cooldown bucket of an event.
type EventKey struct {
	DeviceID string
	Type     EventType
}

func (e *Event) Key() EventKey {
	return EventKey{DeviceID: e.DeviceID, Type: e.Type}
}
