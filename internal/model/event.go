// Package model defines core data structures for nextport.
package model

// EventRecord is one row of a vessel's event stream.
// Records of one entity arrive in ascending timestamp order.
// NULL columns in the store are carried as zero values.
type EventRecord struct {
	// EntityID identifies the vessel (IMO number).
	EntityID int64

	// OwnLocode is the location code of the zone the event originates from.
	OwnLocode string

	// TargetLocode is the location code of the zone joined through ValueInt.
	// Empty when the event references no zone.
	TargetLocode string

	OldState MovementState
	NewState MovementState

	// ValueInt is an auxiliary integer whose meaning depends on the event.
	// For zone events it is the zone id; the stay tracker also reads it as
	// the start of a stay.
	ValueInt int64

	Timestamp int64

	EventType EventType

	// ZoneType classifies the zone behind TargetLocode.
	ZoneType ZoneType
}

// IsLongStop reports whether either side of the state transition is LONG_STOP.
func (r *EventRecord) IsLongStop() bool {
	return r.OldState == StateLongStop || r.NewState == StateLongStop
}

// Transition reports whether the record moves from one state to another.
func (r *EventRecord) Transition(from, to MovementState) bool {
	return r.OldState == from && r.NewState == to
}

// EventType is the kind of event in the log.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventEnterZone
	EventExitZone
	EventStateChanged
)

// String returns the tag used by the event store.
func (t EventType) String() string {
	switch t {
	case EventEnterZone:
		return "ENTER_ZONE"
	case EventExitZone:
		return "EXIT_ZONE"
	case EventStateChanged:
		return "STATE_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// ParseEventType maps a store tag to an EventType. Unrecognized tags map to EventUnknown.
func ParseEventType(s string) EventType {
	switch s {
	case "ENTER_ZONE":
		return EventEnterZone
	case "EXIT_ZONE":
		return EventExitZone
	case "STATE_CHANGED":
		return EventStateChanged
	default:
		return EventUnknown
	}
}

// MovementState is the movement tag attached to state transitions.
type MovementState uint8

const (
	// StateNone is a NULL state column.
	StateNone MovementState = iota
	StateMoving
	StateNotMoving
	StateLongStop
	// StateOther is any tag the reconstructor does not act on.
	StateOther
)

// String returns the tag used by the event store.
func (s MovementState) String() string {
	switch s {
	case StateMoving:
		return "MOVING"
	case StateNotMoving:
		return "NOT_MOVING"
	case StateLongStop:
		return "LONG_STOP"
	case StateOther:
		return "OTHER"
	default:
		return ""
	}
}

// ParseMovementState maps a store tag to a MovementState.
func ParseMovementState(s string) MovementState {
	switch s {
	case "":
		return StateNone
	case "MOVING":
		return StateMoving
	case "NOT_MOVING":
		return StateNotMoving
	case "LONG_STOP":
		return StateLongStop
	default:
		return StateOther
	}
}

// ZoneType classifies a zone.
type ZoneType uint8

const (
	ZoneNone ZoneType = iota
	ZonePort
	ZoneOther
)

// String returns the tag used by the zones table.
func (z ZoneType) String() string {
	switch z {
	case ZonePort:
		return "PORT"
	case ZoneOther:
		return "OTHER"
	default:
		return ""
	}
}

// ParseZoneType maps a zones.TYPE value to a ZoneType.
func ParseZoneType(s string) ZoneType {
	switch s {
	case "":
		return ZoneNone
	case "PORT":
		return ZonePort
	default:
		return ZoneOther
	}
}
