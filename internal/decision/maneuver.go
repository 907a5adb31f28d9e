package decision

import "fmt"

// Maneuver is the tagged outcome of one lane decision.
type Maneuver int

const (
	KeepLane Maneuver = iota
	Following
	EmergencyBrake
	ChangingLeft
	ChangingRight
)

var maneuverNames = [...]string{
	KeepLane:       "keep_lane",
	Following:      "following",
	EmergencyBrake: "emergency_brake",
	ChangingLeft:   "changing_left",
	ChangingRight:  "changing_right",
}

func (m Maneuver) String() string {
	if m < 0 || int(m) >= len(maneuverNames) {
		return fmt.Sprintf("maneuver(%d)", int(m))
	}
	return maneuverNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m Maneuver) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Maneuver) UnmarshalText(b []byte) error {
	for i, name := range maneuverNames {
		if name == string(b) {
			*m = Maneuver(i)
			return nil
		}
	}
	return fmt.Errorf("unknown maneuver %q", string(b))
}

// IsLaneChange reports whether the maneuver moves to another lane.
func (m Maneuver) IsLaneChange() bool {
	return m == ChangingLeft || m == ChangingRight
}

// Decelerating reports whether the maneuver lowers the target speed.
func (m Maneuver) Decelerating() bool {
	return m != KeepLane
}
