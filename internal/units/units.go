// Package units provides shared constants and validation for speed units
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// ConvertToMPS converts a speed in the given units back to meters per second.
// Unknown units are treated as m/s.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	switch fromUnits {
	case MPH:
		return speed / 2.2369362920544
	case KMPH, KPH:
		return speed / 3.6
	default:
		return speed
	}
}

// Convert converts a speed between any two supported units.
func Convert(speed float64, fromUnits, toUnits string) float64 {
	return ConvertSpeed(ConvertToMPS(speed, fromUnits), toUnits)
}
