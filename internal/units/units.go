// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	MM = "mm"
	CM = "cm"
	M  = "m"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MM, CM, M}

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
	return "mm, cm, m"
}

// ConvertDistance converts a distance from millimetres to the target units
// The rig reports distances in mm; the journal stores them unchanged
func ConvertDistance(distanceMm float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return distanceMm
	case CM:
		return distanceMm / 10
	case M:
		return distanceMm / 1000
	default:
		return distanceMm
	}
}
