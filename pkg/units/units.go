// Package units converts speeds between units. The pipeline computes and
// stores all speeds in m/s; conversion happens only at the display and
// reporting boundary.
package units

type Unit string

const (
	MPS Unit = "mps"
	KPH Unit = "kph"
	MPH Unit = "mph"
)

const (
	mpsToKPH = 3.6
	mpsToMPH = 2.2369362920544
)

// IsValid checks if the given unit is one we know how to convert to
func IsValid(u Unit) bool {
	switch u {
	case MPS, KPH, MPH:
		return true
	}
	return false
}

// FromMPS converts a speed in m/s to the target unit. Unknown units are
// returned unchanged in m/s.
func FromMPS(speedMPS float64, target Unit) float64 {
	switch target {
	case KPH:
		return speedMPS * mpsToKPH
	case MPH:
		return speedMPS * mpsToMPH
	default:
		return speedMPS
	}
}

// ToMPS converts a speed in the given unit to m/s.
func ToMPS(speed float64, from Unit) float64 {
	switch from {
	case KPH:
		return speed / mpsToKPH
	case MPH:
		return speed / mpsToMPH
	default:
		return speed
	}
}
