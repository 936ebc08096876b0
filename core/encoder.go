package core

import "math"

// Position is a normalized servo command in [-1, 1], relative to the
// channel's calibrated pulse range: -1 maps to MinUS, +1 to MaxUS.
type Position float64

// Clamp limits p to the valid [-1, 1] range.
func (p Position) Clamp() Position {
	if p < -1 {
		return -1
	}
	if p > 1 {
		return 1
	}
	return p
}

// Encoder converts normalized positions into duty-cycle values on the
// discrete scale of the PWM controller. It is a pure value type and safe
// to use concurrently.
type Encoder struct {
	// FrequencyHz is the PWM frequency (typically 50 for hobby servos).
	FrequencyHz uint32

	// Resolution is the number of duty-cycle steps per period
	// (4096 for a 12-bit controller).
	Resolution uint32
}

// Encode maps p onto ch's calibrated pulse-width range and returns the
// duty-cycle value for the configured frequency and resolution. The result
// is rounded to nearest and clamped to [0, Resolution-1].
func (e Encoder) Encode(p Position, ch Channel) uint32 {
	p = p.Clamp()
	pulseUS := float64(ch.MinUS) + (float64(p)+1)/2*float64(ch.MaxUS-ch.MinUS)
	periodUS := 1e6 / float64(e.FrequencyHz)
	duty := math.Round(pulseUS / periodUS * float64(e.Resolution))
	if duty < 0 {
		return 0
	}
	if duty > float64(e.Resolution-1) {
		return e.Resolution - 1
	}
	return uint32(duty)
}

// Decode reverses the linear mapping, returning the Position whose encoding
// is closest to duty. Round-tripping through Encode loses at most one
// discretization step.
func (e Encoder) Decode(duty uint32, ch Channel) Position {
	periodUS := 1e6 / float64(e.FrequencyHz)
	pulseUS := float64(duty) / float64(e.Resolution) * periodUS
	p := 2*(pulseUS-float64(ch.MinUS))/float64(ch.MaxUS-ch.MinUS) - 1
	return Position(p).Clamp()
}
