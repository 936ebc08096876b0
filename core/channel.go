package core

import "fmt"

// Channel describes one servo output on the PWM controller: its index on
// the 16-channel board and the pulse-width calibration that bounds the
// mechanical travel of the joint it drives.
type Channel struct {
	// Index is the output number on the PWM controller (0-15).
	Index uint8

	// Name is an optional human-readable label ("bob", "nod", ...).
	Name string

	// MinUS and MaxUS bound the commanded pulse width in microseconds.
	// Commands are clamped so a joint is never over-driven.
	MinUS uint16
	MaxUS uint16

	// CenterUS is the resting pulse width. It must lie inside
	// [MinUS, MaxUS] but need not be the midpoint.
	CenterUS uint16
}

// CalibrationError reports an invalid channel calibration. It is raised at
// configuration load, never during playback.
type CalibrationError struct {
	Channel uint8
	Reason  string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("channel %d: bad calibration: %s", e.Channel, e.Reason)
}

// Validate checks the calibration invariants: a non-empty monotonic pulse
// range and a center inside it.
func (c Channel) Validate() error {
	if c.Index >= MaxChannels {
		return &CalibrationError{Channel: c.Index, Reason: fmt.Sprintf("index out of range (max %d)", MaxChannels-1)}
	}
	if c.MinUS >= c.MaxUS {
		return &CalibrationError{Channel: c.Index, Reason: fmt.Sprintf("min pulse %dus >= max pulse %dus", c.MinUS, c.MaxUS)}
	}
	if c.CenterUS < c.MinUS || c.CenterUS > c.MaxUS {
		return &CalibrationError{Channel: c.Index, Reason: fmt.Sprintf("center pulse %dus outside [%d, %d]us", c.CenterUS, c.MinUS, c.MaxUS)}
	}
	return nil
}

// Neutral returns the normalized Position corresponding to CenterUS.
// The center is not required to be the midpoint of the range, so this is
// the inverse of the linear pulse mapping rather than a constant 0.
func (c Channel) Neutral() Position {
	span := float64(c.MaxUS - c.MinUS)
	return Position(2*float64(c.CenterUS-c.MinUS)/span - 1)
}

// MaxChannels is the number of outputs on the PWM controller.
const MaxChannels = 16
