package core

import (
	"fmt"
	"time"
)

// InterpMode selects how a MotionTrack interpolates between keyframes.
type InterpMode uint8

const (
	// InterpLinear interpolates positions at constant velocity.
	InterpLinear InterpMode = iota

	// InterpEased applies smoothstep easing per segment. Velocity is zero
	// at every keyframe boundary, so adjacent eased segments join with a
	// continuous first derivative and the servo never jerks at a key.
	InterpEased

	// InterpHold snaps to the previous keyframe's value until the next.
	InterpHold
)

func (m InterpMode) String() string {
	switch m {
	case InterpLinear:
		return "linear"
	case InterpEased:
		return "eased"
	case InterpHold:
		return "hold"
	default:
		return "INVALID"
	}
}

// Keyframe is one point on a motion curve: a time offset from clip start
// and the commanded position at that moment.
type Keyframe struct {
	At  time.Duration
	Pos Position
}

// MotionTrack is a time-parameterized position curve for a single channel.
// Sampling is a pure function of elapsed time: identical inputs always
// yield identical positions, which is what keeps multiple channels in sync.
type MotionTrack struct {
	// Channel is the servo output this track drives.
	Channel uint8

	// Mode selects the interpolation between keyframes.
	Mode InterpMode

	// Loop wraps sampling modulo the last keyframe offset instead of
	// holding the final value.
	Loop bool

	// Keys are the keyframes, offsets strictly increasing from 0.
	Keys []Keyframe
}

// Validate checks the keyframe invariants: at least one key, first at
// offset 0, offsets strictly increasing, all positions in range.
func (t *MotionTrack) Validate() error {
	if len(t.Keys) == 0 {
		return fmt.Errorf("track on channel %d has no keyframes", t.Channel)
	}
	if t.Keys[0].At != 0 {
		return fmt.Errorf("track on channel %d: first keyframe at %v, must be 0", t.Channel, t.Keys[0].At)
	}
	for i := 1; i < len(t.Keys); i++ {
		if t.Keys[i].At <= t.Keys[i-1].At {
			return fmt.Errorf("track on channel %d: keyframe %d at %v not after %v", t.Channel, i, t.Keys[i].At, t.Keys[i-1].At)
		}
	}
	for i, k := range t.Keys {
		if k.Pos < -1 || k.Pos > 1 {
			return fmt.Errorf("track on channel %d: keyframe %d position %v outside [-1, 1]", t.Channel, i, k.Pos)
		}
	}
	return nil
}

// Span returns the offset of the last keyframe.
func (t *MotionTrack) Span() time.Duration {
	if len(t.Keys) == 0 {
		return 0
	}
	return t.Keys[len(t.Keys)-1].At
}

// Sample returns the position at the given elapsed time. Before the first
// keyframe it holds the first value; past the last it holds the final value
// unless the track loops, in which case it wraps modulo the span.
func (t *MotionTrack) Sample(elapsed time.Duration) Position {
	n := len(t.Keys)
	if n == 0 {
		return 0
	}
	span := t.Keys[n-1].At
	if t.Loop && span > 0 && elapsed >= span {
		elapsed = elapsed % span
	}
	if elapsed <= t.Keys[0].At {
		return t.Keys[0].Pos
	}
	if elapsed >= span {
		return t.Keys[n-1].Pos
	}

	// Find the segment containing elapsed. Tracks are short (a handful of
	// keys), a linear scan beats a binary search here.
	i := 1
	for i < n && t.Keys[i].At < elapsed {
		i++
	}
	prev, next := t.Keys[i-1], t.Keys[i]
	if elapsed == next.At {
		return next.Pos
	}

	switch t.Mode {
	case InterpHold:
		return prev.Pos
	case InterpEased:
		u := float64(elapsed-prev.At) / float64(next.At-prev.At)
		u = u * u * (3 - 2*u)
		return prev.Pos + Position(u)*(next.Pos-prev.Pos)
	default:
		u := float64(elapsed-prev.At) / float64(next.At-prev.At)
		return prev.Pos + Position(u)*(next.Pos-prev.Pos)
	}
}
