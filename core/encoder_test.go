package core

import (
	"math"
	"testing"
)

func TestEncodeReferenceScenario(t *testing.T) {
	// Channel 0 calibrated to [1000us, 2000us], 50Hz (20000us period),
	// 12-bit resolution.
	ch := Channel{Index: 0, MinUS: 1000, MaxUS: 2000, CenterUS: 1500}
	enc := Encoder{FrequencyHz: 50, Resolution: 4096}

	testCases := []struct {
		pos      Position
		expected uint32
	}{
		{0.0, 307},  // 1500us
		{1.0, 410},  // 2000us
		{-1.0, 205}, // 1000us
		{2.0, 410},  // clamped to +1
		{-3.0, 205}, // clamped to -1
	}

	for _, tc := range testCases {
		got := enc.Encode(tc.pos, ch)
		if got != tc.expected {
			t.Errorf("Encode(%v) = %d, expected %d", tc.pos, got, tc.expected)
		}
	}
}

func TestEncodeNeverExceedsResolution(t *testing.T) {
	// A calibration near the full period must still stay below the
	// resolution ceiling.
	ch := Channel{Index: 0, MinUS: 1, MaxUS: 19999, CenterUS: 10000}
	enc := Encoder{FrequencyHz: 50, Resolution: 4096}

	if got := enc.Encode(1.0, ch); got > 4095 {
		t.Errorf("Encode(1.0) = %d, exceeds resolution-1", got)
	}
	if got := enc.Encode(-1.0, ch); got > 4095 {
		t.Errorf("Encode(-1.0) = %d, exceeds resolution-1", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ch := Channel{Index: 0, MinUS: 1000, MaxUS: 2000, CenterUS: 1500}
	enc := Encoder{FrequencyHz: 50, Resolution: 4096}

	// One duty step is period/resolution microseconds, which maps back to
	// this much normalized position.
	step := 2 * (1e6 / 50 / 4096) / float64(ch.MaxUS-ch.MinUS)

	for p := -1.0; p <= 1.0; p += 0.01 {
		duty := enc.Encode(Position(p), ch)
		back := enc.Decode(duty, ch)
		if math.Abs(float64(back)-p) > step {
			t.Errorf("round trip of %v: duty %d decoded to %v, off by more than one step (%v)",
				p, duty, back, step)
		}
	}
}

func TestChannelValidate(t *testing.T) {
	testCases := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"valid", Channel{Index: 0, MinUS: 1000, MaxUS: 2000, CenterUS: 1500}, false},
		{"off-center valid", Channel{Index: 3, MinUS: 500, MaxUS: 2500, CenterUS: 1100}, false},
		{"degenerate range", Channel{Index: 1, MinUS: 1500, MaxUS: 1500, CenterUS: 1500}, true},
		{"inverted range", Channel{Index: 1, MinUS: 2000, MaxUS: 1000, CenterUS: 1500}, true},
		{"center below min", Channel{Index: 2, MinUS: 1000, MaxUS: 2000, CenterUS: 900}, true},
		{"center above max", Channel{Index: 2, MinUS: 1000, MaxUS: 2000, CenterUS: 2100}, true},
		{"index out of range", Channel{Index: 16, MinUS: 1000, MaxUS: 2000, CenterUS: 1500}, true},
	}

	for _, tc := range testCases {
		err := tc.ch.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected calibration error, got none", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
	}
}

func TestChannelNeutral(t *testing.T) {
	testCases := []struct {
		ch       Channel
		expected float64
	}{
		{Channel{MinUS: 1000, MaxUS: 2000, CenterUS: 1500}, 0.0},
		{Channel{MinUS: 1000, MaxUS: 2000, CenterUS: 1000}, -1.0},
		{Channel{MinUS: 1000, MaxUS: 2000, CenterUS: 2000}, 1.0},
		// Center need not be the midpoint (the nod joint rests at 60 of
		// 0-180 degrees).
		{Channel{MinUS: 500, MaxUS: 2500, CenterUS: 1166}, -0.334},
	}

	for _, tc := range testCases {
		got := float64(tc.ch.Neutral())
		if math.Abs(got-tc.expected) > 1e-9 {
			t.Errorf("Neutral() for center %dus = %v, expected %v", tc.ch.CenterUS, got, tc.expected)
		}
	}
}

func TestNeutralEncodesToCenterPulse(t *testing.T) {
	enc := Encoder{FrequencyHz: 50, Resolution: 4096}
	ch := Channel{MinUS: 1000, MaxUS: 2000, CenterUS: 1500}

	if got := enc.Encode(ch.Neutral(), ch); got != 307 {
		t.Errorf("Encode(Neutral()) = %d, expected 307 (1500us at 50Hz/4096)", got)
	}
}
