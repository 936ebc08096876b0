package core

import "errors"

// Bus error sentinels. Hardware bindings wrap these so the scheduler can
// classify a failed push without knowing which bus produced it.
var (
	// ErrBusTimeout reports that a bus transaction did not complete in
	// time. Transient: the tick is skipped and retried next cadence.
	ErrBusTimeout = errors.New("bus timeout")

	// ErrBusNack reports that the device did not acknowledge a transfer.
	// Transient, same handling as a timeout.
	ErrBusNack = errors.New("bus nack")

	// ErrQueueFull reports that the device worker's queue was full when
	// an update was submitted. Counted like any other transient error.
	ErrQueueFull = errors.New("device queue full")

	// ErrDeviceUnavailable reports that the configured number of
	// consecutive transient errors was reached. Fatal: the scheduler
	// halts rather than computing motion nobody can observe.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrClipNotFound reports a playback request for a clip that is not
	// in the catalog. The request is rejected; playback is unaffected.
	ErrClipNotFound = errors.New("clip not found")
)

// IsTransient reports whether err is a recoverable single-tick bus failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusTimeout) || errors.Is(err, ErrBusNack) || errors.Is(err, ErrQueueFull)
}

// PWMBus is the boundary to the servo controller. Implementations live in
// targets/ and host/bridge; the core only consumes these two capabilities.
type PWMBus interface {
	// SetFrequency sets the PWM frequency for all channels.
	SetFrequency(hz uint32) error

	// SetDutyCycle sets one channel's duty value on the controller's
	// resolution scale (0..resolution-1).
	SetDutyCycle(channel uint8, value uint32) error
}

// DisplayBus is the boundary to the TFT panel.
type DisplayBus interface {
	// PushRegion writes a dense row-major RGB565 buffer to the given
	// rectangle. A full-frame push covers the whole panel.
	PushRegion(x, y, w, h int, pix []uint16) error
}

// Outputs bundles the two device buses behind one adapter value. It is
// passed explicitly into whatever owns the hardware; there is no ambient
// global bus state.
type Outputs struct {
	PWM     PWMBus
	Display DisplayBus
}

// ChannelDuty is one encoded servo update.
type ChannelDuty struct {
	Channel uint8
	Duty    uint32
}

// FrameUpdate is one display update: a region and its pixels.
type FrameUpdate struct {
	Region Region
	Pix    []uint16
}

// Update is the hardware work produced by a single scheduler tick.
type Update struct {
	Duties []ChannelDuty
	Frame  *FrameUpdate
}

// Sink receives per-tick updates. DirectSink applies them synchronously;
// DeviceWorker queues them to a goroutine so the scheduler never blocks on
// device I/O.
type Sink interface {
	Push(u Update) error
}

// DirectSink applies updates to the buses on the calling goroutine. Fine
// for simulators and TinyGo targets where bus latency is bounded.
type DirectSink struct {
	Outputs Outputs
}

// Push writes the duty cycles and the frame (if any) to the hardware.
func (s *DirectSink) Push(u Update) error {
	for _, d := range u.Duties {
		if err := s.Outputs.PWM.SetDutyCycle(d.Channel, d.Duty); err != nil {
			return err
		}
	}
	if u.Frame != nil {
		r := u.Frame.Region
		if err := s.Outputs.Display.PushRegion(r.X, r.Y, r.W, r.H, u.Frame.Pix); err != nil {
			return err
		}
	}
	return nil
}
