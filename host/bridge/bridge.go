// Package bridge drives the PWM controller and TFT panel through a
// serial-attached bridge MCU. Every command is a framed packet that the
// bridge answers with an ack or a nack; large display pushes are split
// into row bands so each packet stays under the frame payload limit.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/anotherjesse/kibo/core"
	"github.com/anotherjesse/kibo/host/serial"
	"github.com/anotherjesse/kibo/protocol"
)

// DefaultAckTimeout bounds the wait for a bridge response per command.
const DefaultAckTimeout = 250 * time.Millisecond

// Bridge speaks the framed protocol over a serial port. It implements
// both core.PWMBus and core.DisplayBus. Commands are serialized: one
// in-flight request at a time, each awaiting its ack before the next.
type Bridge struct {
	mu      sync.Mutex
	port    serial.Port
	dec     protocol.Decoder
	timeout time.Duration
	rbuf    []byte
}

// New wraps an open serial port. The port's read timeout should be short
// relative to ackTimeout so the response poll loop can observe deadlines.
func New(port serial.Port, ackTimeout time.Duration) *Bridge {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Bridge{
		port:    port,
		timeout: ackTimeout,
		rbuf:    make([]byte, 512),
	}
}

// Open opens the named serial device and returns a bridge over it.
func Open(device string) (*Bridge, error) {
	port, err := serial.Open(serial.DefaultConfig(device))
	if err != nil {
		return nil, err
	}
	return New(port, DefaultAckTimeout), nil
}

// Close closes the underlying port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// Ping checks that the bridge is alive and answering.
func (b *Bridge) Ping() error {
	frame, err := protocol.EncodeFrame(protocol.CmdPing, nil)
	if err != nil {
		return err
	}
	return b.roundTrip(frame)
}

// SetFrequency implements core.PWMBus.
func (b *Bridge) SetFrequency(hz uint32) error {
	frame, err := protocol.EncodeSetFrequency(hz)
	if err != nil {
		return err
	}
	return b.roundTrip(frame)
}

// SetDutyCycle implements core.PWMBus.
func (b *Bridge) SetDutyCycle(channel uint8, value uint32) error {
	frame, err := protocol.EncodeSetDuty(channel, value)
	if err != nil {
		return err
	}
	return b.roundTrip(frame)
}

// PushRegion implements core.DisplayBus. Regions too large for one frame
// are sent as consecutive row bands; the panel sees the same pixels, just
// across several packets.
func (b *Bridge) PushRegion(x, y, w, h int, pix []uint16) error {
	if len(pix) != w*h {
		return fmt.Errorf("region %dx%d has %d pixels, expected %d", w, h, len(pix), w*h)
	}
	if w <= 0 || h <= 0 {
		return nil
	}

	rowBytes := w * 2
	rowsPerBand := (protocol.MaxPayload - protocol.RegionHeaderLen) / rowBytes
	if rowsPerBand < 1 {
		return fmt.Errorf("region width %d exceeds a single frame", w)
	}

	for row := 0; row < h; row += rowsPerBand {
		band := rowsPerBand
		if row+band > h {
			band = h - row
		}
		frame, err := protocol.EncodePushRegion(x, y+row, w, band, pix[row*w:(row+band)*w])
		if err != nil {
			return err
		}
		if err := b.roundTrip(frame); err != nil {
			return fmt.Errorf("band at row %d: %w", row, err)
		}
	}
	return nil
}

// roundTrip sends one frame and waits for the bridge's response.
func (b *Bridge) roundTrip(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write(frame); err != nil {
		return fmt.Errorf("%w: write: %v", core.ErrBusTimeout, err)
	}
	return b.awaitResponse()
}

func (b *Bridge) awaitResponse() error {
	deadline := time.Now().Add(b.timeout)
	for {
		n, err := b.port.Read(b.rbuf)
		if n > 0 {
			for _, msg := range b.dec.Feed(b.rbuf[:n]) {
				switch msg.Cmd {
				case protocol.RespAck:
					return nil
				case protocol.RespNack:
					return core.ErrBusNack
				}
				// Anything else is stray chatter; keep waiting.
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: read: %v", core.ErrBusTimeout, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no response within %v", core.ErrBusTimeout, b.timeout)
		}
	}
}
