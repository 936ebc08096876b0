// Package sim provides a no-hardware output target. Every bus call
// succeeds and is logged, which is enough to exercise clips, blending
// and the device worker on a development machine.
package sim

import (
	"log"
	"sync"

	"github.com/anotherjesse/kibo/core"
)

// PWM is an in-memory PWM controller.
type PWM struct {
	mu     sync.Mutex
	freq   uint32
	duties [core.MaxChannels]uint32
	quiet  bool
}

// Display is an in-memory display that tracks push statistics.
type Display struct {
	mu     sync.Mutex
	pushes int
	pixels int
	quiet  bool
}

// New returns simulated outputs. With verbose set, every bus call is
// logged.
func New(verbose bool) (*core.Outputs, *PWM, *Display) {
	pwm := &PWM{quiet: !verbose}
	disp := &Display{quiet: !verbose}
	return &core.Outputs{PWM: pwm, Display: disp}, pwm, disp
}

func (p *PWM) SetFrequency(hz uint32) error {
	p.mu.Lock()
	p.freq = hz
	p.mu.Unlock()
	if !p.quiet {
		log.Printf("sim: pwm frequency %d Hz", hz)
	}
	return nil
}

func (p *PWM) SetDutyCycle(channel uint8, value uint32) error {
	if int(channel) < len(p.duties) {
		p.mu.Lock()
		p.duties[channel] = value
		p.mu.Unlock()
	}
	if !p.quiet {
		log.Printf("sim: channel %d duty %d", channel, value)
	}
	return nil
}

// Duty returns the last value written to a channel.
func (p *PWM) Duty(channel uint8) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(channel) >= len(p.duties) {
		return 0
	}
	return p.duties[channel]
}

func (d *Display) PushRegion(x, y, w, h int, pix []uint16) error {
	d.mu.Lock()
	d.pushes++
	d.pixels += len(pix)
	d.mu.Unlock()
	if !d.quiet {
		log.Printf("sim: display region (%d,%d) %dx%d, %d px", x, y, w, h, len(pix))
	}
	return nil
}

// Stats returns the number of regions and total pixels pushed so far.
func (d *Display) Stats() (pushes, pixels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushes, d.pixels
}
