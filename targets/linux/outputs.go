//go:build linux

// Package linux drives the servo HAT and the TFT panel directly from a
// single-board computer: the PCA9685 over I2C via periph.io's device
// driver, and an ST7789-class panel over SPI with a small command layer
// of our own.
package linux

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"github.com/anotherjesse/kibo/core"
)

// Config names the hardware attachment points.
type Config struct {
	I2CBus  string // e.g. "/dev/i2c-1" or "1"
	I2CAddr uint16 // PCA9685 address, usually 0x40
	SPIDev  string // e.g. "/dev/spidev0.0"
	DCPin   string // data/command GPIO name
	RSTPin  string // reset GPIO name
	Width   int
	Height  int
}

// Open initializes periph, the servo controller and the panel, and
// returns the combined outputs with a close function.
func Open(cfg Config) (*core.Outputs, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("periph init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, fmt.Errorf("i2c bus %s: %w", cfg.I2CBus, err)
	}
	pwmDev, err := pca9685.NewI2C(bus, cfg.I2CAddr)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("pca9685 at %#x: %w", cfg.I2CAddr, err)
	}

	disp, err := openPanel(cfg)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	outputs := &core.Outputs{
		PWM:     &servoHAT{dev: pwmDev},
		Display: disp,
	}
	closeAll := func() error {
		err := disp.close()
		if berr := bus.Close(); err == nil {
			err = berr
		}
		return err
	}
	return outputs, closeAll, nil
}

// servoHAT adapts the periph PCA9685 driver to core.PWMBus.
type servoHAT struct {
	dev *pca9685.Dev
}

func (s *servoHAT) SetFrequency(hz uint32) error {
	if err := s.dev.SetPwmFreq(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("%w: set frequency: %v", core.ErrBusNack, err)
	}
	return nil
}

func (s *servoHAT) SetDutyCycle(channel uint8, value uint32) error {
	if err := s.dev.SetPwm(int(channel), 0, gpio.Duty(value)); err != nil {
		return fmt.Errorf("%w: channel %d: %v", core.ErrBusNack, channel, err)
	}
	return nil
}

// ST7789 command set, the subset the panel path needs.
const (
	cmdSWRESET = 0x01
	cmdSLPOUT  = 0x11
	cmdNORON   = 0x13
	cmdINVON   = 0x21
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A
	cmdRASET   = 0x2B
	cmdRAMWR   = 0x2C
	cmdMADCTL  = 0x36
	cmdCOLMOD  = 0x3A
)

// spiChunk keeps each SPI transfer under the kernel's default spidev
// buffer size.
const spiChunk = 4096

// panel is an ST7789-class TFT over SPI implementing core.DisplayBus.
type panel struct {
	port spi.PortCloser
	conn spi.Conn
	dc   gpio.PinOut
	rst  gpio.PinOut
}

func openPanel(cfg Config) (*panel, error) {
	port, err := spireg.Open(cfg.SPIDev)
	if err != nil {
		return nil, fmt.Errorf("spi %s: %w", cfg.SPIDev, err)
	}
	conn, err := port.Connect(40*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("spi connect: %w", err)
	}

	dc := gpioreg.ByName(cfg.DCPin)
	if dc == nil {
		port.Close()
		return nil, fmt.Errorf("gpio %q not found", cfg.DCPin)
	}
	rst := gpioreg.ByName(cfg.RSTPin)
	if rst == nil {
		port.Close()
		return nil, fmt.Errorf("gpio %q not found", cfg.RSTPin)
	}

	p := &panel{port: port, conn: conn, dc: dc, rst: rst}
	if err := p.init(); err != nil {
		port.Close()
		return nil, err
	}
	return p, nil
}

func (p *panel) init() error {
	if err := p.rst.Out(gpio.Low); err != nil {
		return fmt.Errorf("panel reset: %w", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := p.rst.Out(gpio.High); err != nil {
		return fmt.Errorf("panel reset: %w", err)
	}
	time.Sleep(150 * time.Millisecond)

	steps := []struct {
		cmd   byte
		data  []byte
		delay time.Duration
	}{
		{cmdSWRESET, nil, 150 * time.Millisecond},
		{cmdSLPOUT, nil, 120 * time.Millisecond},
		{cmdCOLMOD, []byte{0x55}, 0}, // 16-bit RGB565
		{cmdMADCTL, []byte{0x00}, 0},
		{cmdINVON, nil, 0},
		{cmdNORON, nil, 10 * time.Millisecond},
		{cmdDISPON, nil, 100 * time.Millisecond},
	}
	for _, s := range steps {
		if err := p.command(s.cmd, s.data...); err != nil {
			return err
		}
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}
	return nil
}

func (p *panel) command(cmd byte, data ...byte) error {
	if err := p.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := p.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("%w: panel cmd %#x: %v", core.ErrBusTimeout, cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	return p.data(data)
}

func (p *panel) data(b []byte) error {
	if err := p.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(b) > 0 {
		n := len(b)
		if n > spiChunk {
			n = spiChunk
		}
		if err := p.conn.Tx(b[:n], nil); err != nil {
			return fmt.Errorf("%w: panel data: %v", core.ErrBusTimeout, err)
		}
		b = b[n:]
	}
	return nil
}

// PushRegion implements core.DisplayBus: set the address window, then
// stream big-endian RGB565 pixels into panel RAM.
func (p *panel) PushRegion(x, y, w, h int, pix []uint16) error {
	if len(pix) != w*h {
		return fmt.Errorf("region %dx%d has %d pixels, expected %d", w, h, len(pix), w*h)
	}
	x1, y1 := x+w-1, y+h-1
	if err := p.command(cmdCASET, byte(x>>8), byte(x), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := p.command(cmdRASET, byte(y>>8), byte(y), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	if err := p.command(cmdRAMWR); err != nil {
		return err
	}

	buf := make([]byte, len(pix)*2)
	for i, px := range pix {
		buf[i*2] = byte(px >> 8)
		buf[i*2+1] = byte(px)
	}
	return p.data(buf)
}

func (p *panel) close() error {
	return p.port.Close()
}
