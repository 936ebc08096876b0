//go:build rp2040

// Bridge firmware for an RP2040 that owns the servo controller and the
// panel. The host speaks the framed protocol over USB CDC; each command
// is executed against the local buses and answered with an ack or nack.
package main

import (
	"machine"
	"time"

	"tinygo.org/x/drivers/pca9685"
	"tinygo.org/x/drivers/st7789"

	"github.com/anotherjesse/kibo/protocol"
)

const (
	pcaAddr = 0x40

	panelWidth  = 240
	panelHeight = 320
)

var (
	servos  pca9685.Device
	display st7789.Device

	dec protocol.Decoder

	// Scratch buffer for RGB565 byte conversion, sized for the largest
	// region one frame can carry.
	pixBytes [protocol.MaxPayload]byte
)

func main() {
	time.Sleep(500 * time.Millisecond) // let USB enumerate

	if err := machine.I2C0.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.GP0,
		SCL:       machine.GP1,
	}); err != nil {
		blinkForever()
	}
	servos = pca9685.New(machine.I2C0, pcaAddr)
	if err := servos.Configure(pca9685.PWMConfig{Period: uint64(20e6)}); err != nil {
		blinkForever()
	}

	machine.SPI0.Configure(machine.SPIConfig{
		Frequency: 62_500_000,
		SDO:       machine.GP19,
		SCK:       machine.GP18,
	})
	display = st7789.New(machine.SPI0,
		machine.GP20, // reset
		machine.GP21, // dc
		machine.GP17, // cs
		machine.GP22) // backlight
	display.Configure(st7789.Config{
		Width:    panelWidth,
		Height:   panelHeight,
		Rotation: st7789.NO_ROTATION,
	})

	buf := make([]byte, 64)
	for {
		n := readSerial(buf)
		if n == 0 {
			time.Sleep(200 * time.Microsecond)
			continue
		}
		for _, msg := range dec.Feed(buf[:n]) {
			if err := handle(msg); err != nil {
				reply(protocol.RespNack)
			} else {
				reply(protocol.RespAck)
			}
		}
	}
}

func readSerial(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n
}

func handle(msg protocol.Message) error {
	switch msg.Cmd {
	case protocol.CmdPing:
		return nil

	case protocol.CmdSetFrequency:
		hz, err := protocol.ParseSetFrequency(msg.Payload)
		if err != nil {
			return err
		}
		return servos.SetPeriod(uint64(1e9) / uint64(hz))

	case protocol.CmdSetDuty:
		ch, value, err := protocol.ParseSetDuty(msg.Payload)
		if err != nil {
			return err
		}
		return servos.Set(ch, value)

	case protocol.CmdPushRegion:
		x, y, w, h, pix, err := protocol.ParsePushRegion(msg.Payload)
		if err != nil {
			return err
		}
		// DrawRGBBitmap8 wants big-endian RGB565 bytes.
		for i, px := range pix {
			pixBytes[i*2] = byte(px >> 8)
			pixBytes[i*2+1] = byte(px)
		}
		return display.DrawRGBBitmap8(int16(x), int16(y), pixBytes[:len(pix)*2], int16(w), int16(h))

	default:
		return errUnknownCommand
	}
}

var errUnknownCommand = unknownCommandError{}

type unknownCommandError struct{}

func (unknownCommandError) Error() string { return "unknown command" }

func reply(resp uint8) {
	frame, err := protocol.EncodeFrame(resp, nil)
	if err != nil {
		return
	}
	for len(frame) > 0 {
		n, err := machine.Serial.Write(frame)
		if err != nil {
			return
		}
		frame = frame[n:]
	}
}

// blinkForever signals a fatal bring-up failure on the onboard LED.
func blinkForever() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
