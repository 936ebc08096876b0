// Package protocol implements the framed wire format spoken between the
// host and a bridge MCU that owns the PWM controller and the TFT panel.
//
// Frame layout:
//
//	[sync] [len lo] [len hi] [cmd] [payload...] [crc lo] [crc hi]
//
// len counts cmd plus payload; the CRC covers the same bytes. Integers in
// payloads are little-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sync marks the start of a frame.
const Sync = 0x7E

// MaxPayload bounds a single frame's payload. Display pushes larger than
// this are chunked by the sender.
const MaxPayload = 4096

// Host-to-bridge commands.
const (
	CmdPing         = 0x01
	CmdSetFrequency = 0x02
	CmdSetDuty      = 0x03
	CmdPushRegion   = 0x04
)

// Bridge-to-host responses.
const (
	RespAck  = 0x80
	RespNack = 0x81
)

// Message is one decoded frame.
type Message struct {
	Cmd     uint8
	Payload []byte
}

// EncodeFrame wraps cmd and payload in a framed, checksummed packet.
func EncodeFrame(cmd uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("payload %d bytes exceeds maximum %d", len(payload), MaxPayload)
	}
	n := 1 + len(payload)
	frame := make([]byte, 0, 3+n+2)
	frame = append(frame, Sync, byte(n), byte(n>>8), cmd)
	frame = append(frame, payload...)
	crc := CRC16(frame[3 : 3+n])
	frame = append(frame, byte(crc), byte(crc>>8))
	return frame, nil
}

// EncodeSetFrequency builds the PWM frequency command.
func EncodeSetFrequency(hz uint32) ([]byte, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, hz)
	return EncodeFrame(CmdSetFrequency, payload)
}

// EncodeSetDuty builds a single-channel duty command.
func EncodeSetDuty(channel uint8, value uint32) ([]byte, error) {
	payload := make([]byte, 5)
	payload[0] = channel
	binary.LittleEndian.PutUint32(payload[1:], value)
	return EncodeFrame(CmdSetDuty, payload)
}

// RegionHeaderLen is the fixed prefix of a push-region payload.
const RegionHeaderLen = 8

// EncodePushRegion builds one display push for a region small enough to
// fit a single frame. Pixels are row-major RGB565.
func EncodePushRegion(x, y, w, h int, pix []uint16) ([]byte, error) {
	if len(pix) != w*h {
		return nil, fmt.Errorf("region %dx%d has %d pixels, expected %d", w, h, len(pix), w*h)
	}
	payload := make([]byte, RegionHeaderLen+len(pix)*2)
	binary.LittleEndian.PutUint16(payload[0:], uint16(x))
	binary.LittleEndian.PutUint16(payload[2:], uint16(y))
	binary.LittleEndian.PutUint16(payload[4:], uint16(w))
	binary.LittleEndian.PutUint16(payload[6:], uint16(h))
	for i, p := range pix {
		binary.LittleEndian.PutUint16(payload[RegionHeaderLen+i*2:], p)
	}
	return EncodeFrame(CmdPushRegion, payload)
}

// ParseSetDuty unpacks a duty command payload.
func ParseSetDuty(payload []byte) (channel uint8, value uint32, err error) {
	if len(payload) != 5 {
		return 0, 0, fmt.Errorf("set_duty payload is %d bytes, expected 5", len(payload))
	}
	return payload[0], binary.LittleEndian.Uint32(payload[1:]), nil
}

// ParseSetFrequency unpacks a frequency command payload.
func ParseSetFrequency(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("set_frequency payload is %d bytes, expected 4", len(payload))
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// ParsePushRegion unpacks a display push payload.
func ParsePushRegion(payload []byte) (x, y, w, h int, pix []uint16, err error) {
	if len(payload) < RegionHeaderLen {
		return 0, 0, 0, 0, nil, fmt.Errorf("push_region payload is %d bytes, expected at least %d",
			len(payload), RegionHeaderLen)
	}
	x = int(binary.LittleEndian.Uint16(payload[0:]))
	y = int(binary.LittleEndian.Uint16(payload[2:]))
	w = int(binary.LittleEndian.Uint16(payload[4:]))
	h = int(binary.LittleEndian.Uint16(payload[6:]))
	body := payload[RegionHeaderLen:]
	if len(body) != w*h*2 {
		return 0, 0, 0, 0, nil, fmt.Errorf("push_region body is %d bytes, expected %d for %dx%d",
			len(body), w*h*2, w, h)
	}
	pix = make([]uint16, w*h)
	for i := range pix {
		pix[i] = binary.LittleEndian.Uint16(body[i*2:])
	}
	return x, y, w, h, pix, nil
}

// Decoder reassembles frames from a byte stream. Garbage between frames
// and frames with bad checksums are skipped; the stream resynchronizes on
// the next sync byte.
type Decoder struct {
	buf []byte
}

// Feed appends stream bytes and returns every complete, valid message
// they finish.
func (d *Decoder) Feed(p []byte) []Message {
	d.buf = append(d.buf, p...)

	var msgs []Message
	for {
		// Drop leading garbage up to the next sync byte.
		start := 0
		for start < len(d.buf) && d.buf[start] != Sync {
			start++
		}
		d.buf = d.buf[start:]

		if len(d.buf) < 3 {
			return msgs
		}
		n := int(d.buf[1]) | int(d.buf[2])<<8
		if n < 1 || n > MaxPayload+1 {
			// Bogus length: this sync byte was payload data.
			d.buf = d.buf[1:]
			continue
		}
		total := 3 + n + 2
		if len(d.buf) < total {
			return msgs
		}

		body := d.buf[3 : 3+n]
		crc := uint16(d.buf[3+n]) | uint16(d.buf[3+n+1])<<8
		if CRC16(body) != crc {
			d.buf = d.buf[1:]
			continue
		}

		msg := Message{Cmd: body[0], Payload: append([]byte(nil), body[1:]...)}
		msgs = append(msgs, msg)
		d.buf = append([]byte(nil), d.buf[total:]...)
	}
}
