// Package assets loads raw RGB565 image data for the display. An image
// file is a dense row-major dump, two big-endian bytes per pixel; a frame
// set concatenates several images of the same size behind a small count
// header, which is how blink and idle sequences ship as single files.
package assets

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/anotherjesse/kibo/core"
)

// LoadImage decodes one raw RGB565 image of the given geometry. The patch
// offset (x, y) positions it on the panel.
func LoadImage(data []byte, x, y, w, h int) (*core.FrameImage, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	expected := w * h * 2
	if len(data) != expected {
		return nil, fmt.Errorf("image data is %d bytes, expected %d for %dx%d", len(data), expected, w, h)
	}
	img := &core.FrameImage{X: x, Y: y, W: w, H: h, Pix: make([]uint16, w*h)}
	for i := range img.Pix {
		img.Pix[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return img, nil
}

// LoadFrameSet decodes a multi-frame file: a 4-byte little-endian frame
// count followed by that many raw RGB565 images, all sharing the same
// geometry.
func LoadFrameSet(data []byte, x, y, w, h int) ([]*core.FrameImage, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame set too short: %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[:4]))
	perFrame := w * h * 2
	expected := 4 + count*perFrame
	if len(data) != expected {
		return nil, fmt.Errorf("frame set is %d bytes, expected %d for %d frames of %dx%d",
			len(data), expected, count, w, h)
	}

	frames := make([]*core.FrameImage, 0, count)
	for i := 0; i < count; i++ {
		start := 4 + i*perFrame
		img, err := LoadImage(data[start:start+perFrame], x, y, w, h)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// LoadImageFile reads and decodes one raw image file.
func LoadImageFile(path string, x, y, w, h int) (*core.FrameImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	img, err := LoadImage(data, x, y, w, h)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", path, err)
	}
	return img, nil
}

// RGB565 packs 8-bit color components into the panel's pixel format.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r&0xF8)<<8 | uint16(g&0xFC)<<3 | uint16(b)>>3
}

// Fill returns a solid-color patch, useful as a resting frame when no
// artwork is configured.
func Fill(x, y, w, h int, pixel uint16) *core.FrameImage {
	img := &core.FrameImage{X: x, Y: y, W: w, H: h, Pix: make([]uint16, w*h)}
	for i := range img.Pix {
		img.Pix[i] = pixel
	}
	return img
}
