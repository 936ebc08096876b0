package core

import "fmt"

// Region is a rectangle on the display panel.
type Region struct {
	X, Y int
	W, H int
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// union returns the smallest region covering both r and o.
func (r Region) union(o Region) Region {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x0, y0 := r.X, r.Y
	if o.X < x0 {
		x0 = o.X
	}
	if o.Y < y0 {
		y0 = o.Y
	}
	x1, y1 := r.X+r.W, r.Y+r.H
	if o.X+o.W > x1 {
		x1 = o.X + o.W
	}
	if o.Y+o.H > y1 {
		y1 = o.Y + o.H
	}
	return Region{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// FrameBuffer holds the current panel image and tracks which rectangle has
// changed since the last flush, so partial updates push only the dirty
// region over the bus.
type FrameBuffer struct {
	w, h  int
	pix   []uint16
	dirty Region
}

// NewFrameBuffer returns a zeroed buffer for a w x h panel.
func NewFrameBuffer(w, h int) *FrameBuffer {
	return &FrameBuffer{
		w:   w,
		h:   h,
		pix: make([]uint16, w*h),
	}
}

// Size returns the panel dimensions.
func (fb *FrameBuffer) Size() (w, h int) {
	return fb.w, fb.h
}

// Apply copies img into the buffer at its offset and grows the dirty
// region to cover it.
func (fb *FrameBuffer) Apply(img *FrameImage) error {
	if img.X < 0 || img.Y < 0 || img.X+img.W > fb.w || img.Y+img.H > fb.h {
		return fmt.Errorf("frame region %dx%d at (%d,%d) outside %dx%d panel",
			img.W, img.H, img.X, img.Y, fb.w, fb.h)
	}
	if len(img.Pix) != img.W*img.H {
		return fmt.Errorf("frame region %dx%d has %d pixels, want %d",
			img.W, img.H, len(img.Pix), img.W*img.H)
	}
	for row := 0; row < img.H; row++ {
		dst := (img.Y+row)*fb.w + img.X
		src := row * img.W
		copy(fb.pix[dst:dst+img.W], img.Pix[src:src+img.W])
	}
	fb.dirty = fb.dirty.union(Region{X: img.X, Y: img.Y, W: img.W, H: img.H})
	return nil
}

// Flush returns the dirty region and a dense copy of its pixels, then
// marks the buffer clean. ok is false when nothing changed since the
// previous flush.
func (fb *FrameBuffer) Flush() (r Region, pix []uint16, ok bool) {
	if fb.dirty.Empty() {
		return Region{}, nil, false
	}
	r = fb.dirty
	pix = make([]uint16, r.W*r.H)
	for row := 0; row < r.H; row++ {
		src := (r.Y+row)*fb.w + r.X
		copy(pix[row*r.W:(row+1)*r.W], fb.pix[src:src+r.W])
	}
	fb.dirty = Region{}
	return r, pix, true
}
