package core

import "testing"

func TestFrameBufferApplyAndFlush(t *testing.T) {
	fb := NewFrameBuffer(240, 320)

	img := &FrameImage{X: 10, Y: 20, W: 4, H: 2, Pix: []uint16{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}}
	if err := fb.Apply(img); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	r, pix, ok := fb.Flush()
	if !ok {
		t.Fatal("Flush reported nothing dirty after Apply")
	}
	if r != (Region{X: 10, Y: 20, W: 4, H: 2}) {
		t.Errorf("dirty region = %+v, expected the applied patch", r)
	}
	if len(pix) != 8 || pix[0] != 1 || pix[7] != 8 {
		t.Errorf("flushed pixels = %v, expected the patch contents", pix)
	}

	// Nothing changed since: the buffer is clean.
	if _, _, ok := fb.Flush(); ok {
		t.Error("second Flush reported dirty pixels")
	}
}

func TestFrameBufferDirtyUnion(t *testing.T) {
	fb := NewFrameBuffer(100, 100)

	if err := fb.Apply(&FrameImage{X: 0, Y: 0, W: 2, H: 2, Pix: make([]uint16, 4)}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if err := fb.Apply(&FrameImage{X: 50, Y: 60, W: 2, H: 2, Pix: make([]uint16, 4)}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	r, _, ok := fb.Flush()
	if !ok {
		t.Fatal("Flush reported nothing dirty")
	}
	expected := Region{X: 0, Y: 0, W: 52, H: 62}
	if r != expected {
		t.Errorf("dirty union = %+v, expected %+v", r, expected)
	}
}

func TestFrameBufferRejectsBadRegions(t *testing.T) {
	fb := NewFrameBuffer(240, 320)

	testCases := []struct {
		name string
		img  *FrameImage
	}{
		{"out of bounds", &FrameImage{X: 230, Y: 0, W: 20, H: 1, Pix: make([]uint16, 20)}},
		{"negative offset", &FrameImage{X: -1, Y: 0, W: 2, H: 2, Pix: make([]uint16, 4)}},
		{"pixel count mismatch", &FrameImage{X: 0, Y: 0, W: 4, H: 4, Pix: make([]uint16, 3)}},
	}

	for _, tc := range testCases {
		if err := fb.Apply(tc.img); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}

func TestFrameBufferFullFrame(t *testing.T) {
	fb := NewFrameBuffer(16, 8)
	full := &FrameImage{W: 16, H: 8, Pix: make([]uint16, 16*8)}
	full.Pix[0] = 0xF800

	if err := fb.Apply(full); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	r, pix, ok := fb.Flush()
	if !ok || r != (Region{W: 16, H: 8}) {
		t.Fatalf("full-frame flush = %+v ok=%v, expected whole panel", r, ok)
	}
	if pix[0] != 0xF800 {
		t.Errorf("pixel 0 = %04X, expected F800", pix[0])
	}
}
