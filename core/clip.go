package core

import (
	"fmt"
	"time"
)

// FrameImage is pixel content for the display: either a full frame or a
// patch positioned at (X, Y). Pixels are row-major RGB565.
type FrameImage struct {
	X, Y int
	W, H int
	Pix  []uint16
}

// DisplayFrame pairs a time offset within a clip with the pixel content to
// show from that moment on.
type DisplayFrame struct {
	At    time.Duration
	Image *FrameImage
}

// Clip is one named expression: a bundle of per-channel motion tracks plus
// a timestamped sequence of display frames. Clips are immutable once the
// catalog is built and may be read from any goroutine; playback cursors
// live in the scheduler, never in the clip.
type Clip struct {
	Name string

	// Duration bounds playback. Ignored when Loop is set.
	Duration time.Duration

	// Loop marks the clip as repeating until an external request
	// replaces it.
	Loop bool

	// Tracks maps channel index to its motion curve. Every referenced
	// channel has exactly one track.
	Tracks map[uint8]*MotionTrack

	// Frames is the display sequence, timestamps non-decreasing.
	Frames []DisplayFrame
}

// Validate checks the clip invariants against the configured channel set.
func (c *Clip) Validate(channels map[uint8]Channel) error {
	if c.Name == "" {
		return fmt.Errorf("clip with empty name")
	}
	if !c.Loop && c.Duration <= 0 {
		return fmt.Errorf("clip %q: non-looping clip must have positive duration", c.Name)
	}
	if c.Loop && len(c.Frames) > 0 && c.Duration <= 0 {
		return fmt.Errorf("clip %q: looping clip with display frames must declare a period", c.Name)
	}
	if len(c.Tracks) == 0 && len(c.Frames) == 0 {
		return fmt.Errorf("clip %q: no tracks and no frames", c.Name)
	}
	for ch, track := range c.Tracks {
		if _, ok := channels[ch]; !ok {
			return fmt.Errorf("clip %q: track references unconfigured channel %d", c.Name, ch)
		}
		if track.Channel != ch {
			return fmt.Errorf("clip %q: track keyed as channel %d but labeled %d", c.Name, ch, track.Channel)
		}
		if err := track.Validate(); err != nil {
			return fmt.Errorf("clip %q: %w", c.Name, err)
		}
		if !c.Loop && track.Span() > c.Duration {
			return fmt.Errorf("clip %q: track on channel %d spans %v, longer than clip duration %v",
				c.Name, ch, track.Span(), c.Duration)
		}
	}
	for i := 1; i < len(c.Frames); i++ {
		if c.Frames[i].At < c.Frames[i-1].At {
			return fmt.Errorf("clip %q: frame %d at %v before frame %d at %v",
				c.Name, i, c.Frames[i].At, i-1, c.Frames[i-1].At)
		}
	}
	for i, f := range c.Frames {
		if f.Image == nil {
			return fmt.Errorf("clip %q: frame %d has no image", c.Name, i)
		}
		if !c.Loop && f.At > c.Duration {
			return fmt.Errorf("clip %q: frame %d at %v past clip duration %v", c.Name, i, f.At, c.Duration)
		}
	}
	return nil
}

// FrameCursor walks a clip's display frames as elapsed time advances. It is
// the event-crossing half of playback: unlike motion tracks, which are
// sampled continuously, frames are emitted exactly once when their
// timestamp is crossed. If several timestamps were crossed between two
// calls only the most recent frame is returned; intermediate frames carry
// stale visual state and are dropped.
type FrameCursor struct {
	clip *Clip
	next int

	// lap counts completed playthroughs of a looping clip so wrap-around
	// is detected even when a whole cycle passes between calls.
	lap int64
}

// NewFrameCursor returns a cursor positioned at the start of clip.
func NewFrameCursor(clip *Clip) *FrameCursor {
	return &FrameCursor{clip: clip}
}

// Rewind resets the cursor to the start of the clip.
func (fc *FrameCursor) Rewind() {
	fc.next = 0
	fc.lap = 0
}

// Advance returns the most recent frame whose timestamp has been crossed
// since the previous call, or nil if none was. Calling it again with the
// same elapsed time returns nil: each frame is emitted once per
// playthrough.
func (fc *FrameCursor) Advance(elapsed time.Duration) *FrameImage {
	frames := fc.clip.Frames
	if len(frames) == 0 {
		return nil
	}

	if fc.clip.Loop {
		span := fc.loopSpan()
		if span > 0 {
			lap := int64(elapsed / span)
			if lap > fc.lap {
				// Crossed the loop boundary: everything from the
				// previous lap is stale, restart the walk.
				fc.lap = lap
				fc.next = 0
			}
			elapsed = elapsed % span
		}
	}

	emit := -1
	for fc.next < len(frames) && frames[fc.next].At <= elapsed {
		emit = fc.next
		fc.next++
	}
	if emit < 0 {
		return nil
	}
	return frames[emit].Image
}

// loopSpan is the wrap period for a looping clip: its declared duration if
// set, else the offset just past the last frame.
func (fc *FrameCursor) loopSpan() time.Duration {
	if fc.clip.Duration > 0 {
		return fc.clip.Duration
	}
	return fc.clip.Frames[len(fc.clip.Frames)-1].At + time.Millisecond
}
