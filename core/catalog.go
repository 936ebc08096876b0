package core

import "fmt"

// Catalog is the immutable set of configured channels and expression clips.
// It is built and validated once at startup; after that it may be read from
// any goroutine without locking. The scheduler holds clip references into
// the catalog plus its own playback cursor, never a copy.
type Catalog struct {
	channels map[uint8]Channel
	clips    map[string]*Clip

	// restingFrame is shown while idle. Optional.
	restingFrame *FrameImage
}

// NewCatalog validates the channel calibrations and clips and returns the
// immutable catalog. Any invariant violation fails here, at startup, so
// playback never sees invalid data.
func NewCatalog(channels []Channel, clips []*Clip, restingFrame *FrameImage) (*Catalog, error) {
	cat := &Catalog{
		channels:     make(map[uint8]Channel, len(channels)),
		clips:        make(map[string]*Clip, len(clips)),
		restingFrame: restingFrame,
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return nil, err
		}
		if _, dup := cat.channels[ch.Index]; dup {
			return nil, fmt.Errorf("channel %d configured twice", ch.Index)
		}
		cat.channels[ch.Index] = ch
	}
	for _, clip := range clips {
		if err := clip.Validate(cat.channels); err != nil {
			return nil, err
		}
		if _, dup := cat.clips[clip.Name]; dup {
			return nil, fmt.Errorf("clip %q defined twice", clip.Name)
		}
		cat.clips[clip.Name] = clip
	}
	return cat, nil
}

// Clip looks up a clip by name.
func (c *Catalog) Clip(name string) (*Clip, bool) {
	clip, ok := c.clips[name]
	return clip, ok
}

// ClipNames returns the catalog's clip names, for status listings.
func (c *Catalog) ClipNames() []string {
	names := make([]string, 0, len(c.clips))
	for name := range c.clips {
		names = append(names, name)
	}
	return names
}

// Channel looks up a configured channel by index.
func (c *Catalog) Channel(index uint8) (Channel, bool) {
	ch, ok := c.channels[index]
	return ch, ok
}

// Channels returns the configured channel set.
func (c *Catalog) Channels() map[uint8]Channel {
	return c.channels
}

// RestingFrame returns the idle display content, or nil if none is
// configured.
func (c *Catalog) RestingFrame() *FrameImage {
	return c.restingFrame
}
