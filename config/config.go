// Package config loads and validates the controller configuration: the
// servo calibration table, the expression clip catalog and the playback
// tuning parameters. Configuration is parsed once at startup; anything
// invalid fails here, before the hardware is touched.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/anotherjesse/kibo/core"
)

// Config is the top-level configuration document.
type Config struct {
	// TickHz is the scheduler cadence. 50Hz sits comfortably above servo
	// mechanical bandwidth and below bus throughput.
	TickHz int `json:"tick_hz"`

	PWM     PWMConfig     `json:"pwm"`
	Display DisplayConfig `json:"display"`

	// FailThreshold is the number of consecutive transient bus errors
	// that declares the device unavailable.
	FailThreshold int `json:"fail_threshold"`

	// QueueDepth bounds the device worker's update queue.
	QueueDepth int `json:"queue_depth"`

	// DefaultBlendMs is the crossfade used when a request does not name
	// its own blend duration.
	DefaultBlendMs int `json:"default_blend_ms"`

	// DisplayCutFraction is the point within a blend at which display
	// content switches to the incoming clip.
	DisplayCutFraction float64 `json:"display_cut_fraction"`

	// NeutralGlideMs is how long servos ease back to center after a
	// bounded clip finishes.
	NeutralGlideMs int `json:"neutral_glide_ms"`

	// AssetDir is where raw image files referenced by Images live.
	AssetDir string `json:"asset_dir"`

	// RestingImage names the image shown while idle. Optional.
	RestingImage string `json:"resting_image"`

	Channels []ChannelConfig `json:"channels"`
	Images   []ImageConfig   `json:"images"`
	Clips    []ClipConfig    `json:"clips"`
}

// PWMConfig describes the servo controller.
type PWMConfig struct {
	FrequencyHz uint32 `json:"frequency_hz"`
	Resolution  uint32 `json:"resolution"`

	// I2CBus and I2CAddr locate the controller for the linux target.
	I2CBus  string `json:"i2c_bus"`
	I2CAddr uint8  `json:"i2c_addr"`
}

// DisplayConfig describes the TFT panel.
type DisplayConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	// SPIDev locates the panel for the linux target.
	SPIDev string `json:"spi_dev"`
	DCPin  string `json:"dc_pin"`
	RSTPin string `json:"rst_pin"`
}

// ChannelConfig is one row of the calibration table.
type ChannelConfig struct {
	Index    uint8  `json:"index"`
	Name     string `json:"name"`
	MinUS    uint16 `json:"min_us"`
	MaxUS    uint16 `json:"max_us"`
	CenterUS uint16 `json:"center_us"`
}

// ImageConfig names a raw RGB565 image file and where its patch sits on
// the panel.
type ImageConfig struct {
	Name string `json:"name"`
	File string `json:"file"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	W    int    `json:"w"`
	H    int    `json:"h"`
}

// KeyframeConfig is one motion keyframe.
type KeyframeConfig struct {
	AtMs int     `json:"at_ms"`
	Pos  float64 `json:"pos"`
}

// TrackConfig is one channel's motion curve within a clip.
type TrackConfig struct {
	Channel uint8            `json:"channel"`
	Mode    string           `json:"mode"`
	Loop    bool             `json:"loop"`
	Keys    []KeyframeConfig `json:"keys"`
}

// FrameConfig schedules a named image within a clip.
type FrameConfig struct {
	AtMs  int    `json:"at_ms"`
	Image string `json:"image"`
}

// ClipConfig is one expression clip.
type ClipConfig struct {
	Name       string        `json:"name"`
	DurationMs int           `json:"duration_ms"`
	Loop       bool          `json:"loop"`
	Tracks     []TrackConfig `json:"tracks"`
	Frames     []FrameConfig `json:"frames"`
}

// Load parses a JSON configuration, fills in defaults and checks the
// fields the catalog build cannot see.
func Load(jsonData []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values with sensible
// defaults for the described hardware.
func applyDefaults(cfg *Config) {
	if cfg.TickHz == 0 {
		cfg.TickHz = 50
	}
	if cfg.PWM.FrequencyHz == 0 {
		cfg.PWM.FrequencyHz = 50
	}
	if cfg.PWM.Resolution == 0 {
		cfg.PWM.Resolution = 4096 // 12-bit controller
	}
	if cfg.PWM.I2CBus == "" {
		cfg.PWM.I2CBus = "/dev/i2c-1"
	}
	if cfg.PWM.I2CAddr == 0 {
		cfg.PWM.I2CAddr = 0x40
	}
	if cfg.Display.Width == 0 {
		cfg.Display.Width = 240
	}
	if cfg.Display.Height == 0 {
		cfg.Display.Height = 320
	}
	if cfg.Display.SPIDev == "" {
		cfg.Display.SPIDev = "SPI0.0"
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 5
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 4
	}
	if cfg.DefaultBlendMs == 0 {
		cfg.DefaultBlendMs = 200
	}
	if cfg.DisplayCutFraction == 0 {
		cfg.DisplayCutFraction = 0.5
	}
	if cfg.NeutralGlideMs == 0 {
		cfg.NeutralGlideMs = 400
	}
	if cfg.AssetDir == "" {
		cfg.AssetDir = "assets"
	}
}

// validate covers the config-level invariants; calibration and clip
// semantics are validated again when the core catalog is built.
func (cfg *Config) validate() error {
	if cfg.TickHz < 1 || cfg.TickHz > 1000 {
		return fmt.Errorf("tick_hz %d outside [1, 1000]", cfg.TickHz)
	}
	if cfg.DisplayCutFraction < 0 || cfg.DisplayCutFraction > 1 {
		return fmt.Errorf("display_cut_fraction %v outside [0, 1]", cfg.DisplayCutFraction)
	}
	if len(cfg.Channels) == 0 {
		return fmt.Errorf("no channels configured")
	}
	seen := make(map[string]bool)
	for _, img := range cfg.Images {
		if img.Name == "" || img.File == "" {
			return fmt.Errorf("image entry missing name or file")
		}
		if img.W <= 0 || img.H <= 0 {
			return fmt.Errorf("image %q: invalid size %dx%d", img.Name, img.W, img.H)
		}
		if seen[img.Name] {
			return fmt.Errorf("image %q defined twice", img.Name)
		}
		seen[img.Name] = true
	}
	if cfg.RestingImage != "" && !seen[cfg.RestingImage] {
		return fmt.Errorf("resting_image %q is not a configured image", cfg.RestingImage)
	}
	for _, clip := range cfg.Clips {
		for _, f := range clip.Frames {
			if !seen[f.Image] {
				return fmt.Errorf("clip %q references unknown image %q", clip.Name, f.Image)
			}
		}
	}
	return nil
}

// TickInterval returns the tick cadence as a duration.
func (cfg *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(cfg.TickHz)
}

// Encoder returns the pulse encoder for the configured PWM parameters.
func (cfg *Config) Encoder() core.Encoder {
	return core.Encoder{FrequencyHz: cfg.PWM.FrequencyHz, Resolution: cfg.PWM.Resolution}
}

// SchedulerConfig returns the playback parameters in core form.
func (cfg *Config) SchedulerConfig() core.SchedulerConfig {
	return core.SchedulerConfig{
		TickInterval:       cfg.TickInterval(),
		DisplayCutFraction: cfg.DisplayCutFraction,
		FailThreshold:      cfg.FailThreshold,
		NeutralGlide:       time.Duration(cfg.NeutralGlideMs) * time.Millisecond,
		PanelW:             cfg.Display.Width,
		PanelH:             cfg.Display.Height,
	}
}

// parseMode maps a config interpolation name to its core mode.
func parseMode(name string) (core.InterpMode, error) {
	switch name {
	case "", "linear":
		return core.InterpLinear, nil
	case "eased":
		return core.InterpEased, nil
	case "hold":
		return core.InterpHold, nil
	default:
		return 0, fmt.Errorf("unknown interpolation mode %q", name)
	}
}

// BuildCatalog converts the configuration into the immutable core catalog,
// resolving image references against the loaded image set. All remaining
// semantic validation (calibration ranges, keyframe ordering, channel
// references) happens inside core.NewCatalog.
func BuildCatalog(cfg *Config, images map[string]*core.FrameImage) (*core.Catalog, error) {
	channels := make([]core.Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		channels = append(channels, core.Channel{
			Index:    cc.Index,
			Name:     cc.Name,
			MinUS:    cc.MinUS,
			MaxUS:    cc.MaxUS,
			CenterUS: cc.CenterUS,
		})
	}

	clips := make([]*core.Clip, 0, len(cfg.Clips))
	for _, cc := range cfg.Clips {
		clip := &core.Clip{
			Name:     cc.Name,
			Duration: time.Duration(cc.DurationMs) * time.Millisecond,
			Loop:     cc.Loop,
			Tracks:   make(map[uint8]*core.MotionTrack, len(cc.Tracks)),
		}
		for _, tc := range cc.Tracks {
			mode, err := parseMode(tc.Mode)
			if err != nil {
				return nil, fmt.Errorf("clip %q, channel %d: %w", cc.Name, tc.Channel, err)
			}
			if _, dup := clip.Tracks[tc.Channel]; dup {
				return nil, fmt.Errorf("clip %q: two tracks for channel %d", cc.Name, tc.Channel)
			}
			track := &core.MotionTrack{
				Channel: tc.Channel,
				Mode:    mode,
				Loop:    tc.Loop,
				Keys:    make([]core.Keyframe, 0, len(tc.Keys)),
			}
			for _, k := range tc.Keys {
				track.Keys = append(track.Keys, core.Keyframe{
					At:  time.Duration(k.AtMs) * time.Millisecond,
					Pos: core.Position(k.Pos),
				})
			}
			clip.Tracks[tc.Channel] = track
		}
		for _, fc := range cc.Frames {
			img, ok := images[fc.Image]
			if !ok {
				return nil, fmt.Errorf("clip %q: image %q not loaded", cc.Name, fc.Image)
			}
			clip.Frames = append(clip.Frames, core.DisplayFrame{
				At:    time.Duration(fc.AtMs) * time.Millisecond,
				Image: img,
			})
		}
		clips = append(clips, clip)
	}

	var resting *core.FrameImage
	if cfg.RestingImage != "" {
		img, ok := images[cfg.RestingImage]
		if !ok {
			return nil, fmt.Errorf("resting image %q not loaded", cfg.RestingImage)
		}
		resting = img
	}

	return core.NewCatalog(channels, clips, resting)
}

// Default returns the configuration for the original robot head: four
// servos (bob, sway, ear wiggle, nod) on a 16-channel HAT at the usual
// address, with the joint limits translated from degrees to pulse widths
// (500us at 0 degrees, 2500us at 180).
func Default() *Config {
	cfg := &Config{
		Channels: []ChannelConfig{
			{Index: 0, Name: "bob", MinUS: 833, MaxUS: 1389, CenterUS: 1111},
			{Index: 1, Name: "sway", MinUS: 500, MaxUS: 2500, CenterUS: 1500},
			{Index: 2, Name: "ear", MinUS: 944, MaxUS: 2056, CenterUS: 1500},
			{Index: 3, Name: "nod", MinUS: 500, MaxUS: 2500, CenterUS: 1167},
		},
	}
	applyDefaults(cfg)
	return cfg
}
