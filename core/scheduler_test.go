package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeSink records pushed updates and fails with scripted errors.
type fakeSink struct {
	updates []Update
	errs    []error
}

func (f *fakeSink) Push(u Update) error {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeSink) last(t *testing.T) Update {
	t.Helper()
	if len(f.updates) == 0 {
		t.Fatal("no updates pushed")
	}
	return f.updates[len(f.updates)-1]
}

func constTrack(ch uint8, pos Position) *MotionTrack {
	return &MotionTrack{
		Channel: ch,
		Mode:    InterpLinear,
		Loop:    true,
		Keys: []Keyframe{
			{At: 0, Pos: pos},
			{At: 400 * time.Millisecond, Pos: pos},
		},
	}
}

func fillImage(w, h int, v uint16) *FrameImage {
	img := &FrameImage{W: w, H: h, Pix: make([]uint16, w*h)}
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func schedCatalog(t *testing.T) *Catalog {
	t.Helper()
	clips := []*Clip{
		{
			Name:     "blink",
			Duration: 300 * time.Millisecond,
			Tracks:   map[uint8]*MotionTrack{1: blinkTrack(InterpEased, false)},
		},
		{
			Name:     "droop",
			Duration: 200 * time.Millisecond,
			Tracks: map[uint8]*MotionTrack{0: {Channel: 0, Mode: InterpLinear, Keys: []Keyframe{
				{At: 0, Pos: -1},
				{At: 200 * time.Millisecond, Pos: -1},
			}}},
		},
		{
			Name:   "hold-low",
			Loop:   true,
			Tracks: map[uint8]*MotionTrack{0: constTrack(0, -1)},
		},
		{
			Name:   "hold-high",
			Loop:   true,
			Tracks: map[uint8]*MotionTrack{0: constTrack(0, 1)},
		},
		{
			Name:     "face-a",
			Loop:     true,
			Duration: 400 * time.Millisecond,
			Tracks:   map[uint8]*MotionTrack{0: constTrack(0, 0)},
			Frames:   []DisplayFrame{{At: 0, Image: fillImage(4, 4, 0xAAAA)}},
		},
		{
			Name:     "face-b",
			Loop:     true,
			Duration: 400 * time.Millisecond,
			Tracks:   map[uint8]*MotionTrack{0: constTrack(0, 0)},
			Frames:   []DisplayFrame{{At: 0, Image: fillImage(4, 4, 0xBBBB)}},
		},
	}
	cat, err := NewCatalog(testChannelList(), clips, nil)
	if err != nil {
		t.Fatalf("catalog build failed: %v", err)
	}
	return cat
}

func testConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:       20 * time.Millisecond,
		DisplayCutFraction: 0.5,
		FailThreshold:      5,
		PanelW:             240,
		PanelH:             320,
	}
}

func newTestScheduler(t *testing.T, sink Sink, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s, err := NewScheduler(schedCatalog(t), Encoder{FrequencyHz: 50, Resolution: 4096}, sink, cfg)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s
}

func mustTick(t *testing.T, s *Scheduler, dt time.Duration) {
	t.Helper()
	if err := s.Tick(dt); err != nil {
		t.Fatalf("Tick(%v) failed: %v", dt, err)
	}
}

func dutyFor(t *testing.T, u Update, ch uint8) uint32 {
	t.Helper()
	for _, d := range u.Duties {
		if d.Channel == ch {
			return d.Duty
		}
	}
	t.Fatalf("update has no duty for channel %d: %+v", ch, u.Duties)
	return 0
}

func TestRequestUnknownClip(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	err := s.Request("nope", 0)
	if !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Request(nope) = %v, expected ErrClipNotFound", err)
	}

	// Rejected request leaves playback untouched.
	mustTick(t, s, 20*time.Millisecond)
	if got := s.Status().State; got != StateIdle {
		t.Errorf("state after rejected request = %v, expected idle", got)
	}
}

func TestIdlePushesNeutralOnce(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	mustTick(t, s, 20*time.Millisecond)
	u := sink.last(t)
	if len(u.Duties) != 2 {
		t.Fatalf("idle update has %d duties, expected one per configured channel", len(u.Duties))
	}
	for _, d := range u.Duties {
		if d.Duty != 307 {
			t.Errorf("idle duty for channel %d = %d, expected neutral 307", d.Channel, d.Duty)
		}
	}

	// Idle quiesces: no further hardware traffic.
	mustTick(t, s, 20*time.Millisecond)
	mustTick(t, s, 20*time.Millisecond)
	if len(sink.updates) != 1 {
		t.Errorf("%d updates pushed while idle, expected 1", len(sink.updates))
	}
}

func TestImmediatePreemptResetsCursor(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("blink", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if got := s.Status(); got.State != StatePlaying || got.Clip != "blink" || got.Elapsed != 20*time.Millisecond {
		t.Errorf("status = %+v, expected playing blink at 20ms", got)
	}

	// A second abrupt request restarts the same clip from zero.
	if err := s.Request("blink", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if got := s.Status().Elapsed; got != 20*time.Millisecond {
		t.Errorf("elapsed after preempt = %v, expected cursor reset to 20ms", got)
	}
}

func TestBoundedClipReturnsToIdle(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("blink", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		mustTick(t, s, 100*time.Millisecond)
	}
	if got := s.Status().State; got != StateIdle {
		t.Errorf("state after clip duration = %v, expected idle", got)
	}
	// The completion tick pushed neutral for every channel.
	u := sink.last(t)
	for _, d := range u.Duties {
		if d.Duty != 307 {
			t.Errorf("post-clip duty for channel %d = %d, expected neutral 307", d.Channel, d.Duty)
		}
	}
}

func TestLoopingClipPersists(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		mustTick(t, s, 20*time.Millisecond)
	}
	if got := s.Status(); got.State != StatePlaying || got.Clip != "hold-low" {
		t.Errorf("status after 1s of looping clip = %+v, expected still playing", got)
	}
}

func TestBlendMidpointExact(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)

	if err := s.Request("hold-high", 200*time.Millisecond); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 100*time.Millisecond)

	if got := s.Status().State; got != StateTransitioning {
		t.Fatalf("state = %v, expected transitioning", got)
	}
	// At blend_elapsed=100ms of 200ms the channel sits exactly midway
	// between -1 and +1, i.e. at neutral.
	if got := dutyFor(t, sink.last(t), 0); got != 307 {
		t.Errorf("midpoint duty = %d, expected 307", got)
	}
}

func TestBlendCompletes(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if err := s.Request("hold-high", 200*time.Millisecond); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 100*time.Millisecond)
	mustTick(t, s, 100*time.Millisecond)

	if got := s.Status(); got.State != StatePlaying || got.Clip != "hold-high" {
		t.Errorf("status after blend = %+v, expected playing hold-high", got)
	}
	mustTick(t, s, 20*time.Millisecond)
	if got := dutyFor(t, sink.last(t), 0); got != 410 {
		t.Errorf("duty after blend = %d, expected full +1 (410)", got)
	}
}

func TestRequestDuringTransitionCancelsBlend(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if err := s.Request("hold-high", 200*time.Millisecond); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 100*time.Millisecond)

	// Interrupt the blend: the incoming clip so far becomes the outgoing
	// side of a fresh transition.
	if err := s.Request("blink", 100*time.Millisecond); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 50*time.Millisecond)

	if got := s.Status(); got.State != StateTransitioning || got.Clip != "blink" {
		t.Fatalf("status = %+v, expected transitioning into blink", got)
	}
	// Channel 0: from hold-high (+1) toward blink's implied neutral (no
	// track), at w=0.5: position 0.5 -> pulse 1750us -> duty 358.
	if got := dutyFor(t, sink.last(t), 0); got != 358 {
		t.Errorf("cancelled-blend duty = %d, expected 358", got)
	}
}

func TestTransientErrorThreshold(t *testing.T) {
	sink := &fakeSink{errs: []error{ErrBusTimeout, ErrBusTimeout, ErrBusTimeout, ErrBusTimeout, ErrBusTimeout}}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		mustTick(t, s, 20*time.Millisecond)
	}
	if got := s.Status(); got.ConsecutiveErrs != 4 || got.State != StatePlaying {
		t.Fatalf("status after 4 transient errors = %+v, expected still playing", got)
	}

	// Fifth consecutive error reaches the threshold.
	err := s.Tick(20 * time.Millisecond)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("fifth transient error: Tick = %v, expected ErrDeviceUnavailable", err)
	}
	if got := s.Status().State; got != StateHalted {
		t.Errorf("state = %v, expected halted", got)
	}
	if err := s.Tick(20 * time.Millisecond); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Tick after halt = %v, expected ErrDeviceUnavailable", err)
	}
}

func TestTransientErrorCounterResets(t *testing.T) {
	// Four failures, one success, one more failure: never reaches the
	// threshold of five.
	sink := &fakeSink{errs: []error{ErrBusTimeout, ErrBusTimeout, ErrBusTimeout, ErrBusTimeout, nil, ErrBusNack}}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	for i := 0; i < 6; i++ {
		mustTick(t, s, 20*time.Millisecond)
	}
	if got := s.Status(); got.State != StatePlaying || got.ConsecutiveErrs != 1 {
		t.Errorf("status = %+v, expected playing with 1 consecutive error", got)
	}
}

func TestDisplayCutsToIncomingClip(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("face-a", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if u := sink.last(t); u.Frame == nil || u.Frame.Pix[0] != 0xAAAA {
		t.Fatalf("expected face-a frame after first tick, got %+v", u.Frame)
	}

	if err := s.Request("face-b", 200*time.Millisecond); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	// Before the 50% cut point no incoming frame appears.
	mustTick(t, s, 60*time.Millisecond)
	if u := sink.last(t); u.Frame != nil {
		t.Errorf("frame pushed before display cut: %+v", u.Frame)
	}
	// Crossing the cut switches to face-b in a single step.
	mustTick(t, s, 60*time.Millisecond)
	if u := sink.last(t); u.Frame == nil || u.Frame.Pix[0] != 0xBBBB {
		t.Errorf("expected face-b frame after display cut, got %+v", u.Frame)
	}
}

func TestNeutralGlideAfterBoundedClip(t *testing.T) {
	cfg := testConfig()
	cfg.NeutralGlide = 100 * time.Millisecond
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, cfg)

	if err := s.Request("droop", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 100*time.Millisecond)
	mustTick(t, s, 100*time.Millisecond)
	if got := s.Status().State; got != StateTransitioning {
		t.Fatalf("state at clip end = %v, expected glide transition", got)
	}
	if got := dutyFor(t, sink.last(t), 0); got != 205 {
		t.Errorf("glide start duty = %d, expected still at -1 (205)", got)
	}

	mustTick(t, s, 50*time.Millisecond)
	if got := dutyFor(t, sink.last(t), 0); got != 256 {
		t.Errorf("glide midpoint duty = %d, expected halfway to neutral (256)", got)
	}

	mustTick(t, s, 50*time.Millisecond)
	if got := dutyFor(t, sink.last(t), 0); got != 307 {
		t.Errorf("glide end duty = %d, expected neutral 307", got)
	}
	if got := s.Status().State; got != StateIdle {
		t.Errorf("state after glide = %v, expected idle", got)
	}
}

func TestStopGlidesLoopingClipToIdle(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	if err := s.Request("hold-low", 0); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	mustTick(t, s, 20*time.Millisecond)
	if got := dutyFor(t, sink.last(t), 0); got != 205 {
		t.Fatalf("playing duty = %d, expected 205", got)
	}

	s.Stop(80 * time.Millisecond)
	mustTick(t, s, 20*time.Millisecond)
	if got := s.Status().State; got != StateTransitioning {
		t.Fatalf("state after stop = %v, expected transitioning", got)
	}
	// 20ms into an 80ms glide: a quarter of the way from -1 to neutral.
	if got := dutyFor(t, sink.last(t), 0); got != 230 {
		t.Errorf("glide duty = %d, expected 230", got)
	}

	mustTick(t, s, 60*time.Millisecond)
	if got := dutyFor(t, sink.last(t), 0); got != 307 {
		t.Errorf("glide end duty = %d, expected neutral 307", got)
	}
	if got := s.Status().State; got != StateIdle {
		t.Errorf("state after glide = %v, expected idle", got)
	}
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	mustTick(t, s, 20*time.Millisecond)
	before := len(sink.updates)

	s.Stop(100 * time.Millisecond)
	mustTick(t, s, 20*time.Millisecond)
	mustTick(t, s, 20*time.Millisecond)

	if got := s.Status().State; got != StateIdle {
		t.Errorf("state = %v, expected idle", got)
	}
	if len(sink.updates) != before {
		t.Errorf("stop while idle pushed %d extra updates", len(sink.updates)-before)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sink := &fakeSink{}
	s := newTestScheduler(t, sink, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, expected context deadline", err)
	}
}
