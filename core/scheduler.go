package core

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// State is the scheduler's playback state.
type State uint8

const (
	// StateIdle: no clip playing, channels at neutral, resting frame shown.
	StateIdle State = iota

	// StatePlaying: one active clip advancing with the tick clock.
	StatePlaying

	// StateTransitioning: blending from an outgoing clip (or the rest
	// pose) into an incoming one.
	StateTransitioning

	// StateHalted: the device was declared unavailable; no further
	// hardware pushes happen.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateTransitioning:
		return "transitioning"
	case StateHalted:
		return "halted"
	default:
		return "INVALID"
	}
}

// Request asks the scheduler to start a clip. Blend 0 preempts the current
// clip abruptly; a positive Blend crossfades servo positions over that
// duration.
type Request struct {
	ClipName string
	Blend    time.Duration
}

// playback is one clip's cursor: the clip reference plus elapsed time and
// the frame-walk position. Owned exclusively by the scheduler.
type playback struct {
	clip    *Clip
	elapsed time.Duration
	cursor  *FrameCursor
}

func newPlayback(clip *Clip) *playback {
	return &playback{clip: clip, cursor: NewFrameCursor(clip)}
}

// SchedulerConfig carries the tunable playback parameters.
type SchedulerConfig struct {
	// TickInterval is the cadence of the tick loop (e.g. 20ms for 50Hz).
	TickInterval time.Duration

	// DisplayCutFraction is the point within a blend, as a fraction of
	// the blend duration, at which display content switches to the
	// incoming clip. Pixels never crossfade.
	DisplayCutFraction float64

	// FailThreshold is the number of consecutive transient push errors
	// that declares the device unavailable.
	FailThreshold int

	// NeutralGlide is how long the scheduler takes to ease the servos
	// back to center after a bounded clip completes. Zero snaps.
	NeutralGlide time.Duration

	// PanelW, PanelH are the display dimensions.
	PanelW, PanelH int
}

// Status is a point-in-time snapshot of playback, safe to read from other
// goroutines.
type Status struct {
	State           State
	Clip            string
	Elapsed         time.Duration
	ConsecutiveErrs int
}

// Scheduler coordinates which expression clip is active, advances animation
// time, and turns clip samples into hardware updates. All playback state is
// owned by the goroutine calling Tick/Run; external callers interact only
// through Request and Status.
type Scheduler struct {
	catalog *Catalog
	enc     Encoder
	sink    Sink
	cfg     SchedulerConfig

	state    State
	active   *playback // current clip; incoming side while transitioning
	outgoing *playback // blend source; nil means the rest pose

	blendElapsed time.Duration
	blendDur     time.Duration
	toIdle       bool // this transition is the post-clip neutral glide

	fb          *FrameBuffer
	requests    chan Request
	consecutive int
	idlePushed  bool

	mu   sync.Mutex
	snap Status
}

// NewScheduler builds a scheduler over an immutable catalog, an encoder
// and a device sink.
func NewScheduler(catalog *Catalog, enc Encoder, sink Sink, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", cfg.TickInterval)
	}
	if cfg.DisplayCutFraction < 0 || cfg.DisplayCutFraction > 1 {
		return nil, fmt.Errorf("display cut fraction %v outside [0, 1]", cfg.DisplayCutFraction)
	}
	if cfg.FailThreshold < 1 {
		return nil, fmt.Errorf("failure threshold must be at least 1, got %d", cfg.FailThreshold)
	}
	if cfg.PanelW <= 0 || cfg.PanelH <= 0 {
		return nil, fmt.Errorf("invalid panel size %dx%d", cfg.PanelW, cfg.PanelH)
	}
	return &Scheduler{
		catalog:  catalog,
		enc:      enc,
		sink:     sink,
		cfg:      cfg,
		state:    StateIdle,
		fb:       NewFrameBuffer(cfg.PanelW, cfg.PanelH),
		requests: make(chan Request, 8),
	}, nil
}

// Request queues a playback request. Unknown clips are rejected here and
// current playback continues unaffected. Requests are delivered over a
// channel so an incoming request never races an in-progress tick.
func (s *Scheduler) Request(name string, blend time.Duration) error {
	if _, ok := s.catalog.Clip(name); !ok {
		return fmt.Errorf("%w: %q", ErrClipNotFound, name)
	}
	select {
	case s.requests <- Request{ClipName: name, Blend: blend}:
		return nil
	default:
		return fmt.Errorf("request queue full, clip %q dropped", name)
	}
}

// Stop requests a return to the rest pose. With a positive glide the
// servos ease back to neutral over that duration; zero snaps them there
// on the next tick. A stop that does not fit the request queue is
// dropped like any other request.
func (s *Scheduler) Stop(glide time.Duration) {
	select {
	case s.requests <- Request{Blend: glide}:
	default:
	}
}

// ClipNames lists the catalog's clips in sorted order.
func (s *Scheduler) ClipNames() []string {
	return s.catalog.ClipNames()
}

// Status returns the latest playback snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Run drives the tick loop at the configured cadence until ctx is
// cancelled or the device becomes unavailable. Elapsed time advances by
// the measured interval between ticks, not the nominal one, so scheduling
// jitter shifts no keyframes.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	var fatal <-chan error
	if fr, ok := s.sink.(interface{ Fatal() <-chan error }); ok {
		fatal = fr.Fatal()
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fatal:
			s.halt()
			return err
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := s.Tick(dt); err != nil {
				return err
			}
		}
	}
}

// Tick advances the animation by dt and pushes the resulting hardware
// update. It returns ErrDeviceUnavailable once the transient-failure
// threshold is reached; any other tick completes with nil even when the
// push was skipped.
func (s *Scheduler) Tick(dt time.Duration) error {
	if s.state == StateHalted {
		return ErrDeviceUnavailable
	}

	s.drainRequests()

	var u Update
	switch s.state {
	case StateIdle:
		if s.idlePushed {
			s.publish()
			return nil
		}
		u = s.restUpdate()
		s.idlePushed = true
	case StatePlaying:
		u = s.tickPlaying(dt)
	case StateTransitioning:
		u = s.tickTransitioning(dt)
	}

	err := s.sink.Push(u)
	switch {
	case err == nil:
		s.consecutive = 0
	case IsTransient(err):
		// Skip this physical update; time has already advanced so the
		// animation misses one push rather than pausing.
		s.consecutive++
		log.Printf("scheduler: push skipped (%d consecutive transient errors): %v", s.consecutive, err)
		if s.consecutive >= s.cfg.FailThreshold {
			s.halt()
			return fmt.Errorf("%w after %d consecutive transient errors", ErrDeviceUnavailable, s.consecutive)
		}
	default:
		s.halt()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.publish()
	return nil
}

// tickPlaying advances the active clip and samples it.
func (s *Scheduler) tickPlaying(dt time.Duration) Update {
	pb := s.active
	pb.elapsed += dt

	if !pb.clip.Loop && pb.elapsed >= pb.clip.Duration {
		if s.cfg.NeutralGlide > 0 && len(pb.clip.Tracks) > 0 {
			// Glide back to center instead of snapping.
			s.outgoing = pb
			s.active = nil
			s.blendElapsed = 0
			s.blendDur = s.cfg.NeutralGlide
			s.toIdle = true
			s.state = StateTransitioning
			return s.tickTransitioning(0)
		}
		s.enterIdle()
		u := s.restUpdate()
		s.idlePushed = true
		return u
	}

	var u Update
	for _, ch := range sortedChannels(pb.clip.Tracks) {
		track := pb.clip.Tracks[ch]
		cal, _ := s.catalog.Channel(ch)
		pos := track.Sample(pb.elapsed)
		u.Duties = append(u.Duties, ChannelDuty{Channel: ch, Duty: s.enc.Encode(pos, cal)})
	}
	if img := pb.cursor.Advance(pb.elapsed); img != nil {
		s.applyFrame(img)
	}
	u.Frame = s.flushFrame()
	return u
}

// tickTransitioning advances both sides of a blend and emits the weighted
// mix. The outgoing clip keeps advancing, holding its last keyframe once
// finished; the incoming clip runs from zero. A nil side stands for the
// rest pose: every channel at neutral.
func (s *Scheduler) tickTransitioning(dt time.Duration) Update {
	s.blendElapsed += dt
	if s.outgoing != nil {
		s.outgoing.elapsed += dt
	}
	if s.active != nil {
		s.active.elapsed += dt
	}

	w := float64(s.blendElapsed) / float64(s.blendDur)
	if w > 1 {
		w = 1
	}

	var u Update
	for _, ch := range sortedChannels(s.blendChannels()) {
		cal, _ := s.catalog.Channel(ch)
		from := s.sideSample(s.outgoing, ch, cal)
		to := s.sideSample(s.active, ch, cal)
		pos := from + Position(w)*(to-from)
		u.Duties = append(u.Duties, ChannelDuty{Channel: ch, Duty: s.enc.Encode(pos, cal)})
	}

	// Display never crossfades: it follows the outgoing clip until the
	// cut point, then switches to the incoming one.
	cut := time.Duration(float64(s.blendDur) * s.cfg.DisplayCutFraction)
	if s.blendElapsed < cut {
		if s.outgoing != nil {
			if img := s.outgoing.cursor.Advance(s.outgoing.elapsed); img != nil {
				s.applyFrame(img)
			}
		}
	} else if s.active != nil {
		if img := s.active.cursor.Advance(s.active.elapsed); img != nil {
			s.applyFrame(img)
		}
	} else if rest := s.catalog.RestingFrame(); rest != nil && s.blendElapsed-dt <= cut {
		// Crossed the cut while gliding to idle: show the resting frame.
		s.applyFrame(rest)
	}
	u.Frame = s.flushFrame()

	if s.blendElapsed >= s.blendDur {
		if s.toIdle || s.active == nil {
			// The glide already left every channel at neutral, so the
			// idle rest push would be redundant.
			s.enterIdle()
			s.idlePushed = true
		} else {
			s.outgoing = nil
			s.state = StatePlaying
		}
	}
	return u
}

// sideSample returns one blend side's position for a channel: the track
// sample when the side has that track, otherwise the channel's neutral.
func (s *Scheduler) sideSample(pb *playback, ch uint8, cal Channel) Position {
	if pb == nil {
		return cal.Neutral()
	}
	track, ok := pb.clip.Tracks[ch]
	if !ok {
		return cal.Neutral()
	}
	return track.Sample(pb.elapsed)
}

// blendChannels is the union of channels referenced by either blend side.
func (s *Scheduler) blendChannels() map[uint8]*MotionTrack {
	union := make(map[uint8]*MotionTrack)
	if s.outgoing != nil {
		for ch, t := range s.outgoing.clip.Tracks {
			union[ch] = t
		}
	}
	if s.active != nil {
		for ch, t := range s.active.clip.Tracks {
			union[ch] = t
		}
	}
	return union
}

// sortedChannels returns track keys in ascending channel order so duty
// updates hit the bus deterministically.
func sortedChannels(tracks map[uint8]*MotionTrack) []uint8 {
	chs := make([]uint8, 0, len(tracks))
	for ch := range tracks {
		chs = append(chs, ch)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	return chs
}

// drainRequests applies every queued request in arrival order.
func (s *Scheduler) drainRequests() {
	for {
		select {
		case req := <-s.requests:
			s.apply(req)
		default:
			return
		}
	}
}

// apply starts or blends into the requested clip. A request arriving during
// a transition cancels it: the incoming side so far becomes the new
// outgoing side.
func (s *Scheduler) apply(req Request) {
	if req.ClipName == "" {
		s.applyStop(req.Blend)
		return
	}
	clip, ok := s.catalog.Clip(req.ClipName)
	if !ok {
		// Validated in Request; a miss here means the catalog changed,
		// which it never does.
		log.Printf("scheduler: dropping request for unknown clip %q", req.ClipName)
		return
	}
	np := newPlayback(clip)

	if req.Blend <= 0 {
		s.active = np
		s.outgoing = nil
		s.toIdle = false
		s.state = StatePlaying
		s.idlePushed = false
		return
	}

	switch s.state {
	case StateIdle:
		s.outgoing = nil // blend up from the rest pose
	case StatePlaying, StateTransitioning:
		s.outgoing = s.active
	}
	s.active = np
	s.blendElapsed = 0
	s.blendDur = req.Blend
	s.toIdle = false
	s.state = StateTransitioning
	s.idlePushed = false
}

// applyStop winds playback down to the rest pose, gliding when asked.
func (s *Scheduler) applyStop(glide time.Duration) {
	if s.state == StateIdle || s.toIdle {
		return
	}
	if glide <= 0 || s.active == nil {
		s.enterIdle()
		return
	}
	s.outgoing = s.active
	s.active = nil
	s.blendElapsed = 0
	s.blendDur = glide
	s.toIdle = true
	s.state = StateTransitioning
	s.idlePushed = false
}

// enterIdle resets playback to the resting state.
func (s *Scheduler) enterIdle() {
	s.active = nil
	s.outgoing = nil
	s.toIdle = false
	s.state = StateIdle
	s.idlePushed = false
}

// restUpdate commands every configured channel to neutral and shows the
// resting frame.
func (s *Scheduler) restUpdate() Update {
	var u Update
	channels := s.catalog.Channels()
	chs := make([]uint8, 0, len(channels))
	for ch := range channels {
		chs = append(chs, ch)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	for _, ch := range chs {
		cal := channels[ch]
		u.Duties = append(u.Duties, ChannelDuty{Channel: ch, Duty: s.enc.Encode(cal.Neutral(), cal)})
	}
	if rest := s.catalog.RestingFrame(); rest != nil {
		s.applyFrame(rest)
	}
	u.Frame = s.flushFrame()
	return u
}

func (s *Scheduler) applyFrame(img *FrameImage) {
	if err := s.fb.Apply(img); err != nil {
		// Frame geometry is validated at load; log and keep animating.
		log.Printf("scheduler: dropping frame: %v", err)
	}
}

func (s *Scheduler) flushFrame() *FrameUpdate {
	r, pix, ok := s.fb.Flush()
	if !ok {
		return nil
	}
	return &FrameUpdate{Region: r, Pix: pix}
}

func (s *Scheduler) halt() {
	s.state = StateHalted
	s.active = nil
	s.outgoing = nil
	s.publish()
}

// publish refreshes the snapshot read by Status.
func (s *Scheduler) publish() {
	snap := Status{State: s.state, ConsecutiveErrs: s.consecutive}
	if s.active != nil {
		snap.Clip = s.active.clip.Name
		snap.Elapsed = s.active.elapsed
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
