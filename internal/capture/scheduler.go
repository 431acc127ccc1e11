package capture

import (
	"fmt"
	"time"
)

// Phase is the capture scheduler state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAccumulating
	PhaseFinalFrame
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseFinalFrame:
		return "final_frame"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	// DefaultLivenessCount is the size of the liveness burst.
	DefaultLivenessCount = 7
	// DefaultInterCaptureDelay is the minimum gap between two captures.
	DefaultInterCaptureDelay = 350 * time.Millisecond
	// MinInterCaptureDelay is the floor applied to any configured delay so
	// the burst loop always needs the clock to move before it repeats.
	MinInterCaptureDelay = 10 * time.Millisecond
)

// SchedulerConfig tunes the capture burst.
type SchedulerConfig struct {
	LivenessCount     int
	InterCaptureDelay time.Duration
}

// DefaultSchedulerConfig returns the production burst settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		LivenessCount:     DefaultLivenessCount,
		InterCaptureDelay: DefaultInterCaptureDelay,
	}
}

// TickResult reports what a single tick captured.
type TickResult struct {
	LivenessCaptured int
	FinalFrame       bool
	SelfieCaptured   bool
	Progress         float64
	Complete         bool
}

// Scheduler sequences the liveness burst and the selfie for one session.
// It is not safe for concurrent use; the engine confines it to the capture
// goroutine.
type Scheduler struct {
	cfg         SchedulerConfig
	reference   Rect
	extractor   Extractor
	clock       Clock
	phase       Phase
	liveness    []Image
	selfie      *Image
	lastCapture time.Time

	// counts survive Release so progress never moves backwards
	livenessTaken int
	selfieTaken   bool
}

// NewScheduler builds a scheduler. A nil clock means the wall clock.
func NewScheduler(cfg SchedulerConfig, reference Rect, extractor Extractor, clock Clock) *Scheduler {
	if cfg.LivenessCount <= 0 {
		cfg.LivenessCount = DefaultLivenessCount
	}
	if cfg.InterCaptureDelay < MinInterCaptureDelay {
		cfg.InterCaptureDelay = MinInterCaptureDelay
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		cfg:       cfg,
		reference: reference,
		extractor: extractor,
		clock:     clock,
		liveness:  make([]Image, 0, cfg.LivenessCount),
	}
}

// Tick runs one capture opportunity for a frame the gate judged valid.
// An extraction failure leaves counts untouched; the next tick retries.
func (s *Scheduler) Tick(frame Frame, geometry GeometryObservation) (TickResult, error) {
	var res TickResult
	if s.phase == PhaseCompleted {
		res.Progress = s.Progress()
		res.Complete = true
		return res, ErrSessionClosed
	}
	if frame.Image == nil {
		res.Progress = s.Progress()
		return res, ErrNoFrame
	}
	if s.phase == PhaseIdle {
		s.phase = PhaseAccumulating
	}

	for s.livenessTaken < s.cfg.LivenessCount && s.due() {
		img, err := s.extractor.Extract(frame, geometry.BoundingBox, s.reference, LivenessSpec)
		if err != nil {
			res.Progress = s.Progress()
			return res, fmt.Errorf("extract liveness image %d: %w", s.livenessTaken+1, err)
		}
		img.CapturedAt = s.clock.Now()
		s.liveness = append(s.liveness, img)
		s.livenessTaken++
		s.lastCapture = img.CapturedAt
		res.LivenessCaptured++
	}

	if s.livenessTaken == s.cfg.LivenessCount && !s.selfieTaken && s.due() {
		s.phase = PhaseFinalFrame
		res.FinalFrame = true
		img, err := s.extractor.Extract(frame, geometry.BoundingBox, s.reference, SelfieSpec)
		if err != nil {
			res.Progress = s.Progress()
			return res, fmt.Errorf("extract selfie image: %w", err)
		}
		img.CapturedAt = s.clock.Now()
		s.selfie = &img
		s.selfieTaken = true
		s.lastCapture = img.CapturedAt
		s.phase = PhaseCompleted
		res.SelfieCaptured = true
	}

	res.Progress = s.Progress()
	res.Complete = s.phase == PhaseCompleted
	return res, nil
}

func (s *Scheduler) due() bool {
	if s.lastCapture.IsZero() {
		return true
	}
	return s.clock.Now().Sub(s.lastCapture) >= s.cfg.InterCaptureDelay
}

// Progress is (liveness + selfie) / (liveness target + 1).
func (s *Scheduler) Progress() float64 {
	captured := s.livenessTaken
	if s.selfieTaken {
		captured++
	}
	return float64(captured) / float64(s.cfg.LivenessCount+1)
}

// Phase returns the current scheduler state.
func (s *Scheduler) Phase() Phase { return s.phase }

// LivenessCount returns the number of liveness images captured so far.
func (s *Scheduler) LivenessCount() int { return s.livenessTaken }

// Liveness returns a copy of the captured liveness images.
func (s *Scheduler) Liveness() []Image {
	out := make([]Image, len(s.liveness))
	copy(out, s.liveness)
	return out
}

// Selfie returns the selfie image if it has been captured.
func (s *Scheduler) Selfie() (Image, bool) {
	if s.selfie == nil {
		return Image{}, false
	}
	return *s.selfie, true
}

// Release drops all captured images. The scheduler stays completed.
func (s *Scheduler) Release() {
	s.liveness = nil
	s.selfie = nil
	s.phase = PhaseCompleted
}
