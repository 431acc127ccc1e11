package capture

import (
	"errors"
	"testing"
	"time"
)

func TestSchedulerBurstThenSelfie(t *testing.T) {
	clock := newManualClock()
	extractor := &stubExtractor{}
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), extractor, clock)

	for i := 1; i <= DefaultLivenessCount; i++ {
		if i > 1 {
			clock.Advance(360 * time.Millisecond)
		}
		res, err := s.Tick(testFrame(uint64(i)), centredFace())
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if res.LivenessCaptured != 1 {
			t.Fatalf("tick %d: expected one capture, got %d", i, res.LivenessCaptured)
		}
		if want := float64(i) / 8; res.Progress != want {
			t.Fatalf("tick %d: expected progress %v, got %v", i, want, res.Progress)
		}
		if res.SelfieCaptured || res.Complete {
			t.Fatalf("tick %d: selfie captured too early", i)
		}
	}

	clock.Advance(360 * time.Millisecond)
	res, err := s.Tick(testFrame(8), centredFace())
	if err != nil {
		t.Fatalf("final tick: unexpected error: %v", err)
	}
	if !res.FinalFrame || !res.SelfieCaptured || !res.Complete {
		t.Fatalf("expected selfie capture on final tick, got %+v", res)
	}
	if res.Progress != 1 {
		t.Fatalf("expected progress 1, got %v", res.Progress)
	}
	selfie, ok := s.Selfie()
	if !ok || selfie.Spec != SelfieSpec {
		t.Fatalf("expected colour selfie, got %+v", selfie.Spec)
	}
	for i, img := range s.Liveness() {
		if img.Spec != LivenessSpec {
			t.Fatalf("liveness image %d has spec %+v", i, img.Spec)
		}
	}

	if _, err := s.Tick(testFrame(9), centredFace()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after completion, got %v", err)
	}
	if extractor.calls != 8 {
		t.Fatalf("expected 8 extractions, got %d", extractor.calls)
	}
}

func TestSchedulerWaitsForInterCaptureDelay(t *testing.T) {
	clock := newManualClock()
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), &stubExtractor{}, clock)

	if _, err := s.Tick(testFrame(1), centredFace()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(349 * time.Millisecond)
	res, err := s.Tick(testFrame(2), centredFace())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LivenessCaptured != 0 || s.LivenessCount() != 1 {
		t.Fatalf("expected no capture before delay, have %d images", s.LivenessCount())
	}
	clock.Advance(time.Millisecond)
	if res, _ := s.Tick(testFrame(3), centredFace()); res.LivenessCaptured != 1 {
		t.Fatalf("expected capture once delay elapsed, got %+v", res)
	}
}

func TestSchedulerCaptureSpacingProperty(t *testing.T) {
	clock := newManualClock()
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), &stubExtractor{}, clock)

	steps := []time.Duration{17, 120, 90, 333, 351, 5, 400, 200, 150, 349, 1, 700, 30, 360, 360, 99, 251, 500}
	selfies := 0
	last := 0.0
	for i, step := range steps {
		clock.Advance(step * time.Millisecond)
		res, err := s.Tick(testFrame(uint64(i+1)), centredFace())
		if err != nil && !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if res.SelfieCaptured {
			selfies++
		}
		if res.Progress < last {
			t.Fatalf("progress went backwards: %v -> %v", last, res.Progress)
		}
		last = res.Progress
		if s.LivenessCount() > DefaultLivenessCount {
			t.Fatalf("liveness count exceeded: %d", s.LivenessCount())
		}
	}

	images := s.Liveness()
	for i := 1; i < len(images); i++ {
		if gap := images[i].CapturedAt.Sub(images[i-1].CapturedAt); gap < DefaultInterCaptureDelay {
			t.Fatalf("captures %d and %d only %v apart", i-1, i, gap)
		}
	}
	if selfies > 1 {
		t.Fatalf("selfie captured %d times", selfies)
	}
	if selfie, ok := s.Selfie(); ok {
		if len(images) != DefaultLivenessCount {
			t.Fatalf("selfie captured with %d liveness images", len(images))
		}
		if gap := selfie.CapturedAt.Sub(images[len(images)-1].CapturedAt); gap < DefaultInterCaptureDelay {
			t.Fatalf("selfie only %v after last liveness image", gap)
		}
	}
}

func TestSchedulerExtractionFailureIsRetried(t *testing.T) {
	clock := newManualClock()
	extractor := &stubExtractor{errs: []error{errExtract}}
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), extractor, clock)

	res, err := s.Tick(testFrame(1), centredFace())
	if !errors.Is(err, errExtract) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if res.LivenessCaptured != 0 || s.LivenessCount() != 0 || s.Progress() != 0 {
		t.Fatalf("failed extraction must not change counts, got %+v", res)
	}

	res, err = s.Tick(testFrame(2), centredFace())
	if err != nil || res.LivenessCaptured != 1 {
		t.Fatalf("expected retry to capture, got %+v, %v", res, err)
	}
}

func TestSchedulerRequiresFrame(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), &stubExtractor{}, newManualClock())
	if _, err := s.Tick(Frame{Seq: 1}, centredFace()); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle phase, got %s", s.Phase())
	}
}

func TestSchedulerZeroDelayDoesNotSpin(t *testing.T) {
	clock := newManualClock()
	extractor := &stubExtractor{}
	s := NewScheduler(SchedulerConfig{LivenessCount: 7, InterCaptureDelay: 0}, testReference(), extractor, clock)

	res, err := s.Tick(testFrame(1), centredFace())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.LivenessCaptured != 1 || extractor.calls != 1 {
		t.Fatalf("expected a single capture while the clock stands still, got %d", res.LivenessCaptured)
	}
}

func TestSchedulerSlowExtractionCapturesOncePerTick(t *testing.T) {
	clock := newManualClock()
	extractor := &stubExtractor{onCall: func() { clock.Advance(400 * time.Millisecond) }}
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), extractor, clock)

	for i := 1; i <= 3; i++ {
		res, err := s.Tick(testFrame(uint64(i)), centredFace())
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		// the delay runs from the end of the previous extraction
		if res.LivenessCaptured != 1 {
			t.Fatalf("tick %d: expected one capture, got %d", i, res.LivenessCaptured)
		}
		clock.Advance(DefaultInterCaptureDelay)
	}
	if s.LivenessCount() != 3 {
		t.Fatalf("expected 3 images, got %d", s.LivenessCount())
	}
}

func TestSchedulerProgressSurvivesRelease(t *testing.T) {
	clock := newManualClock()
	s := NewScheduler(DefaultSchedulerConfig(), testReference(), &stubExtractor{}, clock)
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		if _, err := s.Tick(testFrame(uint64(i+1)), centredFace()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	before := s.Progress()
	s.Release()
	if s.Progress() != before {
		t.Fatalf("expected progress %v after release, got %v", before, s.Progress())
	}
	if len(s.Liveness()) != 0 {
		t.Fatal("expected images to be released")
	}
	if s.Phase() != PhaseCompleted {
		t.Fatalf("expected completed phase, got %s", s.Phase())
	}
}
