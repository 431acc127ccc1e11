package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/selfie-capture/internal/logging"
)

// Config tunes an engine.
type Config struct {
	// Reference is the on-screen guide region, in the same units as the
	// observer's bounding boxes.
	Reference    Rect
	Thresholds   Thresholds
	Scheduler    SchedulerConfig
	FrameBuffer  int
	UpdateBuffer int
}

// DefaultConfig returns production settings for the given reference frame.
func DefaultConfig(reference Rect) Config {
	return Config{
		Reference:    reference,
		Thresholds:   DefaultThresholds(),
		Scheduler:    DefaultSchedulerConfig(),
		FrameBuffer:  4,
		UpdateBuffer: 64,
	}
}

// Deps are the collaborators of an engine.
type Deps struct {
	Observer  FaceObserver
	Extractor Extractor
	Submitter Submitter
	Delegate  ResultDelegate
	Snapshots SnapshotObserver
	Clock     Clock
	Logger    *zap.Logger
}

type captureJob struct {
	frame    Frame
	geometry GeometryObservation
}

// Engine runs one capture session: frame intake and gating on one goroutine,
// extraction and submission on another, state publishing on a third.
type Engine struct {
	session   Session
	gate      Gate
	scheduler *Scheduler
	deps      Deps
	reporter  *Reporter
	logger    *zap.Logger

	frames   chan Frame
	captures chan captureJob
	guard    resultGuard

	seq       atomic.Uint64
	dropped   atomic.Uint64
	started   atomic.Bool
	completed atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
}

// NewEngine builds an engine for a session.
func NewEngine(session Session, cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 4
	}
	return &Engine{
		session:   session,
		gate:      NewGate(cfg.Reference, cfg.Thresholds),
		scheduler: NewScheduler(cfg.Scheduler, cfg.Reference, deps.Extractor, deps.Clock),
		deps:      deps,
		reporter:  NewReporter(session.ID, cfg.UpdateBuffer, deps.Snapshots, deps.Clock),
		logger:    logging.WithOperation(deps.Logger.Named("capture_engine"), "capture.session", session.ID),
		frames:    make(chan Frame, cfg.FrameBuffer),
		captures:  make(chan captureJob, 1),
		guard:     resultGuard{delegate: deps.Delegate},
		done:      make(chan struct{}),
	}
}

// Session returns the session identity.
func (e *Engine) Session() Session { return e.session }

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() Snapshot { return e.reporter.Latest() }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Dropped returns how many frames were discarded because intake was busy.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// PushFrame offers a frame without blocking. It returns false when the frame
// was dropped or the session no longer accepts frames.
func (e *Engine) PushFrame(frame Frame) bool {
	if e.completed.Load() {
		return false
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	if frame.Seq == 0 {
		frame.Seq = e.seq.Add(1)
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = e.deps.Clock.Now()
	}
	select {
	case e.frames <- frame:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Run drives the session until a terminal outcome or ctx is cancelled.
// It returns the outcome error, nil on success.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("capture engine already started")
	}
	defer close(e.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	e.cancel = cancel
	e.mu.Unlock()

	go e.reporter.Run()
	defer e.reporter.Stop()

	e.logger.Info("capture session started",
		zap.String("user_id", e.session.UserID),
		zap.Bool("enroll", e.session.IsEnroll),
	)

	var intake sync.WaitGroup
	intake.Add(1)
	go func() {
		defer intake.Done()
		e.intakeLoop(ctx)
	}()

	out := e.captureLoop(ctx)
	cancel()
	intake.Wait()
	return out.Err
}

// Close tears the session down. No delegate call happens after Close returns.
// It reports whether the terminal outcome had already been delivered, in
// which case the session must be treated as finished, not cancelled.
func (e *Engine) Close() bool {
	delivered := e.guard.detach()
	e.mu.Lock()
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return delivered
}

func (e *Engine) intakeLoop(ctx context.Context) {
	state := e.gate.InitialState()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-e.frames:
			if e.completed.Load() {
				continue
			}
			state = e.process(ctx, state, frame)
		}
	}
}

func (e *Engine) process(ctx context.Context, state GateState, frame Frame) GateState {
	observations, err := e.deps.Observer.Observe(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return state
		}
		e.logger.Warn("face observer failed",
			zap.Error(NewError(KindDetector, "observe", err)),
			zap.Uint64("frame_seq", frame.Seq),
		)
		observations = []Observation{DetectorFailed(frame.Seq, err)}
	}
	if len(observations) == 0 {
		observations = []Observation{NoFace(frame.Seq)}
	}

	wasValid := state.Valid()
	for _, obs := range observations {
		if obs.Kind == ObservedDetectorError && err == nil {
			e.logger.Warn("detector reported error", zap.Error(obs.Err), zap.Uint64("frame_seq", frame.Seq))
		}
		state = e.gate.Reduce(state, obs)
	}
	if !e.completed.Load() {
		e.reporter.publishGate(state)
	}

	if !state.Valid() {
		return state
	}
	if !wasValid {
		e.logger.Debug("subject valid, capture armed", zap.Uint64("frame_seq", frame.Seq))
	}
	e.offer(captureJob{frame: frame, geometry: state.Geometry})
	return state
}

// offer hands the newest valid frame to the capture goroutine, replacing a
// pending one it has not picked up yet.
func (e *Engine) offer(job captureJob) {
	select {
	case e.captures <- job:
		return
	default:
	}
	select {
	case <-e.captures:
	default:
	}
	select {
	case e.captures <- job:
	default:
	}
}

func (e *Engine) captureLoop(ctx context.Context) Outcome {
	for {
		select {
		case <-ctx.Done():
			out := Outcome{Err: NewError(KindCancelled, "capture", ctx.Err())}
			e.finish(out)
			return out
		case job := <-e.captures:
			res, err := e.scheduler.Tick(job.frame, job.geometry)
			if res.LivenessCaptured > 0 || res.FinalFrame {
				e.reporter.publishProgress(res.Progress, res.FinalFrame)
			}
			if err != nil {
				e.logger.Debug("capture opportunity missed", zap.Error(err), zap.Uint64("frame_seq", job.frame.Seq))
				continue
			}
			if res.LivenessCaptured > 0 {
				e.logger.Debug("liveness images captured",
					zap.Int("count", e.scheduler.LivenessCount()),
					zap.Float64("progress", res.Progress),
				)
			}
			if !res.Complete {
				continue
			}
			e.completed.Store(true)
			return e.submit(ctx)
		}
	}
}

func (e *Engine) submit(ctx context.Context) Outcome {
	selfie, _ := e.scheduler.Selfie()
	req := SubmissionRequest{
		Session:  e.session,
		Liveness: e.scheduler.Liveness(),
		Selfie:   selfie,
	}
	e.reporter.publishStatus(StatusSubmitting, nil)
	e.logger.Info("capture complete, submitting", zap.Int("liveness_images", len(req.Liveness)))

	out := e.deps.Submitter.Submit(ctx, req)
	if out.Err != nil && ctx.Err() != nil {
		out.Err = NewError(KindCancelled, "submit", out.Err)
	}
	e.finish(out)
	return out
}

func (e *Engine) finish(out Outcome) {
	e.completed.Store(true)
	e.scheduler.Release()

	status := StatusSucceeded
	switch {
	case out.Err == nil:
	case KindOf(out.Err) == KindCancelled:
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	e.reporter.publishStatus(status, out.Err)

	if !e.guard.deliver(e.session, out) {
		e.logger.Info("session outcome suppressed", zap.String("status", status))
		return
	}
	if out.Err != nil {
		e.logger.Error("capture session failed", zap.Error(out.Err), zap.String("kind", KindOf(out.Err).String()))
		return
	}
	e.logger.Info("capture session succeeded", zap.Int("liveness_images", len(out.Liveness)))
}
