package capture

import (
	"context"
	"sync"
)

// Session identifies one capture attempt.
type Session struct {
	ID       string
	UserID   string
	IsEnroll bool
}

// Outcome is the terminal result of a session.
type Outcome struct {
	Selfie   []byte
	Liveness [][]byte
	Err      error
}

// Succeeded reports whether the outcome is the success variant.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// SubmissionRequest hands the captured images over to the submission pipeline.
type SubmissionRequest struct {
	Session  Session
	Liveness []Image
	Selfie   Image
}

// Submitter packages and uploads a completed capture.
type Submitter interface {
	Submit(ctx context.Context, req SubmissionRequest) Outcome
}

// FaceObserver runs face detection on a frame.
type FaceObserver interface {
	Observe(ctx context.Context, frame Frame) ([]Observation, error)
}

// ResultDelegate receives exactly one terminal call per session.
type ResultDelegate interface {
	OnSuccess(session Session, selfie []byte, liveness [][]byte)
	OnError(session Session, err error)
}

// resultGuard delivers at most one outcome and nothing after detach.
type resultGuard struct {
	mu        sync.Mutex
	delegate  ResultDelegate
	delivered bool
	detached  bool
}

// deliver invokes the delegate with the lock held, so a concurrent detach
// either happens before the call or waits for it to return. Delegates must
// not call back into the engine's Close.
func (g *resultGuard) deliver(session Session, out Outcome) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.delivered || g.detached {
		return false
	}
	g.delivered = true
	if g.delegate == nil {
		return true
	}
	if out.Succeeded() {
		g.delegate.OnSuccess(session, out.Selfie, out.Liveness)
	} else {
		g.delegate.OnError(session, out.Err)
	}
	return true
}

// detach blocks further deliveries and reports whether one already happened.
func (g *resultGuard) detach() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached = true
	return g.delivered
}
