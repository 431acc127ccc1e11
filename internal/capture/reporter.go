package capture

import (
	"sync"
	"time"
)

// Session status values published in snapshots.
const (
	StatusCapturing  = "capturing"
	StatusSubmitting = "submitting"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Snapshot is the observable state of a session.
type Snapshot struct {
	SessionID    string         `json:"session_id"`
	Version      uint64         `json:"version"`
	Detection    DetectionState `json:"detection_state"`
	Flags        ValidityFlags  `json:"validity"`
	HasValidFace bool           `json:"has_valid_face"`
	Progress     float64        `json:"progress"`
	Status       string         `json:"status"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SnapshotObserver consumes snapshots. All calls come from one goroutine,
// in the order the updates were published.
type SnapshotObserver interface {
	OnSnapshot(Snapshot)
}

// SnapshotObserverFunc adapts a function to SnapshotObserver.
type SnapshotObserverFunc func(Snapshot)

// OnSnapshot calls f.
func (f SnapshotObserverFunc) OnSnapshot(s Snapshot) { f(s) }

type update func(*Snapshot)

// Reporter funnels partial state updates from any goroutine through one
// bounded channel and applies them on a single goroutine.
type Reporter struct {
	updates  chan update
	quit     chan struct{}
	done     chan struct{}
	observer SnapshotObserver
	clock    Clock

	mu     sync.RWMutex
	latest Snapshot

	stopOnce sync.Once
}

// NewReporter builds a reporter for a session. A nil observer only keeps the
// latest snapshot.
func NewReporter(sessionID string, buffer int, observer SnapshotObserver, clock Clock) *Reporter {
	if buffer <= 0 {
		buffer = 64
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Reporter{
		updates:  make(chan update, buffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		observer: observer,
		clock:    clock,
		latest: Snapshot{
			SessionID: sessionID,
			Detection: StateNoFace,
			Status:    StatusCapturing,
			UpdatedAt: clock.Now(),
		},
	}
}

// Run applies updates until Stop is called and the queue is drained.
func (r *Reporter) Run() {
	defer close(r.done)
	for {
		select {
		case u := <-r.updates:
			r.apply(u)
		case <-r.quit:
			for {
				select {
				case u := <-r.updates:
					r.apply(u)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) apply(u update) {
	r.mu.Lock()
	next := r.latest
	u(&next)
	next.Version++
	next.HasValidFace = next.Flags.HasValidFace()
	next.UpdatedAt = r.clock.Now()
	r.latest = next
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.OnSnapshot(next)
	}
}

// publish enqueues an update. It blocks while the queue is full and is a
// no-op once the reporter is stopped.
func (r *Reporter) publish(u update) {
	select {
	case <-r.quit:
		return
	default:
	}
	select {
	case r.updates <- u:
	case <-r.quit:
	}
}

// Stop drains pending updates and waits for Run to return.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}

// Latest returns the most recently applied snapshot.
func (r *Reporter) Latest() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

func (r *Reporter) publishGate(state GateState) {
	r.publish(func(s *Snapshot) {
		if s.Detection != StateFinalFrame {
			s.Detection = state.Detection
		}
		s.Flags = state.Flags
	})
}

func (r *Reporter) publishProgress(progress float64, finalFrame bool) {
	r.publish(func(s *Snapshot) {
		if progress > s.Progress {
			s.Progress = progress
		}
		if finalFrame {
			s.Detection = StateFinalFrame
		}
	})
}

func (r *Reporter) publishStatus(status string, err error) {
	r.publish(func(s *Snapshot) {
		s.Status = status
		if err != nil {
			s.ErrorKind = KindOf(err).String()
			s.Error = err.Error()
		}
	})
}
