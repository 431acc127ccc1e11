package capture

import (
	"errors"
	"image"
	"sync"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubExtractor struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	specs  []ImageSpec
	onCall func()
}

func (s *stubExtractor) Extract(frame Frame, box Rect, reference Rect, spec ImageSpec) (Image, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	onCall := s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return Image{}, err
	}

	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	return Image{Data: []byte{byte(frame.Seq)}, Spec: spec, FrameSeq: frame.Seq}, nil
}

var errExtract = errors.New("crop outside frame")

func testFrame(seq uint64) Frame {
	return Frame{Seq: seq, Image: image.NewGray(image.Rect(0, 0, 16, 16))}
}

func testReference() Rect {
	return Rect{X: 0, Y: 0, Width: 400, Height: 400}
}

// centredFace is appropriately sized and centred in testReference.
func centredFace() GeometryObservation {
	return GeometryObservation{
		BoundingBox: Rect{X: 100, Y: 100, Width: 200, Height: 200},
		Roll:        0.1,
		Yaw:         0.05,
	}
}
