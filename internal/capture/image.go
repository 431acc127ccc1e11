package capture

import (
	"image"
	"time"
)

// Frame is one decoded camera frame.
type Frame struct {
	Seq        uint64
	Image      image.Image
	CapturedAt time.Time
}

// ImageSpec describes the target rendition of an extracted face image.
type ImageSpec struct {
	Width     int
	Height    int
	Greyscale bool
}

var (
	// LivenessSpec is the rendition used for the liveness burst.
	LivenessSpec = ImageSpec{Width: 256, Height: 256, Greyscale: true}
	// SelfieSpec is the rendition used for the final selfie.
	SelfieSpec = ImageSpec{Width: 320, Height: 320}
)

// Image is an encoded face crop.
type Image struct {
	Data       []byte
	Spec       ImageSpec
	FrameSeq   uint64
	CapturedAt time.Time
}

// Extractor crops the face described by box out of a frame. Box is in
// reference-frame units.
type Extractor interface {
	Extract(frame Frame, box Rect, reference Rect, spec ImageSpec) (Image, error)
}

// Clock abstracts time for the capture scheduler.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
