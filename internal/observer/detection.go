// Package observer adapts face detectors to capture.FaceObserver.
package observer

import (
	"errors"

	"github.com/example/selfie-capture/internal/capture"
)

// Face is one detected face.
type Face struct {
	BoundingBox capture.Rect `json:"bounding_box"`
	Roll        float64      `json:"roll"`
	Yaw         float64      `json:"yaw"`
	Quality     *float64     `json:"quality,omitempty"`
}

// Detection is a detector's verdict on one frame.
type Detection struct {
	Faces    []Face `json:"faces"`
	Unstable bool   `json:"unstable,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Observations converts a detection into gate observations.
func (d Detection) Observations(seq uint64) []capture.Observation {
	switch {
	case d.Error != "":
		return []capture.Observation{capture.DetectorFailed(seq, errors.New(d.Error))}
	case d.Unstable:
		return []capture.Observation{capture.SceneUnstable(seq)}
	case len(d.Faces) == 0:
		return []capture.Observation{capture.NoFace(seq)}
	case len(d.Faces) > 1:
		return []capture.Observation{capture.MultipleFaces(seq)}
	}

	face := d.Faces[0]
	out := []capture.Observation{capture.GeometryObserved(seq, capture.GeometryObservation{
		BoundingBox: face.BoundingBox,
		Roll:        face.Roll,
		Yaw:         face.Yaw,
	})}
	if face.Quality != nil {
		out = append(out, capture.QualityObserved(seq, *face.Quality))
	}
	return out
}
