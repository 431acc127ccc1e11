package capture

import "math"

// Rect is an axis-aligned rectangle in reference-frame units.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MidX returns the horizontal centre of the rectangle.
func (r Rect) MidX() float64 { return r.X + r.Width/2 }

// MidY returns the vertical centre of the rectangle.
func (r Rect) MidY() float64 { return r.Y + r.Height/2 }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// GeometryObservation is the face geometry reported by the observer for one frame.
// Roll and yaw are in radians.
type GeometryObservation struct {
	BoundingBox Rect    `json:"bounding_box"`
	Roll        float64 `json:"roll"`
	Yaw         float64 `json:"yaw"`
}

// QualityObservation carries the face capture quality in [0,1].
type QualityObservation struct {
	Quality float64 `json:"quality"`
}

// ObservationKind tags the variant held by an Observation.
type ObservationKind int

const (
	ObservedNoFace ObservationKind = iota
	ObservedMultipleFaces
	ObservedSceneUnstable
	ObservedGeometry
	ObservedQuality
	ObservedDetectorError
)

func (k ObservationKind) String() string {
	switch k {
	case ObservedNoFace:
		return "no_face"
	case ObservedMultipleFaces:
		return "multiple_faces"
	case ObservedSceneUnstable:
		return "scene_unstable"
	case ObservedGeometry:
		return "geometry"
	case ObservedQuality:
		return "quality"
	case ObservedDetectorError:
		return "detector_error"
	default:
		return "unknown"
	}
}

// Observation is one signal emitted by the face observer for a frame.
// Only the field matching Kind is meaningful.
type Observation struct {
	Kind     ObservationKind
	FrameSeq uint64
	Geometry GeometryObservation
	Quality  QualityObservation
	Err      error
}

// NoFace builds a "no face" observation.
func NoFace(seq uint64) Observation {
	return Observation{Kind: ObservedNoFace, FrameSeq: seq}
}

// MultipleFaces builds a "multiple faces" observation.
func MultipleFaces(seq uint64) Observation {
	return Observation{Kind: ObservedMultipleFaces, FrameSeq: seq}
}

// SceneUnstable builds a "scene unstable" observation.
func SceneUnstable(seq uint64) Observation {
	return Observation{Kind: ObservedSceneUnstable, FrameSeq: seq}
}

// GeometryObserved wraps a geometry observation.
func GeometryObserved(seq uint64, g GeometryObservation) Observation {
	return Observation{Kind: ObservedGeometry, FrameSeq: seq, Geometry: g}
}

// QualityObserved wraps a quality observation. Scores outside [0,1] are clamped.
func QualityObserved(seq uint64, quality float64) Observation {
	if math.IsNaN(quality) {
		quality = 0
	}
	quality = math.Max(0, math.Min(1, quality))
	return Observation{Kind: ObservedQuality, FrameSeq: seq, Quality: QualityObservation{Quality: quality}}
}

// DetectorFailed wraps an observer failure.
func DetectorFailed(seq uint64, err error) Observation {
	return Observation{Kind: ObservedDetectorError, FrameSeq: seq, Err: err}
}
