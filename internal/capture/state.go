package capture

// DetectionState is the coarse face detection status shown to the subject.
type DetectionState int

const (
	StateNoFace DetectionState = iota
	StateSceneUnstable
	StateMultipleFaces
	StateFaceFound
	StateFinalFrame
)

func (s DetectionState) String() string {
	switch s {
	case StateNoFace:
		return "no_face"
	case StateSceneUnstable:
		return "scene_unstable"
	case StateMultipleFaces:
		return "multiple_faces"
	case StateFaceFound:
		return "face_found"
	case StateFinalFrame:
		return "final_frame"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s DetectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BoundsState classifies the face bounding box against the reference frame.
type BoundsState int

const (
	BoundsUnknown BoundsState = iota
	BoundsTooLarge
	BoundsTooSmall
	BoundsOffCentre
	BoundsAppropriate
)

func (b BoundsState) String() string {
	switch b {
	case BoundsTooLarge:
		return "too_large"
	case BoundsTooSmall:
		return "too_small"
	case BoundsOffCentre:
		return "off_centre"
	case BoundsAppropriate:
		return "appropriate"
	default:
		return "unknown"
	}
}

// MarshalText renders the bounds state by name in JSON payloads.
func (b BoundsState) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// ValidityFlags are the independent sub-checks of the validity gate.
type ValidityFlags struct {
	Bounds  BoundsState `json:"acceptable_bounds"`
	Roll    bool        `json:"acceptable_roll"`
	Yaw     bool        `json:"acceptable_yaw"`
	Quality bool        `json:"acceptable_quality"`
}

// HasValidFace is the conjunction of all sub-checks.
func (f ValidityFlags) HasValidFace() bool {
	return f.Bounds == BoundsAppropriate && f.Roll && f.Yaw && f.Quality
}
