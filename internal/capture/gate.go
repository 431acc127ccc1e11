package capture

import "math"

// Thresholds holds the tunables of the validity gate.
type Thresholds struct {
	// MaxWidthRatio and MinWidthRatio bound the box width as a fraction of
	// the reference width.
	MaxWidthRatio   float64
	MinWidthRatio   float64
	MaxCentreOffset float64
	MaxRoll         float64
	MaxYaw          float64
	MinQuality      float64
}

// DefaultThresholds returns the production gate settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxWidthRatio:   0.7,
		MinWidthRatio:   0.25,
		MaxCentreOffset: 50,
		MaxRoll:         0.5,
		MaxYaw:          0.15,
		MinQuality:      0.3,
	}
}

// GateState is everything the gate knows after the latest observation.
type GateState struct {
	Detection DetectionState
	Flags     ValidityFlags

	// Geometry is the last face geometry, valid only while HasGeometry is set.
	Geometry    GeometryObservation
	HasGeometry bool
}

// Valid reports whether the subject is positioned for capture.
func (s GateState) Valid() bool {
	return s.HasGeometry && s.Flags.HasValidFace()
}

// Gate maps observations onto validity flags against a fixed reference frame.
type Gate struct {
	Reference  Rect
	Thresholds Thresholds
}

// NewGate builds a gate for the given reference frame.
func NewGate(reference Rect, thresholds Thresholds) Gate {
	return Gate{Reference: reference, Thresholds: thresholds}
}

// InitialState is the state of a gate that has seen nothing.
func (g Gate) InitialState() GateState {
	return GateState{Detection: StateNoFace}
}

// Bounds classifies a bounding box. First match wins:
// too large, too small, off centre, appropriate.
func (g Gate) Bounds(box Rect) BoundsState {
	ref := g.Reference
	switch {
	case box.Width > g.Thresholds.MaxWidthRatio*ref.Width:
		return BoundsTooLarge
	case box.Width < g.Thresholds.MinWidthRatio*ref.Width:
		return BoundsTooSmall
	case math.Abs(box.MidX()-ref.MidX()) > g.Thresholds.MaxCentreOffset,
		math.Abs(box.MidY()-ref.MidY()) > g.Thresholds.MaxCentreOffset:
		return BoundsOffCentre
	default:
		return BoundsAppropriate
	}
}

// RollAcceptable reports whether |roll| is under the limit.
func (g Gate) RollAcceptable(roll float64) bool {
	return math.Abs(roll) < g.Thresholds.MaxRoll
}

// YawAcceptable reports whether |yaw| is under the limit.
func (g Gate) YawAcceptable(yaw float64) bool {
	return math.Abs(yaw) < g.Thresholds.MaxYaw
}

// QualityAcceptable is inclusive at the threshold.
func (g Gate) QualityAcceptable(quality float64) bool {
	return quality >= g.Thresholds.MinQuality
}

// Reduce folds one observation into the gate state. It has no side effects
// and depends only on its arguments and the gate configuration.
func (g Gate) Reduce(state GateState, obs Observation) GateState {
	switch obs.Kind {
	case ObservedNoFace, ObservedDetectorError:
		return reset(StateNoFace)
	case ObservedMultipleFaces:
		return reset(StateMultipleFaces)
	case ObservedSceneUnstable:
		return reset(StateSceneUnstable)
	case ObservedGeometry:
		geo := obs.Geometry
		state.Detection = StateFaceFound
		state.Geometry = geo
		state.HasGeometry = true
		state.Flags.Bounds = g.Bounds(geo.BoundingBox)
		state.Flags.Roll = g.RollAcceptable(geo.Roll)
		state.Flags.Yaw = g.YawAcceptable(geo.Yaw)
		return state
	case ObservedQuality:
		state.Detection = StateFaceFound
		state.Flags.Quality = g.QualityAcceptable(obs.Quality.Quality)
		return state
	default:
		return state
	}
}

func reset(detection DetectionState) GateState {
	return GateState{Detection: detection, Flags: ValidityFlags{Bounds: BoundsUnknown}}
}
