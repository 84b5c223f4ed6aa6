package core

import "github.com/signalsfoundry/skytrack/model"

// Distance clamp band in metres. Estimates outside it are not meaningful for
// a monocular height model.
const (
	MinDistanceM = 0.1
	MaxDistanceM = 1000.0
)

// DistanceEstimator converts a bounding-box pixel height into an estimated
// ground distance using a per-class average real-world height:
//
//	distance = height * focalScale / bboxHeight
//
// The focal scale folds camera intrinsics into one constant, so the estimate
// is a ranking signal rather than a calibrated range.
type DistanceEstimator struct {
	heights       map[string]float64
	defaultHeight float64
	focalScale    float64
}

// NewDistanceEstimator builds an estimator from configuration. The heights
// map is copied so later config mutation cannot race the frame loop.
func NewDistanceEstimator(cfg model.DistanceConfig) *DistanceEstimator {
	heights := make(map[string]float64, len(cfg.Heights))
	for name, h := range cfg.Heights {
		heights[name] = h
	}
	return &DistanceEstimator{
		heights:       heights,
		defaultHeight: cfg.DefaultHeight,
		focalScale:    cfg.FocalScale,
	}
}

// Estimate returns the distance in metres for a box of the given pixel
// height, clamped to [MinDistanceM, MaxDistanceM]. A non-positive height
// yields 0, the "unknown" sentinel every downstream consumer understands.
func (e *DistanceEstimator) Estimate(className string, bboxHeight int) float64 {
	if bboxHeight <= 0 {
		return 0.0
	}
	height, ok := e.heights[className]
	if !ok {
		height = e.defaultHeight
	}
	d := height * e.focalScale / float64(bboxHeight)
	if d < MinDistanceM {
		return MinDistanceM
	}
	if d > MaxDistanceM {
		return MaxDistanceM
	}
	return d
}
