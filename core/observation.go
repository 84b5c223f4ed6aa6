// Package core turns raw detector/tracker output into the structured
// per-frame observation the advisory and control layers consume.
package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/skytrack/model"
)

// Detector is the external detection/tracking collaborator. It is a black
// box to this module: given a frame it yields zero or more rows, some of
// which carry a persistent track id.
type Detector interface {
	Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error)
	// NumClasses reports the size of the detector's class vocabulary, used
	// once at startup to validate it against the configured class table.
	NumClasses() int
}

// ObservationBuilder resolves detector rows against the class table and
// attaches distance estimates. It is stateless across frames.
type ObservationBuilder struct {
	classes  []string
	estimate *DistanceEstimator
}

// NewObservationBuilder constructs a builder over the configured class
// vocabulary.
func NewObservationBuilder(classes []string, est *DistanceEstimator) *ObservationBuilder {
	return &ObservationBuilder{classes: classes, estimate: est}
}

// CheckDetector validates at startup that every class id the detector can
// emit resolves in the class table. A mismatched vocabulary is a
// configuration error and must fail the session before the first frame.
func (b *ObservationBuilder) CheckDetector(d Detector) error {
	if n := d.NumClasses(); n > len(b.classes) {
		return fmt.Errorf("detector emits %d classes but class table has %d names", n, len(b.classes))
	}
	return nil
}

// Build converts one frame's detector rows into a FrameObservation.
// Rows without a track id are dropped: unconfirmed detections are not
// tracked objects. Input order is preserved so output is deterministic for
// a given detector result.
func (b *ObservationBuilder) Build(dets []model.Detection) (model.FrameObservation, error) {
	obs := make(model.FrameObservation, 0, len(dets))
	for _, det := range dets {
		if !det.Tracked() {
			continue
		}
		if det.ClassID < 0 || det.ClassID >= len(b.classes) {
			// Guaranteed not to happen after CheckDetector; reaching here
			// means the running detector disagrees with the validated table.
			return nil, fmt.Errorf("class id %d out of range [0, %d)", det.ClassID, len(b.classes))
		}
		className := b.classes[det.ClassID]
		obs = append(obs, model.TrackedObject{
			ID:         det.TrackID,
			ClassName:  className,
			Confidence: det.Confidence,
			BBox:       [4]int{det.X1, det.Y1, det.X2, det.Y2},
			DistanceM:  b.estimate.Estimate(className, det.Y2-det.Y1),
		})
	}
	return obs, nil
}
