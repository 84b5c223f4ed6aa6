package model

import "time"

// Frame is a single decoded image pulled from a frame source. The pixel
// payload is opaque to this module; it is handed to the external
// detector/tracker and to the display as-is.
type Frame struct {
	Index     int
	Width     int
	Height    int
	Data      []byte
	Timestamp time.Time
}

// Detection is one raw detector/tracker output row. TrackID is the persistent
// identifier assigned by the tracker; it is 0 while the detection is still
// unconfirmed (confirmed track ids are always positive).
type Detection struct {
	ClassID    int
	Confidence float64
	X1, Y1     int
	X2, Y2     int
	TrackID    int
}

// Tracked reports whether the tracker has confirmed this detection.
func (d Detection) Tracked() bool { return d.TrackID > 0 }

// TrackedObject is one confirmed object in the current frame, with its class
// resolved and ground distance estimated. The JSON tags match the snapshot
// file written on every advisory dispatch.
type TrackedObject struct {
	ID         int     `json:"id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"conf"`
	BBox       [4]int  `json:"bbox"` // x1, y1, x2, y2
	DistanceM  float64 `json:"distance"`
}

// KnownDistance reports whether the distance estimate is usable. A zero
// distance is the "unknown" sentinel produced for degenerate boxes, not a
// real near-zero range.
func (o TrackedObject) KnownDistance() bool { return o.DistanceM > 0 }

// FrameObservation is the full structured object list for one processed
// frame. It is rebuilt wholesale every frame; no history is kept beyond the
// snapshot an advisory request carries.
type FrameObservation []TrackedObject

// Clone returns a copy safe to hand to another goroutine.
func (fo FrameObservation) Clone() FrameObservation {
	if fo == nil {
		return nil
	}
	out := make(FrameObservation, len(fo))
	copy(out, fo)
	return out
}

// ByID returns the object with the given track id, if present.
func (fo FrameObservation) ByID(id int) (TrackedObject, bool) {
	for _, o := range fo {
		if o.ID == id {
			return o, true
		}
	}
	return TrackedObject{}, false
}
