package model

import "fmt"

// Command is a structured flight instruction parsed from one advisory. A nil
// Command means the advisory contained no actionable instruction. Commands
// are transient: executed at most once, never queued or retried.
type Command interface {
	// Action names the command kind, used for logging and metrics labels.
	Action() string
}

// MoveToTarget flies toward the tracked object with the given id.
type MoveToTarget struct {
	TargetID int
}

func (MoveToTarget) Action() string { return "move_to_target" }

// MoveAway retreats from the named target. The label is advisory only; the
// retreat itself is a fixed-magnitude displacement.
type MoveAway struct {
	TargetLabel string
}

func (MoveAway) Action() string { return "move_away" }

// SetAltitude holds a specific altitude in metres.
type SetAltitude struct {
	AltitudeM float64
}

func (SetAltitude) Action() string { return "set_altitude" }

// VerticalDirection selects the sign of an altitude adjustment.
type VerticalDirection int

const (
	Ascend VerticalDirection = iota + 1
	Descend
)

func (d VerticalDirection) String() string {
	switch d {
	case Ascend:
		return "ascend"
	case Descend:
		return "descend"
	default:
		return fmt.Sprintf("VerticalDirection(%d)", int(d))
	}
}

// AdjustAltitude moves up or down by a delta, clamped to the safe band
// before being issued.
type AdjustAltitude struct {
	Direction VerticalDirection
	DeltaM    float64
}

func (AdjustAltitude) Action() string { return "adjust_altitude" }

// Hover holds the current position.
type Hover struct{}

func (Hover) Action() string { return "hover" }
