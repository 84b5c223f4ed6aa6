// Package source provides the pull-based frame acquisition interface shared
// by recorded-video playback and the live simulated camera. Exactly one
// source is active at a time; switching requires a full Stop of the previous
// source first, which the session layer enforces.
package source

import (
	"errors"

	"github.com/signalsfoundry/skytrack/model"
)

var (
	// ErrEndOfStream reports that the source has no more frames. It is the
	// normal terminal condition for a recorded file, not a failure.
	ErrEndOfStream = errors.New("source: end of stream")

	// ErrNotRunning reports that Next was called before Start or after Stop.
	ErrNotRunning = errors.New("source: not running")

	// ErrUnavailable reports that the source could not be opened or its
	// backing collaborator is not connected. Fatal to starting a session.
	ErrUnavailable = errors.New("source: unavailable")
)

// Source is the uniform frame-acquisition contract. Start and Stop are
// idempotent. Next returns ErrEndOfStream when exhausted and ErrNotRunning
// once stopped.
type Source interface {
	Start() error
	Next() (model.Frame, error)
	Stop()
}
