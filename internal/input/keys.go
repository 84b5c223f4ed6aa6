// Package input translates held keyboard keys into continuous velocity and
// yaw-rate commands on a fixed tick, independently of frame processing.
// Discrete actions (speed trim, reset, hover) fire once on press.
package input

// Key identifies a physical key independent of any UI toolkit. The frontend
// is responsible for mapping its own key codes onto these before calling the
// controller.
type Key int

const (
	KeyW Key = iota + 1
	KeyS
	KeyA
	KeyD
	KeyQ
	KeyE
	KeyPageUp
	KeyPageDown
	KeySpace
	KeyPlus
	KeyMinus
	KeyR
)

// Action is a named control intent bound to a key.
type Action string

const (
	ActionForward     Action = "forward"
	ActionBackward    Action = "backward"
	ActionLeft        Action = "left"
	ActionRight       Action = "right"
	ActionUp          Action = "up"
	ActionDown        Action = "down"
	ActionRotateLeft  Action = "rotate_left"
	ActionRotateRight Action = "rotate_right"
	ActionHover       Action = "hover"
	ActionSpeedUp     Action = "speed_up"
	ActionSpeedDown   Action = "speed_down"
	ActionReset       Action = "reset"
)

// Continuous reports whether the action repeats on every tick while its key
// is held, as opposed to firing once on press.
func (a Action) Continuous() bool {
	switch a {
	case ActionForward, ActionBackward, ActionLeft, ActionRight,
		ActionUp, ActionDown, ActionRotateLeft, ActionRotateRight:
		return true
	}
	return false
}

// DefaultBindings is the stock key map.
func DefaultBindings() map[Key]Action {
	return map[Key]Action{
		KeyW:        ActionForward,
		KeyS:        ActionBackward,
		KeyA:        ActionLeft,
		KeyD:        ActionRight,
		KeyQ:        ActionRotateLeft,
		KeyE:        ActionRotateRight,
		KeyPageUp:   ActionUp,
		KeyPageDown: ActionDown,
		KeySpace:    ActionHover,
		KeyPlus:     ActionSpeedUp,
		KeyMinus:    ActionSpeedDown,
		KeyR:        ActionReset,
	}
}
