package input

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/internal/observability"
	"github.com/signalsfoundry/skytrack/internal/simlink"
	"github.com/signalsfoundry/skytrack/model"
)

// Controller keeps the set of held keys and drives the actuator from it.
// Press and Release mutate the key state; Tick, called from a fixed-rate
// loop, reissues short velocity and yaw-rate commands for every held
// directional key. Command duration is twice the tick interval so
// consecutive commands overlap instead of leaving motion gaps.
type Controller struct {
	act      simlink.Actuator
	bindings map[Key]Action
	log      logging.Logger
	metrics  *observability.LoopCollector

	rotationSpeed float64 // deg/s
	verticalSpeed float64 // m/s
	defaultSpeed  float64
	minSpeed      float64
	maxSpeed      float64
	duration      time.Duration

	mu      sync.Mutex
	enabled bool
	speed   float64
	pressed map[Key]struct{}
}

// NewController builds a controller from the input configuration. It starts
// disabled; the session enables it once the actuator link is up.
func NewController(act simlink.Actuator, cfg model.InputConfig, metrics *observability.LoopCollector, log logging.Logger) *Controller {
	if log == nil {
		log = logging.Noop()
	}
	tick := time.Second / time.Duration(cfg.TickHz)
	return &Controller{
		act:           act,
		bindings:      DefaultBindings(),
		log:           log,
		metrics:       metrics,
		rotationSpeed: cfg.RotationSpeed,
		verticalSpeed: cfg.VerticalSpeed,
		defaultSpeed:  cfg.Speed,
		minSpeed:      cfg.MinSpeed,
		maxSpeed:      cfg.MaxSpeed,
		duration:      2 * tick,
		speed:         cfg.Speed,
		pressed:       make(map[Key]struct{}),
	}
}

// SetEnabled turns key handling on or off. Disabling also clears the held
// set, so a key held across a disable never keeps the platform moving.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	if !enabled {
		c.pressed = make(map[Key]struct{})
	}
	c.mu.Unlock()
	c.log.Info(context.Background(), "keyboard control toggled", logging.Any("enabled", enabled))
}

// Enabled reports whether key events are being handled.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Speed returns the current translation speed in m/s.
func (c *Controller) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed sets the translation speed, clamped to the configured band.
func (c *Controller) SetSpeed(speed float64) {
	c.mu.Lock()
	c.speed = c.clampSpeed(speed)
	c.mu.Unlock()
}

// ResetSpeed restores the configured default speed.
func (c *Controller) ResetSpeed() {
	c.mu.Lock()
	c.speed = c.defaultSpeed
	c.mu.Unlock()
}

// Press records a key-down event. Discrete actions execute immediately and
// exactly once; directional actions also fire once here for responsiveness,
// then repeat on each tick while held.
func (c *Controller) Press(ctx context.Context, key Key) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.pressed[key] = struct{}{}
	action, bound := c.bindings[key]
	c.mu.Unlock()

	if !bound || !c.act.Connected() {
		return
	}
	c.execute(ctx, action)
}

// Release records a key-up event.
func (c *Controller) Release(key Key) {
	c.mu.Lock()
	delete(c.pressed, key)
	c.mu.Unlock()
}

// HeldKeys returns the number of currently held keys, for display.
func (c *Controller) HeldKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pressed)
}

// Tick reissues the continuous actions for every held key. Wired as a
// timectrl listener on the input loop.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	if !c.enabled || len(c.pressed) == 0 {
		c.mu.Unlock()
		return
	}
	actions := make([]Action, 0, len(c.pressed))
	for key := range c.pressed {
		if action, ok := c.bindings[key]; ok && action.Continuous() {
			actions = append(actions, action)
		}
	}
	c.mu.Unlock()

	if len(actions) == 0 || !c.act.Connected() {
		return
	}
	for _, action := range actions {
		c.execute(ctx, action)
	}
}

func (c *Controller) execute(ctx context.Context, action Action) {
	var err error
	switch action {
	case ActionForward:
		err = c.moveBy(ctx, c.Speed(), 0, 0)
	case ActionBackward:
		err = c.moveBy(ctx, -c.Speed(), 0, 0)
	case ActionLeft:
		err = c.moveBy(ctx, 0, c.Speed(), 0)
	case ActionRight:
		err = c.moveBy(ctx, 0, -c.Speed(), 0)
	case ActionUp:
		err = c.moveBy(ctx, 0, 0, c.verticalSpeed)
	case ActionDown:
		err = c.moveBy(ctx, 0, 0, -c.verticalSpeed)
	case ActionRotateLeft:
		c.metrics.ObserveActuatorCall("rotate_by_yaw_rate")
		err = c.act.RotateByYawRate(ctx, -c.rotationSpeed, c.duration)
	case ActionRotateRight:
		c.metrics.ObserveActuatorCall("rotate_by_yaw_rate")
		err = c.act.RotateByYawRate(ctx, c.rotationSpeed, c.duration)
	case ActionHover:
		c.metrics.ObserveActuatorCall("hover")
		err = c.act.Hover(ctx)
	case ActionSpeedUp:
		c.mu.Lock()
		c.speed = c.clampSpeed(c.speed + 1)
		speed := c.speed
		c.mu.Unlock()
		c.log.Info(ctx, "speed increased", logging.Float("speed", speed))
	case ActionSpeedDown:
		c.mu.Lock()
		c.speed = c.clampSpeed(c.speed - 1)
		speed := c.speed
		c.mu.Unlock()
		c.log.Info(ctx, "speed decreased", logging.Float("speed", speed))
	case ActionReset:
		c.metrics.ObserveActuatorCall("reset")
		err = c.act.Reset(ctx)
	}
	if err != nil {
		c.log.Error(ctx, "key action failed",
			logging.String("action", string(action)), logging.Err(err))
	}
}

func (c *Controller) moveBy(ctx context.Context, vx, vy, vz float64) error {
	c.metrics.ObserveActuatorCall("move_by_velocity")
	return c.act.MoveByVelocity(ctx, vx, vy, vz, c.duration)
}

func (c *Controller) clampSpeed(speed float64) float64 {
	if speed < c.minSpeed {
		return c.minSpeed
	}
	if speed > c.maxSpeed {
		return c.maxSpeed
	}
	return speed
}
