package command

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/internal/observability"
	"github.com/signalsfoundry/skytrack/internal/simlink"
	"github.com/signalsfoundry/skytrack/model"
)

// ErrTargetNotFound reports a MoveToTarget whose id is absent from the
// accompanying observation. It is a normal outcome, not a loop failure: the
// target may simply have left the frame between dispatch and execution.
var ErrTargetNotFound = errors.New("command: target not found in observation")

// State is the executor's position in its command lifecycle.
type State int

const (
	Idle State = iota
	Executing
)

func (s State) String() string {
	if s == Executing {
		return "executing"
	}
	return "idle"
}

// Executor carries out parsed commands against the actuator. It is a
// two-state machine: each Execute call transitions Idle → Executing →
// Idle synchronously, issuing at most one motion command. Actuator
// failures are logged and absorbed; the frame loop never sees them.
type Executor struct {
	act     simlink.Actuator
	cfg     model.ControlConfig
	log     logging.Logger
	metrics *observability.LoopCollector

	mu      sync.Mutex
	state   State
	enabled bool
	dryRun  bool
}

// NewExecutor builds an executor with the master control switch on.
func NewExecutor(act simlink.Actuator, cfg model.ControlConfig, metrics *observability.LoopCollector, log logging.Logger) *Executor {
	if log == nil {
		log = logging.Noop()
	}
	return &Executor{act: act, cfg: cfg, log: log, metrics: metrics, enabled: true}
}

// SetEnabled flips the master control switch. While disabled, Execute is a
// no-op for every command.
func (e *Executor) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	e.log.Info(context.Background(), "flight command execution toggled",
		logging.Any("enabled", enabled))
}

// SetDryRun toggles logging-only mode: commands are parsed, resolved and
// logged with their computed setpoints, but no motion is issued. State
// queries still happen, so the logged setpoints are real.
func (e *Executor) SetDryRun(dryRun bool) {
	e.mu.Lock()
	e.dryRun = dryRun
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status reports the executor switches and the actuator link, for display.
func (e *Executor) Status() (enabled, connected bool) {
	e.mu.Lock()
	enabled = e.enabled
	e.mu.Unlock()
	return enabled, e.act.Connected()
}

// Execute performs one command against the observation it was derived from.
// A nil command, a disabled executor, or an absent target all leave the
// actuator untouched. The returned error is informational; the executor has
// already logged and recovered, and the caller is free to ignore it.
func (e *Executor) Execute(ctx context.Context, cmd model.Command, obs model.FrameObservation) error {
	if cmd == nil {
		return nil
	}
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		e.log.Debug(ctx, "command skipped, execution disabled",
			logging.String("action", cmd.Action()))
		return nil
	}
	e.state = Executing
	dryRun := e.dryRun
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = Idle
		e.mu.Unlock()
	}()

	var err error
	switch c := cmd.(type) {
	case model.MoveToTarget:
		err = e.moveToTarget(ctx, c, obs, dryRun)
	case model.MoveAway:
		err = e.moveAway(ctx, c, dryRun)
	case model.SetAltitude:
		err = e.setAltitude(ctx, c.AltitudeM, dryRun)
	case model.AdjustAltitude:
		err = e.adjustAltitude(ctx, c, dryRun)
	case model.Hover:
		err = e.hover(ctx, dryRun)
	default:
		e.log.Warn(ctx, "unknown command", logging.String("action", cmd.Action()))
		e.metrics.ObserveCommand(cmd.Action(), "unknown")
		return nil
	}

	if err != nil {
		result := "error"
		if errors.Is(err, ErrTargetNotFound) {
			result = "target_not_found"
		}
		e.metrics.ObserveCommand(cmd.Action(), result)
		e.log.Error(ctx, "command failed", logging.String("action", cmd.Action()), logging.Err(err))
		return err
	}
	e.metrics.ObserveCommand(cmd.Action(), "ok")
	return nil
}

// moveToTarget flies a bounded forward step toward the resolved target:
// its estimated distance minus the safety margin, capped at the maximum
// step, along the current yaw at the current altitude.
func (e *Executor) moveToTarget(ctx context.Context, cmd model.MoveToTarget, obs model.FrameObservation, dryRun bool) error {
	target, ok := obs.ByID(cmd.TargetID)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrTargetNotFound, cmd.TargetID)
	}

	// Fresh state every time: the platform keeps moving between commands.
	state, err := e.act.State(ctx)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}

	step := math.Min(target.DistanceM-e.cfg.SafetyMarginM, e.cfg.MaxForwardStepM)
	if step <= 0 {
		e.log.Info(ctx, "target inside safety margin, holding position",
			logging.Int("target", cmd.TargetID),
			logging.String("class", target.ClassName),
			logging.Float("distance_m", target.DistanceM))
		return nil
	}

	yaw := state.Orientation.Yaw
	dest := model.Vector3{
		X: state.Position.X + step*math.Cos(yaw),
		Y: state.Position.Y + step*math.Sin(yaw),
		Z: state.Position.Z,
	}
	e.log.Info(ctx, "approaching target",
		logging.Int("target", cmd.TargetID),
		logging.String("class", target.ClassName),
		logging.Float("distance_m", target.DistanceM),
		logging.Float("step_m", step))
	if dryRun {
		return nil
	}
	e.metrics.ObserveActuatorCall("move_to_position")
	return e.act.MoveToPosition(ctx, dest.X, dest.Y, dest.Z, e.cfg.ApproachVelocity)
}

// moveAway retreats a fixed distance opposite the current yaw. The matched
// label only tells us why; the displacement is the same for every target.
func (e *Executor) moveAway(ctx context.Context, cmd model.MoveAway, dryRun bool) error {
	state, err := e.act.State(ctx)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}

	yaw := state.Orientation.Yaw
	dest := model.Vector3{
		X: state.Position.X - e.cfg.RetreatM*math.Cos(yaw),
		Y: state.Position.Y - e.cfg.RetreatM*math.Sin(yaw),
		Z: state.Position.Z,
	}
	e.log.Info(ctx, "retreating from target",
		logging.String("label", cmd.TargetLabel),
		logging.Float("retreat_m", e.cfg.RetreatM))
	if dryRun {
		return nil
	}
	e.metrics.ObserveActuatorCall("move_to_position")
	return e.act.MoveToPosition(ctx, dest.X, dest.Y, dest.Z, e.cfg.ApproachVelocity)
}

func (e *Executor) setAltitude(ctx context.Context, altitude float64, dryRun bool) error {
	state, err := e.act.State(ctx)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}

	clamped := e.clampAltitude(altitude)
	e.log.Info(ctx, "holding altitude",
		logging.Float("requested_m", altitude),
		logging.Float("altitude_m", clamped))
	if dryRun {
		return nil
	}
	e.metrics.ObserveActuatorCall("move_to_position")
	return e.act.MoveToPosition(ctx, state.Position.X, state.Position.Y, clamped, e.cfg.AltitudeVelocity)
}

func (e *Executor) adjustAltitude(ctx context.Context, cmd model.AdjustAltitude, dryRun bool) error {
	state, err := e.act.State(ctx)
	if err != nil {
		return fmt.Errorf("query state: %w", err)
	}

	current := state.Position.Z
	target := current + cmd.DeltaM
	if cmd.Direction == model.Descend {
		target = current - cmd.DeltaM
	}
	clamped := e.clampAltitude(target)
	e.log.Info(ctx, "adjusting altitude",
		logging.String("direction", cmd.Direction.String()),
		logging.Float("delta_m", cmd.DeltaM),
		logging.Float("from_m", current),
		logging.Float("to_m", clamped))
	if dryRun {
		return nil
	}
	e.metrics.ObserveActuatorCall("move_to_position")
	return e.act.MoveToPosition(ctx, state.Position.X, state.Position.Y, clamped, e.cfg.AltitudeVelocity)
}

func (e *Executor) hover(ctx context.Context, dryRun bool) error {
	e.log.Info(ctx, "hovering")
	if dryRun {
		return nil
	}
	e.metrics.ObserveActuatorCall("hover")
	return e.act.Hover(ctx)
}

func (e *Executor) clampAltitude(altitude float64) float64 {
	return math.Max(e.cfg.MinAltitudeM, math.Min(altitude, e.cfg.MaxAltitudeM))
}
