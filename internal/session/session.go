// Package session owns the perception-to-command closed loop: it paces
// frame acquisition, builds per-frame observations, dispatches advisories
// on cadence, and sequences advisory results back through the command
// parser and executor on the frame-loop context. One session drives one
// source at a time; file playback and the live feed are mutually exclusive.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/skytrack/core"
	"github.com/signalsfoundry/skytrack/internal/advisor"
	"github.com/signalsfoundry/skytrack/internal/command"
	"github.com/signalsfoundry/skytrack/internal/input"
	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/internal/observability"
	"github.com/signalsfoundry/skytrack/internal/source"
	"github.com/signalsfoundry/skytrack/model"
	"github.com/signalsfoundry/skytrack/timectrl"
)

// ErrBusy reports a Play call while a source is already active.
var ErrBusy = errors.New("session: a source is already playing")

// ErrNotPlaying reports Pause or Resume outside an active playback.
var ErrNotPlaying = errors.New("session: no source is playing")

// Mode selects the frame source kind.
type Mode int

const (
	ModeFile Mode = iota + 1
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeLive:
		return "live"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// State is the session lifecycle state.
type State int

const (
	Idle State = iota
	PlayingFile
	PlayingLive
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PlayingFile:
		return "playing_file"
	case PlayingLive:
		return "playing_live"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Link is the actuator connection the session manages across start/stop.
// *simlink.Client satisfies it.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	Connected() bool
}

// Hooks are optional display callbacks invoked from the frame-loop
// goroutine. They must return quickly; a slow hook stalls frame pacing.
type Hooks struct {
	OnFrame    func(frame model.Frame, obs model.FrameObservation)
	OnAdvisory func(result advisor.Result)
}

// Session wires the frame loop to its collaborators and runs the input
// loop beside it.
type Session struct {
	detector   core.Detector
	builder    *core.ObservationBuilder
	dispatcher *advisor.Dispatcher
	executor   *command.Executor
	input      *input.Controller
	link       Link
	hooks      Hooks
	log        logging.Logger
	metrics    *observability.LoopCollector

	frameInterval time.Duration
	inputInterval time.Duration

	mu        sync.Mutex
	state     State
	starting  bool
	mode      Mode
	src       source.Source
	runLog    logging.Logger
	cancel    context.CancelFunc
	frameLoop *timectrl.Loop
	inputLoop *timectrl.Loop
	frameDone <-chan struct{}
	inputDone <-chan struct{}
}

// Config carries the session's collaborators. All fields except Hooks are
// required.
type Config struct {
	Detector   core.Detector
	Builder    *core.ObservationBuilder
	Dispatcher *advisor.Dispatcher
	Executor   *command.Executor
	Input      *input.Controller
	Link       Link
	Hooks      Hooks
	Metrics    *observability.LoopCollector
	Log        logging.Logger

	FrameRateHz int
	InputTickHz int
}

// New builds an idle session.
func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	return &Session{
		detector:      cfg.Detector,
		builder:       cfg.Builder,
		dispatcher:    cfg.Dispatcher,
		executor:      cfg.Executor,
		input:         cfg.Input,
		link:          cfg.Link,
		hooks:         cfg.Hooks,
		log:           log,
		metrics:       cfg.Metrics,
		frameInterval: time.Second / time.Duration(cfg.FrameRateHz),
		inputInterval: time.Second / time.Duration(cfg.InputTickHz),
		state:         Idle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Play starts the source and the two loops. Live mode connects the actuator
// link first and enables keyboard control; file mode leaves the actuator
// untouched. Only one source plays at a time.
func (s *Session) Play(ctx context.Context, mode Mode, src source.Source) error {
	// Reserve the session before any side effect, so a concurrent Play
	// gets ErrBusy instead of orphaning this one's loops.
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return fmt.Errorf("%w (starting)", ErrBusy)
	}
	switch s.state {
	case PlayingFile, PlayingLive, Paused:
		s.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrBusy, s.state)
	}
	s.starting = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}

	if mode == ModeLive {
		if err := s.link.Connect(ctx); err != nil {
			release()
			return fmt.Errorf("connect actuator link: %w", err)
		}
	}
	if err := src.Start(); err != nil {
		if mode == ModeLive {
			s.link.Disconnect(ctx)
		}
		release()
		return fmt.Errorf("start %s source: %w", mode, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	loopCtx, runLog := logging.WithSessionLogger(loopCtx, s.log)

	s.mu.Lock()
	s.starting = false
	s.mode = mode
	s.src = src
	s.runLog = runLog
	s.cancel = cancel
	if mode == ModeLive {
		s.state = PlayingLive
	} else {
		s.state = PlayingFile
	}

	s.frameLoop = timectrl.NewLoop(s.frameInterval)
	s.frameLoop.AddListener(func(time.Time) { s.onFrameTick(loopCtx) })
	s.frameDone = s.frameLoop.Start(loopCtx)

	s.inputLoop = timectrl.NewLoop(s.inputInterval)
	s.inputLoop.AddListener(func(time.Time) { s.input.Tick(loopCtx) })
	s.inputDone = s.inputLoop.Start(loopCtx)
	s.mu.Unlock()

	if mode == ModeLive {
		s.input.SetEnabled(true)
	}

	runLog.Info(loopCtx, "session started",
		logging.String("mode", mode.String()),
		logging.Any("frame_interval", s.frameLoop.Interval()))
	return nil
}

// sessionLog returns the logger bound to the running session's id, or the
// base logger outside a run.
func (s *Session) sessionLog() logging.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runLog != nil {
		return s.runLog
	}
	return s.log
}

// Pause suspends frame acquisition without releasing the source or the
// actuator link. The input loop keeps running.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case PlayingFile, PlayingLive:
		s.state = Paused
		return nil
	case Paused:
		return nil
	default:
		return ErrNotPlaying
	}
}

// Resume continues a paused playback.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return ErrNotPlaying
	}
	if s.mode == ModeLive {
		s.state = PlayingLive
	} else {
		s.state = PlayingFile
	}
	return nil
}

// Stop tears the session down: both loops stop, any in-flight advisory is
// abandoned, keyboard control is disabled, the source is released and the
// actuator link disconnected. Undrained advisory results are discarded so
// nothing carries over into a later Play.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Idle || s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	cancel := s.cancel
	src := s.src
	mode := s.mode
	runLog := s.runLog
	s.runLog = nil
	frameLoop, inputLoop := s.frameLoop, s.inputLoop
	frameDone, inputDone := s.frameDone, s.inputDone
	s.mu.Unlock()

	cancel()
	frameLoop.Stop()
	inputLoop.Stop()
	<-frameDone
	<-inputDone

	s.input.SetEnabled(false)
	src.Stop()

	// Discard any result delivered before the loop noticed the stop.
	for {
		select {
		case <-s.dispatcher.Results():
			continue
		default:
		}
		break
	}

	if mode == ModeLive {
		s.link.Disconnect(context.Background())
	}
	runLog.Info(context.Background(), "session stopped", logging.String("mode", mode.String()))
}

// onFrameTick runs one frame cycle: acquire, detect, build, display,
// maybe-dispatch, then drain at most one advisory result into the parser
// and executor.
func (s *Session) onFrameTick(ctx context.Context) {
	s.mu.Lock()
	state := s.state
	src := s.src
	s.mu.Unlock()
	if state != PlayingFile && state != PlayingLive {
		return
	}
	log := s.sessionLog()

	frame, err := src.Next()
	switch {
	case errors.Is(err, source.ErrEndOfStream):
		log.Info(ctx, "source exhausted, stopping session")
		go s.Stop()
		return
	case errors.Is(err, source.ErrNotRunning):
		return
	case err != nil:
		log.Error(ctx, "frame acquisition failed", logging.Err(err))
		go s.Stop()
		return
	}

	obs := s.processFrame(ctx, frame)
	s.dispatcher.MaybeDispatch(ctx, frame.Index, obs)
	s.drainAdvisory(ctx)
}

func (s *Session) processFrame(ctx context.Context, frame model.Frame) model.FrameObservation {
	log := s.sessionLog()
	dets, err := s.detector.Detect(ctx, frame)
	if err != nil {
		log.Warn(ctx, "detector failed for frame",
			logging.Int("frame", frame.Index), logging.Err(err))
		return nil
	}
	obs, err := s.builder.Build(dets)
	if err != nil {
		log.Error(ctx, "observation build failed",
			logging.Int("frame", frame.Index), logging.Err(err))
		return nil
	}
	s.metrics.ObserveFrame(len(obs))
	if s.hooks.OnFrame != nil {
		s.hooks.OnFrame(frame, obs)
	}
	return obs
}

// drainAdvisory delivers at most one completed advisory per tick, so
// command execution is always sequenced on the frame-loop context against
// the snapshot its advisory was computed from.
func (s *Session) drainAdvisory(ctx context.Context) {
	log := s.sessionLog()
	select {
	case result := <-s.dispatcher.Results():
		log.Info(ctx, "advisory delivered",
			logging.Int("frame", result.FrameIndex),
			logging.Any("elapsed", result.Elapsed))
		if s.hooks.OnAdvisory != nil {
			s.hooks.OnAdvisory(result)
		}
		cmd := command.Parse(result.Text)
		if cmd == nil {
			log.Debug(ctx, "advisory contained no command")
			return
		}
		// Execute already logged any failure; nothing to escalate here.
		_ = s.executor.Execute(ctx, cmd, result.Observation)
	default:
	}
}
