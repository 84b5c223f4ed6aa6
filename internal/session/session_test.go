package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/skytrack/core"
	"github.com/signalsfoundry/skytrack/internal/advisor"
	"github.com/signalsfoundry/skytrack/internal/command"
	"github.com/signalsfoundry/skytrack/internal/input"
	"github.com/signalsfoundry/skytrack/internal/source"
	"github.com/signalsfoundry/skytrack/model"
)

// scriptedSource serves a fixed number of frames, then reports end of
// stream the way FileSource does.
type scriptedSource struct {
	mu         sync.Mutex
	frames     int
	startErr   error
	startDelay time.Duration
	running    bool
	served     int
	stopped    bool
}

func (s *scriptedSource) Start() error {
	if s.startDelay > 0 {
		time.Sleep(s.startDelay)
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) Next() (model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return model.Frame{}, source.ErrNotRunning
	}
	if s.served >= s.frames {
		s.running = false
		return model.Frame{}, source.ErrEndOfStream
	}
	s.served++
	return model.Frame{Index: s.served, Width: 640, Height: 480}, nil
}

func (s *scriptedSource) Stop() {
	s.mu.Lock()
	s.running = false
	s.stopped = true
	s.mu.Unlock()
}

func (s *scriptedSource) servedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

func (s *scriptedSource) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fixedDetector reports the same tracked bus on every frame.
type fixedDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *fixedDetector) Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return []model.Detection{
		{ClassID: 1, Confidence: 0.91, X1: 100, Y1: 0, X2: 200, Y2: 100, TrackID: 3},
	}, nil
}

func (d *fixedDetector) NumClasses() int { return 2 }

type fakeLink struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	disconnects   int
	actuatorCalls []string
	moves         [][4]float64
}

func (l *fakeLink) Connect(ctx context.Context) error {
	if l.connectErr != nil {
		return l.connectErr
	}
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Disconnect(ctx context.Context) {
	l.mu.Lock()
	l.connected = false
	l.disconnects++
	l.mu.Unlock()
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) State(ctx context.Context) (model.DroneState, error) {
	l.record("state")
	return model.DroneState{Position: model.Vector3{Z: 60}}, nil
}

func (l *fakeLink) MoveToPosition(ctx context.Context, x, y, z, velocity float64) error {
	l.mu.Lock()
	l.actuatorCalls = append(l.actuatorCalls, "move_to_position")
	l.moves = append(l.moves, [4]float64{x, y, z, velocity})
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) MoveByVelocity(ctx context.Context, vx, vy, vz float64, duration time.Duration) error {
	l.record("move_by_velocity")
	return nil
}

func (l *fakeLink) RotateByYawRate(ctx context.Context, rate float64, duration time.Duration) error {
	l.record("rotate_by_yaw_rate")
	return nil
}

func (l *fakeLink) Hover(ctx context.Context) error {
	l.record("hover")
	return nil
}

func (l *fakeLink) Reset(ctx context.Context) error {
	l.record("reset")
	return nil
}

func (l *fakeLink) record(kind string) {
	l.mu.Lock()
	l.actuatorCalls = append(l.actuatorCalls, kind)
	l.mu.Unlock()
}

func (l *fakeLink) moveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.moves)
}

type scriptedAnalyzer struct {
	text string
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, obs model.FrameObservation) string {
	return a.text
}

func testControlConfig() model.ControlConfig {
	return model.ControlConfig{
		SafetyMarginM:    5,
		MaxForwardStepM:  50,
		RetreatM:         20,
		ApproachVelocity: 3,
		AltitudeVelocity: 2,
		MinAltitudeM:     10,
		MaxAltitudeM:     150,
	}
}

func testInputConfig() model.InputConfig {
	return model.InputConfig{
		Speed: 5, MinSpeed: 1, MaxSpeed: 20,
		RotationSpeed: 30, VerticalSpeed: 2, TickHz: 100,
	}
}

// newTestSession wires a session at a high frame rate so tests finish
// quickly. every controls the advisory cadence.
func newTestSession(t *testing.T, link *fakeLink, analyzer advisor.Analyzer, every int, hooks Hooks) *Session {
	t.Helper()
	est := core.NewDistanceEstimator(model.DistanceConfig{
		Heights:       map[string]float64{"car": 1.5, "bus": 3.0},
		DefaultHeight: 1.0,
		FocalScale:    1000,
	})
	builder := core.NewObservationBuilder([]string{"car", "bus"}, est)
	dispatcher := advisor.NewDispatcher(analyzer, every, "", nil, nil)
	executor := command.NewExecutor(link, testControlConfig(), nil, nil)
	controller := input.NewController(link, testInputConfig(), nil, nil)

	return New(Config{
		Detector:    &fixedDetector{},
		Builder:     builder,
		Dispatcher:  dispatcher,
		Executor:    executor,
		Input:       controller,
		Link:        link,
		Hooks:       hooks,
		FrameRateHz: 200,
		InputTickHz: 100,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestPlayFile_RunsToExhaustionAndStops(t *testing.T) {
	var mu sync.Mutex
	var observed []model.FrameObservation
	hooks := Hooks{OnFrame: func(frame model.Frame, obs model.FrameObservation) {
		mu.Lock()
		observed = append(observed, obs)
		mu.Unlock()
	}}

	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, hooks)
	src := &scriptedSource{frames: 5}

	if err := s.Play(context.Background(), ModeFile, src); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if s.State() != PlayingFile {
		t.Fatalf("state = %v, want playing_file", s.State())
	}

	waitFor(t, "source release", func() bool { return src.wasStopped() })
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if src.servedFrames() != 5 {
		t.Fatalf("served = %d, want 5", src.servedFrames())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 5 {
		t.Fatalf("frame hook calls = %d, want 5", len(observed))
	}
	// A 100 px bus box at focal scale 1000 reads as 30 m.
	if o := observed[0]; len(o) != 1 || o[0].ID != 3 || o[0].DistanceM != 30 {
		t.Fatalf("observation = %+v", o)
	}
	// File mode never touches the actuator link.
	if link.disconnects != 0 || link.Connected() {
		t.Fatalf("file playback touched the link: %+v", link)
	}
}

func TestPlay_MutualExclusion(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})

	if err := s.Play(context.Background(), ModeFile, &scriptedSource{frames: 100000}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer s.Stop()

	err := s.Play(context.Background(), ModeLive, &scriptedSource{frames: 1})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second Play err = %v, want ErrBusy", err)
	}
}

// Two Play calls racing against an idle session must resolve to exactly
// one winner even while the loser's source is still starting up.
func TestPlay_ConcurrentCallsSingleWinner(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})
	defer s.Stop()

	srcs := [2]*scriptedSource{
		{frames: 100000, startDelay: 100 * time.Millisecond},
		{frames: 100000, startDelay: 100 * time.Millisecond},
	}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range srcs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Play(context.Background(), ModeFile, srcs[i])
		}(i)
	}
	wg.Wait()

	var started, busy int
	for _, err := range errs {
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrBusy):
			busy++
		default:
			t.Fatalf("unexpected Play err: %v", err)
		}
	}
	if started != 1 || busy != 1 {
		t.Fatalf("started=%d busy=%d, want exactly one of each (errs=%v)", started, busy, errs)
	}
	// The loser's source must never have been consumed from.
	if srcs[0].servedFrames() > 0 && srcs[1].servedFrames() > 0 {
		t.Fatalf("both sources consumed: %d and %d frames",
			srcs[0].servedFrames(), srcs[1].servedFrames())
	}
}

func TestPlay_SourceUnavailable(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})

	src := &scriptedSource{frames: 1, startErr: source.ErrUnavailable}
	err := s.Play(context.Background(), ModeLive, src)
	if !errors.Is(err, source.ErrUnavailable) {
		t.Fatalf("Play err = %v, want ErrUnavailable", err)
	}
	if s.State() != Idle {
		t.Fatalf("state = %v, want idle", s.State())
	}
	// The link connected for live mode must be released again.
	if link.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", link.disconnects)
	}

	// A failed start must not leave the session reserved.
	if err := s.Play(context.Background(), ModeFile, &scriptedSource{frames: 1}); err != nil {
		t.Fatalf("Play after failed start: %v", err)
	}
	s.Stop()
}

func TestPauseResume(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})
	src := &scriptedSource{frames: 1000000}

	if err := s.Play(context.Background(), ModeFile, src); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first frames", func() bool { return src.servedFrames() > 0 })
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if s.State() != Paused {
		t.Fatalf("state = %v, want paused", s.State())
	}

	served := src.servedFrames()
	time.Sleep(50 * time.Millisecond)
	if src.servedFrames() != served {
		t.Fatalf("frames consumed while paused: %d -> %d", served, src.servedFrames())
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, "resumed frames", func() bool { return src.servedFrames() > served })
}

func TestPauseOutsidePlayback(t *testing.T) {
	s := newTestSession(t, &fakeLink{}, &scriptedAnalyzer{text: "x"}, 1000, Hooks{})
	if err := s.Pause(); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("Pause on idle = %v, want ErrNotPlaying", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("Resume on idle = %v, want ErrNotPlaying", err)
	}
}

func TestAdvisoryRoundTrip_CommandExecuted(t *testing.T) {
	var mu sync.Mutex
	var advisories []advisor.Result
	hooks := Hooks{OnAdvisory: func(r advisor.Result) {
		mu.Lock()
		advisories = append(advisories, r)
		mu.Unlock()
	}}

	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "建议飞向ID 3的bus进行观察。"}, 2, hooks)
	src := &scriptedSource{frames: 1000000}

	if err := s.Play(context.Background(), ModeLive, src); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer s.Stop()

	waitFor(t, "positioning command", func() bool { return link.moveCount() > 0 })

	link.mu.Lock()
	move := link.moves[0]
	link.mu.Unlock()
	// Bus at 30 m minus the 5 m margin: a 25 m forward step at yaw 0,
	// holding the 60 m altitude the fake reports.
	if move != [4]float64{25, 0, 60, 3} {
		t.Fatalf("move = %v, want [25 0 60 3]", move)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(advisories) == 0 || advisories[0].Text != "建议飞向ID 3的bus进行观察。" {
		t.Fatalf("advisory hook = %+v", advisories)
	}
}

func TestStop_LiveDisablesInputAndDisconnects(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})
	src := &scriptedSource{frames: 1000000}

	if err := s.Play(context.Background(), ModeLive, src); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !link.Connected() {
		t.Fatalf("live play did not connect the link")
	}
	if !s.input.Enabled() {
		t.Fatalf("live play did not enable keyboard control")
	}

	s.Stop()
	if s.State() != Stopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if s.input.Enabled() {
		t.Fatalf("keyboard control still enabled after stop")
	}
	if link.Connected() || link.disconnects != 1 {
		t.Fatalf("link not released: connected=%v disconnects=%d", link.Connected(), link.disconnects)
	}
	if !src.wasStopped() {
		t.Fatalf("source not released")
	}

	// Stop is idempotent.
	s.Stop()
	if link.disconnects != 1 {
		t.Fatalf("second Stop disconnected again")
	}
}

func TestStop_AllowsRestart(t *testing.T) {
	link := &fakeLink{}
	s := newTestSession(t, link, &scriptedAnalyzer{text: "无异常。"}, 1000, Hooks{})

	if err := s.Play(context.Background(), ModeFile, &scriptedSource{frames: 1000000}); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	s.Stop()

	src := &scriptedSource{frames: 3}
	if err := s.Play(context.Background(), ModeFile, src); err != nil {
		t.Fatalf("Play after Stop: %v", err)
	}
	waitFor(t, "second run exhaustion", func() bool { return src.wasStopped() })
	if src.servedFrames() != 3 {
		t.Fatalf("served = %d, want 3", src.servedFrames())
	}
}
