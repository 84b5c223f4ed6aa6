package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/model"
)

// Camera is the live-frame side of the simulator bridge.
type Camera interface {
	CameraImage(ctx context.Context, camera string) (model.Frame, error)
	Connected() bool
}

// LiveSource pulls frames from the simulated drone camera. It ends only on
// explicit Stop; a fetch failure is returned to the caller for that Next
// call rather than retried inside the source.
type LiveSource struct {
	cam    Camera
	camera string
	log    logging.Logger

	mu      sync.Mutex
	running bool
	index   int
}

// NewLiveSource wraps the bridge camera. The camera name selects which
// simulator camera feed to pull ("0" is the forward camera).
func NewLiveSource(cam Camera, camera string, log logging.Logger) *LiveSource {
	if log == nil {
		log = logging.Noop()
	}
	return &LiveSource{cam: cam, camera: camera, log: log}
}

// Start marks the stream running. It fails with ErrUnavailable when the
// bridge is not connected. Idempotent.
func (s *LiveSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cam == nil || !s.cam.Connected() {
		return fmt.Errorf("%w: simulator bridge not connected", ErrUnavailable)
	}
	if !s.running {
		s.running = true
		s.index = 0
		s.log.Info(context.Background(), "live camera stream started",
			logging.String("camera", s.camera))
	}
	return nil
}

// Next fetches one frame from the simulator camera.
func (s *LiveSource) Next() (model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return model.Frame{}, ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frame, err := s.cam.CameraImage(ctx, s.camera)
	if err != nil {
		return model.Frame{}, fmt.Errorf("fetch camera image: %w", err)
	}
	frame.Index = s.index
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	s.index++
	return frame, nil
}

// Stop ends the stream. Idempotent.
func (s *LiveSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.log.Info(context.Background(), "live camera stream stopped",
		logging.Int("frames", s.index))
}
