package source

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/model"
)

func TestFileSource_ReadsFramesInOrderThenEnds(t *testing.T) {
	// Two 2x2 BGR frames back to back.
	raw := bytes.Repeat([]byte{1}, 12)
	raw = append(raw, bytes.Repeat([]byte{2}, 12)...)
	src := NewFileSource(NewRawReader(bytes.NewReader(raw), 2, 2))

	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f0, err := src.Next()
	if err != nil {
		t.Fatalf("Next #0: %v", err)
	}
	if f0.Index != 0 || f0.Width != 2 || f0.Height != 2 {
		t.Fatalf("frame 0 = index %d, %dx%d", f0.Index, f0.Width, f0.Height)
	}
	f1, err := src.Next()
	if err != nil {
		t.Fatalf("Next #1: %v", err)
	}
	if f1.Index != 1 || f1.Data[0] != 2 {
		t.Fatalf("frame 1 = index %d, first byte %d", f1.Index, f1.Data[0])
	}

	if _, err := src.Next(); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Next past end = %v, want ErrEndOfStream", err)
	}
}

func TestFileSource_TruncatedFrameIsError(t *testing.T) {
	src := NewFileSource(NewRawReader(bytes.NewReader(make([]byte, 7)), 2, 2))
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := src.Next()
	if err == nil || errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Next on truncated stream = %v, want decode error", err)
	}
}

func TestFileSource_NextAfterStopIsNotRunning(t *testing.T) {
	src := NewFileSource(NewRawReader(bytes.NewReader(make([]byte, 12)), 2, 2))
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Stop()
	src.Stop() // idempotent
	if _, err := src.Next(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Next after Stop = %v, want ErrNotRunning", err)
	}
}

type fakeCamera struct {
	connected bool
	frames    []model.Frame
	errs      []error
	calls     int
}

func (c *fakeCamera) Connected() bool { return c.connected }

func (c *fakeCamera) CameraImage(ctx context.Context, camera string) (model.Frame, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return model.Frame{}, c.errs[i]
	}
	if i < len(c.frames) {
		return c.frames[i], nil
	}
	return model.Frame{Width: 4, Height: 4}, nil
}

func TestLiveSource_StartRequiresConnection(t *testing.T) {
	src := NewLiveSource(&fakeCamera{connected: false}, "0", logging.Noop())
	if err := src.Start(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Start without connection = %v, want ErrUnavailable", err)
	}
}

func TestLiveSource_NumbersFramesAndSurfacesFetchErrors(t *testing.T) {
	cam := &fakeCamera{
		connected: true,
		errs:      []error{nil, errors.New("sim hiccup")},
	}
	src := NewLiveSource(cam, "0", logging.Noop())
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("second Start must be idempotent: %v", err)
	}

	f0, err := src.Next()
	if err != nil {
		t.Fatalf("Next #0: %v", err)
	}
	if f0.Index != 0 {
		t.Fatalf("frame index = %d, want 0", f0.Index)
	}

	// One fetch failure is fatal for that call only, not converted to
	// end-of-stream.
	if _, err := src.Next(); err == nil || errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Next with failing camera = %v, want fetch error", err)
	}

	// The stream is still running afterwards.
	f2, err := src.Next()
	if err != nil {
		t.Fatalf("Next after failure: %v", err)
	}
	if f2.Index != 1 {
		t.Fatalf("frame index after failure = %d, want 1 (failed fetch not numbered)", f2.Index)
	}
}

func TestLiveSource_NextAfterStopIsNotRunning(t *testing.T) {
	src := NewLiveSource(&fakeCamera{connected: true}, "0", logging.Noop())
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Stop()
	src.Stop()
	if _, err := src.Next(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Next after Stop = %v, want ErrNotRunning", err)
	}
}
