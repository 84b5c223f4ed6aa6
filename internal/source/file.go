package source

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/signalsfoundry/skytrack/model"
)

// Decoder yields decoded frames from a recorded video. Video codec handling
// lives behind this interface; the core only sees pixel buffers. ReadFrame
// returns io.EOF when the recording is exhausted.
type Decoder interface {
	ReadFrame() (model.Frame, error)
}

// FileSource is the deterministic, file-backed frame source. It ends when
// the underlying decoder is exhausted.
type FileSource struct {
	dec Decoder

	mu      sync.Mutex
	running bool
	index   int
}

// NewFileSource wraps a decoder.
func NewFileSource(dec Decoder) *FileSource {
	return &FileSource{dec: dec}
}

// Start marks the source running. Idempotent.
func (s *FileSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dec == nil {
		return fmt.Errorf("%w: no decoder", ErrUnavailable)
	}
	s.running = true
	return nil
}

// Next returns the next decoded frame, ErrEndOfStream at the end of the
// recording, or ErrNotRunning after Stop.
func (s *FileSource) Next() (model.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return model.Frame{}, ErrNotRunning
	}
	frame, err := s.dec.ReadFrame()
	if err != nil {
		if err == io.EOF {
			s.running = false
			return model.Frame{}, ErrEndOfStream
		}
		return model.Frame{}, fmt.Errorf("read frame %d: %w", s.index, err)
	}
	frame.Index = s.index
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	s.index++
	return frame, nil
}

// Stop marks the source stopped. Idempotent.
func (s *FileSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// RawReader is a minimal Decoder over pre-decoded fixed-size BGR frames, one
// after another with no container. It exists for offline runs and tests; real
// deployments plug a codec-backed Decoder in instead.
type RawReader struct {
	r             io.Reader
	width, height int
	frameSize     int
}

// NewRawReader reads width*height*3-byte frames from r.
func NewRawReader(r io.Reader, width, height int) *RawReader {
	return &RawReader{r: r, width: width, height: height, frameSize: width * height * 3}
}

// ReadFrame returns the next frame, or io.EOF at a clean frame boundary.
func (rr *RawReader) ReadFrame() (model.Frame, error) {
	buf := make([]byte, rr.frameSize)
	if _, err := io.ReadFull(rr.r, buf); err != nil {
		if err == io.EOF {
			return model.Frame{}, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return model.Frame{}, fmt.Errorf("truncated frame: %w", err)
		}
		return model.Frame{}, err
	}
	return model.Frame{Width: rr.width, Height: rr.height, Data: buf}, nil
}
