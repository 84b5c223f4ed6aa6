// Package detect provides the two detector/tracker collaborators: an HTTP
// client for a live inference service and a reader for precomputed
// per-frame detections accompanying a recorded clip. Both satisfy
// core.Detector; neither knows about classes beyond numeric ids.
package detect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/model"
)

type wireDetection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	BBox       [4]int  `json:"bbox"` // x1, y1, x2, y2
	TrackID    int     `json:"track_id,omitempty"`
}

func (w wireDetection) toModel() model.Detection {
	return model.Detection{
		ClassID:    w.ClassID,
		Confidence: w.Confidence,
		X1:         w.BBox[0],
		Y1:         w.BBox[1],
		X2:         w.BBox[2],
		Y2:         w.BBox[3],
		TrackID:    w.TrackID,
	}
}

// HTTPDetector posts each frame to an inference service and maps the
// returned rows. The service runs the model and the tracker; this client
// only speaks the wire format.
type HTTPDetector struct {
	endpoint   string
	numClasses int
	conf       float64
	iou        float64
	httpc      *http.Client
	log        logging.Logger
}

// NewHTTPDetector builds a detector client against cfg.Endpoint. The class
// count is taken from the configured vocabulary and validated against the
// observation builder at startup.
func NewHTTPDetector(cfg model.DetectorConfig, httpc *http.Client, log logging.Logger) *HTTPDetector {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if log == nil {
		log = logging.Noop()
	}
	return &HTTPDetector{
		endpoint:   cfg.Endpoint,
		numClasses: len(cfg.Classes),
		conf:       cfg.ConfThreshold,
		iou:        cfg.IOUThreshold,
		httpc:      httpc,
		log:        log,
	}
}

type inferRequest struct {
	FrameIndex    int     `json:"frame_index"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Image         []byte  `json:"image"` // base64 per encoding/json
	ConfThreshold float64 `json:"conf_threshold"`
	IOUThreshold  float64 `json:"iou_threshold"`
}

type inferResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detect runs one frame through the inference service.
func (d *HTTPDetector) Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	body, err := json.Marshal(inferRequest{
		FrameIndex:    frame.Index,
		Width:         frame.Width,
		Height:        frame.Height,
		Image:         frame.Data,
		ConfThreshold: d.conf,
		IOUThreshold:  d.iou,
	})
	if err != nil {
		return nil, fmt.Errorf("encode inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service status %d", resp.StatusCode)
	}

	var parsed inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}

	dets := make([]model.Detection, 0, len(parsed.Detections))
	for _, w := range parsed.Detections {
		dets = append(dets, w.toModel())
	}
	return dets, nil
}

// NumClasses reports the size of the class vocabulary the service was
// configured with.
func (d *HTTPDetector) NumClasses() int { return d.numClasses }

// FileDetections serves detections recorded offline, one JSON object per
// line keyed by frame index:
//
//	{"frame": 12, "detections": [{"class_id": 3, "confidence": 0.9, ...}]}
//
// Frames without a line read as empty. Rows below the confidence threshold
// are dropped at load time.
type FileDetections struct {
	byFrame    map[int][]model.Detection
	numClasses int
}

type detectionsLine struct {
	Frame      int             `json:"frame"`
	Detections []wireDetection `json:"detections"`
}

// LoadFileDetections reads and indexes a detections file.
func LoadFileDetections(path string, cfg model.DetectorConfig) (*FileDetections, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections file: %w", err)
	}
	defer f.Close()

	fd := &FileDetections{
		byFrame:    make(map[int][]model.Detection),
		numClasses: len(cfg.Classes),
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var line detectionsLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("detections file line %d: %w", lineNo, err)
		}
		rows := make([]model.Detection, 0, len(line.Detections))
		for _, w := range line.Detections {
			if w.Confidence < cfg.ConfThreshold {
				continue
			}
			rows = append(rows, w.toModel())
		}
		fd.byFrame[line.Frame] = rows
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read detections file: %w", err)
	}
	return fd, nil
}

// Detect returns the recorded rows for the frame's index.
func (fd *FileDetections) Detect(ctx context.Context, frame model.Frame) ([]model.Detection, error) {
	return fd.byFrame[frame.Index], nil
}

// NumClasses reports the configured class vocabulary size.
func (fd *FileDetections) NumClasses() int { return fd.numClasses }
