package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/skytrack/model"
)

func testDetectorConfig() model.DetectorConfig {
	return model.DetectorConfig{
		Classes:       []string{"car", "bus"},
		ConfThreshold: 0.4,
		IOUThreshold:  0.5,
	}
}

func TestHTTPDetector_Detect(t *testing.T) {
	var gotReq inferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(inferResponse{Detections: []wireDetection{
			{ClassID: 1, Confidence: 0.91, BBox: [4]int{10, 20, 90, 120}, TrackID: 3},
			{ClassID: 0, Confidence: 0.55, BBox: [4]int{0, 0, 30, 30}},
		}})
	}))
	defer srv.Close()

	cfg := testDetectorConfig()
	cfg.Endpoint = srv.URL
	d := NewHTTPDetector(cfg, nil, nil)

	frame := model.Frame{Index: 7, Width: 640, Height: 480, Data: []byte{1, 2, 3}}
	dets, err := d.Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("detections = %d, want 2", len(dets))
	}
	want := model.Detection{ClassID: 1, Confidence: 0.91, X1: 10, Y1: 20, X2: 90, Y2: 120, TrackID: 3}
	if dets[0] != want {
		t.Fatalf("dets[0] = %+v, want %+v", dets[0], want)
	}
	if !dets[0].Tracked() || dets[1].Tracked() {
		t.Fatalf("track flags wrong: %+v", dets)
	}

	if gotReq.FrameIndex != 7 || gotReq.Width != 640 || gotReq.ConfThreshold != 0.4 {
		t.Fatalf("request = %+v", gotReq)
	}
	if d.NumClasses() != 2 {
		t.Fatalf("NumClasses = %d, want 2", d.NumClasses())
	}
}

func TestHTTPDetector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testDetectorConfig()
	cfg.Endpoint = srv.URL
	d := NewHTTPDetector(cfg, nil, nil)

	if _, err := d.Detect(context.Background(), model.Frame{Index: 1}); err == nil {
		t.Fatalf("expected error on 503")
	}
}

func TestLoadFileDetections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	content := `{"frame": 1, "detections": [{"class_id": 1, "confidence": 0.9, "bbox": [10, 20, 90, 120], "track_id": 3}]}

{"frame": 3, "detections": [{"class_id": 0, "confidence": 0.2, "bbox": [0, 0, 10, 10], "track_id": 4}]}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fd, err := LoadFileDetections(path, testDetectorConfig())
	if err != nil {
		t.Fatalf("LoadFileDetections: %v", err)
	}

	dets, err := fd.Detect(context.Background(), model.Frame{Index: 1})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0].TrackID != 3 {
		t.Fatalf("frame 1 = %+v", dets)
	}

	// Frame 2 has no line; frame 3's only row is below the confidence
	// threshold.
	for _, idx := range []int{2, 3} {
		dets, err := fd.Detect(context.Background(), model.Frame{Index: idx})
		if err != nil {
			t.Fatalf("Detect(%d): %v", idx, err)
		}
		if len(dets) != 0 {
			t.Fatalf("frame %d = %+v, want empty", idx, dets)
		}
	}
}

func TestLoadFileDetections_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadFileDetections(path, testDetectorConfig()); err == nil {
		t.Fatalf("expected error for malformed line")
	}
}

func TestLoadFileDetections_MissingFile(t *testing.T) {
	if _, err := LoadFileDetections(filepath.Join(t.TempDir(), "absent.jsonl"), testDetectorConfig()); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
