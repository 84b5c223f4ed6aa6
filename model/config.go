// Configuration structures loaded from configs/skytrack.yml.
package model

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root structure for one tracking session.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Sim      SimConfig      `yaml:"sim"`
	Detector DetectorConfig `yaml:"detector"`
	Distance DistanceConfig `yaml:"distance"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	Control  ControlConfig  `yaml:"control"`
	Input    InputConfig    `yaml:"input"`
	Loop     LoopConfig     `yaml:"loop"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LogConfig mirrors the logging package options.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// SimConfig locates the simulated multirotor bridge.
type SimConfig struct {
	Addr       string `yaml:"addr"`        // e.g. "127.0.0.1:41451"
	CameraName string `yaml:"camera_name"` // default "0"
}

// DetectorConfig holds the class vocabulary and detector thresholds. The
// class list indexes detector class ids; an out-of-range id is a
// configuration error caught at startup, never per frame.
type DetectorConfig struct {
	Classes       []string `yaml:"classes"`
	ConfThreshold float64  `yaml:"conf_threshold"`
	IOUThreshold  float64  `yaml:"iou_threshold"`

	// Endpoint is the inference service for live frames; DetectionsPath
	// is a precomputed per-frame detections file for file playback.
	Endpoint       string `yaml:"endpoint"`
	DetectionsPath string `yaml:"detections_path"`
}

// DistanceConfig tunes the monocular distance estimate.
type DistanceConfig struct {
	// Heights maps class name to average real-world height in metres.
	Heights map[string]float64 `yaml:"heights"`
	// DefaultHeight is used for classes missing from Heights.
	DefaultHeight float64 `yaml:"default_height"`
	// FocalScale is the K constant in distance = height * K / bbox_height.
	FocalScale float64 `yaml:"focal_scale"`
}

// AdvisoryConfig drives the reasoning-service dispatcher.
type AdvisoryConfig struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	EveryNFrames   int    `yaml:"every_n_frames"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SnapshotPath   string `yaml:"snapshot_path"`
}

// Timeout returns the request timeout as a duration.
func (a AdvisoryConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ControlConfig bounds the command executor.
type ControlConfig struct {
	SafetyMarginM    float64 `yaml:"safety_margin_m"`
	MaxForwardStepM  float64 `yaml:"max_forward_step_m"`
	RetreatM         float64 `yaml:"retreat_m"`
	ApproachVelocity float64 `yaml:"approach_velocity"`
	AltitudeVelocity float64 `yaml:"altitude_velocity"`
	MinAltitudeM     float64 `yaml:"min_altitude_m"`
	MaxAltitudeM     float64 `yaml:"max_altitude_m"`
}

// InputConfig bounds the continuous keyboard controller.
type InputConfig struct {
	Speed         float64 `yaml:"speed"`          // m/s
	MinSpeed      float64 `yaml:"min_speed"`      // m/s
	MaxSpeed      float64 `yaml:"max_speed"`      // m/s
	RotationSpeed float64 `yaml:"rotation_speed"` // deg/s
	VerticalSpeed float64 `yaml:"vertical_speed"` // m/s
	TickHz        int     `yaml:"tick_hz"`
}

// LoopConfig paces the frame loop.
type LoopConfig struct {
	FrameRateHz int `yaml:"frame_rate_hz"`
}

// MetricsConfig exposes the /metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

// DefaultConfig returns the configuration matching the reference VisDrone
// deployment.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Sim: SimConfig{Addr: "127.0.0.1:41451", CameraName: "0"},
		Detector: DetectorConfig{
			Classes: []string{
				"pedestrian", "people", "bicycle", "car", "van",
				"truck", "tricycle", "awning-tricycle", "bus", "motor",
			},
			ConfThreshold: 0.4,
			IOUThreshold:  0.5,
		},
		Distance: DistanceConfig{
			Heights: map[string]float64{
				"pedestrian":      1.7,
				"people":          1.7,
				"bicycle":         1.2,
				"car":             1.5,
				"van":             2.0,
				"truck":           3.0,
				"tricycle":        1.8,
				"awning-tricycle": 1.8,
				"bus":             3.0,
				"motor":           1.2,
			},
			DefaultHeight: 1.0,
			FocalScale:    1000.0,
		},
		Advisory: AdvisoryConfig{
			URL:            "https://api.deepseek.com/v1/chat/completions",
			Model:          "deepseek-chat",
			APIKeyEnv:      "DEEPSEEK_API_KEY",
			EveryNFrames:   30,
			TimeoutSeconds: 30,
			SnapshotPath:   "outputs/detections.json",
		},
		Control: ControlConfig{
			SafetyMarginM:    5.0,
			MaxForwardStepM:  50.0,
			RetreatM:         20.0,
			ApproachVelocity: 3.0,
			AltitudeVelocity: 2.0,
			MinAltitudeM:     10.0,
			MaxAltitudeM:     150.0,
		},
		Input: InputConfig{
			Speed:         5.0,
			MinSpeed:      1.0,
			MaxSpeed:      20.0,
			RotationSpeed: 30.0,
			VerticalSpeed: 2.0,
			TickHz:        20,
		},
		Loop:    LoopConfig{FrameRateHz: 30},
		Metrics: MetricsConfig{Addr: ":9275"},
	}
}

// LoadConfig decodes yaml over the defaults, so a partial file only
// overrides what it names.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads and decodes the named yaml file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate rejects configurations the loop cannot run with. This is the
// startup boundary where class-table problems become fatal.
func (c Config) Validate() error {
	if len(c.Detector.Classes) == 0 {
		return fmt.Errorf("detector: class vocabulary is empty")
	}
	for i, name := range c.Detector.Classes {
		if name == "" {
			return fmt.Errorf("detector: class %d has an empty name", i)
		}
	}
	if c.Distance.FocalScale <= 0 {
		return fmt.Errorf("distance: focal_scale must be positive, got %v", c.Distance.FocalScale)
	}
	if c.Distance.DefaultHeight <= 0 {
		return fmt.Errorf("distance: default_height must be positive, got %v", c.Distance.DefaultHeight)
	}
	if c.Advisory.EveryNFrames <= 0 {
		return fmt.Errorf("advisory: every_n_frames must be positive, got %d", c.Advisory.EveryNFrames)
	}
	if c.Advisory.TimeoutSeconds <= 0 {
		return fmt.Errorf("advisory: timeout_seconds must be positive, got %d", c.Advisory.TimeoutSeconds)
	}
	if c.Control.MinAltitudeM >= c.Control.MaxAltitudeM {
		return fmt.Errorf("control: altitude band [%v, %v] is empty",
			c.Control.MinAltitudeM, c.Control.MaxAltitudeM)
	}
	if c.Control.SafetyMarginM < 0 || c.Control.MaxForwardStepM <= 0 {
		return fmt.Errorf("control: invalid approach bounds (margin %v, max step %v)",
			c.Control.SafetyMarginM, c.Control.MaxForwardStepM)
	}
	if c.Input.MinSpeed <= 0 || c.Input.MinSpeed > c.Input.MaxSpeed {
		return fmt.Errorf("input: speed band [%v, %v] is invalid", c.Input.MinSpeed, c.Input.MaxSpeed)
	}
	if c.Input.TickHz <= 0 {
		return fmt.Errorf("input: tick_hz must be positive, got %d", c.Input.TickHz)
	}
	if c.Loop.FrameRateHz <= 0 {
		return fmt.Errorf("loop: frame_rate_hz must be positive, got %d", c.Loop.FrameRateHz)
	}
	return nil
}
