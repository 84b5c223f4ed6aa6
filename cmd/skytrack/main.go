// skytrack runs the drone perception loop: frames in (recorded clip or
// the live simulator camera), tracked-object observations out, periodic
// reasoning-service advisories parsed into flight commands, and keyboard
// velocity control beside it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/skytrack/core"
	"github.com/signalsfoundry/skytrack/internal/advisor"
	"github.com/signalsfoundry/skytrack/internal/command"
	"github.com/signalsfoundry/skytrack/internal/detect"
	"github.com/signalsfoundry/skytrack/internal/input"
	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/internal/observability"
	"github.com/signalsfoundry/skytrack/internal/session"
	"github.com/signalsfoundry/skytrack/internal/simlink"
	"github.com/signalsfoundry/skytrack/internal/source"
	"github.com/signalsfoundry/skytrack/model"
)

func main() {
	configPath := flag.String("config", "", "yaml config file (defaults apply when empty)")
	mode := flag.String("mode", "live", "frame source: live or file")
	videoPath := flag.String("video", "", "raw BGR clip for file mode")
	videoWidth := flag.Int("video-width", 1280, "frame width of the raw clip")
	videoHeight := flag.Int("video-height", 720, "frame height of the raw clip")
	dryRun := flag.Bool("dry-run", false, "log flight commands without sending them")
	speed := flag.Float64("speed", 0, "initial keyboard flight speed in m/s (0 keeps the configured value)")
	flag.Parse()

	cfg := model.DefaultConfig()
	if *configPath != "" {
		loaded, err := model.LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewLoopCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Error(ctx, "metrics init failed", logging.Err(err))
		os.Exit(1)
	}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			log.Info(ctx, "metrics listener up", logging.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Error(ctx, "metrics listener failed", logging.Err(err))
			}
		}()
	}

	link := simlink.NewClient(cfg.Sim.Addr, log)

	estimator := core.NewDistanceEstimator(cfg.Distance)
	builder := core.NewObservationBuilder(cfg.Detector.Classes, estimator)

	var (
		detector   core.Detector
		src        source.Source
		playMode   session.Mode
		sourceDesc string
	)
	switch *mode {
	case "file":
		if *videoPath == "" {
			fmt.Fprintln(os.Stderr, "file mode needs -video")
			os.Exit(1)
		}
		if cfg.Detector.DetectionsPath == "" {
			fmt.Fprintln(os.Stderr, "file mode needs detector.detections_path in the config")
			os.Exit(1)
		}
		fd, err := detect.LoadFileDetections(cfg.Detector.DetectionsPath, cfg.Detector)
		if err != nil {
			log.Error(ctx, "load detections", logging.Err(err))
			os.Exit(1)
		}
		f, err := os.Open(*videoPath)
		if err != nil {
			log.Error(ctx, "open clip", logging.Err(err))
			os.Exit(1)
		}
		defer f.Close()
		detector = fd
		src = source.NewFileSource(source.NewRawReader(f, *videoWidth, *videoHeight))
		playMode = session.ModeFile
		sourceDesc = *videoPath
	case "live":
		if cfg.Detector.Endpoint == "" {
			fmt.Fprintln(os.Stderr, "live mode needs detector.endpoint in the config")
			os.Exit(1)
		}
		detector = detect.NewHTTPDetector(cfg.Detector, nil, log)
		src = source.NewLiveSource(link, cfg.Sim.CameraName, log)
		playMode = session.ModeLive
		sourceDesc = cfg.Sim.Addr
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(1)
	}

	if err := builder.CheckDetector(detector); err != nil {
		log.Error(ctx, "detector vocabulary mismatch", logging.Err(err))
		os.Exit(1)
	}

	analyzer, err := advisor.NewClient(cfg.Advisory, log)
	if err != nil {
		log.Error(ctx, "advisory client init failed", logging.Err(err))
		os.Exit(1)
	}
	dispatcher := advisor.NewDispatcher(analyzer, cfg.Advisory.EveryNFrames, cfg.Advisory.SnapshotPath, metrics, log)

	executor := command.NewExecutor(link, cfg.Control, metrics, log)
	executor.SetDryRun(*dryRun)
	controller := input.NewController(link, cfg.Input, metrics, log)
	if *speed > 0 {
		controller.SetSpeed(*speed)
	}

	sess := session.New(session.Config{
		Detector:   detector,
		Builder:    builder,
		Dispatcher: dispatcher,
		Executor:   executor,
		Input:      controller,
		Link:       link,
		Hooks: session.Hooks{
			OnAdvisory: func(r advisor.Result) {
				fmt.Printf("--- advisory (frame %d, %s) ---\n%s\n",
					r.FrameIndex, r.Elapsed.Round(time.Millisecond), r.Text)
			},
		},
		Metrics:     metrics,
		Log:         log,
		FrameRateHz: cfg.Loop.FrameRateHz,
		InputTickHz: cfg.Input.TickHz,
	})

	log.Info(ctx, "starting playback",
		logging.String("mode", *mode), logging.String("source", sourceDesc))
	if err := sess.Play(ctx, playMode, src); err != nil {
		log.Error(ctx, "session start failed", logging.Err(err))
		os.Exit(1)
	}
	enabled, connected := executor.Status()
	log.Info(ctx, "flight command execution",
		logging.Any("enabled", enabled),
		logging.Any("connected", connected),
		logging.Any("dry_run", *dryRun),
		logging.Float("speed", controller.Speed()))

	// Run until interrupted or the source runs out.
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info(context.Background(), "shutting down")
			sess.Stop()
			return
		case <-ticker.C:
			if sess.State() == session.Stopped {
				log.Info(context.Background(), "playback finished")
				return
			}
		}
	}
}
