package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/skytrack/internal/logging"
	"github.com/signalsfoundry/skytrack/internal/observability"
	"github.com/signalsfoundry/skytrack/model"
)

// Analyzer is the reasoning-service round-trip. *Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, obs model.FrameObservation) string
}

// Result is one completed advisory cycle: the raw (or diagnostic) text and
// the exact observation snapshot it was computed against, which the executor
// needs to resolve target ids.
type Result struct {
	FrameIndex  int
	Text        string
	Observation model.FrameObservation
	Elapsed     time.Duration
}

// Dispatcher runs the every-Nth-frame advisory cycle in the background with
// an in-flight guard: while one request is outstanding, further dispatches
// are skipped, never queued.
type Dispatcher struct {
	analyzer     Analyzer
	every        int
	snapshotPath string
	log          logging.Logger
	metrics      *observability.LoopCollector

	inflight atomic.Bool
	results  chan Result
}

// NewDispatcher constructs a dispatcher delivering results on a single-slot
// channel. every must be positive (validated with the config at startup).
func NewDispatcher(analyzer Analyzer, every int, snapshotPath string, metrics *observability.LoopCollector, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Dispatcher{
		analyzer:     analyzer,
		every:        every,
		snapshotPath: snapshotPath,
		log:          log,
		metrics:      metrics,
		results:      make(chan Result, 1),
	}
}

// Results is the handoff channel read by the frame-loop context, so command
// execution always happens against the snapshot of its own advisory cycle.
func (d *Dispatcher) Results() <-chan Result { return d.results }

// MaybeDispatch starts a background advisory cycle when the frame index is
// on the configured cadence, the observation is non-empty, and no request is
// already in flight. It reports whether a cycle was started and never
// blocks the frame loop.
func (d *Dispatcher) MaybeDispatch(ctx context.Context, frameIndex int, obs model.FrameObservation) bool {
	if frameIndex%d.every != 0 || len(obs) == 0 {
		return false
	}
	if !d.inflight.CompareAndSwap(false, true) {
		d.metrics.ObserveAdvisory("skipped_inflight", 0)
		d.log.Debug(ctx, "advisory dispatch skipped, request in flight",
			logging.Int("frame", frameIndex))
		return false
	}

	// The request carries a copy, never a live reference: the frame loop
	// rebuilds the observation every frame.
	snapshot := obs.Clone()

	if err := d.writeSnapshot(snapshot); err != nil {
		d.log.Warn(ctx, "snapshot write failed", logging.Err(err))
	}

	go d.run(ctx, frameIndex, snapshot)
	return true
}

func (d *Dispatcher) run(ctx context.Context, frameIndex int, snapshot model.FrameObservation) {
	defer d.inflight.Store(false)

	tracer := otel.Tracer("skytrack/advisor")
	ctx, span := tracer.Start(ctx, "advisory.cycle")
	span.SetAttributes(
		attribute.Int("frame.index", frameIndex),
		attribute.Int("observation.objects", len(snapshot)),
	)
	defer span.End()

	start := time.Now()
	text := d.analyzer.Analyze(ctx, snapshot)
	elapsed := time.Since(start)

	outcome := "ok"
	if IsDiagnostic(text) {
		outcome = "error"
	}
	d.metrics.ObserveAdvisory(outcome, elapsed)
	span.SetAttributes(attribute.String("advisory.outcome", outcome))

	result := Result{
		FrameIndex:  frameIndex,
		Text:        text,
		Observation: snapshot,
		Elapsed:     elapsed,
	}
	if ctx.Err() != nil {
		// Session stopped while the request was in flight; the late result
		// is discarded.
		d.log.Debug(context.Background(), "advisory result discarded after stop",
			logging.Int("frame", frameIndex))
		return
	}
	select {
	case d.results <- result:
	case <-ctx.Done():
		d.log.Debug(context.Background(), "advisory result discarded after stop",
			logging.Int("frame", frameIndex))
	}
}

// writeSnapshot persists the dispatched observation for offline inspection.
func (d *Dispatcher) writeSnapshot(obs model.FrameObservation) error {
	if d.snapshotPath == "" {
		return nil
	}
	if dir := filepath.Dir(d.snapshotPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(d.snapshotPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
