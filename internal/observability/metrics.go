package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LoopCollector bundles Prometheus metrics for the tracking session: frame
// throughput, current scene contents, advisory round-trips, and command
// issuance on both actuator paths.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	FramesProcessed  prometheus.Counter
	TrackedObjects   prometheus.Gauge
	AdvisoryRequests *prometheus.CounterVec
	AdvisoryDuration prometheus.Histogram
	CommandsExecuted *prometheus.CounterVec
	ActuatorCalls    *prometheus.CounterVec
}

// NewLoopCollector registers session Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewLoopCollector(reg prometheus.Registerer) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skytrack_frames_processed_total",
		Help: "Total number of frames pulled from the source and processed.",
	}), "skytrack_frames_processed_total")
	if err != nil {
		return nil, err
	}

	objects, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "skytrack_tracked_objects",
		Help: "Number of tracked objects in the most recent frame observation.",
	}), "skytrack_tracked_objects")
	if err != nil {
		return nil, err
	}

	advisories := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skytrack_advisory_requests_total",
		Help: "Advisory round-trips to the reasoning service, labeled by outcome (ok, error, skipped_inflight).",
	}, []string{"outcome"})
	advisories, err = registerCounterVec(reg, advisories, "skytrack_advisory_requests_total")
	if err != nil {
		return nil, err
	}

	latency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skytrack_advisory_duration_seconds",
		Help:    "Advisory round-trip latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}), "skytrack_advisory_duration_seconds")
	if err != nil {
		return nil, err
	}

	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skytrack_commands_executed_total",
		Help: "Parsed advisory commands handled by the executor, labeled by action and result.",
	}, []string{"action", "result"})
	commands, err = registerCounterVec(reg, commands, "skytrack_commands_executed_total")
	if err != nil {
		return nil, err
	}

	actuator := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skytrack_actuator_calls_total",
		Help: "Commands issued to the actuator, labeled by call kind.",
	}, []string{"kind"})
	actuator, err = registerCounterVec(reg, actuator, "skytrack_actuator_calls_total")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:         gatherer,
		FramesProcessed:  frames,
		TrackedObjects:   objects,
		AdvisoryRequests: advisories,
		AdvisoryDuration: latency,
		CommandsExecuted: commands,
		ActuatorCalls:    actuator,
	}, nil
}

// ObserveFrame records one processed frame and the size of its observation.
func (c *LoopCollector) ObserveFrame(objects int) {
	if c == nil {
		return
	}
	if c.FramesProcessed != nil {
		c.FramesProcessed.Inc()
	}
	if c.TrackedObjects != nil {
		c.TrackedObjects.Set(float64(objects))
	}
}

// ObserveAdvisory records the outcome and latency of one advisory cycle.
func (c *LoopCollector) ObserveAdvisory(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	if c.AdvisoryRequests != nil {
		c.AdvisoryRequests.WithLabelValues(outcome).Inc()
	}
	if c.AdvisoryDuration != nil && elapsed > 0 {
		c.AdvisoryDuration.Observe(elapsed.Seconds())
	}
}

// ObserveCommand records one executor decision.
func (c *LoopCollector) ObserveCommand(action, result string) {
	if c == nil || c.CommandsExecuted == nil {
		return
	}
	c.CommandsExecuted.WithLabelValues(action, result).Inc()
}

// ObserveActuatorCall records one issued actuator command.
func (c *LoopCollector) ObserveActuatorCall(kind string) {
	if c == nil || c.ActuatorCalls == nil {
		return
	}
	c.ActuatorCalls.WithLabelValues(kind).Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LoopCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
