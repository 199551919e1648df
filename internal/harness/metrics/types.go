package metrics

import (
	"math"
	"time"
)

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the initialization phase before the test starts
	PhaseInit Phase = "init"

	// PhaseRampUp is the ramp-up phase when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the steady-state phase at target load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the ramp-down phase when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	// TotalRequests is the number of HTTP requests issued (http_reqs)
	TotalRequests int64 `json:"totalRequests"`

	// SuccessRequests is the number of requests with no transport error and status < 400
	SuccessRequests int64 `json:"successRequests"`

	// FailedRequests is the number of failed requests (http_req_failed)
	FailedRequests int64 `json:"failedRequests"`

	// TotalBytes is the total bytes received
	TotalBytes int64 `json:"totalBytes"`

	// Latency is the request duration distribution (http_req_duration)
	Latency LatencyStats `json:"latency"`

	// IterationLatency is the full iteration duration distribution, think time included
	IterationLatency LatencyStats `json:"iterationLatency"`

	// Iterations is the number of completed iterations
	Iterations int64 `json:"iterations"`

	// RPS is requests per second over the whole run
	RPS float64 `json:"rps"`

	// ErrorRate is the fraction of failed requests (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	// Checks holds pass/fail counts per named check, in first-seen order
	Checks []CheckStats `json:"checks"`

	// Custom holds the value of every registered custom counter
	Custom map[string]int64 `json:"custom"`

	// DroppedSamples counts additions to unregistered custom metrics
	DroppedSamples int64 `json:"droppedSamples"`

	// ActiveVUs is the current number of active virtual users
	ActiveVUs int `json:"activeVUs"`

	// MaxVUs is the highest number of active virtual users observed
	MaxVUs int `json:"maxVUs"`

	// CurrentPhase is the current test phase
	CurrentPhase Phase `json:"currentPhase"`

	// Elapsed is the time elapsed since the engine started
	Elapsed time.Duration `json:"elapsed"`

	// StartTime is when the engine started
	StartTime time.Time `json:"startTime"`

	// Timestamp is when this snapshot was taken
	Timestamp time.Time `json:"timestamp"`
}

// CheckTotals returns the summed passes and fails across all checks.
func (s *Snapshot) CheckTotals() (passes, fails int64) {
	for _, c := range s.Checks {
		passes += c.Passes
		fails += c.Fails
	}
	return passes, fails
}

// CustomRate returns a custom counter divided by completed iterations, capped at 1.
// The cap covers additions from iterations still in flight when the run stopped.
func (s *Snapshot) CustomRate(name string) float64 {
	if s.Iterations == 0 {
		return 0
	}
	return math.Min(1, float64(s.Custom[name])/float64(s.Iterations))
}

// CheckStats contains the outcome counts of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket represents metrics for one emitter interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters (total since test start)
	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`
	TotalBytes    int64 `json:"totalBytes"`

	// Interval metrics
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase
	Timestamp time.Time
	Requests  int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// CustomCounters are registered at construction
	CustomCounters []string
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}
