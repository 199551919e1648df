// Package metrics collects and aggregates stress-run metrics: request latency
// histograms, request/failure counters, named checks and custom counters.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations,
// histograms use mutex protection, and the background emitter runs
// in its own goroutine.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	iterationHist   *hdrhistogram.Histogram
	iterationHistMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	iterations      atomic.Int64

	checks   []*checkCounter
	checkIdx map[string]*checkCounter
	checksMu sync.RWMutex

	// custom is written only during construction
	custom  map[string]*atomic.Int64
	dropped atomic.Int64

	activeVUs atomic.Int32
	maxVUs    atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	// stoppedAt is the elapsed time at Stop, 0 while running
	stoppedAt atomic.Int64

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

type checkCounter struct {
	name   string
	passes atomic.Int64
	fails  atomic.Int64
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine(customCounters ...string) *Engine {
	cfg := DefaultEngineConfig()
	cfg.CustomCounters = customCounters
	return NewEngineWithConfig(cfg)
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		iterationHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		checkIdx:      make(map[string]*checkCounter),
		custom:        make(map[string]*atomic.Int64, len(config.CustomCounters)),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}

	for _, name := range config.CustomCounters {
		engine.custom[name] = new(atomic.Int64)
	}

	engine.emitterWg.Add(1)
	go engine.runEmitter()

	return engine
}

// clamp converts a duration to histogram microseconds within the recordable range.
func (e *Engine) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < e.config.HistogramMin {
		v = e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		v = e.config.HistogramMax
	}
	return v
}

// RecordRequest records one HTTP request.
//
// Parameters:
//   - duration: The request duration (http_req_duration)
//   - success: false on transport error or status >= 400 (http_req_failed)
//   - bytes: Number of bytes received
func (e *Engine) RecordRequest(duration time.Duration, success bool, bytes int64) {
	latencyMicros := e.clamp(duration)

	e.latencyHistMu.Lock()
	e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)

	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	e.bucketStore.RecordRequest(success)
}

// RecordIteration records one completed iteration and its duration.
func (e *Engine) RecordIteration(duration time.Duration) {
	v := e.clamp(duration)

	e.iterationHistMu.Lock()
	e.iterationHist.RecordValue(v)
	e.iterationHistMu.Unlock()

	e.iterations.Add(1)
}

// RecordCheck records the outcome of a named check and returns ok.
func (e *Engine) RecordCheck(name string, ok bool) bool {
	e.checksMu.RLock()
	c, exists := e.checkIdx[name]
	e.checksMu.RUnlock()

	if !exists {
		e.checksMu.Lock()
		c, exists = e.checkIdx[name]
		if !exists {
			c = &checkCounter{name: name}
			e.checkIdx[name] = c
			e.checks = append(e.checks, c)
		}
		e.checksMu.Unlock()
	}

	if ok {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
	return ok
}

// Add increments a registered custom counter. Samples for unknown names are dropped
// and counted in DroppedSamples.
func (e *Engine) Add(name string, delta int64) {
	counter, ok := e.custom[name]
	if !ok {
		e.dropped.Add(1)
		return
	}
	counter.Add(delta)
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU count and the observed maximum.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
	for {
		max := e.maxVUs.Load()
		if int32(count) <= max || e.maxVUs.CompareAndSwap(max, int32(count)) {
			return
		}
	}
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(), e.failedRequests.Load(), e.totalBytes.Load(),
		e.GetLatencyPercentiles(), e.GetActiveVUs(), e.GetPhase(),
	)
}

// GetLatencyPercentiles returns current request latency percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: time.Duration(e.latencyHist.Min()) * time.Microsecond,
		Max: time.Duration(e.latencyHist.Max()) * time.Microsecond,
		P50: time.Duration(e.latencyHist.ValueAtQuantile(50)) * time.Microsecond,
		P90: time.Duration(e.latencyHist.ValueAtQuantile(90)) * time.Microsecond,
		P95: time.Duration(e.latencyHist.ValueAtQuantile(95)) * time.Microsecond,
		P99: time.Duration(e.latencyHist.ValueAtQuantile(99)) * time.Microsecond,
	}
}

func histStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := histStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	e.iterationHistMu.Lock()
	iteration := histStats(e.iterationHist)
	e.iterationHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	if stopped := e.stoppedAt.Load(); stopped != 0 {
		elapsed = time.Duration(stopped)
	}
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	e.checksMu.RLock()
	checks := make([]CheckStats, 0, len(e.checks))
	for _, c := range e.checks {
		checks = append(checks, CheckStats{Name: c.name, Passes: c.passes.Load(), Fails: c.fails.Load()})
	}
	e.checksMu.RUnlock()

	custom := make(map[string]int64, len(e.custom))
	for name, counter := range e.custom {
		custom[name] = counter.Load()
	}

	return &Snapshot{
		TotalRequests:    totalReqs,
		SuccessRequests:  e.successRequests.Load(),
		FailedRequests:   failedReqs,
		TotalBytes:       e.totalBytes.Load(),
		Latency:          latency,
		IterationLatency: iteration,
		Iterations:       e.iterations.Load(),
		RPS:              rps,
		ErrorRate:        errorRate,
		Checks:           checks,
		Custom:           custom,
		DroppedSamples:   e.dropped.Load(),
		ActiveVUs:        e.GetActiveVUs(),
		MaxVUs:           int(e.maxVUs.Load()),
		CurrentPhase:     e.GetPhase(),
		Elapsed:          elapsed,
		StartTime:        e.startTime,
		Timestamp:        time.Now(),
	}
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetLatestBucket returns the most recent time-series bucket, or nil.
func (e *Engine) GetLatestBucket() *TimeBucket {
	return e.bucketStore.GetLatestBucket()
}

// Stop stops the background emitter, emits a final bucket and freezes Elapsed.
// Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stoppedAt.Store(int64(time.Since(e.startTime)))
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}
