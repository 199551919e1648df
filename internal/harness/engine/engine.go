// Package engine runs a harness.Scenario from setup to summary.
package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/ratestress/internal/harness"
	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/executor"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

// Stage is the lifecycle position of a run.
type Stage int

const (
	StageNotStarted Stage = iota
	StageSetupDone
	StageIterating
	StageTeardownDone
	StageSummarized
	StageTerminal
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not-started"
	case StageSetupDone:
		return "setup-done"
	case StageIterating:
		return "iterating"
	case StageTeardownDone:
		return "teardown-done"
	case StageSummarized:
		return "summarized"
	case StageTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Options configures an Engine.
type Options struct {
	// Overrides are merged onto the scenario's own options
	Overrides *config.Options

	// Stdout receives hook output and the "stdout" summary output. Defaults to io.Discard.
	Stdout io.Writer

	// OutputDir is where file outputs are written; empty means the working directory
	OutputDir string

	// RunID identifies the run in the summary; generated when empty
	RunID string

	// Sleep replaces VU think time (tests)
	Sleep harness.SleepFunc
}

// Result contains the outcome of a run.
type Result struct {
	Name      string        `json:"name"`
	RunID     string        `json:"runId"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	Summary *summary.Data   `json:"summary"`
	Outputs summary.Outputs `json:"-"`

	// IterationErrors counts errors returned by Scenario.Iterate
	IterationErrors int64 `json:"iterationErrors"`
}

// Engine orchestrates one run of a scenario.
//
// Example usage:
//
//	eng := engine.New(scenario.NewCurrencyRates(), engine.Options{Stdout: os.Stdout})
//	result, err := eng.Run(ctx)
//	fmt.Printf("thresholds passed: %v\n", result.Passed)
type Engine struct {
	scenario harness.Scenario
	opts     Options

	resolved *config.Options

	metricsEngine *metrics.Engine
	executor      executor.Executor

	mu        sync.RWMutex
	stage     Stage
	running   bool
	startTime time.Time
}

// New creates an engine for scenario.
func New(scenario harness.Scenario, opts Options) *Engine {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Engine{
		scenario: scenario,
		opts:     opts,
	}
}

// Prepare resolves the effective options: the scenario's own options merged with
// the overrides, defaults applied, then validated. Run calls it when needed.
func (e *Engine) Prepare() (*config.Options, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resolved != nil {
		return e.resolved, nil
	}

	base := e.scenario.Configure()
	if base == nil {
		base = &config.Options{}
	}
	opts := config.Merge(base, e.opts.Overrides)
	config.ApplyDefaults(opts)

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	e.resolved = opts
	return opts, nil
}

// Run executes the scenario and returns the result.
//
// A cancelled context stops the load early; the run is still summarized. An error
// from BeforeRun aborts the run before any VU starts.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	opts, err := e.Prepare()
	if err != nil {
		e.setStage(StageTerminal)
		return nil, err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.stage != StageNotStarted {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.stage = StageTerminal
		e.mu.Unlock()
	}()

	if err := e.scenario.BeforeRun(ctx, opts, e.opts.Stdout); err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	e.setStage(StageSetupDone)

	execCfg := executor.ConfigFromOptions(opts)
	exec, err := executor.New(execCfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, execCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	metricsEngine := metrics.NewEngine(opts.CustomMetrics...)
	defer metricsEngine.Stop()
	metricsEngine.SetPhase(metrics.PhaseInit)

	scheduler := harness.NewVUScheduler(e.scenario, metricsEngine, e.schedulerConfig(opts))

	e.mu.Lock()
	e.metricsEngine = metricsEngine
	e.executor = exec
	e.stage = StageIterating
	e.mu.Unlock()

	runErr := exec.Run(ctx, scheduler, metricsEngine)
	scheduler.Shutdown(5 * time.Second)

	// Stop emits the final bucket; the snapshot is taken after the last VU returned.
	metricsEngine.Stop()
	snapshot := metricsEngine.GetSnapshot()

	e.scenario.AfterRun(context.WithoutCancel(ctx), e.opts.Stdout)
	e.setStage(StageTeardownDone)

	thresholds := EvaluateThresholds(opts.Thresholds, snapshot)
	data := summary.Build(snapshot, Outcomes(thresholds), opts, e.opts.RunID)

	result := &Result{
		Name:            opts.Name,
		RunID:           e.opts.RunID,
		StartTime:       e.startTime,
		EndTime:         time.Now(),
		Duration:        time.Since(e.startTime),
		Metrics:         snapshot,
		TimeSeries:      metricsEngine.GetTimeSeries(),
		Passed:          Passed(thresholds),
		Thresholds:      thresholds,
		Summary:         data,
		IterationErrors: scheduler.IterationErrors(),
	}

	outputs, err := e.scenario.OnComplete(data)
	if err != nil {
		return result, fmt.Errorf("summary handler failed: %w", err)
	}
	result.Outputs = outputs
	e.setStage(StageSummarized)

	if err := summary.Write(outputs, e.opts.Stdout, e.opts.OutputDir); err != nil {
		return result, err
	}

	if runErr != nil && ctx.Err() == nil {
		return result, fmt.Errorf("executor failed: %w", runErr)
	}
	return result, nil
}

func (e *Engine) schedulerConfig(opts *config.Options) harness.SchedulerConfig {
	cfg := harness.DefaultSchedulerConfig()
	cfg.Timeout = opts.Settings.Timeout.Std()
	cfg.MaxIdleConnsPerHost = opts.Settings.MaxIdleConnsPerHost
	cfg.InsecureSkipVerify = opts.Settings.InsecureSkipVerify
	cfg.UserAgent = opts.Settings.UserAgent
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}
	cfg.Sleep = e.opts.Sleep
	return cfg
}

func (e *Engine) setStage(s Stage) {
	e.mu.Lock()
	e.stage = s
	e.mu.Unlock()
}

// Stage returns the current lifecycle stage.
func (e *Engine) Stage() Stage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stage
}

// Options returns the effective options, or nil before Prepare.
func (e *Engine) Options() *config.Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolved
}

// GetMetrics returns the current metrics snapshot.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()
	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetProgress returns the schedule progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return 0.0
	}
	return exec.GetProgress()
}

// GetStats returns the executor statistics, or nil before iterating.
func (e *Engine) GetStats() *executor.Stats {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return nil
	}
	return exec.GetStats()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop ends the load early; Run still tears down and summarizes.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	exec := e.executor
	e.mu.RUnlock()
	if exec == nil {
		return nil
	}
	return exec.Stop(ctx)
}
