package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration.
type ConstantVUs struct {
	config    *Config
	scheduler *harness.VUScheduler

	startTime time.Time
	running   atomic.Bool
	finished  atomic.Bool

	cancelFunc context.CancelFunc
	mu         sync.RWMutex
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	e.config = config
	return nil
}

// Run starts all VUs at once and keeps them running for the configured duration.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *harness.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	e.mu.Lock()
	e.scheduler = scheduler
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.mu.Lock()
	e.cancelFunc = cancel
	e.mu.Unlock()
	defer cancel()

	metricsEngine.SetPhase(metrics.PhaseSteady)
	for i := 0; i < e.config.VUs; i++ {
		scheduler.StartVU(vuCtx, scheduler.SpawnVU())
	}
	metricsEngine.SetActiveVUs(scheduler.GetActiveVUCount())

	<-runCtx.Done()

	drain(scheduler, e.config.GracefulStop, cancelVUs)
	metricsEngine.SetActiveVUs(0)
	metricsEngine.SetPhase(metrics.PhaseDone)

	return ctx.Err()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}

	e.mu.RLock()
	elapsed := time.Since(e.startTime)
	e.mu.RUnlock()

	progress := float64(elapsed) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	return &Stats{
		StartTime:     start,
		Elapsed:       elapsed,
		TotalDuration: e.config.Duration,
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     e.config.VUs,
		TotalStages:   1,
	}
}

// Stop ends the run early.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancelFunc
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

var _ Executor = (*ConstantVUs)(nil)
