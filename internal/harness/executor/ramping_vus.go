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

// RampingVUs ramps VU count up and down according to stages.
//
// VU counts are interpolated linearly between the previous stage's target and the
// current one, so a stage {30s, 10} after a stage ending at 1 climbs from 1 to 10
// over 30 seconds. A zero-length stage jumps to its target immediately.
//
// Example stages:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config    *Config
	scheduler *harness.VUScheduler
	metrics   *metrics.Engine

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool

	cancelFunc context.CancelFunc

	// vus holds the VUs this executor started, oldest first
	vus   []*harness.VirtualUser
	vusMu sync.Mutex

	mu sync.RWMutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *harness.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	e.mu.Lock()
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.startTime = time.Now()
	e.mu.Unlock()
	e.running.Store(true)
	defer func() {
		e.running.Store(false)
		e.finished.Store(true)
	}()

	// VUs get their own context so that in-flight iterations survive the end of the
	// schedule until the graceful stop expires.
	vuCtx, cancelVUs := context.WithCancel(ctx)
	defer cancelVUs()

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.mu.Lock()
	e.cancelFunc = cancel
	e.mu.Unlock()
	defer cancel()

	e.tick(vuCtx)
	e.vuController(runCtx, vuCtx)

	drain(scheduler, e.config.GracefulStop, cancelVUs)
	metricsEngine.SetActiveVUs(0)
	metricsEngine.SetPhase(metrics.PhaseDone)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// vuController adjusts VU count according to stages every 100ms.
func (e *RampingVUs) vuController(runCtx, vuCtx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			e.tick(vuCtx)
		}
	}
}

func (e *RampingVUs) tick(vuCtx context.Context) {
	targetVUs := e.calculateTargetVUs(time.Since(e.startTime))
	e.targetVUs.Store(int32(targetVUs))
	e.adjustVUs(vuCtx, targetVUs)
	e.updatePhase()
}

// calculateTargetVUs calculates the target VU count for the elapsed time.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			stageProgress := float64(elapsed-stageStart) / float64(stage.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}
			if stageProgress > 1 {
				stageProgress = 1
			}

			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5)
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	if len(e.config.Stages) > 0 {
		e.currentStage.Store(int32(len(e.config.Stages) - 1))
		return e.config.Stages[len(e.config.Stages)-1].Target
	}
	return 0
}

// adjustVUs spawns or stops VUs to match the target. Excess VUs are stopped newest
// first and finish their current iteration.
func (e *RampingVUs) adjustVUs(vuCtx context.Context, targetVUs int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	currentVUs := len(e.vus)

	if targetVUs > currentVUs {
		for i := currentVUs; i < targetVUs; i++ {
			vu := e.scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.scheduler.StartVU(vuCtx, vu)
		}
	} else if targetVUs < currentVUs {
		for i := currentVUs - 1; i >= targetVUs; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:targetVUs]
	}

	e.metrics.SetActiveVUs(e.scheduler.GetActiveVUCount())
}

// updatePhase updates the metrics phase based on current stage.
func (e *RampingVUs) updatePhase() {
	stageIdx := int(e.currentStage.Load())
	if stageIdx >= len(e.config.Stages) {
		return
	}

	stage := e.config.Stages[stageIdx]
	prevTarget := 0
	if stageIdx > 0 {
		prevTarget = e.config.Stages[stageIdx-1].Target
	}

	switch {
	case stage.Target == prevTarget:
		e.metrics.SetPhase(metrics.PhaseSteady)
	case stage.Target > prevTarget:
		e.metrics.SetPhase(metrics.PhaseRampUp)
	default:
		e.metrics.SetPhase(metrics.PhaseRampDown)
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}

	totalDuration := e.config.TotalDuration()
	if totalDuration == 0 {
		return 1.0
	}

	e.mu.RLock()
	elapsed := time.Since(e.startTime)
	e.mu.RUnlock()

	progress := float64(elapsed) / float64(totalDuration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	e.mu.RLock()
	scheduler := e.scheduler
	e.mu.RUnlock()
	if scheduler == nil {
		return 0
	}
	return scheduler.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        e.GetActiveVUs(),
		TargetVUs:        int(e.targetVUs.Load()),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
}

// Stop ends the schedule early.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.mu.RLock()
	cancel := e.cancelFunc
	e.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
