// Package executor provides load generation strategies for stress runs.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor defines the interface for load generation strategies.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion, graceful stop included.
	Run(ctx context.Context, scheduler *harness.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early; Run returns once VUs have drained.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// constant-vus
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// ramping-vus
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run once the schedule ends
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Stage info (ramping executors); CurrentStage is 0-based
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, s := range c.Stages {
			if s.Duration < 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must not be negative"}
			}
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must not be negative"}
			}
		}
		if c.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration calculates the scheduled duration, excluding graceful stop.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// drain asks every VU to stop, waits up to grace for in-flight iterations and then
// cancels the VU context.
func drain(scheduler *harness.VUScheduler, grace time.Duration, cancelVUs context.CancelFunc) {
	scheduler.StopAllVUs()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	if !scheduler.Wait(grace) {
		cancelVUs()
		scheduler.Wait(5 * time.Second)
	}
	cancelVUs()
}
