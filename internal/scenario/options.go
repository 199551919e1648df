// Package scenario holds the TWD currency-rate stress scenario.
package scenario

import (
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
)

// DefaultURL is the currency document the scenario loads.
const DefaultURL = "https://cdn.jsdelivr.net/npm/@fawazahmed0/currency-api@2024-10-01/v1/currencies/twd.json"

// MetricErrors is the custom error counter; its rate is errors per iteration.
const MetricErrors = "errors"

// SummaryFile is the file the end-of-run aggregate is written to.
const SummaryFile = "stress_test_summary.json"

// BuiltinSchema selects DocumentSchema as the response schema.
const BuiltinSchema = "builtin"

// Check names, in the order they are recorded.
const (
	CheckStatus200    = "status is 200"
	CheckContainsJPY  = "response contains jpy"
	CheckResponseTime = "response time < 500ms"
	CheckIsJSON       = "response is JSON"
	CheckHasTWD       = "has twd property"
	CheckTWDIsObject  = "twd is object"
	CheckSchema       = "body matches schema"
)

// Think time bounds: every iteration pauses for a duration in [MinThinkTime, MaxThinkTime).
const (
	MinThinkTime = 100 * time.Millisecond
	MaxThinkTime = 1000 * time.Millisecond
)

// ResponseTimeLimit bounds timings.duration for CheckResponseTime.
const ResponseTimeLimit = 500 * time.Millisecond

// DocumentSchema describes the currency document: a date and a map of rates.
const DocumentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["date", "twd"],
  "properties": {
    "date": {"type": "string"},
    "twd": {
      "type": "object",
      "required": ["jpy"],
      "additionalProperties": {"type": "number"}
    }
  }
}`

// Stages returns the load schedule: a warm-up, two high-concurrency phases at 10
// and 20 VUs, a sustained single-user phase and a cool-down.
func Stages() []config.StageConfig {
	return []config.StageConfig{
		{Duration: config.Duration(10 * time.Second), Target: 1, Name: "warm-up"},
		{Duration: config.Duration(30 * time.Second), Target: 10, Name: "ramp-10"},
		{Duration: config.Duration(30 * time.Second), Target: 10, Name: "hold-10"},
		{Duration: config.Duration(30 * time.Second), Target: 20, Name: "ramp-20"},
		{Duration: config.Duration(30 * time.Second), Target: 20, Name: "hold-20"},
		{Duration: config.Duration(60 * time.Second), Target: 1, Name: "steady-1"},
		{Duration: config.Duration(10 * time.Second), Target: 0, Name: "cool-down"},
	}
}

// Thresholds returns the pass/fail criteria of the run.
func Thresholds() *config.ThresholdsConfig {
	return &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p(95)<500"},
		HTTPReqFailed:   []string{"rate<0.01"},
		Custom: map[string][]string{
			MetricErrors: {"rate<0.01"},
		},
	}
}

// DefaultOptions returns the scenario's own options, before any override.
func DefaultOptions() *config.Options {
	return &config.Options{
		Name:          "TWD currency rates stress",
		Target:        DefaultURL,
		Executor:      "ramping-vus",
		Stages:        Stages(),
		GracefulStop:  config.Duration(30 * time.Second),
		Thresholds:    Thresholds(),
		CustomMetrics: []string{MetricErrors},
	}
}
