// Package summary builds the end-of-run aggregate handed to Scenario.OnComplete and
// writes the outputs a scenario derives from it.
//
// The aggregate follows the layout of a k6 end-of-test summary so that tooling written
// against that format can read stress_test_summary.json unchanged.
package summary

import (
	"bytes"
	"encoding/json"
	"time"
)

// Metric types.
const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
	TypeRate    = "rate"
	TypeTrend   = "trend"
)

// Metric value kinds.
const (
	ContainsDefault = "default"
	ContainsTime    = "time"
	ContainsData    = "data"
)

// Built-in metric names.
const (
	MetricHTTPReqDuration   = "http_req_duration"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricHTTPReqs          = "http_reqs"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricChecks            = "checks"
	MetricVUs               = "vus"
	MetricVUsMax            = "vus_max"
	MetricDataReceived      = "data_received"
)

// TrendStats are the keys every trend metric carries, durations in milliseconds.
var TrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

// Data is the end-of-run aggregate.
type Data struct {
	Metrics   map[string]*Metric `json:"metrics"`
	RootGroup Group              `json:"root_group"`
	State     State              `json:"state"`
	Options   RunOptions         `json:"options"`
}

// Metric is one aggregated metric.
type Metric struct {
	Type       string                     `json:"type"`
	Contains   string                     `json:"contains"`
	Values     map[string]float64         `json:"values"`
	Thresholds map[string]ThresholdResult `json:"thresholds,omitempty"`
}

// ThresholdResult is the outcome of one threshold expression.
type ThresholdResult struct {
	OK bool `json:"ok"`
}

// Group holds the checks recorded during the run.
type Group struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	ID     string  `json:"id"`
	Groups []Group `json:"groups"`
	Checks []Check `json:"checks"`
}

// Check is the pass/fail tally of one named check.
type Check struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	ID     string `json:"id"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// State describes the run itself.
type State struct {
	TestRunDurationMs float64   `json:"testRunDurationMs"`
	RunID             string    `json:"runId"`
	StartTime         time.Time `json:"startTime"`
}

// RunOptions echoes the options the run used.
type RunOptions struct {
	Target            string              `json:"target"`
	Executor          string              `json:"executor"`
	Stages            []StageOption       `json:"stages,omitempty"`
	Thresholds        map[string][]string `json:"thresholds,omitempty"`
	SummaryTrendStats []string            `json:"summaryTrendStats"`
}

// StageOption is one stage of the executed schedule.
type StageOption struct {
	Name     string `json:"name,omitempty"`
	Duration string `json:"duration"`
	Target   int    `json:"target"`
}

// ThresholdOutcome is one evaluated threshold, as produced by the engine.
type ThresholdOutcome struct {
	Metric     string
	Expression string
	OK         bool
}

// Outputs maps output names to content. The key "stdout" is written to standard
// output; every other key is a file path relative to the output directory.
type Outputs map[string][]byte

// StdoutKey is the Outputs key routed to standard output.
const StdoutKey = "stdout"

// Value returns metrics[metric].values[key], or 0 when either is missing.
func (d *Data) Value(metric, key string) float64 {
	if d == nil {
		return 0
	}
	m, ok := d.Metrics[metric]
	if !ok || m == nil {
		return 0
	}
	return m.Values[key]
}

// ThresholdsPassed reports whether every threshold in the aggregate passed.
func (d *Data) ThresholdsPassed() bool {
	for _, m := range d.Metrics {
		for _, t := range m.Thresholds {
			if !t.OK {
				return false
			}
		}
	}
	return true
}

// JSON returns the aggregate as indented JSON with a trailing newline. Threshold
// expressions keep their literal comparison operators.
func (d *Data) JSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
