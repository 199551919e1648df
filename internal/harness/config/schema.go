// Package config provides the option set a scenario hands to the harness, plus file
// loading, merging and validation for it.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options is the root configuration for a stress run.
//
// Example YAML:
//
//	name: "TWD rates stress"
//	target: "http://localhost:8080/twd.json"
//	stages:
//	  - duration: 10s
//	    target: 1
//	  - duration: 30s
//	    target: 10
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  custom:
//	    errors: ["rate<0.01"]
type Options struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Target is the URL every iteration requests
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Executor is "ramping-vus" (default when stages are set) or "constant-vus"
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// Stages defines the ramping schedule, in order
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// VUs and Duration drive the constant-vus executor
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the last stage
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Thresholds define pass/fail criteria evaluated at the end of the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// CustomMetrics are counters the scenario adds to through its metric sink
	CustomMetrics []string `json:"customMetrics,omitempty" yaml:"customMetrics,omitempty"`

	// Settings contains HTTP client settings
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Seed seeds the per-VU random sources; 0 picks one from the clock
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Schema is an optional path to a JSON schema the response body must match
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Settings contains HTTP client settings.
type Settings struct {
	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is sent with every request
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// StageConfig defines a single stage of the ramping schedule.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional label for reporting
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// HTTPReqDuration e.g. ["p(95)<500", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed e.g. ["rate<0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs e.g. ["count > 1000", "rate > 5"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks e.g. ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// Custom thresholds keyed by custom metric name
	Custom map[string][]string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// IsEmpty reports whether no threshold expression is configured.
func (t *ThresholdsConfig) IsEmpty() bool {
	if t == nil {
		return true
	}
	n := len(t.HTTPReqDuration) + len(t.HTTPReqFailed) + len(t.HTTPReqs) + len(t.Checks)
	for _, exprs := range t.Custom {
		n += len(exprs)
	}
	return n == 0
}

// TotalDuration returns the planned length of the run, excluding graceful stop.
func (o *Options) TotalDuration() time.Duration {
	if o.Executor != "constant-vus" && len(o.Stages) > 0 {
		var total time.Duration
		for _, s := range o.Stages {
			total += s.Duration.Std()
		}
		return total
	}
	return o.Duration.Std()
}

// MaxVUs returns the highest VU count the run will reach.
func (o *Options) MaxVUs() int {
	max := o.VUs
	if o.Executor == "constant-vus" {
		return max
	}
	for _, s := range o.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
// Bare integers are seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// ParseDurationString parses a duration string.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
