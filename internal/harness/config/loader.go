package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions loads an options overlay from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseOptions(data, path)
}

// ParseOptions parses options data. The format follows the extension of path and
// defaults to YAML.
func ParseOptions(data []byte, path string) (*Options, error) {
	var opts Options

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &opts, nil
}

// Merge overlays every non-zero field of overlay onto base and returns the result.
// Neither argument is modified. Stages and thresholds replace wholesale.
func Merge(base, overlay *Options) *Options {
	out := base.Clone()
	if overlay == nil {
		return out
	}

	if overlay.Name != "" {
		out.Name = overlay.Name
	}
	if overlay.Target != "" {
		out.Target = overlay.Target
	}
	if overlay.Executor != "" {
		out.Executor = overlay.Executor
	}
	if len(overlay.Stages) > 0 {
		out.Stages = append([]StageConfig(nil), overlay.Stages...)
	}
	if overlay.VUs > 0 {
		out.VUs = overlay.VUs
	}
	if overlay.Duration > 0 {
		out.Duration = overlay.Duration
	}
	if overlay.GracefulStop > 0 {
		out.GracefulStop = overlay.GracefulStop
	}
	if !overlay.Thresholds.IsEmpty() {
		out.Thresholds = overlay.Thresholds.Clone()
	}
	for _, name := range overlay.CustomMetrics {
		if !containsString(out.CustomMetrics, name) {
			out.CustomMetrics = append(out.CustomMetrics, name)
		}
	}
	if overlay.Settings.Timeout > 0 {
		out.Settings.Timeout = overlay.Settings.Timeout
	}
	if overlay.Settings.MaxIdleConnsPerHost > 0 {
		out.Settings.MaxIdleConnsPerHost = overlay.Settings.MaxIdleConnsPerHost
	}
	if overlay.Settings.InsecureSkipVerify {
		out.Settings.InsecureSkipVerify = true
	}
	if overlay.Settings.UserAgent != "" {
		out.Settings.UserAgent = overlay.Settings.UserAgent
	}
	if overlay.Seed != 0 {
		out.Seed = overlay.Seed
	}
	if overlay.Schema != "" {
		out.Schema = overlay.Schema
	}

	return out
}

// Clone returns a deep copy of the options.
func (o *Options) Clone() *Options {
	if o == nil {
		return &Options{}
	}
	out := *o
	out.Stages = append([]StageConfig(nil), o.Stages...)
	out.CustomMetrics = append([]string(nil), o.CustomMetrics...)
	out.Thresholds = o.Thresholds.Clone()
	return &out
}

// Clone returns a deep copy of the thresholds.
func (t *ThresholdsConfig) Clone() *ThresholdsConfig {
	if t == nil {
		return nil
	}
	out := &ThresholdsConfig{
		HTTPReqDuration: append([]string(nil), t.HTTPReqDuration...),
		HTTPReqFailed:   append([]string(nil), t.HTTPReqFailed...),
		HTTPReqs:        append([]string(nil), t.HTTPReqs...),
		Checks:          append([]string(nil), t.Checks...),
	}
	if t.Custom != nil {
		out.Custom = make(map[string][]string, len(t.Custom))
		for k, v := range t.Custom {
			out.Custom[k] = append([]string(nil), v...)
		}
	}
	return out
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(opts *Options) {
	if opts.Executor == "" {
		if len(opts.Stages) > 0 {
			opts.Executor = "ramping-vus"
		} else {
			opts.Executor = "constant-vus"
		}
	}
	if opts.Executor == "constant-vus" && opts.VUs == 0 {
		opts.VUs = 1
	}
	if opts.GracefulStop == 0 {
		opts.GracefulStop = Duration(30 * time.Second)
	}
	if opts.Settings.Timeout == 0 {
		opts.Settings.Timeout = Duration(60 * time.Second)
	}
	if opts.Settings.MaxIdleConnsPerHost == 0 {
		opts.Settings.MaxIdleConnsPerHost = 100
	}
	if opts.Settings.UserAgent == "" {
		opts.Settings.UserAgent = "ratestress/1.0"
	}
	for i := range opts.Stages {
		if opts.Stages[i].Name == "" {
			opts.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
