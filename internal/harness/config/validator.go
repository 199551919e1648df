package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var thresholdExprPattern = regexp.MustCompile(`^\s*\w+(\(\d+(\.\d+)?\))?\s*[<>=!]+\s*\S+`)

// Validate validates the options.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (o *Options) Validate() error {
	errs := &ValidationErrors{}

	if o.Target == "" {
		errs.Add("target", "target URL is required")
	} else if u, err := url.Parse(o.Target); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("target", fmt.Sprintf("invalid URL: %s", o.Target))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("target", fmt.Sprintf("unsupported scheme: %s", u.Scheme))
	}

	switch o.Executor {
	case "", "ramping-vus":
		if len(o.Stages) == 0 {
			errs.Add("stages", "at least one stage is required")
		}
	case "constant-vus":
		if o.VUs <= 0 {
			errs.Add("vus", "vus must be > 0")
		}
		if o.Duration <= 0 {
			errs.Add("duration", "duration must be > 0")
		}
	default:
		errs.Add("executor", fmt.Sprintf("unknown executor type: %s", o.Executor))
	}

	for i, stage := range o.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			errs.Add(prefix+".duration", "duration must not be negative")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target must not be negative")
		}
	}
	if len(o.Stages) > 0 && o.TotalDuration() <= 0 {
		errs.Add("stages", "total stage duration must be > 0")
	}

	if o.GracefulStop < 0 {
		errs.Add("gracefulStop", "gracefulStop must not be negative")
	}
	if o.Settings.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must not be negative")
	}

	if o.Thresholds != nil {
		validateThresholds(o.Thresholds, o.CustomMetrics, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateThresholds checks expression syntax and custom metric references.
func validateThresholds(t *ThresholdsConfig, custom []string, errs *ValidationErrors) {
	check := func(field string, exprs []string) {
		for i, expr := range exprs {
			if !thresholdExprPattern.MatchString(expr) {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", field, i), fmt.Sprintf("invalid expression: %q", expr))
			}
		}
	}

	check("http_req_duration", t.HTTPReqDuration)
	check("http_req_failed", t.HTTPReqFailed)
	check("http_reqs", t.HTTPReqs)
	check("checks", t.Checks)

	for name, exprs := range t.Custom {
		if !containsString(custom, name) {
			errs.Add("thresholds.custom."+name, "threshold references an unregistered custom metric")
		}
		check("custom."+name, exprs)
	}
}
