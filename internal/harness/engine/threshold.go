package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

var thresholdRe = regexp.MustCompile(`^(\w+(?:\(\d+(?:\.\d+)?\))?)\s*([<>=!]+)\s*(.+)$`)

// EvaluateThresholds evaluates every configured threshold against a snapshot.
// Custom metric thresholds are evaluated in name order.
func EvaluateThresholds(t *config.ThresholdsConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	if t == nil {
		return nil
	}

	var results []ThresholdResult
	for _, expr := range t.HTTPReqDuration {
		results = append(results, evaluateDurationThreshold(expr, snapshot))
	}
	for _, expr := range t.HTTPReqFailed {
		results = append(results, evaluateRateThreshold(summary.MetricHTTPReqFailed, expr, snapshot.ErrorRate, -1))
	}
	for _, expr := range t.HTTPReqs {
		results = append(results, evaluateCounterThreshold(summary.MetricHTTPReqs, expr, snapshot.TotalRequests, snapshot.RPS))
	}
	for _, expr := range t.Checks {
		passes, fails := snapshot.CheckTotals()
		var rate float64
		if passes+fails > 0 {
			rate = float64(passes) / float64(passes+fails)
		}
		results = append(results, evaluateRateThreshold(summary.MetricChecks, expr, rate, passes))
	}

	names := make([]string, 0, len(t.Custom))
	for name := range t.Custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, expr := range t.Custom[name] {
			count := snapshot.Custom[name]
			results = append(results, evaluateRateThreshold(name, expr, snapshot.CustomRate(name), count))
		}
	}

	return results
}

// Passed reports whether all results passed.
func Passed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Outcomes converts results to the form attached to the summary.
func Outcomes(results []ThresholdResult) []summary.ThresholdOutcome {
	out := make([]summary.ThresholdOutcome, 0, len(results))
	for _, r := range results {
		out = append(out, summary.ThresholdOutcome{Metric: r.Metric, Expression: r.Expression, OK: r.Passed})
	}
	return out
}

// evaluateDurationThreshold evaluates expressions like "p(95)<500" or "avg < 200ms".
func evaluateDurationThreshold(expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     summary.MetricHTTPReqDuration,
		Expression: expr,
	}

	stat, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	var actual time.Duration
	switch stat {
	case "min":
		actual = snapshot.Latency.Min
	case "max":
		actual = snapshot.Latency.Max
	case "avg":
		actual = snapshot.Latency.Mean
	case "med", "p50":
		actual = snapshot.Latency.P50
	case "p90":
		actual = snapshot.Latency.P90
	case "p95":
		actual = snapshot.Latency.P95
	case "p99":
		actual = snapshot.Latency.P99
	default:
		result.Message = fmt.Sprintf("unknown metric: %s", stat)
		return result
	}

	threshold, err := parseThresholdDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.2fms", float64(actual)/float64(time.Millisecond))
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", stat, actual, op, threshold)
	}
	return result
}

// evaluateRateThreshold evaluates "rate" (and "count" when count >= 0) expressions.
func evaluateRateThreshold(metric, expr string, rate float64, count int64) ThresholdResult {
	result := ThresholdResult{
		Metric:     metric,
		Expression: expr,
	}

	stat, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actual float64
	switch {
	case stat == "rate":
		actual = rate
		result.Value = fmt.Sprintf("%.4f", actual)
	case stat == "count" && count >= 0:
		actual = float64(count)
		result.Value = fmt.Sprintf("%d", count)
	default:
		result.Message = fmt.Sprintf("%s does not support '%s'", metric, stat)
		return result
	}

	result.Passed = compareValues(actual, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", stat, result.Value, op, valueStr)
	}
	return result
}

// evaluateCounterThreshold evaluates "count > 1000" or "rate > 5" expressions.
func evaluateCounterThreshold(metric, expr string, count int64, rate float64) ThresholdResult {
	result := ThresholdResult{
		Metric:     metric,
		Expression: expr,
	}

	stat, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	var actual float64
	switch stat {
	case "count":
		actual = float64(count)
	case "rate":
		actual = rate
	default:
		result.Message = fmt.Sprintf("%s only supports 'count' or 'rate', got: %s", metric, stat)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actual)
	result.Passed = compareValues(actual, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", stat, actual, op, threshold)
	}
	return result
}

// parseThresholdExpression splits "p(95) < 500ms" into ("p95", "<", "500ms").
func parseThresholdExpression(expr string) (stat, op, value string, err error) {
	expr = strings.TrimSpace(expr)

	matches := thresholdRe.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}

	stat = strings.NewReplacer("(", "", ")", "").Replace(matches[1])
	return stat, matches[2], strings.TrimSpace(matches[3]), nil
}

// parseThresholdDuration parses a threshold value; bare numbers are milliseconds.
func parseThresholdDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return time.ParseDuration(s)
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
