package summary

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

func testSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		TotalRequests:   100,
		SuccessRequests: 98,
		FailedRequests:  2,
		TotalBytes:      5000,
		Latency: metrics.LatencyStats{
			Min:  10 * time.Millisecond,
			Max:  900 * time.Millisecond,
			Mean: 120 * time.Millisecond,
			P50:  100 * time.Millisecond,
			P90:  300 * time.Millisecond,
			P95:  420 * time.Millisecond,
			P99:  800 * time.Millisecond,
		},
		Iterations: 100,
		Checks: []metrics.CheckStats{
			{Name: "status is 200", Passes: 98, Fails: 2},
			{Name: "response contains jpy", Passes: 97, Fails: 3},
		},
		Custom:    map[string]int64{"errors": 3},
		MaxVUs:    20,
		Elapsed:   10 * time.Second,
		StartTime: time.Unix(1700000000, 0),
	}
}

func TestBuild(t *testing.T) {
	opts := &config.Options{
		Target:   "http://example.com/twd.json",
		Executor: "ramping-vus",
		Stages: []config.StageConfig{
			{Duration: config.Duration(5 * time.Second), Target: 10, Name: "ramp"},
		},
		Thresholds: &config.ThresholdsConfig{
			HTTPReqDuration: []string{"p(95)<500"},
			Custom:          map[string][]string{"errors": {"rate<0.01"}},
		},
	}
	outcomes := []ThresholdOutcome{
		{Metric: MetricHTTPReqDuration, Expression: "p(95)<500", OK: true},
		{Metric: "errors", Expression: "rate<0.01", OK: false},
		{Metric: "unknown", Expression: "rate<1", OK: false},
	}

	data := Build(testSnapshot(), outcomes, opts, "run-1")

	t.Run("http metrics", func(t *testing.T) {
		assert.Equal(t, 100.0, data.Value(MetricHTTPReqs, "count"))
		assert.InDelta(t, 10.0, data.Value(MetricHTTPReqs, "rate"), 0.0001)
		assert.InDelta(t, 0.02, data.Value(MetricHTTPReqFailed, "rate"), 0.0001)
		assert.Equal(t, 2.0, data.Value(MetricHTTPReqFailed, "passes"))
		assert.Equal(t, 98.0, data.Value(MetricHTTPReqFailed, "fails"))
	})

	t.Run("trend in milliseconds", func(t *testing.T) {
		assert.Equal(t, 120.0, data.Value(MetricHTTPReqDuration, "avg"))
		assert.Equal(t, 100.0, data.Value(MetricHTTPReqDuration, "med"))
		assert.Equal(t, 420.0, data.Value(MetricHTTPReqDuration, "p(95)"))
		assert.Equal(t, TypeTrend, data.Metrics[MetricHTTPReqDuration].Type)
		assert.Equal(t, ContainsTime, data.Metrics[MetricHTTPReqDuration].Contains)
	})

	t.Run("checks", func(t *testing.T) {
		require.Len(t, data.RootGroup.Checks, 2)
		assert.Equal(t, "status is 200", data.RootGroup.Checks[0].Name)
		assert.Equal(t, "::status is 200", data.RootGroup.Checks[0].Path)
		assert.Equal(t, 195.0, data.Value(MetricChecks, "passes"))
		assert.Equal(t, 5.0, data.Value(MetricChecks, "fails"))
	})

	t.Run("custom rate over iterations", func(t *testing.T) {
		assert.Equal(t, 3.0, data.Value("errors", "count"))
		assert.InDelta(t, 0.03, data.Value("errors", "rate"), 0.0001)
		assert.Equal(t, TypeRate, data.Metrics["errors"].Type)
	})

	t.Run("thresholds attached", func(t *testing.T) {
		assert.True(t, data.Metrics[MetricHTTPReqDuration].Thresholds["p(95)<500"].OK)
		assert.False(t, data.Metrics["errors"].Thresholds["rate<0.01"].OK)
		assert.False(t, data.ThresholdsPassed())
	})

	t.Run("state and options", func(t *testing.T) {
		assert.Equal(t, "run-1", data.State.RunID)
		assert.Equal(t, 10000.0, data.State.TestRunDurationMs)
		assert.Equal(t, "http://example.com/twd.json", data.Options.Target)
		require.Len(t, data.Options.Stages, 1)
		assert.Equal(t, "5s", data.Options.Stages[0].Duration)
		assert.Equal(t, []string{"p(95)<500"}, data.Options.Thresholds[MetricHTTPReqDuration])
		assert.Equal(t, 20.0, data.Value(MetricVUsMax, "value"))
	})
}

func TestBuild_EmptySnapshot(t *testing.T) {
	data := Build(&metrics.Snapshot{}, nil, nil, "")

	assert.Equal(t, 0.0, data.Value(MetricHTTPReqs, "rate"))
	assert.Equal(t, 0.0, data.Value(MetricHTTPReqFailed, "rate"))
	assert.Empty(t, data.RootGroup.Checks)
	assert.True(t, data.ThresholdsPassed())
	assert.Equal(t, 0.0, data.Value("missing", "count"))
}

func TestData_JSON(t *testing.T) {
	data := Build(testSnapshot(), nil, nil, "run-1")

	out, err := data.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  \"metrics\": {")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Contains(t, decoded, "root_group")
	assert.Contains(t, decoded, "state")
}

func TestData_JSONKeepsOperators(t *testing.T) {
	opts := &config.Options{
		Target: "http://localhost/twd.json",
		Thresholds: &config.ThresholdsConfig{
			HTTPReqDuration: []string{"p(95)<500"},
			HTTPReqFailed:   []string{"rate<0.01"},
		},
	}
	thresholds := []ThresholdOutcome{
		{Metric: MetricHTTPReqDuration, Expression: "p(95)<500", OK: true},
		{Metric: MetricHTTPReqFailed, Expression: "rate<0.01", OK: true},
	}
	data := Build(testSnapshot(), thresholds, opts, "run-1")

	out, err := data.JSON()
	require.NoError(t, err)
	s := string(out)
	assert.Contains(t, s, `"p(95)<500": {`)
	assert.Contains(t, s, `"rate<0.01"`)
	assert.NotContains(t, s, `\u003c`)
	assert.True(t, strings.HasSuffix(s, "}\n"))
	assert.False(t, strings.HasSuffix(s, "\n\n"))
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer

	outputs := Outputs{
		StdoutKey:                 []byte("summary text\n"),
		"stress_test_summary.json": []byte(`{"ok":true}`),
		"nested/report.json":       []byte(`{}`),
	}

	require.NoError(t, Write(outputs, &stdout, dir))
	assert.Equal(t, "summary text\n", stdout.String())

	content, err := os.ReadFile(filepath.Join(dir, "stress_test_summary.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(content))

	_, err = os.Stat(filepath.Join(dir, "nested", "report.json"))
	assert.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, StdoutKey))
	assert.True(t, os.IsNotExist(err))
}
