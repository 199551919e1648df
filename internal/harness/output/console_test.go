package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/ratestress/internal/harness/engine"
	"github.com/wesleyorama2/ratestress/internal/harness/executor"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

func newTestConsole(buf *bytes.Buffer, quiet, tty bool) *Console {
	return NewConsole(ConsoleConfig{
		TestName:      "TWD rates stress",
		ExecutorType:  "ramping-vus",
		Target:        "http://localhost/twd.json",
		TotalDuration: 200 * time.Second,
		MaxVUs:        20,
		Writer:        buf,
		Quiet:         quiet,
		NoColor:       true,
		ForceTTY:      tty,
	})
}

func TestConsole_PrintHeader(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, false, false).PrintHeader()

	out := buf.String()
	assert.Contains(t, out, "TWD rates stress - Running [ramping-vus]")
	assert.Contains(t, out, "Target:    http://localhost/twd.json")
	assert.Contains(t, out, "Duration:  3m 20s (max 20 VUs)")
	assert.NotContains(t, out, "\033[")
}

func TestConsole_QuietHeader(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, true, false).PrintHeader()
	assert.Empty(t, buf.String())
}

func TestConsole_UpdateNonInteractive(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false, false)
	assert.False(t, c.IsTTY())

	stats := &LiveStats{
		Progress:      0.5,
		Elapsed:       90 * time.Second,
		ActiveVUs:     10,
		TargetVUs:     10,
		CurrentRPS:    12.5,
		TotalRequests: 1125,
		Errors:        3,
		ErrorRate:     0.0027,
		LatencyP95:    420 * time.Millisecond,
		StageName:     "hold-10",
		CurrentStage:  3,
		TotalStages:   7,
	}
	c.Update(stats)
	c.Update(stats)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "[1m 30s] hold-10 3/7 | VUs: 10/10 | Reqs: 1125 | RPS: 12.5 | Errors: 3 (0.3%) | P95: 420ms", lines[0])
}

func TestConsole_UpdateTTY(t *testing.T) {
	var buf bytes.Buffer
	c := newTestConsole(&buf, false, true)

	c.Update(&LiveStats{Progress: 0.25, CurrentPhase: "ramp-up"})
	c.Update(&LiveStats{Progress: 0.5, CurrentPhase: "steady"})
	c.FinishProgress()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, " 50% ")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestConsole_PrintResult(t *testing.T) {
	result := &engine.Result{
		Name:   "TWD rates stress",
		Passed: false,
		Metrics: &metrics.Snapshot{
			TotalRequests: 1500,
			Iterations:    1500,
			ErrorRate:     0.02,
			Elapsed:       200 * time.Second,
			Checks: []metrics.CheckStats{
				{Name: "status is 200", Passes: 1470, Fails: 30},
			},
		},
		Thresholds: []engine.ThresholdResult{
			{Metric: "http_req_duration", Expression: "p(95)<500", Passed: true, Value: "420.00ms"},
			{Metric: "http_req_failed", Expression: "rate<0.01", Passed: false, Value: "0.0200", Message: "rate is 0.0200, threshold: < 0.01"},
		},
	}

	var buf bytes.Buffer
	newTestConsole(&buf, false, false).PrintResult(result)
	out := buf.String()

	assert.Contains(t, out, "TWD rates stress - Failed ✗")
	assert.Contains(t, out, "Total Reqs:    1,500")
	assert.Contains(t, out, "Success Rate:  98.0%")
	assert.Contains(t, out, "✗ status is 200")
	assert.Contains(t, out, "✓ http_req_duration p(95)<500 (actual: 420.00ms)")
	assert.Contains(t, out, "✗ http_req_failed rate<0.01 (actual: 0.0200)")
	assert.Contains(t, out, "rate is 0.0200")
}

func TestConsole_PrintResultQuiet(t *testing.T) {
	var buf bytes.Buffer
	newTestConsole(&buf, true, false).PrintResult(&engine.Result{Passed: true})
	assert.Equal(t, "PASSED\n", buf.String())

	buf.Reset()
	newTestConsole(&buf, true, false).PrintResult(&engine.Result{Passed: false})
	assert.Equal(t, "FAILED\n", buf.String())
}

func TestStatsFromMetrics(t *testing.T) {
	live := StatsFromMetrics(nil, 0.1, nil)
	assert.Equal(t, "initializing", live.CurrentPhase)

	snap := &metrics.Snapshot{
		ActiveVUs:      5,
		TotalRequests:  100,
		FailedRequests: 2,
		ErrorRate:      0.02,
		CurrentPhase:   metrics.PhaseRampUp,
		Elapsed:        20 * time.Second,
	}
	stats := &executor.Stats{
		TargetVUs:        6,
		CurrentStage:     1,
		CurrentStageName: "ramp-10",
		TotalStages:      7,
		Elapsed:          20 * time.Second,
		TotalDuration:    200 * time.Second,
	}

	live = StatsFromMetrics(snap, 0.1, stats)
	assert.Equal(t, 5, live.ActiveVUs)
	assert.Equal(t, 6, live.TargetVUs)
	assert.Equal(t, 2, live.CurrentStage)
	assert.Equal(t, "ramp-10", live.StageName)
	assert.Equal(t, int64(2), live.Errors)
	assert.Equal(t, 180*time.Second, live.Remaining)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "3m 20s", formatDuration(200*time.Second))
	assert.Equal(t, "1h 00m 05s", formatDuration(time.Hour+5*time.Second))

	assert.Equal(t, "0ms", formatDurationShort(0))
	assert.Equal(t, "250µs", formatDurationShort(250*time.Microsecond))
	assert.Equal(t, "1.25s", formatDurationShort(1250*time.Millisecond))

	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,234", formatNumber(1234))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-1,000", formatNumber(-1000))

	assert.Equal(t, "[██░░]", renderProgressBar(0.5, 4))
	assert.Equal(t, "[████]", renderProgressBar(1.5, 4))
}
