// Package output provides console output for stress runs.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/ratestress/internal/harness/engine"
	"github.com/wesleyorama2/ratestress/internal/harness/executor"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

const (
	ruleWidth      = 56
	progressWidth  = 30
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	StageName    string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	TestName      string
	ExecutorType  string
	Target        string
	TotalDuration time.Duration
	MaxVUs        int
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// Console renders the run header, live progress and the threshold report.
type Console struct {
	config ConsoleConfig
	writer io.Writer
	isTTY  bool

	rule    *color.Color
	bold    *color.Color
	value   *color.Color
	success *color.Color
	warn    *color.Color
	failure *color.Color

	mu          sync.Mutex
	liveLineLen int
}

// NewConsole creates a console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	c := &Console{
		config:  config,
		writer:  config.Writer,
		isTTY:   isTTY,
		rule:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
		value:   color.New(color.FgCyan),
		success: color.New(color.FgGreen, color.Bold),
		warn:    color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
	}
	for _, col := range []*color.Color{c.rule, c.bold, c.value, c.success, c.warn, c.failure} {
		if useColors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader() {
	if c.config.Quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat("━", ruleWidth)
	executorInfo := ""
	if c.config.ExecutorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.config.ExecutorType)
	}

	c.writeln(c.rule.Sprint(line))
	c.writeln(c.bold.Sprintf("%s - Running%s", c.config.TestName, executorInfo))
	c.writeln(c.rule.Sprint(line))
	if c.config.Target != "" {
		c.writeln(fmt.Sprintf("Target:    %s", c.value.Sprint(c.config.Target)))
	}
	if c.config.TotalDuration > 0 {
		c.writeln(fmt.Sprintf("Duration:  %s (max %d VUs)", c.value.Sprint(formatDuration(c.config.TotalDuration)), c.config.MaxVUs))
	}
	c.writeln("")
}

// Update prints a progress update: an in-place line on a terminal, one line per
// call otherwise.
func (c *Console) Update(stats *LiveStats) {
	if c.config.Quiet || stats == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writeln(c.formatStatusLine(stats))
		return
	}

	line := fmt.Sprintf("%s %3.0f%% %s", renderProgressBar(stats.Progress, progressWidth), stats.Progress*100, c.formatStatusLine(stats))
	pad := ""
	if n := len(line); n < c.liveLineLen {
		pad = strings.Repeat(" ", c.liveLineLen-n)
	}
	c.liveLineLen = len(line)
	fmt.Fprint(c.writer, "\r"+line+pad)
}

func (c *Console) formatStatusLine(stats *LiveStats) string {
	stage := stats.CurrentPhase
	if stats.StageName != "" {
		stage = fmt.Sprintf("%s %d/%d", stats.StageName, stats.CurrentStage, stats.TotalStages)
	}
	return fmt.Sprintf("[%s] %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stage,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95))
}

// FinishProgress ends the in-place progress line.
func (c *Console) FinishProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY && c.liveLineLen > 0 {
		fmt.Fprintln(c.writer)
		c.liveLineLen = 0
	}
}

// PrintResult prints the threshold report and the overall status.
func (c *Console) PrintResult(result *engine.Result) {
	if result == nil {
		return
	}

	if c.config.Quiet {
		if result.Passed {
			c.writeln(c.success.Sprint("PASSED"))
		} else {
			c.writeln(c.failure.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat("━", ruleWidth)
	status := c.success.Sprint("Completed ✓")
	if !result.Passed {
		status = c.failure.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.bold.Sprint(result.Name), status))
	c.writeln(c.rule.Sprint(line))

	if m := result.Metrics; m != nil {
		successRate := 1.0 - m.ErrorRate
		successColor := c.success
		if successRate < 0.99 {
			successColor = c.warn
		}
		if successRate < 0.95 {
			successColor = c.failure
		}
		c.writeln(fmt.Sprintf("Duration:      %s", c.value.Sprint(formatDuration(m.Elapsed))))
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.value.Sprint(formatNumber(m.TotalRequests))))
		c.writeln(fmt.Sprintf("Iterations:    %s", c.value.Sprint(formatNumber(m.Iterations))))
		c.writeln(fmt.Sprintf("Success Rate:  %s", successColor.Sprintf("%.1f%%", successRate*100)))
		c.writeln("")

		if len(m.Checks) > 0 {
			c.writeln(c.bold.Sprint("Checks:"))
			for _, check := range m.Checks {
				mark := c.success.Sprint("✓")
				if check.Fails > 0 {
					mark = c.failure.Sprint("✗")
				}
				c.writeln(fmt.Sprintf("  %s %-24s %d passed, %d failed", mark, check.Name, check.Passes, check.Fails))
			}
			c.writeln("")
		}
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.success.Sprint("✓")
			if !t.Passed {
				mark = c.failure.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln("      " + t.Message)
			}
		}
		c.writeln("")
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromMetrics creates LiveStats from an engine snapshot and executor stats.
func StatsFromMetrics(snapshot *metrics.Snapshot, progress float64, stats *executor.Stats) *LiveStats {
	live := &LiveStats{
		Progress:     progress,
		CurrentPhase: "initializing",
	}
	if stats != nil {
		live.TargetVUs = stats.TargetVUs
		live.StageName = stats.CurrentStageName
		live.CurrentStage = stats.CurrentStage + 1
		live.TotalStages = stats.TotalStages
		if stats.TotalDuration > stats.Elapsed {
			live.Remaining = stats.TotalDuration - stats.Elapsed
		}
	}
	if snapshot == nil {
		return live
	}

	live.Elapsed = snapshot.Elapsed
	live.ActiveVUs = snapshot.ActiveVUs
	live.CurrentRPS = snapshot.RPS
	live.TotalRequests = snapshot.TotalRequests
	live.Errors = snapshot.FailedRequests
	live.ErrorRate = snapshot.ErrorRate
	live.LatencyP95 = snapshot.Latency.P95
	live.LatencyAvg = snapshot.Latency.Mean
	live.CurrentPhase = string(snapshot.CurrentPhase)
	return live
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result strings.Builder
	if neg {
		result.WriteString("-")
	}
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
