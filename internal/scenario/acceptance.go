package scenario

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

// Acceptance criteria of a run.
const (
	MinThroughput   = 5.0   // requests per second, exclusive
	MaxFailureRate  = 0.01  // fraction of failed requests, exclusive
	MaxP95Millis    = 500.0 // p(95) of http_req_duration, exclusive
	acceptanceTitle = "Acceptance"
)

// Verdict is the outcome of one acceptance criterion.
type Verdict struct {
	Name   string
	Actual float64
	Passed bool
}

// Acceptance holds the three verdicts derived from the end-of-run aggregate.
type Acceptance struct {
	Throughput   Verdict
	FailureRate  Verdict
	ResponseTime Verdict
}

// Passed reports whether every criterion passed.
func (a Acceptance) Passed() bool {
	return a.Throughput.Passed && a.FailureRate.Passed && a.ResponseTime.Passed
}

// Verdicts returns the verdicts in report order.
func (a Acceptance) Verdicts() []Verdict {
	return []Verdict{a.Throughput, a.FailureRate, a.ResponseTime}
}

// Evaluate derives the verdicts from a throughput (req/s), a failed-request rate
// and a p95 response time in milliseconds.
func Evaluate(throughput, failureRate, p95 float64) Acceptance {
	return Acceptance{
		Throughput:   Verdict{Name: "TPS > 5", Actual: throughput, Passed: throughput > MinThroughput},
		FailureRate:  Verdict{Name: "error rate < 1%", Actual: failureRate, Passed: failureRate < MaxFailureRate},
		ResponseTime: Verdict{Name: "response time < 500ms", Actual: p95, Passed: p95 < MaxP95Millis},
	}
}

// EvaluateAcceptance reads the criteria inputs from the aggregate.
func EvaluateAcceptance(data *summary.Data) Acceptance {
	return Evaluate(
		data.Value(summary.MetricHTTPReqs, "rate"),
		data.Value(summary.MetricHTTPReqFailed, "rate"),
		data.Value(summary.MetricHTTPReqDuration, "p(95)"),
	)
}

// WriteReport prints the human-readable summary and the acceptance verdicts.
func WriteReport(w io.Writer, data *summary.Data) Acceptance {
	acc := EvaluateAcceptance(data)
	if w == nil {
		return acc
	}

	bold := color.New(color.Bold)
	pass := color.New(color.FgGreen)
	fail := color.New(color.FgRed)

	fmt.Fprintln(w)
	bold.Fprintln(w, "Summary")
	fmt.Fprintf(w, "  Total requests:      %.0f\n", data.Value(summary.MetricHTTPReqs, "count"))
	fmt.Fprintf(w, "  Avg response time:   %.2fms\n", data.Value(summary.MetricHTTPReqDuration, "avg"))
	fmt.Fprintf(w, "  P95 response time:   %.2fms\n", data.Value(summary.MetricHTTPReqDuration, "p(95)"))
	fmt.Fprintf(w, "  Error rate:          %.2f%%\n", data.Value(summary.MetricHTTPReqFailed, "rate")*100)
	fmt.Fprintf(w, "  TPS:                 %.2f\n", data.Value(summary.MetricHTTPReqs, "rate"))

	fmt.Fprintln(w)
	bold.Fprintln(w, acceptanceTitle)
	for _, v := range acc.Verdicts() {
		if v.Passed {
			fmt.Fprintf(w, "  %-24s %s\n", v.Name+":", pass.Sprint("PASS"))
		} else {
			fmt.Fprintf(w, "  %-24s %s\n", v.Name+":", fail.Sprint("FAIL"))
		}
	}
	return acc
}
