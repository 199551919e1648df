// Package harness is the virtual-user runtime a stress scenario runs on.
//
// A Scenario declares its load shape through Configure and is then driven by the
// engine in a fixed order:
//
//	Configure -> BeforeRun -> Iterate (per VU, repeatedly) -> AfterRun -> OnComplete
//
// Iterate receives the VU it runs on and a MetricSink owned by the run, so a scenario
// never keeps mutable state of its own between iterations.
package harness

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

// Scenario is a stress scenario the engine can run.
type Scenario interface {
	// Configure returns the load shape, thresholds and custom metrics.
	Configure() *config.Options

	// BeforeRun is called once before any VU starts, with the effective options
	// (scenario defaults merged with overrides). An error aborts the run.
	BeforeRun(ctx context.Context, opts *config.Options, w io.Writer) error

	// Iterate performs one iteration on vu. Returned errors are counted, never fatal.
	Iterate(ctx context.Context, vu VU, sink MetricSink) error

	// AfterRun is called once after every VU has stopped.
	AfterRun(ctx context.Context, w io.Writer)

	// OnComplete turns the end-of-run aggregate into named outputs.
	// The key "stdout" is written to standard output, every other key is a file name.
	OnComplete(data *summary.Data) (summary.Outputs, error)
}

// VU is the view of a virtual user handed to Scenario.Iterate.
type VU interface {
	// ID is the 1-based identifier of the VU.
	ID() int

	// Iteration is the 1-based number of the iteration being run.
	Iteration() int64

	// Get issues a GET request and records http_req metrics. It never returns nil;
	// transport failures are reported through Response.Error with Status 0.
	Get(ctx context.Context, url string) *Response

	// Check records a named boolean assertion and returns ok.
	Check(name string, ok bool) bool

	// Sleep pauses the VU for d or until ctx is done or the VU is stopped.
	Sleep(ctx context.Context, d time.Duration)

	// Rand is the VU's own seeded random source. Not safe to share across VUs.
	Rand() *rand.Rand
}

// MetricSink accepts additions to custom counters the scenario registered through
// Options.CustomMetrics.
type MetricSink interface {
	Add(name string, delta int64)
}
