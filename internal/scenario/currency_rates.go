package scenario

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/ratestress/internal/harness"
	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
	"github.com/wesleyorama2/ratestress/pkg/jsonschema"
)

var jpy = []byte("jpy")

// CurrencyRates loads the TWD currency document and checks its content.
//
// The fields are set once by BeforeRun and only read by Iterate.
type CurrencyRates struct {
	target string
	schema *jsonschema.Schema
	log    io.Writer
}

// NewCurrencyRates creates the scenario.
func NewCurrencyRates() *CurrencyRates {
	return &CurrencyRates{
		target: DefaultURL,
		log:    io.Discard,
	}
}

// Configure returns the stages, thresholds and custom metrics of the scenario.
func (s *CurrencyRates) Configure() *config.Options {
	return DefaultOptions()
}

// BeforeRun announces the run and prepares the optional schema check.
func (s *CurrencyRates) BeforeRun(ctx context.Context, opts *config.Options, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	s.log = w
	if opts.Target != "" {
		s.target = opts.Target
	}

	switch opts.Schema {
	case "":
	case BuiltinSchema:
		schema, err := jsonschema.Compile(DocumentSchema)
		if err != nil {
			return err
		}
		s.schema = schema
	default:
		schema, err := jsonschema.CompileFile(opts.Schema)
		if err != nil {
			return err
		}
		s.schema = schema
	}

	fmt.Fprintln(w, "Starting stress test...")
	fmt.Fprintf(w, "Target URL: %s\n", s.target)
	fmt.Fprintln(w, "Expected TPS > 5")
	fmt.Fprintln(w, "Expected error rate < 1%")
	fmt.Fprintln(w, "Expected response time < 500ms")
	return nil
}

// Iterate requests the document once, records the checks and pauses for think time.
// Failed checks are telemetry; Iterate never returns an error for them.
func (s *CurrencyRates) Iterate(ctx context.Context, vu harness.VU, sink harness.MetricSink) error {
	resp := vu.Get(ctx, s.target)
	body := resp.Body

	statusOK := vu.Check(CheckStatus200, resp.Status == http.StatusOK)
	hasJPY := vu.Check(CheckContainsJPY, bytes.Contains(body, jpy))
	if !statusOK || !hasJPY {
		sink.Add(MetricErrors, 1)
	}

	vu.Check(CheckResponseTime, resp.Timings.Duration < ResponseTimeLimit)

	validJSON := len(body) > 0 && gjson.ValidBytes(body)
	vu.Check(CheckIsJSON, validJSON)

	if resp.Status == http.StatusOK {
		s.checkStructure(vu, sink, body, validJSON)
	}

	if s.schema != nil {
		ok, _ := s.schema.Validate(body)
		vu.Check(CheckSchema, ok)
	}

	vu.Sleep(ctx, ThinkTime(vu.Rand()))
	return nil
}

// checkStructure records the twd sub-checks. A body that cannot be inspected (not
// JSON, or a bare null) counts as an error and skips them.
func (s *CurrencyRates) checkStructure(vu harness.VU, sink harness.MetricSink, body []byte, validJSON bool) {
	if !validJSON {
		sink.Add(MetricErrors, 1)
		return
	}

	root := gjson.ParseBytes(body)
	if root.Type == gjson.Null {
		sink.Add(MetricErrors, 1)
		return
	}

	var twd gjson.Result
	if root.IsObject() {
		twd = root.Get("twd")
	}
	vu.Check(CheckHasTWD, twd.Exists())
	// Arrays and null count as objects here, as they do for typeof.
	vu.Check(CheckTWDIsObject, twd.IsObject() || twd.IsArray() || (twd.Exists() && twd.Type == gjson.Null))
}

// AfterRun announces the end of the run.
func (s *CurrencyRates) AfterRun(ctx context.Context, w io.Writer) {
	if w == nil {
		return
	}
	fmt.Fprintln(w, "Stress test complete")
	fmt.Fprintf(w, "See the summary report (%s) for detailed results\n", SummaryFile)
}

// OnComplete prints the summary and acceptance verdicts, and returns the aggregate
// as indented JSON for stdout and SummaryFile.
func (s *CurrencyRates) OnComplete(data *summary.Data) (summary.Outputs, error) {
	WriteReport(s.log, data)

	out, err := data.JSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	return summary.Outputs{
		summary.StdoutKey: out,
		SummaryFile:       out,
	}, nil
}

// ThinkTime draws a pause uniformly from [MinThinkTime, MaxThinkTime).
func ThinkTime(rng *rand.Rand) time.Duration {
	span := MaxThinkTime - MinThinkTime
	return MinThinkTime + time.Duration(rng.Float64()*float64(span))
}

var _ harness.Scenario = (*CurrencyRates)(nil)
