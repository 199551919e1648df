package summary

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

// Build assembles the aggregate from a final metrics snapshot.
func Build(snap *metrics.Snapshot, thresholds []ThresholdOutcome, opts *config.Options, runID string) *Data {
	elapsed := snap.Elapsed.Seconds()
	perSecond := func(n int64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	data := &Data{
		Metrics: make(map[string]*Metric),
		RootGroup: Group{
			Name:   "",
			Path:   "",
			ID:     groupID(""),
			Groups: []Group{},
			Checks: []Check{},
		},
		State: State{
			TestRunDurationMs: float64(snap.Elapsed) / float64(time.Millisecond),
			RunID:             runID,
			StartTime:         snap.StartTime,
		},
		Options: runOptions(opts),
	}

	data.Metrics[MetricHTTPReqDuration] = trend(snap.Latency)
	data.Metrics[MetricIterationDuration] = trend(snap.IterationLatency)

	data.Metrics[MetricHTTPReqs] = &Metric{
		Type:     TypeCounter,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"count": float64(snap.TotalRequests),
			"rate":  perSecond(snap.TotalRequests),
		},
	}

	// As in k6, "passes" of http_req_failed counts the failed requests.
	data.Metrics[MetricHTTPReqFailed] = rate(snap.FailedRequests, snap.SuccessRequests)

	data.Metrics[MetricIterations] = &Metric{
		Type:     TypeCounter,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"count": float64(snap.Iterations),
			"rate":  perSecond(snap.Iterations),
		},
	}

	passes, fails := snap.CheckTotals()
	data.Metrics[MetricChecks] = rate(passes, fails)
	for _, c := range snap.Checks {
		data.RootGroup.Checks = append(data.RootGroup.Checks, Check{
			Name:   c.Name,
			Path:   "::" + c.Name,
			ID:     groupID("::" + c.Name),
			Passes: c.Passes,
			Fails:  c.Fails,
		})
	}

	// Custom counters are rates over iterations.
	for name, count := range snap.Custom {
		rest := snap.Iterations - count
		if rest < 0 {
			rest = 0
		}
		m := rate(count, rest)
		m.Values["count"] = float64(count)
		m.Values["rate"] = snap.CustomRate(name)
		data.Metrics[name] = m
	}

	data.Metrics[MetricVUs] = &Metric{
		Type:     TypeGauge,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"value": float64(snap.ActiveVUs),
			"min":   0,
			"max":   float64(snap.MaxVUs),
		},
	}

	vusMax := float64(snap.MaxVUs)
	if opts != nil && opts.MaxVUs() > snap.MaxVUs {
		vusMax = float64(opts.MaxVUs())
	}
	data.Metrics[MetricVUsMax] = &Metric{
		Type:     TypeGauge,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"value": vusMax,
			"min":   vusMax,
			"max":   vusMax,
		},
	}

	data.Metrics[MetricDataReceived] = &Metric{
		Type:     TypeCounter,
		Contains: ContainsData,
		Values: map[string]float64{
			"count": float64(snap.TotalBytes),
			"rate":  perSecond(snap.TotalBytes),
		},
	}

	for _, t := range thresholds {
		m, ok := data.Metrics[t.Metric]
		if !ok {
			continue
		}
		if m.Thresholds == nil {
			m.Thresholds = make(map[string]ThresholdResult)
		}
		m.Thresholds[t.Expression] = ThresholdResult{OK: t.OK}
	}

	return data
}

func trend(s metrics.LatencyStats) *Metric {
	return &Metric{
		Type:     TypeTrend,
		Contains: ContainsTime,
		Values: map[string]float64{
			"avg":   ms(s.Mean),
			"min":   ms(s.Min),
			"med":   ms(s.P50),
			"max":   ms(s.Max),
			"p(90)": ms(s.P90),
			"p(95)": ms(s.P95),
			"p(99)": ms(s.P99),
		},
	}
}

func rate(passes, fails int64) *Metric {
	var r float64
	if total := passes + fails; total > 0 {
		r = float64(passes) / float64(total)
	}
	return &Metric{
		Type:     TypeRate,
		Contains: ContainsDefault,
		Values: map[string]float64{
			"rate":   r,
			"passes": float64(passes),
			"fails":  float64(fails),
		},
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func runOptions(opts *config.Options) RunOptions {
	ro := RunOptions{SummaryTrendStats: TrendStats}
	if opts == nil {
		return ro
	}

	ro.Target = opts.Target
	ro.Executor = opts.Executor
	if opts.Executor != "constant-vus" {
		for _, s := range opts.Stages {
			ro.Stages = append(ro.Stages, StageOption{
				Name:     s.Name,
				Duration: s.Duration.String(),
				Target:   s.Target,
			})
		}
	}

	if t := opts.Thresholds; !t.IsEmpty() {
		ro.Thresholds = make(map[string][]string)
		add := func(name string, exprs []string) {
			if len(exprs) > 0 {
				ro.Thresholds[name] = exprs
			}
		}
		add(MetricHTTPReqDuration, t.HTTPReqDuration)
		add(MetricHTTPReqFailed, t.HTTPReqFailed)
		add(MetricHTTPReqs, t.HTTPReqs)
		add(MetricChecks, t.Checks)
		for name, exprs := range t.Custom {
			add(name, exprs)
		}
	}
	return ro
}

// groupID mirrors k6's group and check identifiers (md5 of the path).
func groupID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}
