package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratestress/internal/harness"
	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

type getScenario struct {
	url   string
	think time.Duration
}

func (s *getScenario) Configure() *config.Options {
	return &config.Options{Target: s.url}
}
func (s *getScenario) BeforeRun(context.Context, *config.Options, io.Writer) error {
	return nil
}
func (s *getScenario) AfterRun(ctx context.Context, w io.Writer) {}
func (s *getScenario) OnComplete(*summary.Data) (summary.Outputs, error) {
	return nil, nil
}

func (s *getScenario) Iterate(ctx context.Context, vu harness.VU, sink harness.MetricSink) error {
	vu.Get(ctx, s.url)
	vu.Sleep(ctx, s.think)
	return nil
}

func setup(t *testing.T) (*getScenario, *metrics.Engine, *harness.VUScheduler) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"twd":{}}`))
	}))
	t.Cleanup(server.Close)

	engine := metrics.NewEngine()
	t.Cleanup(engine.Stop)

	sc := &getScenario{url: server.URL, think: 10 * time.Millisecond}
	cfg := harness.DefaultSchedulerConfig()
	cfg.Seed = 1
	return sc, engine, harness.NewVUScheduler(sc, engine, cfg)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing type", Config{}, "type"},
		{"unknown type", Config{Type: "shared-iterations"}, "unknown executor type"},
		{"constant ok", Config{Type: TypeConstantVUs, VUs: 1, Duration: time.Second}, ""},
		{"constant no vus", Config{Type: TypeConstantVUs, Duration: time.Second}, "vus"},
		{"constant no duration", Config{Type: TypeConstantVUs, VUs: 1}, "duration"},
		{"ramping ok", Config{Type: TypeRampingVUs, Stages: []Stage{{Duration: time.Second, Target: 1}}}, ""},
		{"ramping no stages", Config{Type: TypeRampingVUs}, "at least one stage"},
		{"ramping negative target", Config{Type: TypeRampingVUs, Stages: []Stage{{Duration: time.Second, Target: -1}}}, "negative"},
		{"ramping zero total", Config{Type: TypeRampingVUs, Stages: []Stage{{Duration: 0, Target: 5}}}, "total stage duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_TotalDuration(t *testing.T) {
	cfg := Config{Type: TypeRampingVUs, Stages: []Stage{
		{Duration: 10 * time.Second, Target: 1},
		{Duration: 30 * time.Second, Target: 10},
		{Duration: 0, Target: 3},
	}}
	assert.Equal(t, 40*time.Second, cfg.TotalDuration())

	constant := Config{Type: TypeConstantVUs, VUs: 2, Duration: 5 * time.Second}
	assert.Equal(t, 5*time.Second, constant.TotalDuration())
}

func TestRampingVUs_CalculateTargetVUs(t *testing.T) {
	e := NewRampingVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type: TypeRampingVUs,
		Stages: []Stage{
			{Duration: 10 * time.Second, Target: 1},
			{Duration: 30 * time.Second, Target: 10},
			{Duration: 30 * time.Second, Target: 10},
			{Duration: 0, Target: 20},
			{Duration: 10 * time.Second, Target: 0},
		},
	}))

	tests := []struct {
		elapsed time.Duration
		want    int
		stage   int
	}{
		{0, 0, 0},
		{5 * time.Second, 1, 0},
		{10 * time.Second, 1, 1},
		{25 * time.Second, 6, 1},
		{40 * time.Second, 10, 2},
		{69 * time.Second, 10, 2},
		// the zero-length stage jumps to 20, the next stage ramps down from there
		{70 * time.Second, 20, 4},
		{75 * time.Second, 10, 4},
		{80 * time.Second, 0, 4},
	}

	for _, tt := range tests {
		got := e.calculateTargetVUs(tt.elapsed)
		assert.Equal(t, tt.want, got, "elapsed %s", tt.elapsed)
		assert.Equal(t, int32(tt.stage), e.currentStage.Load(), "elapsed %s", tt.elapsed)
	}
}

func TestRampingVUs_InitRejectsWrongType(t *testing.T) {
	e := NewRampingVUs()
	err := e.Init(context.Background(), &Config{Type: TypeConstantVUs, VUs: 1, Duration: time.Second})
	assert.Error(t, err)

	assert.Error(t, e.Run(context.Background(), nil, nil))
}

func TestRampingVUs_Run(t *testing.T) {
	_, engine, scheduler := setup(t)

	e := NewRampingVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type: TypeRampingVUs,
		Stages: []Stage{
			{Duration: 200 * time.Millisecond, Target: 3, Name: "up"},
			{Duration: 300 * time.Millisecond, Target: 3, Name: "hold"},
			{Duration: 200 * time.Millisecond, Target: 0, Name: "down"},
		},
		GracefulStop: 2 * time.Second,
	}))

	assert.Equal(t, 0.0, e.GetProgress())

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), scheduler, engine))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 700*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)

	snap := engine.GetSnapshot()
	assert.Greater(t, snap.Iterations, int64(0))
	assert.Greater(t, snap.TotalRequests, int64(0))
	assert.Equal(t, 3, snap.MaxVUs)
	assert.Equal(t, 0, scheduler.GetActiveVUCount())
	assert.Equal(t, metrics.PhaseDone, engine.GetPhase())
	assert.Equal(t, 1.0, e.GetProgress())

	var phases []metrics.Phase
	for _, pc := range engine.GetPhaseHistory() {
		phases = append(phases, pc.Phase)
	}
	assert.Contains(t, phases, metrics.PhaseRampUp)
	assert.Contains(t, phases, metrics.PhaseSteady)
	assert.Contains(t, phases, metrics.PhaseRampDown)

	stats := e.GetStats()
	assert.Equal(t, 3, stats.TotalStages)
	assert.Equal(t, "down", stats.CurrentStageName)
}

func TestRampingVUs_Stop(t *testing.T) {
	_, engine, scheduler := setup(t)

	e := NewRampingVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:   TypeRampingVUs,
		Stages: []Stage{{Duration: time.Minute, Target: 2}},
	}))

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = e.Stop(context.Background())
	}()

	start := time.Now()
	require.NoError(t, e.Run(context.Background(), scheduler, engine))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 0, scheduler.GetActiveVUCount())
}

func TestConstantVUs_Run(t *testing.T) {
	_, engine, scheduler := setup(t)

	e := NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:     TypeConstantVUs,
		VUs:      2,
		Duration: 300 * time.Millisecond,
	}))

	require.NoError(t, e.Run(context.Background(), scheduler, engine))

	snap := engine.GetSnapshot()
	assert.Greater(t, snap.Iterations, int64(2))
	assert.Equal(t, 2, snap.MaxVUs)
	assert.Equal(t, 0, scheduler.GetActiveVUCount())
	assert.Equal(t, 1.0, e.GetProgress())
	assert.Equal(t, 2, e.GetStats().TargetVUs)
}

func TestConstantVUs_ContextCancelled(t *testing.T) {
	_, engine, scheduler := setup(t)

	e := NewConstantVUs()
	require.NoError(t, e.Init(context.Background(), &Config{
		Type:     TypeConstantVUs,
		VUs:      1,
		Duration: time.Minute,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, scheduler, engine)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactory(t *testing.T) {
	ramping, err := New(TypeRampingVUs)
	require.NoError(t, err)
	assert.Equal(t, TypeRampingVUs, ramping.Type())

	constant, err := New(TypeConstantVUs)
	require.NoError(t, err)
	assert.Equal(t, TypeConstantVUs, constant.Type())

	_, err = New("per-vu-iterations")
	assert.Error(t, err)
}

func TestConfigFromOptions(t *testing.T) {
	opts := &config.Options{
		Name: "twd",
		Stages: []config.StageConfig{
			{Duration: config.Duration(10 * time.Second), Target: 1, Name: "warm-up"},
			{Duration: config.Duration(30 * time.Second), Target: 10},
		},
		GracefulStop: config.Duration(5 * time.Second),
	}

	cfg := ConfigFromOptions(opts)
	assert.Equal(t, TypeRampingVUs, cfg.Type)
	assert.Equal(t, "twd", cfg.Name)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, Stage{Duration: 10 * time.Second, Target: 1, Name: "warm-up"}, cfg.Stages[0])
	assert.Equal(t, 5*time.Second, cfg.GracefulStop)
	assert.Equal(t, 40*time.Second, cfg.TotalDuration())

	constant := ConfigFromOptions(&config.Options{VUs: 3, Duration: config.Duration(time.Second)})
	assert.Equal(t, TypeConstantVUs, constant.Type)
	assert.Equal(t, 3, constant.VUs)
}
