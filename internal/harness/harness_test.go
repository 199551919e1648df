package harness

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ratestress/internal/harness/config"
	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
	"github.com/wesleyorama2/ratestress/internal/harness/summary"
)

// fakeScenario issues one GET per iteration and records a single check.
type fakeScenario struct {
	url        string
	iterations atomic.Int64
	failEvery  int64
}

func (s *fakeScenario) Configure() *config.Options {
	return &config.Options{Target: s.url}
}
func (s *fakeScenario) BeforeRun(context.Context, *config.Options, io.Writer) error {
	return nil
}
func (s *fakeScenario) AfterRun(ctx context.Context, w io.Writer) {}
func (s *fakeScenario) OnComplete(*summary.Data) (summary.Outputs, error) {
	return nil, nil
}

func (s *fakeScenario) Iterate(ctx context.Context, vu VU, sink MetricSink) error {
	n := s.iterations.Add(1)
	resp := vu.Get(ctx, s.url)
	vu.Check("status is 200", resp.Status == http.StatusOK)
	if resp.Failed() {
		sink.Add("errors", 1)
	}
	vu.Sleep(ctx, time.Millisecond)
	if s.failEvery > 0 && n%s.failEvery == 0 {
		return errors.New("synthetic failure")
	}
	return nil
}

func noSleep(ctx context.Context, stop <-chan struct{}, d time.Duration) {}

func newTestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDoGet(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"twd":{"jpy":4.5}}`))
	}))
	defer server.Close()

	resp := doGet(context.Background(), server.Client(), server.URL, "ratestress-test")

	require.NoError(t, resp.Error)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"twd":{"jpy":4.5}}`, resp.BodyString())
	assert.Equal(t, "ratestress-test", userAgent)
	assert.False(t, resp.Failed())
	assert.GreaterOrEqual(t, resp.Timings.Duration, 20*time.Millisecond)
	assert.Equal(t, resp.Timings.Duration, resp.Timings.Sending+resp.Timings.Waiting+resp.Timings.Receiving)
}

func TestDoGet_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	resp := doGet(context.Background(), http.DefaultClient, url, "")

	assert.Error(t, resp.Error)
	assert.Equal(t, 0, resp.Status)
	assert.True(t, resp.Failed())
	assert.Empty(t, resp.Body)
}

func TestTraceTimes_IgnoresLateCallbacks(t *testing.T) {
	trace := &traceTimes{}
	ct := trace.clientTrace()

	ct.ConnectStart("tcp", "127.0.0.1:80")
	ct.ConnectDone("tcp", "127.0.0.1:80", nil)
	frozen := trace.freeze()
	assert.False(t, frozen.connectStart.IsZero())

	// a dial the transport abandoned finishing after Do returned
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ct.ConnectStart("tcp", "127.0.0.1:80")
			ct.ConnectDone("tcp", "127.0.0.1:80", nil)
			ct.GotFirstResponseByte()
		}()
	}
	wg.Wait()

	again := trace.freeze()
	assert.Equal(t, frozen.connectStart, again.connectStart)
	assert.Equal(t, frozen.connecting, again.connecting)
	assert.True(t, again.firstByte.IsZero())
}

func TestResponse_Failed(t *testing.T) {
	tests := []struct {
		name   string
		resp   Response
		failed bool
	}{
		{"ok", Response{Status: 200}, false},
		{"redirect", Response{Status: 304}, false},
		{"client error", Response{Status: 404}, true},
		{"server error", Response{Status: 500}, true},
		{"no status", Response{}, true},
		{"transport error", Response{Status: 200, Error: errors.New("boom")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.failed, tt.resp.Failed())
		})
	}
}

func TestVirtualUser_RunIteration(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{}`)
	engine := metrics.NewEngine("errors")
	defer engine.Stop()

	sc := &fakeScenario{url: server.URL}
	vu := NewVirtualUser(1, sc, server.Client(), engine, WithSleepFunc(noSleep))

	for i := 0; i < 3; i++ {
		require.NoError(t, vu.RunIteration(context.Background()))
	}

	snap := engine.GetSnapshot()
	assert.Equal(t, int64(3), vu.Iteration())
	assert.Equal(t, int64(3), snap.Iterations)
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.Custom["errors"])
	require.Len(t, snap.Checks, 1)
	assert.Equal(t, int64(3), snap.Checks[0].Passes)
	assert.Equal(t, VUStateIdle, vu.GetState())
}

func TestVirtualUser_FailedRequestsFeedSink(t *testing.T) {
	server := newTestServer(t, http.StatusInternalServerError, "")
	engine := metrics.NewEngine("errors")
	defer engine.Stop()

	vu := NewVirtualUser(1, &fakeScenario{url: server.URL}, server.Client(), engine, WithSleepFunc(noSleep))
	require.NoError(t, vu.RunIteration(context.Background()))

	snap := engine.GetSnapshot()
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.Custom["errors"])
	assert.Equal(t, int64(1), snap.Checks[0].Fails)
}

func TestVirtualUser_StopLifecycle(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	vu := NewVirtualUser(7, &fakeScenario{}, http.DefaultClient, engine)
	assert.Equal(t, 7, vu.ID())

	vu.RequestStop()
	vu.RequestStop()
	assert.Equal(t, VUStateStopping, vu.GetState())
	assert.Error(t, vu.RunIteration(context.Background()))

	assert.False(t, vu.WaitForStop(10*time.Millisecond))
	vu.MarkStopped()
	vu.MarkStopped()
	assert.True(t, vu.WaitForStop(10*time.Millisecond))
	assert.Equal(t, VUStateStopped, vu.GetState())
}

func TestVirtualUser_SleepInterruptedByStop(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	vu := NewVirtualUser(1, &fakeScenario{}, http.DefaultClient, engine)

	done := make(chan struct{})
	go func() {
		vu.Sleep(context.Background(), time.Minute)
		close(done)
	}()

	vu.RequestStop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after RequestStop")
	}
}

func TestVirtualUser_SeededRand(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	a := NewVirtualUser(1, &fakeScenario{}, http.DefaultClient, engine, WithSeed(42))
	b := NewVirtualUser(2, &fakeScenario{}, http.DefaultClient, engine, WithSeed(42))

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Rand().Float64(), b.Rand().Float64())
	}
}

func TestDefaultSleep(t *testing.T) {
	t.Run("zero returns immediately", func(t *testing.T) {
		start := time.Now()
		DefaultSleep(context.Background(), nil, 0)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		DefaultSleep(ctx, nil, time.Minute)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("full duration", func(t *testing.T) {
		start := time.Now()
		DefaultSleep(context.Background(), nil, 20*time.Millisecond)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
}

func TestVUScheduler_RunAndStop(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{}`)
	engine := metrics.NewEngine("errors")
	defer engine.Stop()

	cfg := DefaultSchedulerConfig()
	cfg.Seed = 1
	cfg.Sleep = DefaultSleep
	sc := &fakeScenario{url: server.URL, failEvery: 5}
	scheduler := NewVUScheduler(sc, engine, cfg)

	for i := 0; i < 3; i++ {
		scheduler.StartVU(context.Background(), scheduler.SpawnVU())
	}
	assert.Equal(t, 3, scheduler.GetActiveVUCount())

	require.Eventually(t, func() bool {
		return engine.GetSnapshot().Iterations >= 10
	}, 5*time.Second, 10*time.Millisecond)

	scheduler.StopAllVUs()
	assert.True(t, scheduler.Wait(5*time.Second))
	assert.Equal(t, 0, scheduler.GetActiveVUCount())
	assert.Greater(t, scheduler.IterationErrors(), int64(0))
	assert.Equal(t, 3, engine.GetSnapshot().MaxVUs)

	scheduler.Shutdown(time.Second)
}

func TestVUScheduler_ContextCancel(t *testing.T) {
	server := newTestServer(t, http.StatusOK, `{}`)
	engine := metrics.NewEngine()
	defer engine.Stop()

	cfg := DefaultSchedulerConfig()
	cfg.Sleep = DefaultSleep
	scheduler := NewVUScheduler(&fakeScenario{url: server.URL}, engine, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	scheduler.StartVU(ctx, scheduler.SpawnVU())
	scheduler.StartVU(ctx, scheduler.SpawnVU())

	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.True(t, scheduler.Wait(5*time.Second))
	assert.Equal(t, 0, scheduler.GetActiveVUCount())
}

func TestVUScheduler_SpawnAssignsIDs(t *testing.T) {
	engine := metrics.NewEngine()
	defer engine.Stop()

	scheduler := NewVUScheduler(&fakeScenario{}, engine, DefaultSchedulerConfig())
	first := scheduler.SpawnVU()
	second := scheduler.SpawnVU()

	assert.Equal(t, 1, first.ID())
	assert.Equal(t, 2, second.ID())
}
