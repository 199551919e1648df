package harness

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It owns the shared HTTP client, hands out VU ids and seeds, and runs VU
// iteration loops for the executors.
type VUScheduler struct {
	scenario Scenario
	metrics  *metrics.Engine
	config   SchedulerConfig
	client   *http.Client

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	// iterationErrors counts errors returned by Scenario.Iterate
	iterationErrors atomic.Int64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	runWg        sync.WaitGroup
}

// SchedulerConfig contains HTTP client and VU configuration.
type SchedulerConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UserAgent is sent with every request
	UserAgent string

	// Seed is the base seed; VU n is seeded with Seed+n
	Seed int64

	// Sleep overrides think time for every VU (tests)
	Sleep SleepFunc
}

// DefaultSchedulerConfig returns sensible defaults for load testing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Timeout:             60 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		Seed:                time.Now().UnixNano(),
	}
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(scenario Scenario, metricsEngine *metrics.Engine, cfg SchedulerConfig) *VUScheduler {
	s := &VUScheduler{
		scenario:   scenario,
		metrics:    metricsEngine,
		config:     cfg,
		vus:        make(map[int]*VirtualUser),
		shutdownCh: make(chan struct{}),
	}
	s.client = s.createHTTPClient()
	return s
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = s.config.MaxIdleConns
	transport.MaxIdleConnsPerHost = s.config.MaxIdleConnsPerHost
	transport.IdleConnTimeout = s.config.IdleConnTimeout
	if s.config.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.config.Timeout,
	}
}

// SpawnVU creates and registers a new Virtual User. The caller runs it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	opts := []VUOption{
		WithSeed(s.config.Seed + int64(id)),
		WithUserAgent(s.config.UserAgent),
	}
	if s.config.Sleep != nil {
		opts = append(opts, WithSleepFunc(s.config.Sleep))
	}

	vu := NewVirtualUser(id, s.scenario, s.client, s.metrics, opts...)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	s.metrics.SetActiveVUs(s.GetActiveVUCount())
	return vu
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// IterationErrors returns how many iterations reported an error.
func (s *VUScheduler) IterationErrors() int64 {
	return s.iterationErrors.Load()
}

// StartVU runs vu in its own goroutine. See RunVU.
func (s *VUScheduler) StartVU(ctx context.Context, vu *VirtualUser) {
	s.runWg.Add(1)
	go func() {
		defer s.runWg.Done()
		s.RunVU(ctx, vu)
	}()
}

// RunVU runs a VU until it's stopped, the context is cancelled or the scheduler
// shuts down. It marks the VU stopped and unregisters it on return.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser) {
	defer s.removeVU(vu.ID())

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		default:
		}

		if state := vu.GetState(); state == VUStateStopping || state == VUStateStopped {
			return
		}

		if err := vu.RunIteration(ctx); err != nil {
			if ctx.Err() != nil || vu.GetState() == VUStateStopping {
				return
			}
			s.iterationErrors.Add(1)
		}
	}
}

func (s *VUScheduler) removeVU(id int) {
	s.vusMu.Lock()
	vu, exists := s.vus[id]
	delete(s.vus, id)
	s.vusMu.Unlock()

	if exists {
		vu.MarkStopped()
	}
	s.metrics.SetActiveVUs(s.GetActiveVUCount())
}

// StopAllVUs requests all VUs to stop after their current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every VU loop started with StartVU has returned or the timeout expires.
// Returns false on timeout.
func (s *VUScheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.runWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops all VUs, waits up to timeout for them and releases idle connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	s.StopAllVUs()
	s.Wait(timeout)
	s.client.CloseIdleConnections()
}
