package harness

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/ratestress/internal/harness/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is actively running an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SleepFunc pauses for d unless ctx or stop fires first.
type SleepFunc func(ctx context.Context, stop <-chan struct{}, d time.Duration)

// DefaultSleep waits on a timer, returning early on ctx or stop.
func DefaultSleep(ctx context.Context, stop <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-stop:
	case <-timer.C:
	}
}

// VirtualUser is a single simulated client running scenario iterations.
//
// Each VU has its own random source and iteration counter; the HTTP client and the
// metrics engine are shared with the other VUs of the run.
type VirtualUser struct {
	id        int
	scenario  Scenario
	client    *http.Client
	metrics   *metrics.Engine
	rng       *rand.Rand
	sleep     SleepFunc
	userAgent string

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// VUOption configures a VirtualUser.
type VUOption func(*VirtualUser)

// WithSleepFunc replaces the think-time implementation.
func WithSleepFunc(fn SleepFunc) VUOption {
	return func(vu *VirtualUser) {
		vu.sleep = fn
	}
}

// WithSeed seeds the VU's random source.
func WithSeed(seed int64) VUOption {
	return func(vu *VirtualUser) {
		vu.rng = rand.New(rand.NewSource(seed))
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) VUOption {
	return func(vu *VirtualUser) {
		vu.userAgent = ua
	}
}

// NewVirtualUser creates a new Virtual User.
func NewVirtualUser(id int, scenario Scenario, client *http.Client, metricsEngine *metrics.Engine, opts ...VUOption) *VirtualUser {
	vu := &VirtualUser{
		id:       id,
		scenario: scenario,
		client:   client,
		metrics:  metricsEngine,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		sleep:    DefaultSleep,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(vu)
	}
	return vu
}

// ID returns the VU identifier.
func (vu *VirtualUser) ID() int {
	return vu.id
}

// Iteration returns the number of the current (or last) iteration.
func (vu *VirtualUser) Iteration() int64 {
	return vu.iteration.Load()
}

// Rand returns the VU's random source.
func (vu *VirtualUser) Rand() *rand.Rand {
	return vu.rng
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// Get issues a GET request and records it in the metrics engine.
func (vu *VirtualUser) Get(ctx context.Context, url string) *Response {
	resp := doGet(ctx, vu.client, url, vu.userAgent)

	// Requests aborted by the end of the run are not samples.
	if resp.Error != nil && ctx.Err() != nil {
		return resp
	}

	vu.metrics.RecordRequest(resp.Timings.Duration, !resp.Failed(), int64(len(resp.Body)))
	return resp
}

// Check records a named check.
func (vu *VirtualUser) Check(name string, ok bool) bool {
	return vu.metrics.RecordCheck(name, ok)
}

// Sleep pauses the VU.
func (vu *VirtualUser) Sleep(ctx context.Context, d time.Duration) {
	vu.sleep(ctx, vu.stopCh, d)
}

// RunIteration executes a single iteration of the scenario.
//
// Returns an error if the VU is stopping or the scenario reported one; the latter is
// informational and the VU may keep iterating.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	currentState := vu.GetState()
	if currentState == VUStateStopping || currentState == VUStateStopped {
		return fmt.Errorf("VU %d is stopping or stopped", vu.id)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	vu.iteration.Add(1)
	start := time.Now()

	err := vu.scenario.Iterate(ctx, vu, vu.metrics)

	// Iterations interrupted by cancellation are not counted, matching dropped requests.
	if ctx.Err() == nil {
		vu.metrics.RecordIteration(time.Since(start))
	}

	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	if err != nil {
		return fmt.Errorf("VU %d iteration %d: %w", vu.id, vu.iteration.Load(), err)
	}
	return nil
}

// RequestStop signals the VU to stop after completing the current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	if VUState(vu.state.Swap(int32(VUStateStopped))) == VUStateStopped {
		return
	}
	close(vu.doneCh)
}

// Ensure VirtualUser implements VU
var _ VU = (*VirtualUser)(nil)
