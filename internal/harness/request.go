package harness

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// Timings is the phase breakdown of one request.
type Timings struct {
	// Blocked is the time spent waiting for a free connection (and DNS)
	Blocked time.Duration `json:"blocked"`

	// Connecting is the TCP connect time
	Connecting time.Duration `json:"connecting"`

	// TLSHandshaking is the TLS handshake time
	TLSHandshaking time.Duration `json:"tlsHandshaking"`

	// Sending is the time spent writing the request
	Sending time.Duration `json:"sending"`

	// Waiting is the time to first response byte after the request was written
	Waiting time.Duration `json:"waiting"`

	// Receiving is the time spent reading the response body
	Receiving time.Duration `json:"receiving"`

	// Duration is Sending + Waiting + Receiving, connection setup excluded
	Duration time.Duration `json:"duration"`
}

// Response is the outcome of one request issued through a VU.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte
	Timings Timings

	// Error is set on transport or body read failures
	Error error
}

// BodyString returns the body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// Failed reports whether the request counts towards http_req_failed.
func (r *Response) Failed() bool {
	return r.Error != nil || r.Status == 0 || r.Status >= 400
}

// traceTimes collects httptrace callbacks. The transport may still fire dial
// callbacks from its own goroutine after Do returns, so writes after freeze are
// dropped.
type traceTimes struct {
	mu     sync.Mutex
	frozen bool

	connectStart, tlsStart, gotConn, wroteRequest, firstByte time.Time
	connecting, tlsHandshaking                               time.Duration
}

func (t *traceTimes) record(fn func(t *traceTimes)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.frozen {
		fn(t)
	}
}

// freeze stops further recording and returns a copy safe to read.
func (t *traceTimes) freeze() traceTimes {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
	return traceTimes{
		connectStart:   t.connectStart,
		tlsStart:       t.tlsStart,
		gotConn:        t.gotConn,
		wroteRequest:   t.wroteRequest,
		firstByte:      t.firstByte,
		connecting:     t.connecting,
		tlsHandshaking: t.tlsHandshaking,
	}
}

func (t *traceTimes) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			t.record(func(t *traceTimes) { t.gotConn = time.Now() })
		},
		ConnectStart: func(network, addr string) {
			t.record(func(t *traceTimes) { t.connectStart = time.Now() })
		},
		ConnectDone: func(network, addr string, err error) {
			t.record(func(t *traceTimes) {
				if err == nil && !t.connectStart.IsZero() {
					t.connecting = time.Since(t.connectStart)
				}
			})
		},
		TLSHandshakeStart: func() {
			t.record(func(t *traceTimes) { t.tlsStart = time.Now() })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			t.record(func(t *traceTimes) {
				if err == nil && !t.tlsStart.IsZero() {
					t.tlsHandshaking = time.Since(t.tlsStart)
				}
			})
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.record(func(t *traceTimes) { t.wroteRequest = time.Now() })
		},
		GotFirstResponseByte: func() {
			t.record(func(t *traceTimes) { t.firstByte = time.Now() })
		},
	}
}

// doGet executes a GET request and fills in the timing breakdown.
func doGet(ctx context.Context, client *http.Client, url, userAgent string) *Response {
	resp := &Response{URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		resp.Error = fmt.Errorf("failed to build request: %w", err)
		return resp
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	start := time.Now()
	trace := &traceTimes{}
	req = req.WithContext(httptrace.WithClientTrace(ctx, trace.clientTrace()))

	httpResp, err := client.Do(req)
	if err != nil {
		tt := trace.freeze()
		resp.Error = err
		resp.Timings.Connecting = tt.connecting
		resp.Timings.TLSHandshaking = tt.tlsHandshaking
		resp.Timings.Duration = time.Since(start)
		return resp
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	end := time.Now()
	tt := trace.freeze()

	resp.Status = httpResp.StatusCode
	resp.Headers = httpResp.Header
	resp.Body = body
	if err != nil {
		resp.Error = fmt.Errorf("failed to read response body: %w", err)
	}

	gotConn, wroteRequest, firstByte := tt.gotConn, tt.wroteRequest, tt.firstByte
	if gotConn.IsZero() {
		gotConn = start
	}
	if wroteRequest.IsZero() {
		wroteRequest = gotConn
	}
	if firstByte.IsZero() {
		firstByte = wroteRequest
	}

	resp.Timings.Connecting = tt.connecting
	resp.Timings.TLSHandshaking = tt.tlsHandshaking
	resp.Timings.Blocked = gotConn.Sub(start) - tt.connecting - tt.tlsHandshaking
	if resp.Timings.Blocked < 0 {
		resp.Timings.Blocked = 0
	}
	resp.Timings.Sending = wroteRequest.Sub(gotConn)
	resp.Timings.Waiting = firstByte.Sub(wroteRequest)
	resp.Timings.Receiving = end.Sub(firstByte)
	resp.Timings.Duration = end.Sub(gotConn)

	return resp
}
