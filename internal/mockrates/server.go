// Package mockrates serves a local stand-in for the currency-rate document, with
// configurable latency and failures, for running the stress test offline.
package mockrates

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// DocumentPath mirrors the path of the public document.
const DocumentPath = "/npm/@fawazahmed0/currency-api@2024-10-01/v1/currencies/twd.json"

// Config shapes the responses.
type Config struct {
	// Date is the "date" field of the document
	Date string

	// Rates is the "twd" object of the document
	Rates map[string]float64

	// Latency is added before every document response
	Latency time.Duration

	// Jitter adds up to this much extra latency, uniformly
	Jitter time.Duration

	// FailRate is the fraction of document requests answered with FailStatus
	FailRate float64

	// FailStatus is the status of failed responses (default 500)
	FailStatus int

	// Seed seeds latency jitter and failure sampling; 0 picks one from the clock
	Seed int64
}

// DefaultRates is a small TWD rate table.
func DefaultRates() map[string]float64 {
	return map[string]float64{
		"eur": 0.0287,
		"jpy": 4.6723,
		"usd": 0.0313,
		"cny": 0.2214,
		"krw": 42.1102,
	}
}

type server struct {
	cfg  Config
	body []byte

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHandler returns a handler serving the document at DocumentPath and a health
// check at /health.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Date == "" {
		cfg.Date = "2024-10-01"
	}
	if cfg.Rates == nil {
		cfg.Rates = DefaultRates()
	}
	if cfg.FailStatus == 0 {
		cfg.FailStatus = http.StatusInternalServerError
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, fmt.Errorf("fail rate must be within [0, 1], got %v", cfg.FailRate)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	body, err := json.Marshal(map[string]any{
		"date": cfg.Date,
		"twd":  cfg.Rates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	s := &server{
		cfg:  cfg,
		body: body,
		rng:  rand.New(rand.NewSource(seed)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DocumentPath, s.serveDocument)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	return mux, nil
}

func (s *server) serveDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	delay, fail := s.sample()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-r.Context().Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if fail {
		w.WriteHeader(s.cfg.FailStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.body)
}

// sample draws the latency and failure outcome of one request.
func (s *server) sample() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.cfg.Latency
	if s.cfg.Jitter > 0 {
		delay += time.Duration(s.rng.Int63n(int64(s.cfg.Jitter)))
	}
	fail := s.cfg.FailRate > 0 && s.rng.Float64() < s.cfg.FailRate
	return delay, fail
}
