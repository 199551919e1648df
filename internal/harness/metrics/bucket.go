package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore stores time-bucketed metrics in a ring buffer.
//
// Recording into the current interval is lock-free; bucket creation and reads take
// the store mutex. Old buckets are discarded once the buffer is full.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int // Next write position
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	currentRequests atomic.Int64
	currentFailures atomic.Int64
}

// NewTimeBucketStore creates a new time bucket store holding at most maxBuckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest records a request into the current interval accumulator.
func (tbs *TimeBucketStore) RecordRequest(success bool) {
	tbs.currentRequests.Add(1)
	if !success {
		tbs.currentFailures.Add(1)
	}
}

// CreateBucket closes the current interval and appends a bucket for it.
func (tbs *TimeBucketStore) CreateBucket(
	totalRequests, totalFailures, totalBytes int64,
	latencies LatencyPercentiles,
	activeVUs int,
	phase Phase,
) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	now := time.Now()

	intervalRequests := tbs.currentRequests.Swap(0)
	intervalFailures := tbs.currentFailures.Swap(0)

	intervalDuration := now.Sub(tbs.lastBucketTime).Seconds()
	if intervalDuration <= 0 {
		intervalDuration = 1.0
	}

	intervalErrorRate := 0.0
	if intervalRequests > 0 {
		intervalErrorRate = float64(intervalFailures) / float64(intervalRequests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     totalRequests,
		TotalFailures:     totalFailures,
		TotalBytes:        totalBytes,
		IntervalRequests:  intervalRequests,
		IntervalRPS:       float64(intervalRequests) / intervalDuration,
		IntervalErrorRate: intervalErrorRate,
		LatencyP50:        latencies.P50,
		LatencyP95:        latencies.P95,
		LatencyP99:        latencies.P99,
		ActiveVUs:         activeVUs,
		Phase:             phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}
	tbs.lastBucketTime = now

	return bucket
}

// GetBuckets returns a copy of all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	if tbs.count < tbs.maxBuckets {
		copy(result, tbs.buckets[:tbs.count])
	} else {
		for i := 0; i < tbs.count; i++ {
			result[i] = tbs.buckets[(tbs.head+i)%tbs.maxBuckets]
		}
	}

	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	idx := (tbs.head - 1 + tbs.maxBuckets) % tbs.maxBuckets
	return tbs.buckets[idx]
}

// Count returns the current number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}
