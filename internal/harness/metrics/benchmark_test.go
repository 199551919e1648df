package metrics

import (
	"testing"
	"time"
)

var benchLatencies = []time.Duration{
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

// BenchmarkEngine_RecordRequest measures recording into the HDR histogram.
func BenchmarkEngine_RecordRequest(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		engine.RecordRequest(benchLatencies[i%len(benchLatencies)], true, 1024)
	}
}

// BenchmarkEngine_RecordRequest_Parallel is the VU case: many goroutines recording at once.
func BenchmarkEngine_RecordRequest_Parallel(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			engine.RecordRequest(benchLatencies[i%len(benchLatencies)], i%100 != 0, 1024)
			i++
		}
	})
}

// BenchmarkEngine_RecordCheck_Parallel measures the check lookup on the read path.
func BenchmarkEngine_RecordCheck_Parallel(b *testing.B) {
	engine := NewEngine()
	defer engine.Stop()

	names := []string{"status is 200", "response contains jpy", "response time < 500ms", "response is JSON"}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			engine.RecordCheck(names[i%len(names)], i%50 != 0)
			i++
		}
	})
}

// BenchmarkEngine_Add_Parallel measures custom counter additions.
func BenchmarkEngine_Add_Parallel(b *testing.B) {
	engine := NewEngine("errors")
	defer engine.Stop()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			engine.Add("errors", 1)
		}
	})
}

// BenchmarkEngine_GetSnapshot measures snapshot cost with a populated histogram.
func BenchmarkEngine_GetSnapshot(b *testing.B) {
	engine := NewEngine("errors")
	defer engine.Stop()

	for i := 0; i < 10000; i++ {
		engine.RecordRequest(benchLatencies[i%len(benchLatencies)], true, 512)
		engine.RecordCheck("status is 200", true)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = engine.GetSnapshot()
	}
}
