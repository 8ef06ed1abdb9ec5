package metrics

import "testing"

// BenchmarkCollector_Received measures the per-chunk receive overhead.
func BenchmarkCollector_Received(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Received(64)
	}
}

// BenchmarkCollector_SendSucceeded measures byte-counter overhead.
func BenchmarkCollector_SendSucceeded(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.SendSucceeded(32)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.LinkOpened()
	c.SendSucceeded(1024)
	c.RecordError("test")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}
