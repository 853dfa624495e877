package monitor

import (
	"runtime"
	"testing"
)

func BenchmarkTable_Observe(b *testing.B) {
	tb := New(DefaultCapacity, nil)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		tb.Observe(mac(byte(i)), 64)
	}
}

// Parallel producers hitting a table that is already full.
func BenchmarkTable_Observe_Full_Parallel(b *testing.B) {
	tb := New(4, nil)
	for i := 0; i < 4; i++ {
		tb.Observe(mac(byte(i)), 1)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			tb.Observe(mac(byte(i)), 64)
			i++

			if i%64 == 0 {
				runtime.Gosched()
			}
		}
	})
}
