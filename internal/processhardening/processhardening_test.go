package processhardening

import "testing"

func TestHardenProcessDoesNotPanic(t *testing.T) {
	ph := New()
	ph.HardenProcess()
}

func BenchmarkHardenProcess(b *testing.B) {
	ph := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ph.HardenProcess()
	}
}
