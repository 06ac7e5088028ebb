package cpudetection

import "testing"

func TestCPUDetector(t *testing.T) {
	cd := New()
	features := cd.GetFeatures()
	if features == nil {
		t.Fatal("GetFeatures returned nil")
	}
	if features.Arch == "" {
		t.Error("CPU architecture should not be empty")
	}
	if features.NumCPU < 1 {
		t.Error("NumCPU should be at least 1")
	}

	str := cd.String()
	if str == "" {
		t.Error("String representation should not be empty")
	}
	t.Logf("detected: %s", str)
}

func TestRecommendedWorkers(t *testing.T) {
	cd := New()
	if w := cd.RecommendedWorkers(1); w != 1 {
		t.Errorf("RecommendedWorkers(1) = %d, want 1", w)
	}
	w := cd.RecommendedWorkers(1000)
	if w < 1 || w > cd.GetFeatures().NumCPU {
		t.Errorf("RecommendedWorkers(1000) = %d, out of [1,%d]", w, cd.GetFeatures().NumCPU)
	}
}

func BenchmarkCPUDetector(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = New()
	}
}
