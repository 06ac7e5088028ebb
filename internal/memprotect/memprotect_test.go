package memprotect

import "testing"

func TestSecureZeroOverwritesData(t *testing.T) {
	mp := New()
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	mp.SecureZero(data)

	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 after SecureZero", i, b)
		}
	}
}

func TestSecureZeroToleratesEmptyAndNilData(t *testing.T) {
	mp := New()
	mp.SecureZero(nil)
	mp.SecureZero([]byte{})
}

func BenchmarkSecureZero(b *testing.B) {
	mp := New()
	data := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range data {
			data[j] = byte(j % 256)
		}
		mp.SecureZero(data)
	}
}
