// Package cpudetection provides lightweight CPU/core detection. fileengine
// uses it to decide whether the MAX_COPIES decode attempts are raced on
// separate goroutines or tried one after another.
package cpudetection

import (
	"runtime"
	"strings"

	"github.com/stegfs-go/stegfs/internal/tlog"
)

// CPUFeatures describes what this process can usefully parallelise over.
type CPUFeatures struct {
	// NumCPU is the number of logical CPUs runtime.NumCPU() reports.
	NumCPU int
	// AESNI is a heuristic: true on architectures where AES-NI is
	// ubiquitous enough that assuming it is present is reasonable.
	AESNI bool
	// Arch is the GOARCH string.
	Arch string
}

// CPUDetector caches a single detection result for the process lifetime.
type CPUDetector struct {
	features *CPUFeatures
}

// New runs detection once and returns a CPUDetector.
func New() *CPUDetector {
	cd := &CPUDetector{}
	cd.detectFeatures()
	return cd
}

func (cd *CPUDetector) detectFeatures() {
	f := &CPUFeatures{
		NumCPU: runtime.NumCPU(),
		Arch:   runtime.GOARCH,
	}
	switch f.Arch {
	case "amd64", "arm64":
		f.AESNI = true
	}
	cd.features = f
	tlog.Debug.Printf("cpudetection: NumCPU=%d Arch=%s AESNI=%v", f.NumCPU, f.Arch, f.AESNI)
}

// GetFeatures returns the detected features.
func (cd *CPUDetector) GetFeatures() *CPUFeatures {
	return cd.features
}

// RecommendedWorkers returns how many goroutines are worth using to
// process workCount independent jobs (such as decode attempts). Never
// more than workCount, never more than NumCPU.
func (cd *CPUDetector) RecommendedWorkers(workCount int) int {
	if cd.features.NumCPU < 2 || workCount < 2 {
		return 1
	}
	w := cd.features.NumCPU
	if w > workCount {
		w = workCount
	}
	return w
}

// String renders a short human-readable summary, e.g. for -debug output.
func (cd *CPUDetector) String() string {
	f := cd.features
	parts := []string{"arch=" + f.Arch}
	if f.AESNI {
		parts = append(parts, "aes-ni")
	}
	return strings.Join(parts, " ")
}
