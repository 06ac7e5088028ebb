//go:build darwin
// +build darwin

package processhardening

import (
	"syscall"

	"github.com/stegfs-go/stegfs/internal/tlog"
)

// HardenProcess zeroes RLIMIT_CORE so a crash can't write a core file
// containing key material. macOS has no PR_SET_DUMPABLE equivalent exposed
// to an unprivileged process, so the core-dump limit is the full extent of
// what's available here.
func (ph *ProcessHardening) HardenProcess() {
	ph.disableCoreDumps()

	tlog.Debug.Printf("processhardening: hardening applied (darwin)")
}

func (ph *ProcessHardening) disableCoreDumps() {
	_ = syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{
		Cur: 0,
		Max: 0,
	})
}
