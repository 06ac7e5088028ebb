//go:build linux
// +build linux

package processhardening

import (
	"syscall"

	"github.com/stegfs-go/stegfs/internal/tlog"
)

// HardenProcess marks the process non-dumpable via PR_SET_DUMPABLE and
// zeroes RLIMIT_CORE, so a crash (or an attacker who gets a shell on the
// host) can't pull key material out of a core file.
func (ph *ProcessHardening) HardenProcess() {
	ph.setDumpable(false)
	ph.disableCoreDumps()

	tlog.Debug.Printf("processhardening: hardening applied (linux)")
}

func (ph *ProcessHardening) setDumpable(dumpable bool) {
	_ = prctl(syscall.PR_SET_DUMPABLE, boolToInt(dumpable), 0, 0, 0)
}

func (ph *ProcessHardening) disableCoreDumps() {
	_ = syscall.Setrlimit(syscall.RLIMIT_CORE, &syscall.Rlimit{
		Cur: 0,
		Max: 0,
	})
}

func prctl(option int, arg2, arg3, arg4, arg5 uintptr) error {
	_, _, errno := syscall.Syscall6(syscall.SYS_PRCTL, uintptr(option), arg2, arg3, arg4, arg5, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func boolToInt(b bool) uintptr {
	if b {
		return 1
	}
	return 0
}
