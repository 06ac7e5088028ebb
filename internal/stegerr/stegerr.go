// Package stegerr defines the sum-typed error taxonomy for the stegfs
// core, adapted from the teacher's internal/exitcodes idiom: there, a
// flat integer enum maps to a process exit code at the CLI boundary.
// Here the core is a library, not a process, so the enum is wrapped in
// a real Go error instead of being passed to os.Exit directly; a thin
// cmd/ layer is the only place that still converts a Code to a process
// exit status (see ExitCode).
package stegerr

import "fmt"

// Code identifies one of the error kinds from spec.md §7.
type Code int

const (
	// NotOurs is internal only: a block's path_tag or hash did not match
	// the expectation. Never surfaced past the block codec / placement
	// layers, by design (spec.md §7).
	NotOurs Code = iota
	// BadMagic indicates a superblock magic-number mismatch.
	BadMagic
	// NoData indicates stat/load found no recoverable header.
	NoData
	// PartialData indicates some bytes were recovered but no copy
	// verified completely.
	PartialData
	// NoSpace indicates find_free_block exhausted its attempt budget.
	NoSpace
	// TooBig indicates a file exceeds 5/8 of the volume size times
	// MAX_COPIES.
	TooBig
	// IO indicates an underlying read/write was short or errored.
	IO
	// OOM indicates a buffer allocation failed.
	OOM
)

var names = map[Code]string{
	NotOurs:     "not ours",
	BadMagic:    "bad superblock magic",
	NoData:      "no data",
	PartialData: "partial data",
	NoSpace:     "no space",
	TooBig:      "too big",
	IO:          "i/o error",
	OOM:         "out of memory",
}

// exitCodes mirrors the teacher's exitcodes table: one POSIX-ish process
// exit status per Code, used only at the cmd/ boundary.
var exitCodes = map[Code]int{
	NotOurs:     1,
	BadMagic:    10,
	NoData:      61, // ENODATA
	PartialData: 5,  // EIO
	NoSpace:     28, // ENOSPC
	TooBig:      27, // EFBIG
	IO:          5,  // EIO
	OOM:         12, // ENOMEM
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("stegerr.Code(%d)", int(c))
}

// ExitCode returns the process exit status a cmd/ entry point should use
// for this Code. Never called from the core itself.
func (c Code) ExitCode() int {
	if n, ok := exitCodes[c]; ok {
		return n
	}
	return 1
}

// Error wraps a Code with a contextual message. No error leaks which
// block indices were touched (spec.md §7 side-channel hygiene): callers
// should keep Msg free of index/offset detail.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Msg
}

// New builds a *Error for the given Code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Is reports whether err is a *Error carrying the given Code, so callers
// can do `errors.Is`-free switch-free checks like stegerr.Is(err, stegerr.NoSpace).
func Is(err error, code Code) bool {
	se, ok := err.(*Error)
	return ok && se.Code == code
}
