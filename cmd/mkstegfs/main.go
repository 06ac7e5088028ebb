// Command mkstegfs formats a steganographic container: either a regular
// file of a given size, or an existing block device at its native size.
// It is a thin wrapper over internal/volume.Format — argument parsing and
// unit-suffix size parsing are explicitly out of scope for the core
// library (spec.md §1), so that logic lives here and nowhere else.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stegfs-go/stegfs/internal/processhardening"
	"github.com/stegfs-go/stegfs/internal/stegerr"
	"github.com/stegfs-go/stegfs/internal/tlog"
	"github.com/stegfs-go/stegfs/internal/volume"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("mkstegfs", flag.ContinueOnError)
	sizeFlag := fs.String("s", "", "container size, suffixed M/G/T/P/E (1024-radix); bare number = MB")
	force := fs.Bool("f", false, "overwrite an existing regular file")
	recreate := fs.Bool("r", false, "rewrite only the superblock, skipping the noise fill")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: mkstegfs <path> [-s SIZE] [-f] [-r]")
		fs.PrintDefaults()
	}
	// The path may precede the flags, as in the usage line; the flag
	// package stops at the first non-flag argument, so parsing resumes
	// after each positional argument.
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if err == flag.ErrHelp {
				return 0
			}
			return 2
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	if len(positional) != 1 {
		fs.Usage()
		return 2
	}
	path := positional[0]

	var sizeBytes int64
	if *sizeFlag != "" {
		n, err := parseSize(*sizeFlag)
		if err != nil {
			tlog.Fatal.Printf("mkstegfs: %v", err)
			return 1
		}
		sizeBytes = n
	}

	processhardening.New().HardenProcess()

	vol, err := volume.Format(path, volume.FormatOptions{
		SizeBytes: sizeBytes,
		Force:     *force,
		Recreate:  *recreate,
	})
	if err != nil {
		tlog.Fatal.Printf("mkstegfs: %v", err)
		if se, ok := err.(*stegerr.Error); ok {
			return se.Code.ExitCode()
		}
		return 1
	}
	defer vol.Close()

	tlog.Info.Printf("mkstegfs: formatted %s (%d blocks)", path, vol.BlockCount())
	return 0
}

// parseSize parses a size string with an optional M/G/T/P/E suffix over a
// 1024 radix; a bare number is interpreted as megabytes, per spec.md §6.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	suffix := s[len(s)-1]
	multiplier, hasSuffix := sizeMultiplier(suffix)

	numPart := s
	if hasSuffix {
		numPart = s[:len(s)-1]
	} else {
		multiplier = 1 << 20 // bare number = MB
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", s)
	}
	return n * multiplier, nil
}

func sizeMultiplier(suffix byte) (int64, bool) {
	switch suffix {
	case 'M', 'm':
		return 1 << 20, true
	case 'G', 'g':
		return 1 << 30, true
	case 'T', 't':
		return 1 << 40, true
	case 'P', 'p':
		return 1 << 50, true
	case 'E', 'e':
		return 1 << 60, true
	default:
		return 0, false
	}
}
