package volume

import (
	"encoding/binary"
	"os"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/cryptocore"
	"github.com/stegfs-go/stegfs/internal/parallelcrypto"
	"github.com/stegfs-go/stegfs/internal/stegerr"
	"github.com/stegfs-go/stegfs/internal/tlog"
	"github.com/stegfs-go/stegfs/internal/tlv"
)

// FormatOptions controls Format's behaviour, mirroring the mkfs flag
// table in spec.md §6 (-s/-f/-r).
type FormatOptions struct {
	// SizeBytes is the target container size. Ignored for block devices,
	// which use their native size.
	SizeBytes int64
	// Force permits overwriting an existing regular file.
	Force bool
	// Recreate rewrites only the superblock on an existing container,
	// skipping the (expensive) noise fill.
	Recreate bool
}

// noiseChunkSize is the unit Format's parallel noise-fill divides the
// container into — large enough to amortise one cipher-context setup,
// small enough that parallelcrypto.ProcessBlocksParallel has several
// chunks to spread across multiple cores.
const noiseChunkSize = 1 << 20 // 1 MiB

// Format resolves path to a container (creating or truncating a regular
// file per opts.Force; rejecting directories/sockets/fifos/symlinks/char
// devices; using a block device's native size), fills it with
// ciphertext noise unless opts.Recreate, and writes a fresh superblock.
// It returns a Volume already Open'd on the result.
func Format(path string, opts FormatOptions) (*Volume, error) {
	f, blockCount, err := resolveTarget(path, opts)
	if err != nil {
		return nil, err
	}

	if !opts.Recreate {
		if err := fillNoise(f, blockCount); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := writeSuperblock(f, blockCount); err != nil {
		f.Close()
		return nil, err
	}
	f.Close()

	tlog.Info.Printf("volume: formatted %s: %d blocks, recreate=%v", path, blockCount, opts.Recreate)
	return Open(path, true)
}

// resolveTarget implements the target-resolution rules from §4.F: block
// devices use their native size; with opts.Recreate an existing regular
// file is reopened at its current size with its contents untouched;
// other regular files are created/truncated to opts.SizeBytes; every
// other file type is rejected outright.
func resolveTarget(path string, opts FormatOptions) (*os.File, uint64, error) {
	info, statErr := os.Lstat(path)

	if statErr == nil {
		mode := info.Mode()
		switch {
		case mode.IsDir():
			return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" is a directory")
		case mode&os.ModeSymlink != 0:
			return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" is a symlink")
		case mode&os.ModeNamedPipe != 0:
			return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" is a fifo")
		case mode&os.ModeSocket != 0:
			return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" is a socket")
		case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice != 0:
			return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" is a character device")
		case mode&os.ModeDevice != 0:
			// Block device: use its native size, ignore opts.SizeBytes.
			f, err := os.OpenFile(path, os.O_RDWR, 0)
			if err != nil {
				return nil, 0, stegerr.New(stegerr.IO, "volume: open device: "+err.Error())
			}
			size, err := f.Seek(0, os.SEEK_END)
			if err != nil {
				f.Close()
				return nil, 0, stegerr.New(stegerr.IO, "volume: seek device: "+err.Error())
			}
			return f, uint64(size) / blockcodec.BlockLen, nil
		case mode.IsRegular():
			if opts.Recreate {
				f, err := os.OpenFile(path, os.O_RDWR, 0)
				if err != nil {
					return nil, 0, stegerr.New(stegerr.IO, "volume: open: "+err.Error())
				}
				return f, uint64(info.Size()) / blockcodec.BlockLen, nil
			}
			if !opts.Force {
				return nil, 0, stegerr.New(stegerr.IO, "volume: "+path+" exists; use force to overwrite")
			}
		}
	}

	if opts.SizeBytes <= 0 {
		return nil, 0, stegerr.New(stegerr.TooBig, "volume: size required to create a regular-file container")
	}

	blockCount := uint64(opts.SizeBytes) / blockcodec.BlockLen
	if blockCount < 2 {
		return nil, 0, stegerr.New(stegerr.TooBig, "volume: size too small to hold a superblock and any data")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, 0, stegerr.New(stegerr.IO, "volume: create: "+err.Error())
	}
	if err := f.Truncate(int64(blockCount) * blockcodec.BlockLen); err != nil {
		f.Close()
		return nil, 0, stegerr.New(stegerr.IO, "volume: truncate: "+err.Error())
	}
	return f, blockCount, nil
}

// fillNoise overwrites every block (including block 0, which
// writeSuperblock overwrites again afterward) with ciphertext produced
// by enciphering zero buffers under a random, immediately-discarded
// key+IV — there is no structural pattern to find because the "noise"
// is real ciphertext of arbitrary plaintext under a key nobody kept.
// The fill is split into megabyte-sized chunks and fanned out across
// goroutines via parallelcrypto.ProcessBlocksParallel.
func fillNoise(f *os.File, blockCount uint64) error {
	totalBytes := blockCount * blockcodec.BlockLen
	chunks := int((totalBytes + noiseChunkSize - 1) / noiseChunkSize)
	if chunks == 0 {
		return nil
	}

	pc := parallelcrypto.New()
	errCh := make(chan error, chunks)

	fillChunk := func(chunkIdx int) {
		// Noise-fill is the heavy consumer AdaptiveRead exists for: a
		// multi-gigabyte container needs a steady stream of fresh
		// key/IV material, and the profitable read size depends on how
		// fast these workers are actually pulling (see
		// cryptocore.AdaptivePrefetcher).
		var key [cryptocore.KeySize]byte
		var iv [cryptocore.IVSize]byte
		copy(key[:], cryptocore.AdaptiveRead(cryptocore.KeySize))
		copy(iv[:], cryptocore.AdaptiveRead(cryptocore.IVSize))

		bc, err := cryptocore.NewContext(key, iv)
		if err != nil {
			errCh <- err
			return
		}
		defer bc.Dispose()

		offset := int64(chunkIdx) * noiseChunkSize
		length := int64(noiseChunkSize)
		if remaining := int64(totalBytes) - offset; remaining < length {
			length = remaining
		}
		// CBC requires a cipher-block-aligned buffer; noiseChunkSize is a
		// multiple of cryptocore.IVSize, and the final short chunk is
		// clamped to the container's exact remaining byte count: the
		// total (a multiple of BlockLen) minus a chunk offset, both of
		// which are multiples of IVSize.
		buf := make([]byte, length)
		if err := bc.EncryptInPlace(buf); err != nil {
			errCh <- err
			return
		}
		if _, err := f.WriteAt(buf, offset); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}

	pc.ProcessBlocksParallel(chunks, func(start, end int) {
		for i := start; i < end; i++ {
			fillChunk(i)
		}
	})
	close(errCh)

	for err := range errCh {
		if err != nil {
			return stegerr.New(stegerr.IO, "volume: noise fill: "+err.Error())
		}
	}
	return nil
}

// writeSuperblock writes the fixed-sentinel, plaintext superblock at
// block 0, per §4.F/§6: path_tag = 0xFF×16, data = TLV record, hash =
// three magic constants, next[0:8] = block count.
func writeSuperblock(f *os.File, blockCount uint64) error {
	raw := make([]byte, blockcodec.BlockLen)

	for i := 0; i < blockcodec.PathLen; i++ {
		raw[i] = 0xFF
	}

	var list tlv.List
	list.Append(TagSTEGFS, []byte("stegfs"))
	list.Append(TagVERSION, []byte(Version))
	list.Append(TagCIPHER, []byte(CipherName))
	list.Append(TagMODE, []byte(ModeName))
	list.Append(TagHASH, []byte(HashName))
	encoded := list.Encode()
	if len(encoded) > blockcodec.DataLen {
		return stegerr.New(stegerr.IO, "volume: superblock TLV record too large")
	}
	copy(raw[blockcodec.PathLen:blockcodec.PathLen+blockcodec.DataLen], encoded)

	hashOff := blockcodec.PathLen + blockcodec.DataLen
	binary.BigEndian.PutUint64(raw[hashOff:hashOff+8], Magic0)
	binary.BigEndian.PutUint64(raw[hashOff+8:hashOff+16], Magic1)
	binary.BigEndian.PutUint64(raw[hashOff+16:hashOff+24], Magic2)

	nextOff := hashOff + blockcodec.HashLen
	binary.BigEndian.PutUint64(raw[nextOff:nextOff+8], blockCount)

	if _, err := f.WriteAt(raw, 0); err != nil {
		return stegerr.New(stegerr.IO, "volume: write superblock: "+err.Error())
	}
	return nil
}
