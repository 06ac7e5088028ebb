// Package volume implements container lifecycle: formatting a new
// steganographic container (mkfs-equivalent) and opening an existing one
// for use by the file engine. A Volume owns the container's file
// descriptor for its entire lifetime; concurrent access to its in-memory
// caches is serialized by the caches themselves (cache.KnownFiles and
// cache.Bitmap each carry their own sync.RWMutex), not by Volume.
package volume

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/cache"
	"github.com/stegfs-go/stegfs/internal/cpudetection"
	"github.com/stegfs-go/stegfs/internal/cryptocore"
	"github.com/stegfs-go/stegfs/internal/parallelcrypto"
	"github.com/stegfs-go/stegfs/internal/placement"
	"github.com/stegfs-go/stegfs/internal/processhardening"
	"github.com/stegfs-go/stegfs/internal/stegerr"
	"github.com/stegfs-go/stegfs/internal/tlog"
	"github.com/stegfs-go/stegfs/internal/tlv"
)

// Magic constants recorded in the superblock's hash field, each 8 bytes,
// big-endian — the only bytes in the entire container that must always
// be recognisable.
const (
	Magic0 uint64 = 0x0C0FFEE0DEADC0DE
	Magic1 uint64 = 0x00FF1CE5CA1AB1E0
	Magic2 uint64 = 0x5CA1ED5BADB10001
)

// TLV tags recorded in the superblock's data region.
const (
	TagSTEGFS  tlv.Tag = 1
	TagVERSION tlv.Tag = 2
	TagCIPHER  tlv.Tag = 3
	TagMODE    tlv.Tag = 4
	TagHASH    tlv.Tag = 5
)

// Version is the on-disk format identifier recorded in the superblock.
const Version = "1"

// HashName and CipherName/ModeName record this implementation's
// substituted algorithm identities (§4.A): a real SHA3-truncated hash
// and AES-CBC in place of the original Tiger-192/Serpent-128-CBC pair,
// named honestly rather than claimed to be the originals.
const (
	HashName   = "sha3-192"
	CipherName = "aes-128"
	ModeName   = "cbc"
)

// Volume is an open container. It owns the file descriptor and the
// shared in-memory caches for as long as it is open; KnownFiles and Bitmap
// guard their own concurrent access.
type Volume struct {
	f          *os.File
	blockCount uint64
	size       int64

	KnownFiles *cache.KnownFiles
	Bitmap     *cache.Bitmap
	Placement  *placement.Engine

	cc *cryptocore.CryptoCore
	pc *parallelcrypto.ParallelCrypto
	cd *cpudetection.CPUDetector
	ph *processhardening.ProcessHardening
}

// BlockCount returns the number of BlockLen-sized blocks in the
// container, including the reserved superblock at index 0.
func (v *Volume) BlockCount() uint64 { return v.blockCount }

// Size returns the volume size in bytes.
func (v *Volume) Size() int64 { return v.size }

// CryptoCore returns the shared primitives adapter, for fileengine's use
// in deriving per-call cipher contexts.
func (v *Volume) CryptoCore() *cryptocore.CryptoCore { return v.cc }

// ParallelCrypto returns the volume's ParallelCrypto helper. fileengine's
// copy-decode races are sized with CPUDetector instead.
func (v *Volume) ParallelCrypto() *parallelcrypto.ParallelCrypto { return v.pc }

// CPUDetector returns the shared CPU feature detector.
func (v *Volume) CPUDetector() *cpudetection.CPUDetector { return v.cd }

// Open opens an existing container read-write, validates its superblock
// magic, and prepares the in-memory caches. withCache controls whether
// used_bitmap/known_files are allocated — a read-only inspection tool
// may skip them.
func Open(path string, withCache bool) (*Volume, error) {
	ph := processhardening.New()
	ph.HardenProcess()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, stegerr.New(stegerr.IO, "volume: open: "+err.Error())
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, stegerr.New(stegerr.IO, "volume: stat: "+err.Error())
	}
	size := info.Size()
	blockCount := uint64(size) / blockcodec.BlockLen

	v := &Volume{
		f:          f,
		blockCount: blockCount,
		size:       size,
		cc:         cryptocore.New(),
		pc:         parallelcrypto.New(),
		cd:         cpudetection.New(),
		ph:         ph,
	}

	if err := v.readSuperblock(); err != nil {
		f.Close()
		return nil, err
	}

	if withCache {
		v.Bitmap = cache.NewBitmap(uint(blockCount))
		v.KnownFiles = cache.NewKnownFiles(1024)
		v.KnownFiles.Add("", "") // synthetic root entry, per §4.F
		v.Placement = placement.New(blockCount)
	}

	tlog.Info.Printf("volume: opened %s (%d blocks, %d bytes)", path, blockCount, size)
	return v, nil
}

// readSuperblock reads block 0 and validates the three magic constants
// stored (big-endian) in its hash field. It does not decipher anything —
// the superblock's data/hash/next fields are plaintext by design so a
// caller without any passphrase can still recognise a stegfs container.
func (v *Volume) readSuperblock() error {
	raw := make([]byte, blockcodec.BlockLen)
	if _, err := v.f.ReadAt(raw, 0); err != nil {
		return stegerr.New(stegerr.IO, "volume: read superblock: "+err.Error())
	}

	hashField := raw[blockcodec.PathLen+blockcodec.DataLen : blockcodec.PathLen+blockcodec.DataLen+blockcodec.HashLen]
	m0 := binary.BigEndian.Uint64(hashField[0:8])
	m1 := binary.BigEndian.Uint64(hashField[8:16])
	m2 := binary.BigEndian.Uint64(hashField[16:24])
	if m0 != Magic0 || m1 != Magic1 || m2 != Magic2 {
		return stegerr.New(stegerr.BadMagic, "volume: superblock magic mismatch")
	}
	return nil
}

// ReadPathTag implements placement.BlockReader: it reads the first
// PathLen bytes at the given block index, the plaintext "ours" probe.
func (v *Volume) ReadPathTag(index uint64) ([blockcodec.PathLen]byte, error) {
	var tag [blockcodec.PathLen]byte
	buf := make([]byte, blockcodec.PathLen)
	if _, err := v.f.ReadAt(buf, int64(index)*blockcodec.BlockLen); err != nil {
		return tag, err
	}
	copy(tag[:], buf)
	return tag, nil
}

// ReadBlock reads the raw BlockLen-byte record at index.
func (v *Volume) ReadBlock(index uint64) ([]byte, error) {
	buf := make([]byte, blockcodec.BlockLen)
	if _, err := v.f.ReadAt(buf, int64(index)*blockcodec.BlockLen); err != nil {
		return nil, stegerr.New(stegerr.IO, "volume: read block: "+err.Error())
	}
	return buf, nil
}

// WriteBlock writes a raw BlockLen-byte record at index. A single write
// at a block-aligned offset is atomic at the filesystem layer, per
// spec.md §5.
func (v *Volume) WriteBlock(index uint64, raw []byte) error {
	if len(raw) != blockcodec.BlockLen {
		return stegerr.New(stegerr.IO, fmt.Sprintf("volume: WriteBlock: got %d bytes, want %d", len(raw), blockcodec.BlockLen))
	}
	if _, err := v.f.WriteAt(raw, int64(index)*blockcodec.BlockLen); err != nil {
		return stegerr.New(stegerr.IO, "volume: write block: "+err.Error())
	}
	return nil
}

// Close releases the container's file descriptor. The in-memory caches
// are discarded; nothing is flushed to disk beyond what was already
// written by individual WriteBlock calls.
func (v *Volume) Close() error {
	return v.f.Close()
}
