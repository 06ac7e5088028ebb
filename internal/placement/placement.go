// Package placement implements the content-addressed block allocator:
// is_ours (a cheap plaintext probe) and find_free_block (bounded
// rejection sampling). There is no allocation table on disk — every
// "is this block mine" question is answered by re-deriving the expected
// path tag and comparing it to what is actually stored there.
package placement

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/keyschedule"
	"github.com/stegfs-go/stegfs/internal/stegerr"
)

// MaxBlockLookup bounds find_free_block's rejection-sampling attempts.
const MaxBlockLookup = 1024

// BlockReader is the minimal I/O surface the placement engine needs to
// probe a candidate block's plaintext path tag. volume.Volume implements
// it over the container's file descriptor.
type BlockReader interface {
	ReadPathTag(index uint64) ([blockcodec.PathLen]byte, error)
}

// Engine owns the in-memory used_bitmap and a bloom pre-filter over
// directory prefixes that have ever claimed a block, per §4.D/§4.G.
// Both are conservative over-approximations: a set bit or a positive
// bloom test never causes a correctness failure, only a slower or more
// cautious allocation.
type Engine struct {
	mu          sync.Mutex
	usedBitmap  *bitset.BitSet
	blockCount  uint64
	prefixBloom *bloom.BloomFilter
}

// New builds an Engine for a volume with blockCount total blocks
// (including the reserved superblock at index 0). The bloom filter is
// sized for an estimated number of distinct directory prefixes with a
// 1% false-positive rate — false positives only cost a fallback
// plaintext read, never a correctness problem.
func New(blockCount uint64) *Engine {
	return &Engine{
		usedBitmap:  bitset.New(uint(blockCount)),
		blockCount:  blockCount,
		prefixBloom: bloom.NewWithEstimates(100000, 0.01),
	}
}

// MarkPrefixUsed records that path (or one of its directory prefixes)
// has claimed at least one block, so future is_ours walks can shortcut
// a negative bloom test instead of issuing a read.
func (e *Engine) MarkPrefixUsed(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, prefix := range directoryPrefixes(path) {
		e.prefixBloom.AddString(prefix)
	}
}

// IsOurs reads the plaintext path tag at index via r and compares it to
// expectedTag. Per spec, an I/O failure is treated conservatively as "is
// ours" — placement should avoid a block it cannot read, not assume it
// is free.
func IsOurs(r BlockReader, index uint64, expectedTag [blockcodec.PathLen]byte) bool {
	tag, err := r.ReadPathTag(index)
	if err != nil {
		return true
	}
	return tag == expectedTag
}

// FindFreeBlock performs bounded rejection sampling for a block not
// already claimed by path or any of its directory prefixes. blockCount
// excludes nothing special — callers just must never allow the
// superblock index (0) to be drawn, which is guaranteed here by
// sampling from [1, blockCount).
func (e *Engine) FindFreeBlock(r BlockReader, path string) (uint64, error) {
	if e.blockCount < 2 {
		return 0, stegerr.New(stegerr.NoSpace, "placement: volume too small")
	}

	prefixes := directoryPrefixes(path)
	prefixTags := make([][blockcodec.PathLen]byte, len(prefixes))
	for i, p := range prefixes {
		prefixTags[i] = pathTag(p)
	}

	pathKnown := e.prefixKnown(path)

	for attempt := 0; attempt < MaxBlockLookup; attempt++ {
		index, err := randomBlockIndex(e.blockCount)
		if err != nil {
			return 0, stegerr.New(stegerr.IO, "placement: rng: "+err.Error())
		}

		e.mu.Lock()
		if e.usedBitmap.Test(uint(index)) {
			e.mu.Unlock()
			continue
		}
		e.usedBitmap.Set(uint(index))
		e.mu.Unlock()

		if !pathKnown {
			// Negative bloom test: no prefix of this path has ever
			// claimed a block, so no prefix can claim this one either —
			// skip the plaintext reads entirely.
			return index, nil
		}

		claimed := false
		for _, tag := range prefixTags {
			if IsOurs(r, index, tag) {
				claimed = true
				break
			}
		}
		if !claimed {
			return index, nil
		}
		// Block is already claimed by a prefix; the speculative bitmap
		// bit stays set (safe over-approximation) and we retry.
	}

	return 0, stegerr.New(stegerr.NoSpace, "placement: attempt budget exhausted")
}

func (e *Engine) prefixKnown(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range directoryPrefixes(path) {
		if e.prefixBloom.TestString(p) {
			return true
		}
	}
	return false
}

// directoryPrefixes builds the sentinel-joined directory prefixes of
// path, using the same construction as keyschedule.CanonicalPath, so
// that "/a/b" and "/ab" never collide as in the spec's requirement. The
// last prefix returned is always exactly path's own CanonicalPath — the
// same string a real file's on-disk path_tag is hashed from — which is
// what makes this walk capable of detecting a genuine collision with
// another file's blocks, not just blocks this process has already
// claimed in its own usedBitmap.
func directoryPrefixes(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	prefixes := make([]string, 0, len(parts))
	acc := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		acc += keyschedule.PathSentinel + part
		prefixes = append(prefixes, acc)
	}
	if len(prefixes) == 0 {
		prefixes = append(prefixes, keyschedule.PathSentinel)
	}
	return prefixes
}

// pathTag hashes an already-canonical prefix (as built by
// directoryPrefixes) the same way keyschedule.PathTag hashes a full
// path's CanonicalPath, without re-running the "/"-splitting step.
func pathTag(prefix string) [blockcodec.PathLen]byte {
	return keyschedule.HashCanonical(prefix)
}

// randomBlockIndex draws a uniform index in [1, blockCount).
func randomBlockIndex(blockCount uint64) (uint64, error) {
	max := new(big.Int).SetUint64(blockCount - 1)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return n.Uint64() + 1, nil
}
