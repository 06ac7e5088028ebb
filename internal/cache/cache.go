// Package cache holds the two in-memory, never-persisted structures a
// volume keeps across calls: the set of files known to exist, and a
// used-block bitmap that fileengine's load fills in. The placement
// engine keeps a separate bitset of the blocks it has handed out and
// does not read this bitmap, so blocks marked here during a load are
// not excluded from later allocations. Neither structure is
// ever written to the container; losing them just costs the next
// directory listing or allocation a slower recomputation, never
// correctness.
package cache

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"
)

// fileKey identifies one file by its (path, name) pair — the same pair
// the key schedule derives every secret from.
type fileKey struct {
	path, name string
}

// KnownFiles is a set of (path, name) pairs observed during a successful
// save or load, for an adapter listing a directory; stat and load do not
// consult it. Backed by a plain map (nothing in the ecosystem
// improves on a map for a small, never-persisted set) with an optional
// bloom pre-filter in front, used only to answer "definitely not known"
// instantly for directory-listing fast paths — the map remains the
// single source of truth.
type KnownFiles struct {
	mu     sync.RWMutex
	known  map[fileKey]struct{}
	filter *bloom.BloomFilter
}

// NewKnownFiles returns an empty KnownFiles cache sized for an estimated
// number of files.
func NewKnownFiles(estimate uint) *KnownFiles {
	return &KnownFiles{
		known:  make(map[fileKey]struct{}),
		filter: bloom.NewWithEstimates(uint(estimate), 0.01),
	}
}

// Add records path/name as known. Idempotent: adding the same pair twice
// has no additional effect, matching the idempotent-cache property in
// spec.md §8.
func (k *KnownFiles) Add(path, name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := fileKey{path, name}
	k.known[key] = struct{}{}
	k.filter.AddString(path + "\x00" + name)
}

// Remove drops path/name from the cache, used by kill. The bloom filter
// is never shrunk (it cannot be, without a rebuild) — a stale positive
// there just costs one unnecessary map lookup, never a correctness bug,
// since Has always consults the map as ground truth for presence.
func (k *KnownFiles) Remove(path, name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.known, fileKey{path, name})
}

// Has reports whether path/name is known. A negative bloom test answers
// immediately; a positive test falls through to the authoritative map
// lookup.
func (k *KnownFiles) Has(path, name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.filter.TestString(path + "\x00" + name) {
		return false
	}
	_, ok := k.known[fileKey{path, name}]
	return ok
}

// Len returns the number of known files.
func (k *KnownFiles) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.known)
}

// Bitmap tracks which blocks are believed used, one bit per block. It is
// a conservative over-approximation per spec.md §3: a set bit means "do
// not allocate"; a cleared bit does not guarantee the block is actually
// free on disk (it might belong to a file this process has not yet
// encountered).
type Bitmap struct {
	mu  sync.RWMutex
	set *bitset.BitSet
}

// NewBitmap returns a Bitmap sized for blockCount blocks, all initially
// clear.
func NewBitmap(blockCount uint) *Bitmap {
	return &Bitmap{set: bitset.New(blockCount)}
}

// Test reports whether index is marked used.
func (b *Bitmap) Test(index uint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set.Test(index)
}

// Set marks index used. Idempotent.
func (b *Bitmap) Set(index uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Set(index)
}

// Clear marks index free again. Neither save nor kill calls it: a save
// that fails partway leaves its bits set, and kill leaves the bitmap
// bits for a removed file set.
func (b *Bitmap) Clear(index uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set.Clear(index)
}

// Count returns the number of blocks currently marked used.
func (b *Bitmap) Count() uint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set.Count()
}
