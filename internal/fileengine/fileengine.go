// Package fileengine implements stat/load/save/kill: the only
// operations that actually move file bytes in and out of a volume. Every
// other package in this module exists to serve these four.
package fileengine

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/cryptocore"
	"github.com/stegfs-go/stegfs/internal/keyschedule"
	"github.com/stegfs-go/stegfs/internal/stegerr"
	"github.com/stegfs-go/stegfs/internal/volume"
	"github.com/stegfs-go/stegfs/internal/writecoalescing"
)

// File is the adapter-facing handle: the identity triple plus whatever
// stat/load most recently discovered about it.
type File struct {
	Path       string
	Name       string
	Passphrase string

	Size  uint64
	Mtime int64
}

// headerIndex computes the block index for copy i's header, excluding
// the reserved superblock at index 0.
func headerIndex(m *keyschedule.Material, i int, blockCount uint64) uint64 {
	return 1 + m.HeaderIndex(i, blockCount-1)
}

// copyContext derives the per-copy cipher key+IV and wraps it as a
// cryptocore.BlockCipher. Callers must Dispose the result.
func copyContext(m *keyschedule.Material, i int) (*cryptocore.BlockCipher, error) {
	key, iv := m.KeyIV(i)
	return cryptocore.NewContext(keyschedule.BlockCipherKey(key), iv)
}

// decodedHeader is what a successful header decode yields: the payload
// needed to locate and size the rest of the file.
type decodedHeader struct {
	start [keyschedule.MaxCopies]uint64
	size  uint64
	mtime int64
}

// parseHeader interprets a decoded header block's Data/Next fields per
// §4.E: data holds MaxCopies 8-byte start indices then an 8-byte mtime;
// next[0:8] holds the file size.
func parseHeader(blk *blockcodec.Block) decodedHeader {
	var h decodedHeader
	for i := 0; i < keyschedule.MaxCopies; i++ {
		h.start[i] = binary.BigEndian.Uint64(blk.Data[i*8 : i*8+8])
	}
	h.mtime = int64(binary.BigEndian.Uint64(blk.Data[keyschedule.MaxCopies*8 : keyschedule.MaxCopies*8+8]))
	h.size = binary.BigEndian.Uint64(blk.Next[:8])
	return h
}

// statResult is stat's internal finding, reused by load so it does not
// need to re-decode the header it just found.
type statResult struct {
	found  bool
	header decodedHeader
}

// attemptHeader tries to locate and decode copy i's header block, or
// reports failure via ok=false.
func attemptHeader(vol *volume.Volume, m *keyschedule.Material, i int, blockCount uint64) (decodedHeader, bool) {
	idx := headerIndex(m, i, blockCount)
	if !isOurs(vol, idx, m.PathTag) {
		return decodedHeader{}, false
	}

	raw, err := vol.ReadBlock(idx)
	if err != nil {
		return decodedHeader{}, false
	}
	cipher, err := copyContext(m, i)
	if err != nil {
		return decodedHeader{}, false
	}
	blk, err := blockcodec.Decode(raw, cipher)
	cipher.Dispose()
	if err != nil {
		return decodedHeader{}, false
	}

	return parseHeader(blk), true
}

// statInternal performs the stat algorithm from §4.E: it races the
// MaxCopies header-index attempts and keeps whichever decodes first,
// matching the original sequential-search semantics (first intact copy
// wins) but exploring the copies concurrently, per §4.E. On a
// single-core machine cpudetection.RecommendedWorkers collapses this
// back to a plain sequential loop.
func statInternal(vol *volume.Volume, f *File) (statResult, error) {
	m := keyschedule.Derive(f.Path, f.Name, f.Passphrase)
	blockCount := vol.BlockCount()
	cd := vol.CPUDetector()

	if cd.RecommendedWorkers(keyschedule.MaxCopies) < 2 {
		for i := 0; i < keyschedule.MaxCopies; i++ {
			if h, ok := attemptHeader(vol, m, i, blockCount); ok {
				return statResult{found: true, header: h}, nil
			}
		}
		return statResult{found: false}, nil
	}

	type attemptResult struct {
		header decodedHeader
		ok     bool
	}
	results := make(chan attemptResult, keyschedule.MaxCopies)
	var wg sync.WaitGroup
	for i := 0; i < keyschedule.MaxCopies; i++ {
		wg.Add(1)
		go func(copyIdx int) {
			defer wg.Done()
			h, ok := attemptHeader(vol, m, copyIdx, blockCount)
			results <- attemptResult{header: h, ok: ok}
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.ok {
			return statResult{found: true, header: r.header}, nil
		}
	}
	return statResult{found: false}, nil
}

// Stat locates any recoverable header for f and fills in f.Size/f.Mtime.
// A zero f.Size after Stat means "not found".
func Stat(vol *volume.Volume, f *File) error {
	res, err := statInternal(vol, f)
	if err != nil {
		return err
	}
	if !res.found {
		f.Size = 0
		return nil
	}
	f.Size = res.header.size
	f.Mtime = res.header.mtime
	return nil
}

// Load recovers f's payload (Stat must have already run, or Load runs it
// itself) and writes it to w. Per §4.E, each of MaxCopies chains is
// attempted and the first to fully decode wins; a chain that breaks
// partway must never leave its partial bytes in w, so every attempt
// decodes into its own scratch buffer first and only a fully-succeeded
// attempt's buffer is copied to w. On a single-core machine
// (cpudetection.RecommendedWorkers < 2) attempts run in index order, one
// buffer at a time; with ≥2 usable workers the copies are instead raced
// concurrently, each with its own buffer, and only the first winner's
// buffer reaches w.
func Load(vol *volume.Volume, f *File, w io.Writer) error {
	res, err := statInternal(vol, f)
	if err != nil {
		return err
	}
	if !res.found || res.header.size == 0 {
		return stegerr.New(stegerr.NoData, "fileengine: no recoverable header for "+f.Name)
	}

	m := keyschedule.Derive(f.Path, f.Name, f.Passphrase)
	size := res.header.size
	cd := vol.CPUDetector()

	if cd.RecommendedWorkers(keyschedule.MaxCopies) < 2 {
		var longestPartial uint64
		for i := 0; i < keyschedule.MaxCopies; i++ {
			var cb bytes.Buffer
			n, err := loadChain(vol, m, i, res.header.start[i], size, &cb)
			if err == nil {
				if _, werr := w.Write(cb.Bytes()); werr != nil {
					return stegerr.New(stegerr.IO, "fileengine: write recovered data: "+werr.Error())
				}
				f.Size = size
				f.Mtime = res.header.mtime
				vol.KnownFiles.Add(f.Path, f.Name)
				return nil
			}
			if n > longestPartial {
				longestPartial = n
			}
		}
		f.Size = longestPartial
		return stegerr.New(stegerr.PartialData, "fileengine: no copy fully recovered")
	}

	type chainResult struct {
		buf *bytes.Buffer
		n   uint64
		err error
	}
	results := make(chan chainResult, keyschedule.MaxCopies)
	var wg sync.WaitGroup
	for i := 0; i < keyschedule.MaxCopies; i++ {
		wg.Add(1)
		go func(copyIdx int) {
			defer wg.Done()
			var cb bytes.Buffer
			n, err := loadChain(vol, m, copyIdx, res.header.start[copyIdx], size, &cb)
			results <- chainResult{buf: &cb, n: n, err: err}
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var winner *bytes.Buffer
	var longestPartial uint64
	for r := range results {
		if r.err == nil && winner == nil {
			winner = r.buf
			continue
		}
		if r.n > longestPartial {
			longestPartial = r.n
		}
	}

	if winner == nil {
		f.Size = longestPartial
		return stegerr.New(stegerr.PartialData, "fileengine: no copy fully recovered")
	}
	if _, err := w.Write(winner.Bytes()); err != nil {
		return stegerr.New(stegerr.IO, "fileengine: write recovered data: "+err.Error())
	}

	f.Size = size
	f.Mtime = res.header.mtime
	vol.KnownFiles.Add(f.Path, f.Name)
	return nil
}

// loadChain walks one copy's data-block chain starting at start, writing
// decoded bytes to w until size bytes have been recovered or a block
// fails to decode. It returns the number of bytes successfully written
// even on failure, for the PartialData forensic report.
func loadChain(vol *volume.Volume, m *keyschedule.Material, copyIdx int, start uint64, size uint64, w io.Writer) (uint64, error) {
	cipher, err := copyContext(m, copyIdx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cipher != nil {
			cipher.Dispose()
		}
	}()

	var written uint64
	idx := start
	for written < size {
		if !isOurs(vol, idx, m.PathTag) {
			return written, stegerr.New(stegerr.PartialData, "fileengine: chain broken")
		}
		raw, err := vol.ReadBlock(idx)
		if err != nil {
			return written, err
		}
		blk, err := blockcodec.Decode(raw, cipher)
		if err != nil {
			return written, err
		}

		remaining := size - written
		n := uint64(blockcodec.DataLen)
		if remaining < n {
			n = remaining
		}
		if _, err := w.Write(blk.Data[:n]); err != nil {
			return written, stegerr.New(stegerr.IO, "fileengine: write: "+err.Error())
		}
		written += n
		if vol.Bitmap != nil {
			vol.Bitmap.Set(uint(idx))
		}

		idx = binary.BigEndian.Uint64(blk.Next[:8])
		// Re-key the cipher for the next block: the per-copy context is
		// scoped to a single block here (see blockcodec.Encode), not the
		// whole chain, so a fresh context sharing the same key+IV is
		// created for every hop rather than reusing chaining state.
		cipher.Dispose()
		cipher, err = copyContext(m, copyIdx)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Save writes f's payload (read in full from r; f.Size must already be
// set to the exact payload length) across MaxCopies independent chains,
// then writes MaxCopies independently-enciphered headers. Per §4.E,
// intermediate failures simply leave already-written blocks as
// unreferenced noise; there is no cleanup step.
func Save(vol *volume.Volume, f *File, r io.Reader) error {
	const capacityNumerator, capacityDenominator = 5, 8
	if uint64(keyschedule.MaxCopies)*f.Size*capacityDenominator > uint64(vol.Size())*capacityNumerator {
		return stegerr.New(stegerr.TooBig, "fileengine: payload exceeds capacity")
	}

	payload := make([]byte, f.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return stegerr.New(stegerr.IO, "fileengine: read payload: "+err.Error())
	}

	m := keyschedule.Derive(f.Path, f.Name, f.Passphrase)
	vol.Placement.MarkPrefixUsed(f.Path)

	var starts [keyschedule.MaxCopies]uint64
	for i := 0; i < keyschedule.MaxCopies; i++ {
		start, err := saveChain(vol, m, f.Path, i, payload)
		if err != nil {
			return err
		}
		starts[i] = start
	}

	if err := writeHeaders(vol, m, starts, f.Size, f.Mtime); err != nil {
		return err
	}

	vol.KnownFiles.Add(f.Path, f.Name)
	return nil
}

// saveChain streams payload as DataLen-byte chunks into a fresh chain
// for one copy, using writecoalescing.ChunkBuffer to turn the in-memory
// payload into exactly-DataLen writes (mirroring how it would turn an
// arbitrary-sized streamed io.Reader into the same shape). It returns
// the chain's first block index.
func saveChain(vol *volume.Volume, m *keyschedule.Material, path string, copyIdx int, payload []byte) (uint64, error) {
	start, err := vol.Placement.FindFreeBlock(vol, path)
	if err != nil {
		return 0, err
	}

	cur := start
	var writeErr error
	var written uint64

	cb := writecoalescing.NewChunkBuffer(blockcodec.DataLen, func(chunk []byte) error {
		written += uint64(len(chunk))
		isLast := written >= uint64(len(payload))

		var next uint64
		if isLast {
			// Unused by the chain walk, but still drawn so the field is
			// not a conspicuous run of zero bytes pre-encipherment.
			next = randomPlaceholderIndex(vol)
		} else {
			idx, err := vol.Placement.FindFreeBlock(vol, path)
			if err != nil {
				return err
			}
			next = idx
		}

		var blk blockcodec.Block
		blk.PathTag = m.PathTag
		copy(blk.Data[:], chunk)
		binary.BigEndian.PutUint64(blk.Next[:8], next)

		cipher, err := copyContext(m, copyIdx)
		if err != nil {
			return err
		}
		wire := blockcodec.Encode(&blk, vol.CryptoCore(), cipher)
		cipher.Dispose()

		if err := vol.WriteBlock(cur, wire); err != nil {
			return err
		}
		cur = next
		return nil
	})

	if _, err := cb.Write(payload); err != nil {
		writeErr = err
	}
	if writeErr == nil {
		writeErr = cb.Close()
	}
	if writeErr != nil {
		return 0, writeErr
	}
	return start, nil
}

// randomPlaceholderIndex returns a plausible-looking but never-followed
// block index for a chain's final next field.
func randomPlaceholderIndex(vol *volume.Volume) uint64 {
	raw := cryptocore.RandBytes(8)
	v := binary.BigEndian.Uint64(raw)
	if vol.BlockCount() == 0 {
		return 0
	}
	return 1 + v%(vol.BlockCount()-1)
}

// writeHeaders builds the shared header payload (start indices + mtime)
// and writes it, independently enciphered, to each copy's header index.
func writeHeaders(vol *volume.Volume, m *keyschedule.Material, starts [keyschedule.MaxCopies]uint64, size uint64, mtime int64) error {
	blockCount := vol.BlockCount()

	var data [blockcodec.DataLen]byte
	for i := 0; i < keyschedule.MaxCopies; i++ {
		binary.BigEndian.PutUint64(data[i*8:i*8+8], starts[i])
	}
	binary.BigEndian.PutUint64(data[keyschedule.MaxCopies*8:keyschedule.MaxCopies*8+8], uint64(mtime))

	for i := 0; i < keyschedule.MaxCopies; i++ {
		idx := headerIndex(m, i, blockCount)

		var blk blockcodec.Block
		blk.PathTag = m.PathTag
		blk.Data = data
		binary.BigEndian.PutUint64(blk.Next[:8], size)

		cipher, err := copyContext(m, i)
		if err != nil {
			return err
		}
		wire := blockcodec.Encode(&blk, vol.CryptoCore(), cipher)
		cipher.Dispose()

		if err := vol.WriteBlock(idx, wire); err != nil {
			return err
		}
	}
	return nil
}

// Kill securely forgets f: every header block stat can still locate is
// overwritten with fresh random bytes (severing the chain; the data
// blocks become unreferenced noise), and f is dropped from known_files.
// Bitmap bits are intentionally left set, per §4.E.
func Kill(vol *volume.Volume, f *File) error {
	m := keyschedule.Derive(f.Path, f.Name, f.Passphrase)
	blockCount := vol.BlockCount()

	for i := 0; i < keyschedule.MaxCopies; i++ {
		idx := headerIndex(m, i, blockCount)
		if !isOurs(vol, idx, m.PathTag) {
			continue
		}
		if err := vol.WriteBlock(idx, cryptocore.RandBytes(blockcodec.BlockLen)); err != nil {
			return err
		}
	}

	vol.KnownFiles.Remove(f.Path, f.Name)
	return nil
}

// isOurs adapts volume.Volume (a placement.BlockReader) to the
// plaintext path-tag probe.
func isOurs(vol *volume.Volume, idx uint64, tag [blockcodec.PathLen]byte) bool {
	got, err := vol.ReadPathTag(idx)
	if err != nil {
		return true
	}
	return got == tag
}
