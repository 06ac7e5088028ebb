// Package blockcodec implements the fixed-size on-disk block format: one
// 896-byte record per block, with a plaintext path tag and an enciphered
// data|hash|next region. Encode/Decode are the only place that format is
// allowed to leak outside this package.
package blockcodec

import (
	"sync"

	"github.com/stegfs-go/stegfs/internal/cryptocore"
	"github.com/stegfs-go/stegfs/internal/stegerr"
)

const (
	// PathLen is the plaintext path-tag region width.
	PathLen = 16
	// DataLen is the payload region width.
	DataLen = 824
	// HashLen is the integrity-tag region width. The underlying hash
	// primitive only produces 24 bytes (cryptocore.HashSize); the
	// remaining 8 bytes of this field are zero-padding, not additional
	// hash material — there is no wider primitive to fill them with.
	HashLen = 32
	// NextLen is the chain-pointer / file-size region width.
	NextLen = 24
	// BlockLen is the total on-disk record size.
	BlockLen = PathLen + DataLen + HashLen + NextLen
)

// Block is the decoded, in-memory form of one on-disk record.
type Block struct {
	PathTag [PathLen]byte
	Data    [DataLen]byte
	Hash    [HashLen]byte
	Next    [NextLen]byte
}

// bufPool hands out BlockLen-sized scratch buffers for Decode, adapted
// from the teacher's contentenc ciphertext/plaintext block pools — every
// Decode needs exactly one BLOCK-sized scratch buffer and runs on every
// header probe and chain hop. Encode allocates its returned record
// fresh, since the caller owns it.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, BlockLen)
		return &buf
	},
}

func getBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

func putBuf(b *[]byte) {
	for i := range *b {
		(*b)[i] = 0
	}
	bufPool.Put(b)
}

// Encode computes the integrity hash over b.Data, enciphers the
// data|hash|next region as one CBC stream under cipher, and returns the
// BlockLen-byte wire record ready to be written at offset index*BlockLen.
// The returned slice is owned by the caller; Encode does not retain it.
func Encode(b *Block, cc *cryptocore.CryptoCore, cipher *cryptocore.BlockCipher) []byte {
	digest := cc.Hash(b.Data[:])
	var hash [HashLen]byte
	copy(hash[:], digest[:])
	b.Hash = hash

	out := make([]byte, BlockLen)
	copy(out[:PathLen], b.PathTag[:])
	copy(out[PathLen:PathLen+DataLen], b.Data[:])
	copy(out[PathLen+DataLen:PathLen+DataLen+HashLen], b.Hash[:])
	copy(out[PathLen+DataLen+HashLen:], b.Next[:])

	cipherRegion := out[PathLen:]
	if err := cipher.EncryptInPlace(cipherRegion); err != nil {
		// A non-block-aligned cipher region here is a programming error
		// (BlockLen-PathLen is fixed and a multiple of the AES block
		// size), not a runtime condition callers can recover from.
		panic(err)
	}
	return out
}

// Decode deciphers a pooled copy of raw (exactly BlockLen bytes; raw
// itself is left unmodified), recomputes the
// integrity hash over the recovered data, and compares it against the
// decoded hash field. On mismatch it returns stegerr.NotOurs — the
// design makes "not ours" and "corrupt" indistinguishable.
func Decode(raw []byte, cipher *cryptocore.BlockCipher) (*Block, error) {
	if len(raw) != BlockLen {
		return nil, stegerr.New(stegerr.IO, "blockcodec: short block")
	}

	scratch := getBuf()
	defer putBuf(scratch)
	copy(*scratch, raw)
	buf := *scratch

	var pathTag [PathLen]byte
	copy(pathTag[:], buf[:PathLen])

	cipherRegion := buf[PathLen:]
	if err := cipher.DecryptInPlace(cipherRegion); err != nil {
		return nil, stegerr.New(stegerr.IO, "blockcodec: decrypt: "+err.Error())
	}

	blk := &Block{PathTag: pathTag}
	copy(blk.Data[:], buf[PathLen:PathLen+DataLen])
	copy(blk.Hash[:], buf[PathLen+DataLen:PathLen+DataLen+HashLen])
	copy(blk.Next[:], buf[PathLen+DataLen+HashLen:])

	cc := cryptocore.New()
	digest := cc.Hash(blk.Data[:])
	var want [HashLen]byte
	copy(want[:], digest[:])
	if !constantTimeEqual(want[:], blk.Hash[:]) {
		return nil, stegerr.New(stegerr.NotOurs, "blockcodec: hash mismatch")
	}

	return blk, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
