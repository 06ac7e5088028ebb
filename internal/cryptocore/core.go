// Package cryptocore wraps the two primitives everything else in stegfs is
// built from: a 192-bit hash and a 128-bit block cipher in CBC mode. The
// spec permits substituting the named Serpent/Tiger pair for equivalents as
// long as the substitution is recorded honestly on disk rather than claimed
// to be the original algorithm, so this package uses SHA3-512 (truncated to
// 24 bytes) and AES-128-CBC — both real, audited, already-vendored
// primitives rather than a hand-rolled Serpent or Tiger implementation.
package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/stegfs-go/stegfs/internal/memprotect"
	"github.com/stegfs-go/stegfs/internal/tlog"
)

// mp is the shared memory-protection helper used to wipe key material on
// Dispose. One instance is enough: it carries no state at all.
var mp = memprotect.New()

func errNotBlockAligned(n int) error {
	return fmt.Errorf("cryptocore: buffer length %d is not a multiple of the %d-byte block size", n, IVSize)
}

// HashSize is the width of every digest CryptoCore produces: 192 bits,
// matching the on-disk HASH field's expectations in blockcodec and
// keyschedule.
const HashSize = 24

// KeySize is the AES-128 key width consumed by BlockCipher.
const KeySize = 16

// IVSize is the AES block size and the CBC IV width.
const IVSize = aes.BlockSize

// CryptoCore is the stateless primitives adapter: one SHA3-512 hash
// truncated to 24 bytes, and a constructor for per-call CBC contexts. It
// holds no secret state itself — keyschedule derives the keys, fileengine
// and volume own the BlockCipher contexts that use them.
type CryptoCore struct{}

// New returns a CryptoCore. There is no setup cost; New exists so call
// sites read the same way the teacher's NewCryptoCore constructors do and
// so a future stateful primitive (e.g. a hardware-backed hash) has
// somewhere to attach.
func New() *CryptoCore {
	return &CryptoCore{}
}

// Hash returns SHA3-512(data), truncated to the first 24 bytes. Recorded
// on disk as the TLV value "sha3-192" — a truncated, real hash rather than
// a from-scratch Tiger-192 implementation.
func (c *CryptoCore) Hash(data []byte) [HashSize]byte {
	full := sha3.Sum512(data)
	var out [HashSize]byte
	copy(out[:], full[:HashSize])
	return out
}

// RandBytes returns n cryptographically random bytes, read from the OS
// CSPRNG. Used for noise-fill during volume.Format and for kill's
// header-block scrubbing.
func RandBytes(n int) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		// crypto/rand.Reader failing means the OS entropy source is
		// broken; nothing downstream can recover from that.
		tlog.Fatal.Fatalf("cryptocore: RandBytes: %v", err)
	}
	return buf
}

// BlockCipher is a single CBC encryption/decryption context bound to one
// key and IV, mirroring the teacher's pattern of pairing an init call with
// a matching teardown 1:1 around each use (there: mcrypt_generic_init /
// mcrypt_generic_deinit; here: NewContext / Dispose).
type BlockCipher struct {
	block cipher.Block
	iv    [IVSize]byte
	key   [KeySize]byte
}

// NewContext builds a BlockCipher for one key+IV pair. key is the leading
// 16 bytes of a keyschedule-derived 24-byte key; callers that only have a
// 24-byte digest should slice it down before calling this.
func NewContext(key [KeySize]byte, iv [IVSize]byte) (*BlockCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return &BlockCipher{block: block, iv: iv, key: key}, nil
}

// EncryptInPlace CBC-encrypts buf, which must be a multiple of IVSize,
// overwriting it with ciphertext. Every call starts a fresh CBC stream
// from the context's IV, so two calls on equal plaintext yield equal
// ciphertext. keyschedule derives one IV per copy (by mixing the copy
// index into the IV derivation), and fileengine uses that same IV for
// every block of the copy's chain.
func (bc *BlockCipher) EncryptInPlace(buf []byte) error {
	if len(buf)%IVSize != 0 {
		return errNotBlockAligned(len(buf))
	}
	mode := cipher.NewCBCEncrypter(bc.block, bc.iv[:])
	mode.CryptBlocks(buf, buf)
	return nil
}

// DecryptInPlace CBC-decrypts buf in place. See EncryptInPlace for the
// alignment requirement.
func (bc *BlockCipher) DecryptInPlace(buf []byte) error {
	if len(buf)%IVSize != 0 {
		return errNotBlockAligned(len(buf))
	}
	mode := cipher.NewCBCDecrypter(bc.block, bc.iv[:])
	mode.CryptBlocks(buf, buf)
	return nil
}

// Dispose wipes the key material held by this context using the shared
// memprotect helper (zeroing loop pinned past the last write with
// runtime.KeepAlive, followed by a GC cycle), rather than an inline loop
// the compiler is free to prove dead and elide. Safe to call more than
// once.
func (bc *BlockCipher) Dispose() {
	mp.SecureZero(bc.key[:])
	mp.SecureZero(bc.iv[:])
	bc.block = nil
}
