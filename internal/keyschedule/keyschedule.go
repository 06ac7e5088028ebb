// Package keyschedule derives every key, IV and placement seed stegfs
// needs from a caller-supplied (path, name, passphrase) triple. Nothing
// here is persisted: the same triple must always reproduce the same
// material, since there is no metadata region to cache it in.
package keyschedule

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"

	"github.com/stegfs-go/stegfs/internal/cryptocore"
)

// RootMarker is substituted for an empty passphrase, matching the
// "effective passphrase" rule in the key schedule: a directory handle
// with no passphrase of its own still needs a stable, non-empty `pp` to
// feed the derivations below.
const RootMarker = "stegfs-root"

// MaxCopies is the fixed redundancy factor; header index seeds are
// produced for copies 0..MaxCopies-1.
const MaxCopies = 8

// digestWords is how many 16-bit words the header-index derivation reads
// out of a 24-byte (192-bit) digest.
const digestWords = cryptocore.HashSize / 2

// Material holds everything derived for one (path, name, passphrase)
// triple: the plaintext path tag, one header-index seed per copy, and a
// closure that yields the per-copy cipher key+IV pair on demand (derived
// lazily since callers rarely need all MAX_COPIES at once, e.g. stat
// stops at the first successful copy).
type Material struct {
	PathTag     [16]byte
	HeaderSeeds [MaxCopies]uint64

	path, name string
	pp         string
	core       *cryptocore.CryptoCore
}

// Derive computes the path tag and header-index seeds for path+name+pp,
// and returns a Material whose KeyIV method derives per-copy key material
// on demand. An empty passphrase is replaced with RootMarker.
func Derive(path, name, passphrase string) *Material {
	pp := passphrase
	if pp == "" {
		pp = RootMarker
	}

	core := cryptocore.New()
	m := &Material{path: path, name: name, pp: pp, core: core}
	m.PathTag = PathTag(path)

	st := stretcher{path: path, name: name}
	stretchedPP := st.scryptStretch([]byte(pp))
	seedDigest := core.Hash([]byte(fmt.Sprintf("%s/%s:%x", path, name, stretchedPP)))
	words := make([]uint16, digestWords)
	for i := 0; i < digestWords; i++ {
		words[i] = binary.LittleEndian.Uint16(seedDigest[i*2 : i*2+2])
	}

	for i := 0; i < MaxCopies; i++ {
		var v uint64
		for j := 0; j < 5; j++ {
			v = v<<16 | uint64(words[(i+j)%digestWords])
		}
		m.HeaderSeeds[i] = v
	}

	return m
}

// PathSentinel separates path segments when building the canonical
// representation PathTag hashes, so differently-segmented paths that
// would otherwise concatenate to the same string (e.g. "/a/b" vs "/ab")
// never canonicalize to the same bytes.
const PathSentinel = "\x00/\x00"

// CanonicalPath returns the sentinel-joined canonical form of path that
// PathTag hashes. Exported so placement's directory-prefix walk (§4.D
// step 4) can build the exact same representation for each prefix of
// path: the longest prefix in that walk is always path's own
// CanonicalPath, which is what lets a directory-prefix probe and a real
// file's on-disk path_tag agree when they refer to the same path.
func CanonicalPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	acc := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		acc += PathSentinel + part
	}
	if acc == "" {
		return PathSentinel
	}
	return acc
}

// PathTag computes the plaintext "ours" probe for path alone — no
// passphrase, no KDF stretch, since the placement engine must be able to
// compute this for an arbitrary directory prefix of an otherwise-unknown
// file (§4.D step 4), and the probe is already only as strong as a
// 128-bit hash regardless of how its input is prepared.
func PathTag(path string) [16]byte {
	return HashCanonical(CanonicalPath(path))
}

// HashCanonical hashes an already-canonicalized path representation —
// one produced by CanonicalPath, or one of its prefixes as built by
// placement's directory-prefix walk — directly, without re-splitting it
// on "/": the sentinel bytes it already contains would confuse a second
// split pass.
func HashCanonical(canonical string) [16]byte {
	core := cryptocore.New()
	digest := core.Hash([]byte(canonical))
	var tag [16]byte
	copy(tag[:], digest[:16])
	return tag
}

// HeaderIndex reduces the copy-i header seed modulo blockCount, per the
// §4.C rule ("...and reduce modulo block_count"). blockCount must
// exclude the superblock's own reserved index (callers add 1 if index 0
// is off-limits, matching placement's "[1, block_count)" convention).
func (m *Material) HeaderIndex(copy int, blockCount uint64) uint64 {
	if blockCount == 0 {
		return 0
	}
	return m.HeaderSeeds[copy] % blockCount
}

// stretcher runs the effective passphrase through two deterministic-salt
// KDF stretches before it reaches the cipher-key and
// header-index hashes: the format has no metadata region to store a
// random salt in, so the salt is itself derived from (path, name) —
// for a fixed triple this remains a pure function, so every property in
// §8 (round-trip, passphrase binding, ...) is unaffected. Adapted from
// the teacher's ScryptKDF/Argon2idKDF, with their random Salt field
// replaced by this deterministic derivation.
type stretcher struct {
	path, name string
}

func (s stretcher) salt(purpose string) []byte {
	return []byte(fmt.Sprintf("stegfs-salt:%s:%s:%s", purpose, s.path, s.name))
}

// scryptStretch stretches pw for header-index-adjacent derivations.
// Parameters mirror the teacher's ScryptDefaultLogN=17 (N=2^17, r=8, p=1)
// scaled down to logN=14 — the header-index seed only needs to resist
// offline guessing of `pp`, not protect long-lived storage, and a lower
// N keeps stat()/load() calls (each of which runs Derive, and so this
// stretch, afresh) responsive.
func (s stretcher) scryptStretch(pw []byte) []byte {
	const logN = 14
	k, err := scrypt.Key(pw, s.salt("header"), 1<<logN, 8, 1, 32)
	if err != nil {
		panic(fmt.Sprintf("keyschedule: scrypt stretch failed: %v", err))
	}
	return k
}

// argon2Stretch stretches pw for the per-copy cipher key, using the
// teacher's Argon2idDefaultMemory/Iterations/Parallelism defaults.
func (s stretcher) argon2Stretch(pw []byte) []byte {
	const (
		memoryKiB   = 64 * 1024
		iterations  = 3
		parallelism = 4
	)
	return argon2.IDKey(pw, s.salt("cipher"), iterations, memoryKiB, parallelism, 32)
}

// KeyIV derives the per-copy cipher key and IV for copy i, per §4.C:
// key = H("{name}:{pp}") (24 bytes), iv = H("{name}+{i}")[:16]. The
// passphrase component of the key derivation is first run through the
// argon2 stretch so brute-forcing `pp` costs a real KDF, not one hash
// evaluation.
func (m *Material) KeyIV(i int) (key [cryptocore.HashSize]byte, iv [16]byte) {
	st := stretcher{path: m.path, name: m.name}
	stretchedPP := st.argon2Stretch([]byte(m.pp))
	key = m.core.Hash([]byte(fmt.Sprintf("%s:%x", m.name, stretchedPP)))

	ivDigest := m.core.Hash([]byte(fmt.Sprintf("%s+%d", m.name, i)))
	copy(iv[:], ivDigest[:16])
	return key, iv
}

// BlockCipherKey narrows a 24-byte key-schedule digest down to the
// 16-byte key cryptocore.NewContext expects.
func BlockCipherKey(key [cryptocore.HashSize]byte) (out [cryptocore.KeySize]byte) {
	copy(out[:], key[:cryptocore.KeySize])
	return out
}
