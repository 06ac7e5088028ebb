package blockcodec

import (
	"bytes"
	"testing"

	"github.com/stegfs-go/stegfs/internal/cryptocore"
)

func newKeyIV(t *testing.T) (key [cryptocore.KeySize]byte, iv [cryptocore.IVSize]byte) {
	t.Helper()
	copy(key[:], cryptocore.RandBytes(cryptocore.KeySize))
	copy(iv[:], cryptocore.RandBytes(cryptocore.IVSize))
	return key, iv
}

func newContext(t *testing.T, key [cryptocore.KeySize]byte, iv [cryptocore.IVSize]byte) *cryptocore.BlockCipher {
	t.Helper()
	bc, err := cryptocore.NewContext(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	return bc
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cc := cryptocore.New()
	key, iv := newKeyIV(t)

	var blk Block
	copy(blk.PathTag[:], bytes.Repeat([]byte{0xAB}, PathLen))
	copy(blk.Data[:], []byte("hello, steganographic world"))
	copy(blk.Next[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	wire := Encode(&blk, cc, newContext(t, key, iv))
	if len(wire) != BlockLen {
		t.Fatalf("wire length = %d, want %d", len(wire), BlockLen)
	}
	if !bytes.Equal(wire[:PathLen], blk.PathTag[:]) {
		t.Fatal("path tag must remain in the clear")
	}

	decoded, err := Decode(wire, newContext(t, key, iv))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(decoded.Data[:len("hello, steganographic world")], []byte("hello, steganographic world")) {
		t.Fatal("decoded data does not match original")
	}
	if decoded.Next != blk.Next {
		t.Fatal("decoded next field does not match original")
	}
}

func TestDecodeDetectsTamperedCiphertext(t *testing.T) {
	cc := cryptocore.New()
	key, iv := newKeyIV(t)

	var blk Block
	copy(blk.Data[:], []byte("payload"))
	wire := Encode(&blk, cc, newContext(t, key, iv))

	wire[PathLen+5] ^= 0xFF // flip a bit inside the ciphertext region

	if _, err := Decode(wire, newContext(t, key, iv)); err == nil {
		t.Fatal("expected Decode to reject tampered ciphertext")
	}
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	cc := cryptocore.New()
	key, iv := newKeyIV(t)

	var blk Block
	copy(blk.Data[:], []byte("payload"))
	wire := Encode(&blk, cc, newContext(t, key, iv))

	wrongKey, _ := newKeyIV(t)
	if _, err := Decode(wire, newContext(t, wrongKey, iv)); err == nil {
		t.Fatal("expected Decode with the wrong key to fail")
	}
}

func TestPathTagNeverEnciphered(t *testing.T) {
	cc := cryptocore.New()
	key, iv := newKeyIV(t)

	var blk Block
	copy(blk.PathTag[:], bytes.Repeat([]byte{0x42}, PathLen))
	copy(blk.Data[:], []byte("payload"))

	wire := Encode(&blk, cc, newContext(t, key, iv))
	if !bytes.Equal(wire[:PathLen], blk.PathTag[:]) {
		t.Fatal("path tag changed after Encode")
	}
}
