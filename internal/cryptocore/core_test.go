package cryptocore

import "testing"

func TestHashDeterministic(t *testing.T) {
	c := New()
	a := c.Hash([]byte("/documents/report.pdf"))
	b := c.Hash([]byte("/documents/report.pdf"))
	if a != b {
		t.Fatal("Hash is not deterministic for identical input")
	}
	other := c.Hash([]byte("/documents/report.PDF"))
	if a == other {
		t.Fatal("Hash collided across distinct inputs")
	}
}

func TestHashWidth(t *testing.T) {
	c := New()
	h := c.Hash([]byte("x"))
	if len(h) != HashSize {
		t.Fatalf("digest width = %d, want %d", len(h), HashSize)
	}
}

func TestBlockCipherRoundTrip(t *testing.T) {
	var key [KeySize]byte
	var iv [IVSize]byte
	copy(key[:], RandBytes(KeySize))
	copy(iv[:], RandBytes(IVSize))

	plain := RandBytes(IVSize * 4)
	buf := make([]byte, len(plain))
	copy(buf, plain)

	enc, err := NewContext(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.EncryptInPlace(buf); err != nil {
		t.Fatal(err)
	}
	enc.Dispose()

	if string(buf) == string(plain) {
		t.Fatal("EncryptInPlace left buffer unchanged")
	}

	dec, err := NewContext(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.DecryptInPlace(buf); err != nil {
		t.Fatal(err)
	}
	dec.Dispose()

	if string(buf) != string(plain) {
		t.Fatal("round trip did not recover the original plaintext")
	}
}

func TestBlockCipherRejectsUnalignedBuffers(t *testing.T) {
	var key [KeySize]byte
	var iv [IVSize]byte
	bc, err := NewContext(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	defer bc.Dispose()

	if err := bc.EncryptInPlace(make([]byte, IVSize+1)); err == nil {
		t.Fatal("expected an error for a non-block-aligned buffer")
	}
}

func TestBlockCipherDisposeWipesKey(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], RandBytes(KeySize))
	var iv [IVSize]byte

	bc, err := NewContext(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	bc.Dispose()

	for _, b := range bc.key {
		if b != 0 {
			t.Fatal("Dispose did not wipe the key")
		}
	}
}
