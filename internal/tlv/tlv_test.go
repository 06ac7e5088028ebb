package tlv

import "testing"

func TestEncodeParseRoundTrip(t *testing.T) {
	var l List
	l.Append(1, []byte("stegfs"))
	l.Append(2, []byte("1"))

	got, err := Parse(l.Encode())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	v, ok := got.Get(1)
	if !ok || string(v) != "stegfs" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
}

func TestParseToleratesTrailingZeroPadding(t *testing.T) {
	var l List
	l.Append(1, []byte("x"))
	padded := append(l.Encode(), make([]byte, 64)...)

	got, err := Parse(padded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
}

func TestParseRejectsTruncatedRecord(t *testing.T) {
	buf := []byte{1, 0, 10, 'a', 'b'} // claims 10 bytes, only has 2
	if _, err := Parse(buf); err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestGetMissingTagReturnsFalse(t *testing.T) {
	var l List
	l.Append(1, []byte("x"))
	if _, ok := l.Get(99); ok {
		t.Fatal("expected Get of an absent tag to report false")
	}
}
