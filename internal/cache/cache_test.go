package cache

import "testing"

func TestKnownFilesAddHasRemove(t *testing.T) {
	kf := NewKnownFiles(100)
	if kf.Has("/docs", "report.pdf") {
		t.Fatal("expected Has to be false before Add")
	}
	kf.Add("/docs", "report.pdf")
	if !kf.Has("/docs", "report.pdf") {
		t.Fatal("expected Has to be true after Add")
	}
	if kf.Has("/docs", "other.pdf") {
		t.Fatal("unrelated file incorrectly reported known")
	}
	kf.Remove("/docs", "report.pdf")
	if kf.Has("/docs", "report.pdf") {
		t.Fatal("expected Has to be false after Remove")
	}
}

func TestKnownFilesAddIsIdempotent(t *testing.T) {
	kf := NewKnownFiles(100)
	kf.Add("/docs", "report.pdf")
	kf.Add("/docs", "report.pdf")
	if kf.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after adding the same file twice", kf.Len())
	}
}

func TestBitmapSetClearTest(t *testing.T) {
	bm := NewBitmap(64)
	if bm.Test(10) {
		t.Fatal("expected bit 10 to start clear")
	}
	bm.Set(10)
	if !bm.Test(10) {
		t.Fatal("expected bit 10 to be set")
	}
	if bm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", bm.Count())
	}
	bm.Clear(10)
	if bm.Test(10) {
		t.Fatal("expected bit 10 to be clear again")
	}
}

func TestBitmapSetIsIdempotent(t *testing.T) {
	bm := NewBitmap(64)
	bm.Set(3)
	bm.Set(3)
	if bm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 after setting the same bit twice", bm.Count())
	}
}
