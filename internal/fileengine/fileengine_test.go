package fileengine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/cryptocore"
	"github.com/stegfs-go/stegfs/internal/keyschedule"
	"github.com/stegfs-go/stegfs/internal/volume"
)

func openTestVolume(t *testing.T, sizeBytes int64) *volume.Volume {
	t.Helper()
	dir, err := os.MkdirTemp("", "stegfs-fileengine-test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "container.stegfs")
	vol, err := volume.Format(path, volume.FormatOptions{SizeBytes: sizeBytes})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	t.Cleanup(func() { vol.Close() })
	return vol
}

func TestSaveStatLoadRoundTrip(t *testing.T) {
	vol := openTestVolume(t, 4<<20) // 4 MiB

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
	f := &File{Path: "/docs", Name: "report.txt", Passphrase: "correct horse battery staple", Size: uint64(len(payload))}

	if err := Save(vol, f, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stat := &File{Path: "/docs", Name: "report.txt", Passphrase: "correct horse battery staple"}
	if err := Stat(vol, stat); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size != uint64(len(payload)) {
		t.Fatalf("Stat size = %d, want %d", stat.Size, len(payload))
	}

	var out bytes.Buffer
	load := &File{Path: "/docs", Name: "report.txt", Passphrase: "correct horse battery staple"}
	if err := Load(vol, load, &out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("loaded payload does not match original: got %d bytes, want %d", out.Len(), len(payload))
	}
}

func TestLoadFailsWithWrongPassphrase(t *testing.T) {
	vol := openTestVolume(t, 4<<20)

	payload := []byte("top secret contents")
	f := &File{Path: "/docs", Name: "secret.txt", Passphrase: "right-pass", Size: uint64(len(payload))}
	if err := Save(vol, f, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out bytes.Buffer
	wrong := &File{Path: "/docs", Name: "secret.txt", Passphrase: "wrong-pass"}
	if err := Load(vol, wrong, &out); err == nil {
		t.Fatal("expected Load with the wrong passphrase to fail")
	}
}

func TestStatReportsNotFoundAsZeroSize(t *testing.T) {
	vol := openTestVolume(t, 4<<20)

	f := &File{Path: "/docs", Name: "never-saved.txt", Passphrase: "whatever"}
	if err := Stat(vol, f); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if f.Size != 0 {
		t.Fatalf("Size = %d, want 0 for a file that was never saved", f.Size)
	}
}

func TestKillRemovesFileFromKnownFiles(t *testing.T) {
	vol := openTestVolume(t, 4<<20)

	payload := []byte("ephemeral")
	f := &File{Path: "/tmp", Name: "gone.txt", Passphrase: "pw", Size: uint64(len(payload))}
	if err := Save(vol, f, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !vol.KnownFiles.Has("/tmp", "gone.txt") {
		t.Fatal("expected KnownFiles to report the file as known after Save")
	}

	if err := Kill(vol, f); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if vol.KnownFiles.Has("/tmp", "gone.txt") {
		t.Fatal("expected KnownFiles to forget the file after Kill")
	}

	var out bytes.Buffer
	reload := &File{Path: "/tmp", Name: "gone.txt", Passphrase: "pw"}
	if err := Load(vol, reload, &out); err == nil {
		t.Fatal("expected Load to fail once every header copy has been overwritten")
	}
}

func TestSaveRejectsPayloadExceedingCapacity(t *testing.T) {
	vol := openTestVolume(t, 1<<20) // 1 MiB

	f := &File{Path: "/huge", Name: "file.bin", Passphrase: "pw", Size: 10 << 20}
	if err := Save(vol, f, bytes.NewReader(make([]byte, 10<<20))); err == nil {
		t.Fatal("expected Save to reject a payload far larger than the volume's capacity")
	}
}

// TestLoadSucceedsWithOnlyOneIntactCopy exercises the §4.E decode race
// directly: every header copy but one is smashed with random bytes after
// Save, and Load must still recover the payload from whichever copy
// survived, regardless of whether the race explores the copies
// concurrently or sequentially.
func TestLoadSucceedsWithOnlyOneIntactCopy(t *testing.T) {
	vol := openTestVolume(t, 4<<20)

	payload := bytes.Repeat([]byte("redundant copies keep this readable"), 50)
	f := &File{Path: "/vault", Name: "notes.txt", Passphrase: "pw", Size: uint64(len(payload))}
	if err := Save(vol, f, bytes.NewReader(payload)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m := keyschedule.Derive(f.Path, f.Name, f.Passphrase)
	blockCount := vol.BlockCount()
	const survivor = keyschedule.MaxCopies - 1

	for i := 0; i < keyschedule.MaxCopies; i++ {
		if i == survivor {
			continue
		}
		idx := headerIndex(m, i, blockCount)
		if err := vol.WriteBlock(idx, cryptocore.RandBytes(blockcodec.BlockLen)); err != nil {
			t.Fatalf("corrupt header copy %d: %v", i, err)
		}
	}

	var out bytes.Buffer
	load := &File{Path: "/vault", Name: "notes.txt", Passphrase: "pw"}
	if err := Load(vol, load, &out); err != nil {
		t.Fatalf("Load with a single surviving copy: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("loaded payload does not match original: got %d bytes, want %d", out.Len(), len(payload))
	}
}

func TestSameNameInDistinctDirectoriesDoesNotCrossTalk(t *testing.T) {
	vol := openTestVolume(t, 4<<20)

	a := &File{Path: "/a", Name: "f.txt", Passphrase: "pw", Size: 5}
	b := &File{Path: "/b", Name: "f.txt", Passphrase: "pw", Size: 5}
	if err := Save(vol, a, bytes.NewReader([]byte("aaaaa"))); err != nil {
		t.Fatalf("Save a: %v", err)
	}
	if err := Save(vol, b, bytes.NewReader([]byte("bbbbb"))); err != nil {
		t.Fatalf("Save b: %v", err)
	}

	var outA, outB bytes.Buffer
	if err := Load(vol, &File{Path: "/a", Name: "f.txt", Passphrase: "pw"}, &outA); err != nil {
		t.Fatalf("Load a: %v", err)
	}
	if err := Load(vol, &File{Path: "/b", Name: "f.txt", Passphrase: "pw"}, &outB); err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if outA.String() != "aaaaa" || outB.String() != "bbbbb" {
		t.Fatalf("cross-talk between distinct files: got a=%q b=%q", outA.String(), outB.String())
	}
}
