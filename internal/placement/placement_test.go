package placement

import (
	"testing"

	"github.com/stegfs-go/stegfs/internal/blockcodec"
	"github.com/stegfs-go/stegfs/internal/keyschedule"
)

// fakeVolume is an in-memory BlockReader: a map of index -> path tag,
// standing in for a real container file for unit tests.
type fakeVolume struct {
	tags map[uint64][blockcodec.PathLen]byte
	fail map[uint64]bool
}

func newFakeVolume() *fakeVolume {
	return &fakeVolume{
		tags: make(map[uint64][blockcodec.PathLen]byte),
		fail: make(map[uint64]bool),
	}
}

func (f *fakeVolume) ReadPathTag(index uint64) ([blockcodec.PathLen]byte, error) {
	if f.fail[index] {
		var zero [blockcodec.PathLen]byte
		return zero, errIOStub{}
	}
	return f.tags[index], nil
}

type errIOStub struct{}

func (errIOStub) Error() string { return "simulated i/o failure" }

func TestIsOursMatchesExpectedTag(t *testing.T) {
	vol := newFakeVolume()
	tag := keyTag("hello")
	vol.tags[5] = tag

	if !IsOurs(vol, 5, tag) {
		t.Fatal("expected IsOurs to match a planted tag")
	}
	other := keyTag("goodbye")
	if IsOurs(vol, 5, other) {
		t.Fatal("expected IsOurs to reject a mismatched tag")
	}
}

func TestIsOursTreatsIOErrorAsOurs(t *testing.T) {
	vol := newFakeVolume()
	vol.fail[7] = true
	if !IsOurs(vol, 7, keyTag("anything")) {
		t.Fatal("expected an unreadable block to be conservatively treated as ours")
	}
}

func TestFindFreeBlockAvoidsSuperblock(t *testing.T) {
	vol := newFakeVolume()
	eng := New(16)

	// 16 blocks leave exactly 15 allocatable indices, and every index
	// returned is marked used, so draw each of them once.
	for i := 0; i < 15; i++ {
		idx, err := eng.FindFreeBlock(vol, "/some/file")
		if err != nil {
			t.Fatalf("FindFreeBlock: %v", err)
		}
		if idx == 0 {
			t.Fatal("FindFreeBlock returned the reserved superblock index")
		}
	}
}

func TestFindFreeBlockNeverRepeatsAnIndex(t *testing.T) {
	vol := newFakeVolume()
	eng := New(4096)

	seen := map[uint64]bool{}
	for i := 0; i < 50; i++ {
		idx, err := eng.FindFreeBlock(vol, "/dir-a/file")
		if err != nil {
			t.Fatalf("FindFreeBlock: %v", err)
		}
		if seen[idx] {
			t.Fatalf("FindFreeBlock returned a duplicate index %d", idx)
		}
		seen[idx] = true
	}
}

func TestFindFreeBlockExhaustsBudget(t *testing.T) {
	vol := newFakeVolume()
	eng := New(2) // only index 1 is ever allocatable
	idx, err := eng.FindFreeBlock(vol, "/x")
	if err != nil {
		t.Fatalf("first FindFreeBlock should succeed: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected the only allocatable index (1), got %d", idx)
	}

	if _, err := eng.FindFreeBlock(vol, "/x"); err == nil {
		t.Fatal("expected NoSpace once the only block is taken")
	}
}

// TestFindFreeBlockRejectsGenuineParentDirectoryCollision plants a real
// on-disk path_tag — computed the same way fileengine computes one when
// it writes a block — on the only allocatable index, then asks
// FindFreeBlock to place a different file underneath that same
// directory prefix. The directory-prefix walk must recognise the
// collision and refuse the block, not just rely on the in-process
// usedBitmap (which knows nothing about this pre-existing block).
func TestFindFreeBlockRejectsGenuineParentDirectoryCollision(t *testing.T) {
	vol := newFakeVolume()
	eng := New(2) // only index 1 is ever allocatable

	// A real file stored directly at "/dir" already occupies index 1.
	vol.tags[1] = keyschedule.PathTag("/dir")
	eng.MarkPrefixUsed("/dir")

	if _, err := eng.FindFreeBlock(vol, "/dir/sub.txt"); err == nil {
		t.Fatal("expected FindFreeBlock to reject a block genuinely claimed by a parent directory's file")
	}
}

// TestFindFreeBlockAcceptsNonCollidingRealTag is the mirror case: the
// planted tag belongs to an unrelated file that does not share any
// directory prefix with the requested path, so the walk must accept the
// block rather than rejecting everything it reads.
func TestFindFreeBlockAcceptsNonCollidingRealTag(t *testing.T) {
	vol := newFakeVolume()
	eng := New(2) // only index 1 is ever allocatable

	vol.tags[1] = keyschedule.PathTag("/unrelated/other.txt")
	eng.MarkPrefixUsed("/unrelated/other.txt")

	idx, err := eng.FindFreeBlock(vol, "/dir/sub.txt")
	if err != nil {
		t.Fatalf("expected FindFreeBlock to accept a block with an unrelated real tag: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected the only allocatable index (1), got %d", idx)
	}
}

func keyTag(s string) [blockcodec.PathLen]byte {
	var tag [blockcodec.PathLen]byte
	copy(tag[:], []byte(s))
	return tag
}
