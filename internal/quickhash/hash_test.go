package quickhash

import "testing"

func TestBytesIsStableAcrossCalls(t *testing.T) {
	a := Bytes("leica-legacy-dir:2", []byte("some tile bytes"))
	b := Bytes("leica-legacy-dir:2", []byte("some tile bytes"))
	if a != b {
		t.Fatalf("expected identical digests, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex characters (SHA-256), got %d", len(a))
	}
}

func TestSelectionDescriptionIsPartOfTheDigest(t *testing.T) {
	a := Bytes("leica-legacy-dir:2", []byte("payload"))
	b := Bytes("leica-new-dir:0", []byte("payload"))
	if a == b {
		t.Fatalf("expected different selections to produce different digests")
	}
}

func TestHasherIncrementalWritesMatchBytes(t *testing.T) {
	hs := New("aperio-dir:1")
	hs.Write([]byte("part one "))
	hs.Write([]byte("part two"))
	got := hs.HexDigest()

	want := Bytes("aperio-dir:1", []byte("part one part two"))
	if got != want {
		t.Fatalf("incremental digest %q != one-shot digest %q", got, want)
	}
}
