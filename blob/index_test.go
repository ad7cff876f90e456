package blob

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testRecord(content string) *BlobRecord {
	data := []byte(content)
	return &BlobRecord{
		Digest:   DigestBytes(data),
		Size:     int64(len(data)),
		Location: BlobLocation{Kind: LocationInMemory, Buffer: data},
	}
}

func TestIndexInsertLookupRemove(t *testing.T) {
	idx := NewDigestIndex()
	rec := testRecord("some content")

	if err := idx.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, ok := idx.Lookup(rec.Digest)
	if !ok || got != rec {
		t.Fatal("Lookup after Insert did not return the record")
	}

	idx.Remove(rec)
	if _, ok := idx.Lookup(rec.Digest); ok {
		t.Error("Lookup after Remove still returns the record")
	}
	if idx.Len() != 0 {
		t.Errorf("Len after Remove = %d, want 0", idx.Len())
	}
}

func TestIndexRejectsDuplicateDigest(t *testing.T) {
	idx := NewDigestIndex()
	a := testRecord("shared bytes")
	b := testRecord("shared bytes")

	if err := idx.Insert(a); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := idx.Insert(b); !errors.Is(err, ErrDuplicateDigest) {
		t.Errorf("second Insert returned %v, want ErrDuplicateDigest", err)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
}

func TestIndexRemoveChecksIdentity(t *testing.T) {
	idx := NewDigestIndex()
	a := testRecord("identity")
	if err := idx.Insert(a); err != nil {
		t.Fatal(err)
	}

	// A clone with the same digest must not evict the linked record.
	b := a.Clone()
	idx.Remove(b)
	if _, ok := idx.Lookup(a.Digest); !ok {
		t.Error("Remove of an unlinked clone evicted the linked record")
	}
}

func TestDecrementRefcntFreesAtZero(t *testing.T) {
	idx := NewDigestIndex()
	rec := testRecord("refcounted")
	rec.Refcnt = 2
	if err := idx.Insert(rec); err != nil {
		t.Fatal(err)
	}

	DecrementRefcnt(rec, idx)
	if _, ok := idx.Lookup(rec.Digest); !ok {
		t.Fatal("record dropped while references remain")
	}
	DecrementRefcnt(rec, idx)
	if _, ok := idx.Lookup(rec.Digest); ok {
		t.Error("record still linked after last reference dropped")
	}
}

func TestDecrementRefcntKeepsOpenRecords(t *testing.T) {
	idx := NewDigestIndex()
	rec := testRecord("held open")
	rec.Refcnt = 1
	rec.OpenHandles = 1
	if err := idx.Insert(rec); err != nil {
		t.Fatal(err)
	}

	DecrementRefcnt(rec, idx)
	if _, ok := idx.Lookup(rec.Digest); !ok {
		t.Error("record with open handles was unlinked at refcnt zero")
	}
}

func TestReleaseReapsUnreferencedRecord(t *testing.T) {
	// Unlinking the last reference while a handle is still open keeps
	// the record; the final close unlinks it and drops the loose file.
	idx := NewDigestIndex()
	path := filepath.Join(t.TempDir(), "loose")
	content := []byte("unlinked while open")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	rec := &BlobRecord{
		Digest:   DigestBytes(content),
		Refcnt:   1,
		Size:     int64(len(content)),
		Location: BlobLocation{Kind: LocationStagingFile, Path: path},
	}
	if err := idx.Insert(rec); err != nil {
		t.Fatal(err)
	}

	ino := NewFile(1)
	ino.Streams[0].SetRecord(rec)
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := ino.AllocHandle(idx, rec, DefaultStream, f, false)
	if err != nil {
		t.Fatal(err)
	}

	DecrementRefcnt(rec, idx)
	if _, ok := idx.Lookup(rec.Digest); !ok {
		t.Fatal("record with an open handle was unlinked at refcnt zero")
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := idx.Lookup(rec.Digest); ok {
		t.Error("record still linked after its last handle closed")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("loose file left behind after the last handle closed")
	}
}
