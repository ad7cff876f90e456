package caskfs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caskfs/cask/blob"
)

func newTestStaging(t *testing.T) *Staging {
	t.Helper()
	st, err := NewStaging(filepath.Join(t.TempDir(), "box"), blob.NewDigestIndex())
	if err != nil {
		t.Fatalf("NewStaging: %v", err)
	}
	t.Cleanup(func() { st.Cleanup() })
	return st
}

func TestNewLooseFileNames(t *testing.T) {
	st := newTestStaging(t)
	f, err := st.NewLooseFile()
	if err != nil {
		t.Fatalf("NewLooseFile: %v", err)
	}
	defer f.Close()

	name := filepath.Base(f.Name())
	if len(name) != looseNameLen {
		t.Errorf("loose file name %q has length %d, want %d", name, len(name), looseNameLen)
	}
	for _, r := range name {
		if !strings.ContainsRune(looseNameChars, r) {
			t.Errorf("loose file name %q contains %q", name, r)
		}
	}
	if filepath.Dir(f.Name()) != st.Dir {
		t.Errorf("loose file created outside the staging directory")
	}
}

func TestMaterializeNewStream(t *testing.T) {
	st := newTestStaging(t)
	ino := blob.NewFile(1)

	rec, err := st.Materialize(ino, blob.DefaultStream, 0)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if !rec.IsStaged() {
		t.Fatal("materialized record is not staging-backed")
	}
	if rec.Refcnt != 1 {
		t.Errorf("refcnt = %d, want 1", rec.Refcnt)
	}
	if rec.StagedInode != ino {
		t.Error("record does not point back at its inode")
	}
	if got := ino.Stream(blob.DefaultStream).Record(); got != rec {
		t.Error("stream not repointed at the staged record")
	}
	if _, err := os.Stat(rec.Location.Path); err != nil {
		t.Errorf("loose file missing: %v", err)
	}
}

func TestMaterializeCopiesExistingContent(t *testing.T) {
	st := newTestStaging(t)

	content := []byte("existing bytes")
	old := &blob.BlobRecord{
		Digest:   blob.DigestBytes(content),
		Refcnt:   1,
		Size:     int64(len(content)),
		Location: blob.BlobLocation{Kind: blob.LocationInMemory, Buffer: content},
	}
	if err := st.Index.Insert(old); err != nil {
		t.Fatal(err)
	}
	ino := blob.NewFile(1)
	ino.Streams[0].SetRecord(old)

	rec, err := st.Materialize(ino, blob.DefaultStream, int64(len(content)))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := os.ReadFile(rec.Location.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("loose file = %q, want %q", data, content)
	}
}

func TestMaterializeZeroExtends(t *testing.T) {
	st := newTestStaging(t)

	content := []byte("short")
	old := &blob.BlobRecord{
		Digest:   blob.DigestBytes(content),
		Refcnt:   1,
		Size:     int64(len(content)),
		Location: blob.BlobLocation{Kind: blob.LocationInMemory, Buffer: content},
	}
	if err := st.Index.Insert(old); err != nil {
		t.Fatal(err)
	}
	ino := blob.NewFile(1)
	ino.Streams[0].SetRecord(old)

	rec, err := st.Materialize(ino, blob.DefaultStream, 10)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := os.ReadFile(rec.Location.Path)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte("short"), 0, 0, 0, 0, 0)
	if !bytes.Equal(data, want) {
		t.Errorf("loose file = %q, want %q", data, want)
	}
	if rec.Size != 10 {
		t.Errorf("declared size = %d, want 10", rec.Size)
	}
}

func TestMaterializeReusesInPlace(t *testing.T) {
	// The inode's links are the record's only references: the record is
	// repointed, not split.
	st := newTestStaging(t)

	content := []byte("solely owned")
	old := &blob.BlobRecord{
		Digest:   blob.DigestBytes(content),
		Refcnt:   1,
		Size:     int64(len(content)),
		Location: blob.BlobLocation{Kind: blob.LocationInMemory, Buffer: content},
	}
	oldDigest := old.Digest
	if err := st.Index.Insert(old); err != nil {
		t.Fatal(err)
	}
	ino := blob.NewFile(1)
	ino.Streams[0].SetRecord(old)

	rec, err := st.Materialize(ino, blob.DefaultStream, int64(len(content)))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if rec != old {
		t.Fatal("sole reference was split instead of reused in place")
	}
	if st.Index.Len() != 1 {
		t.Errorf("index has %d records, want 1", st.Index.Len())
	}
	if _, ok := st.Index.Lookup(oldDigest); ok {
		t.Error("old digest still resolvable after reuse")
	}
}

func TestMaterializeSplitsSharedRecord(t *testing.T) {
	// refcnt R shared by R links, one link opened for write: the old
	// record keeps R-1, a new record gets exactly 1.
	st := newTestStaging(t)

	content := []byte("shared three ways")
	old := &blob.BlobRecord{
		Digest:   blob.DigestBytes(content),
		Refcnt:   3,
		Size:     int64(len(content)),
		Location: blob.BlobLocation{Kind: blob.LocationInMemory, Buffer: content},
	}
	if err := st.Index.Insert(old); err != nil {
		t.Fatal(err)
	}
	ino := blob.NewFile(1)
	ino.Streams[0].SetRecord(old)

	rec, err := st.Materialize(ino, blob.DefaultStream, int64(len(content)))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if rec == old {
		t.Fatal("shared record was reused instead of split")
	}
	if old.Refcnt != 2 {
		t.Errorf("old refcnt = %d, want 2", old.Refcnt)
	}
	if rec.Refcnt != 1 {
		t.Errorf("new refcnt = %d, want 1", rec.Refcnt)
	}
	if st.Index.Len() != 2 {
		t.Errorf("index has %d records, want 2", st.Index.Len())
	}
	if got := ino.Streams[0].Record(); got != rec {
		t.Error("stream still points at the old record")
	}
}

func TestSplitMigratesOpenHandles(t *testing.T) {
	st := newTestStaging(t)

	content := []byte("open while split")
	old := &blob.BlobRecord{
		Digest:   blob.DigestBytes(content),
		Refcnt:   2,
		Size:     int64(len(content)),
		Location: blob.BlobLocation{Kind: blob.LocationInMemory, Buffer: content},
	}
	if err := st.Index.Insert(old); err != nil {
		t.Fatal(err)
	}
	ino := blob.NewFile(1)
	ino.Streams[0].SetRecord(old)

	h, err := ino.AllocHandle(st.Index, old, blob.DefaultStream, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if old.OpenHandles != 1 {
		t.Fatalf("old OpenHandles = %d, want 1", old.OpenHandles)
	}

	rec, err := st.Materialize(ino, blob.DefaultStream, int64(len(content)))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	if h.Record != rec {
		t.Error("open handle still bound to the old record")
	}
	if h.Staging == nil {
		t.Error("migrated handle has no staging descriptor")
	}
	if old.OpenHandles != 0 {
		t.Errorf("old OpenHandles = %d, want 0", old.OpenHandles)
	}
	if rec.OpenHandles != 1 {
		t.Errorf("new OpenHandles = %d, want 1", rec.OpenHandles)
	}

	// The migrated descriptor reads the staged copy.
	buf := make([]byte, len(content))
	if _, err := h.Staging.ReadAt(buf, 0); err != nil {
		t.Fatalf("reading through migrated handle: %v", err)
	}
	if !bytes.Equal(buf, content) {
		t.Errorf("migrated read = %q, want %q", buf, content)
	}
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestTruncateShrinksDeclaredSize(t *testing.T) {
	st := newTestStaging(t)
	ino := blob.NewFile(1)

	rec, err := st.Materialize(ino, blob.DefaultStream, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Truncate(rec, 3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if rec.Size != 3 {
		t.Errorf("declared size = %d, want 3", rec.Size)
	}
	fi, err := os.Stat(rec.Location.Path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 3 {
		t.Errorf("loose file size = %d, want 3", fi.Size())
	}
}

func TestMaterializeTwiceReturnsExistingBacking(t *testing.T) {
	st := newTestStaging(t)
	ino := blob.NewFile(1)

	rec, err := st.Materialize(ino, blob.DefaultStream, 0)
	if err != nil {
		t.Fatal(err)
	}
	again, err := st.Materialize(ino, blob.DefaultStream, 0)
	if err != ErrAlreadyStaged {
		t.Errorf("second Materialize error = %v, want ErrAlreadyStaged", err)
	}
	if again != rec {
		t.Error("second Materialize did not return the existing record")
	}
}

func TestCleanupRemovesDirectory(t *testing.T) {
	st := newTestStaging(t)
	ino := blob.NewFile(1)
	if _, err := st.Materialize(ino, blob.DefaultStream, 4); err != nil {
		t.Fatal(err)
	}
	if err := st.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(st.Dir); !os.IsNotExist(err) {
		t.Error("staging directory still exists after cleanup")
	}
}
