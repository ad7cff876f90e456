package caskfs

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"bazil.org/fuse"

	"github.com/caskfs/cask/blob"
)

// newTestMount builds a writable mount over a fresh container, without
// a kernel connection: node methods are called directly.
func newTestMount(t *testing.T) *Mount {
	t.Helper()
	fx := newCommitFixture(t)
	return &Mount{
		Cask:     fx.cask,
		Image:    fx.image,
		Staging:  fx.staging,
		Writable: true,
	}
}

func mkTestDir(t *testing.T, d *Dir, name string) *Dir {
	t.Helper()
	n, err := d.Mkdir(context.Background(), &fuse.MkdirRequest{Name: name, Mode: 0o755})
	if err != nil {
		t.Fatalf("Mkdir %s: %v", name, err)
	}
	return n.(*Dir)
}

func mkTestFile(t *testing.T, d *Dir, name string) *File {
	t.Helper()
	node, h, err := d.Create(context.Background(), &fuse.CreateRequest{Name: name, Mode: 0o644}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	if err := h.(*Handle).fh.Release(); err != nil {
		t.Fatal(err)
	}
	return node.(*File)
}

func TestRenameReplacesEmptyDirectory(t *testing.T) {
	m := newTestMount(t)
	root := &Dir{m: m, ino: m.Image.Root}
	src := mkTestDir(t, root, "src")
	mkTestDir(t, root, "dst")

	err := root.Rename(context.Background(), &fuse.RenameRequest{OldName: "src", NewName: "dst"}, root)
	if err != nil {
		t.Fatalf("rename of a directory over an empty directory: %v", err)
	}
	if m.Image.Root.Children["dst"] != src.ino {
		t.Error("dst does not reference the moved directory")
	}
	if _, ok := m.Image.Root.Children["src"]; ok {
		t.Error("src still present after rename")
	}
}

func TestRenameTargetErrors(t *testing.T) {
	tests := []struct {
		name     string
		srcDir   bool
		dstDir   bool
		nonEmpty bool
		want     syscall.Errno
	}{
		{"file over dir", false, true, false, syscall.EISDIR},
		{"dir over file", true, false, false, syscall.ENOTDIR},
		{"dir over nonempty dir", true, true, true, syscall.ENOTEMPTY},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMount(t)
			root := &Dir{m: m, ino: m.Image.Root}

			if tt.srcDir {
				mkTestDir(t, root, "src")
			} else {
				mkTestFile(t, root, "src")
			}
			if tt.dstDir {
				dst := mkTestDir(t, root, "dst")
				if tt.nonEmpty {
					mkTestFile(t, dst, "occupant")
				}
			} else {
				mkTestFile(t, root, "dst")
			}

			err := root.Rename(context.Background(), &fuse.RenameRequest{OldName: "src", NewName: "dst"}, root)
			if err != tt.want {
				t.Errorf("Rename = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConcurrentLinksKeepCounts(t *testing.T) {
	// Hard links to one file from several directories at once: the link
	// count and the stream refcnt must both end exactly n higher.
	m := newTestMount(t)
	root := &Dir{m: m, ino: m.Image.Root}
	f := mkTestFile(t, root, "orig")

	const n = 8
	dirs := make([]*Dir, n)
	for i := range dirs {
		dirs[i] = mkTestDir(t, root, fmt.Sprintf("d%d", i))
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = dirs[i].Link(context.Background(), &fuse.LinkRequest{NewName: "hard"}, f)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Link %d: %v", i, err)
		}
	}
	if f.ino.LinkCount != 1+n {
		t.Errorf("link count = %d, want %d", f.ino.LinkCount, 1+n)
	}
	rec := f.ino.Stream(blob.DefaultStream).Record()
	if rec == nil {
		t.Fatal("default stream lost its record")
	}
	if rec.Refcnt != 1+n {
		t.Errorf("record refcnt = %d, want %d", rec.Refcnt, 1+n)
	}
}
