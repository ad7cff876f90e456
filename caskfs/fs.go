package caskfs

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/caskfs/cask/blob"
)

// FS implements the cask FUSE filesystem over one mounted image.
type FS struct {
	m *Mount
}

// Root returns the root directory node.
func (f *FS) Root() (fs.Node, error) {
	return &Dir{m: f.m, ino: f.m.Image.Root}, nil
}

// Dir is a directory node.
type Dir struct {
	m   *Mount
	ino *blob.Inode
}

// File is a regular-file node.
type File struct {
	m   *Mount
	ino *blob.Inode
}

func nodeFor(m *Mount, ino *blob.Inode) fs.Node {
	if ino.IsDir() {
		return &Dir{m: m, ino: ino}
	}
	return &File{m: m, ino: ino}
}

func attrFor(ino *blob.Inode, idx *blob.DigestIndex, a *fuse.Attr) {
	a.Inode = ino.Ino
	a.Mode = ino.Mode
	a.Nlink = ino.LinkCount
	a.Ctime = ino.Created
	a.Mtime = ino.Modified
	a.Atime = time.Now()
	if s := ino.Stream(blob.DefaultStream); s != nil {
		s.Resolve(idx)
		if rec := s.Record(); rec != nil {
			a.Size = uint64(rec.Size)
		}
	}
}

// Attr returns directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrFor(d.ino, d.m.Cask.Index, a)
	return nil
}

// Lookup resolves a name within the directory.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child, ok := d.ino.Children[name]
	if !ok {
		return nil, syscall.ENOENT
	}
	return nodeFor(d.m, child), nil
}

// ReadDirAll lists the directory.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents := make([]fuse.Dirent, 0, len(d.ino.Children))
	for name, child := range d.ino.Children {
		de := fuse.Dirent{Inode: child.Ino, Name: name, Type: fuse.DT_File}
		if child.IsDir() {
			de.Type = fuse.DT_Dir
		}
		ents = append(ents, de)
	}
	return ents, nil
}

// Mkdir creates a subdirectory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if !d.m.Writable {
		return nil, syscall.EROFS
	}
	if _, exists := d.ino.Children[req.Name]; exists {
		return nil, syscall.EEXIST
	}
	child := blob.NewDir(d.m.Image.NewInode())
	child.Mode = os.ModeDir | req.Mode.Perm()
	d.ino.Children[req.Name] = child
	d.m.Image.Inodes[child.Ino] = child
	return &Dir{m: d.m, ino: child}, nil
}

// Create makes a new regular file and opens it for writing. The new
// file's default stream is staged immediately so the returned handle
// has a writable backing.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if !d.m.Writable {
		return nil, nil, syscall.EROFS
	}
	if _, exists := d.ino.Children[req.Name]; exists {
		return nil, nil, syscall.EEXIST
	}

	child := blob.NewFile(d.m.Image.NewInode())
	child.Mode = req.Mode.Perm()

	rec, err := d.m.Staging.Materialize(child, blob.DefaultStream, 0)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(rec.Location.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	h, err := child.AllocHandle(d.m.Cask.Index, rec, blob.DefaultStream, f, false)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	d.ino.Children[req.Name] = child
	d.m.Image.Inodes[child.Ino] = child
	node := &File{m: d.m, ino: child}
	return node, &Handle{m: d.m, fh: h}, nil
}

// Remove unlinks a name. A file inode losing its last link drops one
// reference from each of its stream records.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	if !d.m.Writable {
		return syscall.EROFS
	}
	child, ok := d.ino.Children[req.Name]
	if !ok {
		return syscall.ENOENT
	}
	if req.Dir != child.IsDir() {
		if child.IsDir() {
			return syscall.EISDIR
		}
		return syscall.ENOTDIR
	}
	if child.IsDir() && len(child.Children) > 0 {
		return syscall.ENOTEMPTY
	}

	delete(d.ino.Children, req.Name)
	child.Lock()
	if child.LinkCount > 0 {
		child.LinkCount--
	}
	if !child.IsDir() {
		child.Resolve(d.m.Cask.Index)
		child.DecrementStreamRefs(d.m.Cask.Index)
	}
	lastLink := child.LinkCount == 0
	child.Unlock()
	if lastLink {
		delete(d.m.Image.Inodes, child.Ino)
	}
	return nil
}

// Rename moves a name to a new directory. An existing file target is
// replaced, as is an empty directory target when the source is itself a
// directory.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	if !d.m.Writable {
		return syscall.EROFS
	}
	nd, ok := newDir.(*Dir)
	if !ok {
		return syscall.ENOTDIR
	}
	child, ok := d.ino.Children[req.OldName]
	if !ok {
		return syscall.ENOENT
	}
	if prev, exists := nd.ino.Children[req.NewName]; exists {
		switch {
		case prev.IsDir() && !child.IsDir():
			return syscall.EISDIR
		case !prev.IsDir() && child.IsDir():
			return syscall.ENOTDIR
		case prev.IsDir() && len(prev.Children) > 0:
			return syscall.ENOTEMPTY
		}
		if err := nd.Remove(ctx, &fuse.RemoveRequest{Name: req.NewName, Dir: prev.IsDir()}); err != nil {
			return err
		}
	}
	delete(d.ino.Children, req.OldName)
	nd.ino.Children[req.NewName] = child
	return nil
}

// Link creates a hard link to an existing file, adding one reference to
// each of its stream records.
func (d *Dir) Link(ctx context.Context, req *fuse.LinkRequest, old fs.Node) (fs.Node, error) {
	if !d.m.Writable {
		return nil, syscall.EROFS
	}
	of, ok := old.(*File)
	if !ok {
		return nil, syscall.EPERM
	}
	if _, exists := d.ino.Children[req.NewName]; exists {
		return nil, syscall.EEXIST
	}
	of.ino.Lock()
	of.ino.Resolve(d.m.Cask.Index)
	of.ino.LinkCount++
	of.ino.IncrementStreamRefs()
	of.ino.Unlock()
	d.ino.Children[req.NewName] = of.ino
	return &File{m: d.m, ino: of.ino}, nil
}

// Attr returns file attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	attrFor(f.ino, f.m.Cask.Index, a)
	return nil
}

// Open opens the file's default stream. Write-intent opens on a
// non-staged stream materialize a staging backing first.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	writeIntent := !req.Flags.IsReadOnly()
	if writeIntent && !f.m.Writable {
		return nil, syscall.EROFS
	}

	s := f.ino.Stream(blob.DefaultStream)
	s.Resolve(f.m.Cask.Index)
	rec := s.Record()

	if writeIntent && (rec == nil || !rec.IsStaged()) {
		var size int64
		if rec != nil {
			size = rec.Size
		}
		var err error
		// A racing open may have staged the stream first; ErrAlreadyStaged
		// then carries the live backing.
		rec, err = f.m.Staging.Materialize(f.ino, blob.DefaultStream, size)
		if err != nil && !errors.Is(err, ErrAlreadyStaged) {
			return nil, err
		}
	}

	var staging *os.File
	if rec != nil && rec.IsStaged() {
		flags := os.O_RDONLY
		if writeIntent {
			flags = os.O_RDWR
		}
		var err error
		staging, err = os.OpenFile(rec.Location.Path, flags, 0)
		if err != nil {
			return nil, err
		}
	}

	h, err := f.ino.AllocHandle(f.m.Cask.Index, rec, blob.DefaultStream, staging, !f.m.Writable)
	if err != nil {
		if staging != nil {
			staging.Close()
		}
		return nil, err
	}
	return &Handle{m: f.m, fh: h}, nil
}

// Setattr handles truncation; other attribute changes are applied to
// the inode directly.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if !f.m.Writable {
		return syscall.EROFS
	}
	if req.Valid.Size() {
		s := f.ino.Stream(blob.DefaultStream)
		s.Resolve(f.m.Cask.Index)
		rec := s.Record()
		if rec == nil || !rec.IsStaged() {
			var err error
			rec, err = f.m.Staging.Materialize(f.ino, blob.DefaultStream, int64(req.Size))
			if err != nil && !errors.Is(err, ErrAlreadyStaged) {
				return err
			}
		}
		if err := f.m.Staging.Truncate(rec, int64(req.Size)); err != nil {
			return err
		}
	}
	if req.Valid.Mode() {
		f.ino.Mode = req.Mode
	}
	if req.Valid.Mtime() {
		f.ino.Modified = req.Mtime
	}
	attrFor(f.ino, f.m.Cask.Index, &resp.Attr)
	return nil
}

// Handle is one open file handle.
type Handle struct {
	m  *Mount
	fh *blob.FileHandle

	// cache holds decompressed container content for read-only handles.
	cache []byte
}

// Read serves positioned reads: directly from the loose file for staged
// content, from a decompressed copy for container content.
func (h *Handle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if h.fh.Staging != nil {
		buf := make([]byte, req.Size)
		n, err := h.fh.Staging.ReadAt(buf, req.Offset)
		if err != nil && err != io.EOF {
			return err
		}
		resp.Data = buf[:n]
		return nil
	}

	rec := h.fh.Record
	if rec == nil {
		resp.Data = nil
		return nil
	}
	if h.cache == nil {
		data, err := rec.ReadAll()
		if err != nil {
			return err
		}
		h.cache = data
	}
	if req.Offset >= int64(len(h.cache)) {
		resp.Data = nil
		return nil
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(h.cache)) {
		end = int64(len(h.cache))
	}
	resp.Data = h.cache[req.Offset:end]
	return nil
}

// Write serves positioned writes on the staging backing and grows the
// record's declared size when the write extends past it.
func (h *Handle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if h.fh.Staging == nil {
		return syscall.EROFS
	}
	n, err := h.fh.Staging.WriteAt(req.Data, req.Offset)
	if err != nil {
		return err
	}
	resp.Size = n
	if end := req.Offset + int64(n); h.fh.Record != nil && end > h.fh.Record.Size {
		h.fh.Record.Size = end
	}
	h.fh.Inode.Modified = time.Now()
	return nil
}

// Release closes the handle.
func (h *Handle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	err := h.fh.Release()
	if err == blob.ErrHandleClosed {
		// Commit force-closed it first.
		return nil
	}
	return err
}
