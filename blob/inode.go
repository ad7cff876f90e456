package blob

import (
	"os"
	"sync"
	"time"
)

// DefaultStream is the name of an inode's unnamed data stream.
const DefaultStream = ""

// maxHandles bounds the per-inode open handle table.
const maxHandles = 0xffff

// Stream is one byte sequence attached to an inode: the default stream
// or a named alternate. It references at most one BlobRecord by digest;
// the record pointer is resolved lazily against the owning index.
type Stream struct {
	Name   string
	Digest Digest

	rec *BlobRecord
}

// Record returns the resolved record, or nil for an empty or unresolved
// stream.
func (s *Stream) Record() *BlobRecord {
	return s.rec
}

// SetRecord repoints the stream at rec and adopts its digest. A nil rec
// clears the stream back to empty.
func (s *Stream) SetRecord(rec *BlobRecord) {
	s.rec = rec
	if rec == nil {
		s.Digest = Digest{}
	} else {
		s.Digest = rec.Digest
	}
}

// Resolve binds the stream's record pointer from its digest.
func (s *Stream) Resolve(idx *DigestIndex) {
	if s.Digest.IsZero() {
		s.rec = nil
		return
	}
	s.rec, _ = idx.Lookup(s.Digest)
}

// Inode is a logical file or directory in a mounted image. Its lock
// guards the open-handle table and any refcount mutation driven by a
// per-inode operation.
type Inode struct {
	Ino       uint64
	LinkCount uint32
	Mode      os.FileMode
	Created   time.Time
	Modified  time.Time

	// Streams[0] is always the default stream; named alternates follow.
	Streams []*Stream

	// Children maps entry names to inodes for directories. Two entries
	// (in this or another directory) may share one inode: a hard link.
	Children map[string]*Inode

	mu          sync.Mutex
	handles     []*FileHandle
	openHandles uint16
}

// NewFile returns a regular-file inode with one empty default stream
// and a link count of 1.
func NewFile(ino uint64) *Inode {
	now := time.Now()
	return &Inode{
		Ino:       ino,
		LinkCount: 1,
		Mode:      0o644,
		Created:   now,
		Modified:  now,
		Streams:   []*Stream{{Name: DefaultStream}},
	}
}

// NewDir returns a directory inode.
func NewDir(ino uint64) *Inode {
	now := time.Now()
	return &Inode{
		Ino:       ino,
		LinkCount: 1,
		Mode:      os.ModeDir | 0o755,
		Created:   now,
		Modified:  now,
		Children:  make(map[string]*Inode),
	}
}

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool {
	return ino.Mode.IsDir()
}

// Stream returns the stream with the given name, or nil.
func (ino *Inode) Stream(name string) *Stream {
	for _, s := range ino.Streams {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddStream attaches a new named alternate stream.
func (ino *Inode) AddStream(name string) *Stream {
	s := &Stream{Name: name}
	ino.Streams = append(ino.Streams, s)
	return s
}

// Resolve binds every stream's record pointer against idx.
func (ino *Inode) Resolve(idx *DigestIndex) {
	for _, s := range ino.Streams {
		s.Resolve(idx)
	}
}

// Unresolve drops every stream's record pointer, leaving only digests.
// Export works from digests so that source and destination indexes can
// disagree about record identity.
func (ino *Inode) Unresolve() {
	for _, s := range ino.Streams {
		s.rec = nil
	}
}

// Lock acquires the inode's lock for a compound mutation (staging
// materialization, commit repointing). Single-step handle operations
// lock internally and must not be called with the lock held.
func (ino *Inode) Lock() { ino.mu.Lock() }

// Unlock releases the inode's lock.
func (ino *Inode) Unlock() { ino.mu.Unlock() }

// OpenHandleCount returns the number of live handles on the inode.
func (ino *Inode) OpenHandleCount() uint16 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.openHandles
}

// FileHandle binds one open() call to an inode stream and its record.
// Writable handles also hold an open descriptor on the staging file.
type FileHandle struct {
	Inode      *Inode
	Record     *BlobRecord
	StreamName string

	// Staging is the open loose-file descriptor for staging-backed
	// streams, nil otherwise.
	Staging *os.File

	index    *DigestIndex
	writable bool
	idx      int
	released bool
}

// AllocHandle allocates a handle for one stream of the inode. The
// allocation and its refcount side effect are one atomic unit under the
// inode lock. readonly marks a read-only mount, which never counts
// handles against records. A record unlinked down to zero references
// while the handle is open is reaped from idx when the last handle
// closes.
func (ino *Inode) AllocHandle(idx *DigestIndex, rec *BlobRecord, streamName string, staging *os.File, readonly bool) (*FileHandle, error) {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	if ino.openHandles == maxHandles {
		return nil, ErrTooManyHandles
	}

	h := &FileHandle{
		Inode:      ino,
		Record:     rec,
		StreamName: streamName,
		Staging:    staging,
		index:      idx,
		writable:   !readonly,
		idx:        -1,
	}
	for i, slot := range ino.handles {
		if slot == nil {
			ino.handles[i] = h
			h.idx = i
			break
		}
	}
	if h.idx == -1 {
		h.idx = len(ino.handles)
		ino.handles = append(ino.handles, h)
	}
	ino.openHandles++
	if rec != nil && !readonly {
		rec.OpenHandles++
	}
	return h, nil
}

// Release closes the handle: the staging descriptor is closed and the
// handle table and record handle count are updated as one unit.
func (h *FileHandle) Release() error {
	ino := h.Inode
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return h.releaseLocked()
}

func (h *FileHandle) releaseLocked() error {
	if h.released {
		return ErrHandleClosed
	}
	h.released = true

	var err error
	if h.Staging != nil {
		err = h.Staging.Close()
		h.Staging = nil
	}
	if h.Record != nil && h.writable && h.Record.OpenHandles > 0 {
		h.Record.OpenHandles--
	}
	// An unlink that hit refcnt zero while this handle was open left the
	// record linked; the last close reaps it.
	if h.Record != nil && h.index != nil && h.Record.Refcnt == 0 && h.Record.OpenHandles == 0 {
		h.index.Remove(h.Record)
		if h.Record.IsStaged() {
			os.Remove(h.Record.Location.Path)
		}
	}
	h.Inode.handles[h.idx] = nil
	h.Inode.openHandles--
	return err
}

// CloseHandles force-closes every open handle on the inode. Commit uses
// this before reconciling staged records. The first error is returned
// but every handle is still released.
func (ino *Inode) CloseHandles() error {
	ino.mu.Lock()
	defer ino.mu.Unlock()

	var first error
	for _, h := range ino.handles {
		if h == nil {
			continue
		}
		if err := h.releaseLocked(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// MigrateHandles repoints every open handle on the named stream from
// oldRec to newRec, opening a read descriptor on the new backing for
// each via openRead. If any descriptor fails to open, the handles
// already migrated are reverted and the error returned; handle counts on
// both records are adjusted only on success. The caller must hold the
// inode lock.
func (ino *Inode) MigrateHandles(streamName string, oldRec, newRec *BlobRecord, openRead func() (*os.File, error)) (uint16, error) {
	var migrated []*FileHandle
	for _, h := range ino.handles {
		if h == nil || h.StreamName != streamName || h.Record != oldRec {
			continue
		}
		f, err := openRead()
		if err != nil {
			for _, m := range migrated {
				m.Record = oldRec
				if m.Staging != nil {
					m.Staging.Close()
					m.Staging = nil
				}
				newRec.OpenHandles--
			}
			return 0, err
		}
		h.Record = newRec
		h.Staging = f
		newRec.OpenHandles++
		migrated = append(migrated, h)
	}

	n := uint16(len(migrated))
	if oldRec != nil && n > 0 {
		if oldRec.OpenHandles >= n {
			oldRec.OpenHandles -= n
		} else {
			oldRec.OpenHandles = 0
		}
	}
	return n, nil
}

// DecrementStreamRefs drops one link's worth of references from every
// resolved stream record, removing records that reach zero. A staged
// record removed this way also loses its loose file.
func (ino *Inode) DecrementStreamRefs(idx *DigestIndex) {
	for _, s := range ino.Streams {
		rec := s.rec
		if rec == nil {
			continue
		}
		DecrementRefcnt(rec, idx)
	}
}

// IncrementStreamRefs adds one link's worth of references to every
// resolved stream record. Used when a hard link is created.
func (ino *Inode) IncrementStreamRefs() {
	for _, s := range ino.Streams {
		if s.rec != nil {
			s.rec.Refcnt++
		}
	}
}

// DecrementRefcnt drops one reference from rec. At zero references with
// no open handles the record is unlinked from the index and its staging
// backing, if any, deleted.
func DecrementRefcnt(rec *BlobRecord, idx *DigestIndex) {
	if rec.Refcnt > 0 {
		rec.Refcnt--
	}
	if rec.Refcnt == 0 && rec.OpenHandles == 0 {
		idx.Remove(rec)
		if rec.IsStaged() {
			os.Remove(rec.Location.Path)
		}
	}
}
