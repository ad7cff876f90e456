package caskfs

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/caskfs/cask/blob"
)

const (
	looseNameLen   = 20
	looseNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Staging is the private loose-file directory of one writable mount.
// Each loose file backs exactly one in-flight BlobRecord until commit.
type Staging struct {
	Dir   string
	Index *blob.DigestIndex
}

// NewStaging creates the staging directory next to the container. The
// uuid suffix keeps concurrent mounts of different containers, and
// leftover directories from crashed mounts, from colliding.
func NewStaging(caskDir string, idx *blob.DigestIndex) (*Staging, error) {
	dir := fmt.Sprintf("%s.staging-%s", filepath.Clean(caskDir), uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStagingCreate, err)
	}
	return &Staging{Dir: dir, Index: idx}, nil
}

// NewLooseFile creates an exclusively opened loose file with a random
// alphanumeric name, retrying on the unlikely collision.
func (st *Staging) NewLooseFile() (*os.File, error) {
	for {
		name, err := randomLooseName()
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(st.Dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
	}
}

func randomLooseName() (string, error) {
	raw := make([]byte, looseNameLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	for i, b := range raw {
		raw[i] = looseNameChars[int(b)%len(looseNameChars)]
	}
	return string(raw), nil
}

// Materialize gives the named stream of ino a writable staging backing
// and returns its record. The existing content is copied into a fresh
// loose file up to size bytes, zero-extended when size exceeds the
// current length. The inode lock is held for the whole operation, so
// concurrent kernel requests cannot double-stage one stream; a stream
// staged by a racing call comes back as (record, ErrAlreadyStaged).
//
// When the inode's links are the record's only references the record is
// reused in place: unlinked from the index, repointed at the loose file,
// and reinserted under a placeholder digest (commit computes the real
// one). Otherwise the record is split: a new record absorbs exactly this
// inode's share of the refcount and any open read handles on the stream
// migrate to it.
func (st *Staging) Materialize(ino *blob.Inode, streamName string, size int64) (*blob.BlobRecord, error) {
	ino.Lock()
	defer ino.Unlock()

	s := ino.Stream(streamName)
	if s == nil {
		s = ino.AddStream(streamName)
	}
	s.Resolve(st.Index)
	old := s.Record()
	if old != nil && old.IsStaged() {
		return old, ErrAlreadyStaged
	}

	f, err := st.NewLooseFile()
	if err != nil {
		return nil, err
	}
	path := f.Name()

	if err := copyInto(f, old, size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	loc := blob.BlobLocation{Kind: blob.LocationStagingFile, Path: path}

	if old == nil {
		rec := &blob.BlobRecord{
			Digest:      blob.RandomDigest(),
			Refcnt:      ino.LinkCount,
			Size:        size,
			Location:    loc,
			StagedInode: ino,
		}
		if err := st.Index.Insert(rec); err != nil {
			os.Remove(path)
			return nil, err
		}
		s.SetRecord(rec)
		return rec, nil
	}

	if ino.LinkCount == old.Refcnt {
		// Reuse in place: no reference outside this inode exists.
		st.Index.Remove(old)
		old.Digest = blob.RandomDigest()
		old.Size = size
		old.Location = loc
		old.StagedInode = ino
		if err := st.Index.Insert(old); err != nil {
			os.Remove(path)
			return nil, err
		}
		s.SetRecord(old)
		return old, nil
	}

	// Split: the content is shared beyond this inode.
	rec := &blob.BlobRecord{
		Digest:      blob.RandomDigest(),
		Refcnt:      ino.LinkCount,
		Size:        size,
		Location:    loc,
		StagedInode: ino,
	}
	openRead := func() (*os.File, error) { return os.Open(path) }
	if _, err := ino.MigrateHandles(streamName, old, rec, openRead); err != nil {
		os.Remove(path)
		return nil, err
	}
	if old.Refcnt >= ino.LinkCount {
		old.Refcnt -= ino.LinkCount
	} else {
		old.Refcnt = 0
	}
	if err := st.Index.Insert(rec); err != nil {
		old.Refcnt += ino.LinkCount
		os.Remove(path)
		return nil, err
	}
	s.SetRecord(rec)
	return rec, nil
}

// copyInto copies old's content into f up to size bytes, zero-extending
// past the end of the existing content.
func copyInto(f *os.File, old *blob.BlobRecord, size int64) error {
	if old != nil && size > 0 {
		src, err := old.Open()
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.CopyN(f, src, size); err != nil && err != io.EOF {
			return err
		}
	}
	return f.Truncate(size)
}

// Truncate resizes the loose file behind a staged record, shrinking the
// declared size when the new length is below it.
func (st *Staging) Truncate(rec *blob.BlobRecord, size int64) error {
	if !rec.IsStaged() {
		return blob.ErrNoBacking
	}
	if err := os.Truncate(rec.Location.Path, size); err != nil {
		return err
	}
	rec.Size = size
	return nil
}

// StagedRecords returns every staging-backed record in the index.
func (st *Staging) StagedRecords() []*blob.BlobRecord {
	var recs []*blob.BlobRecord
	st.Index.ForEach(func(rec *blob.BlobRecord) error {
		if rec.IsStaged() {
			recs = append(recs, rec)
		}
		return nil
	})
	return recs
}

// Cleanup removes the staging directory and everything left in it.
func (st *Staging) Cleanup() error {
	return os.RemoveAll(st.Dir)
}
