package blob

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// LocationKind discriminates the variants of BlobLocation.
type LocationKind uint8

const (
	// LocationInContainer means the bytes live in a compressed payload
	// file inside the container's blobs directory.
	LocationInContainer LocationKind = iota

	// LocationStagingFile means the bytes live in a loose file in the
	// mount's staging directory; the record is in flight and will be
	// reconciled at commit.
	LocationStagingFile

	// LocationExternalFile means the bytes live in an ordinary file
	// outside the container (e.g. a promoted staging file awaiting
	// container rewrite).
	LocationExternalFile

	// LocationInMemory means the bytes are held in a buffer (small
	// attribute values).
	LocationInMemory
)

func (k LocationKind) String() string {
	switch k {
	case LocationInContainer:
		return "container"
	case LocationStagingFile:
		return "staging"
	case LocationExternalFile:
		return "external"
	case LocationInMemory:
		return "memory"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// BlobLocation describes where a record's bytes physically live. Kind
// selects the variant; access sites switch exhaustively on it.
type BlobLocation struct {
	Kind LocationKind

	// Path is the payload file for InContainer, the loose file for
	// StagingFile, or the plain file for ExternalFile.
	Path string

	// Buffer holds the bytes for InMemory.
	Buffer []byte
}

// BlobRecord is the index entry for one piece of stored content.
type BlobRecord struct {
	Digest Digest

	// Refcnt counts every logical reference to this content: one per
	// hard link per referencing stream, plus export-added references.
	Refcnt uint32

	// OutRefcnt is the portion of Refcnt added by an in-flight export.
	// A failed export subtracts it back out, restoring the index
	// exactly; see RollbackExport.
	OutRefcnt uint32

	// WasExported marks a record created by the in-flight export, so
	// rollback knows to unlink and drop it entirely.
	WasExported bool

	// Size is the declared uncompressed size in bytes. For staged
	// records it tracks the loose file and may shrink on truncate.
	Size int64

	Location BlobLocation

	// OpenHandles counts writable-mount file handles currently bound to
	// this record. Guarded by the owning inode's lock.
	OpenHandles uint16

	// StagedInode points back at the inode whose stream this staged
	// record backs, so commit can repoint the stream after a merge.
	// Nil for records that are not staging-backed.
	StagedInode *Inode
}

// Clone returns a copy of the record suitable for copy-mode export:
// same digest, size, and location, with fresh reference state.
func (r *BlobRecord) Clone() *BlobRecord {
	return &BlobRecord{
		Digest:   r.Digest,
		Size:     r.Size,
		Location: r.Location,
	}
}

// Open returns a reader over the record's uncompressed bytes.
func (r *BlobRecord) Open() (io.ReadCloser, error) {
	switch r.Location.Kind {
	case LocationInContainer:
		return OpenPayload(r.Location.Path)
	case LocationStagingFile, LocationExternalFile:
		return os.Open(r.Location.Path)
	case LocationInMemory:
		return io.NopCloser(bytes.NewReader(r.Location.Buffer)), nil
	default:
		return nil, ErrNoBacking
	}
}

// ReadAll reads the record's entire uncompressed content.
func (r *BlobRecord) ReadAll() ([]byte, error) {
	switch r.Location.Kind {
	case LocationInContainer:
		return ReadPayloadFile(r.Location.Path)
	case LocationStagingFile, LocationExternalFile:
		return os.ReadFile(r.Location.Path)
	case LocationInMemory:
		return r.Location.Buffer, nil
	default:
		return nil, ErrNoBacking
	}
}

// IsStaged reports whether the record's bytes live in the staging area.
func (r *BlobRecord) IsStaged() bool {
	return r.Location.Kind == LocationStagingFile
}
