package blob

// ExportMode selects whether export transfers record ownership or
// clones records into the destination.
type ExportMode int

const (
	// ExportCopy clones records; the source index keeps its own.
	ExportCopy ExportMode = iota

	// ExportMove transfers records out of the source index without
	// copying bytes (the "gift" mode).
	ExportMove
)

// ResetExportState clears per-export bookkeeping on every destination
// record. Must run before an export so that a later rollback subtracts
// only this operation's deltas.
func ResetExportState(idx *DigestIndex) {
	idx.ForEach(func(rec *BlobRecord) error {
		rec.OutRefcnt = 0
		rec.WasExported = false
		return nil
	})
}

// ExportInodes migrates the content of inodes from src into dst. For
// every non-empty stream the destination record is found or created:
// an existing destination record for the digest is reused; otherwise the
// source record is moved (unlinked and transferred) or cloned according
// to mode. The consuming inode's link count is added to both Refcnt and
// OutRefcnt of the resolved record, which counts hard links exactly once
// per stream.
//
// ExportInodes performs no rollback itself. On error the caller must
// invoke RollbackExport(dst); only a ContentNotFoundError can occur
// mid-walk, so all structural validation belongs before the call.
// Concurrent exports into the same destination are not supported and
// must be serialized by the caller.
func ExportInodes(src, dst *DigestIndex, inodes []*Inode, mode ExportMode) error {
	for _, ino := range inodes {
		if err := exportInodeStreams(src, dst, ino, mode); err != nil {
			return err
		}
	}
	return nil
}

func exportInodeStreams(src, dst *DigestIndex, ino *Inode, mode ExportMode) error {
	ino.Lock()
	defer ino.Unlock()

	// Work from digests: resolved pointers belong to the source index.
	ino.Unresolve()

	for _, s := range ino.Streams {
		if s.Digest.IsZero() {
			continue
		}

		destRec, ok := dst.Lookup(s.Digest)
		if !ok {
			srcRec, ok := src.Lookup(s.Digest)
			if !ok {
				return &ContentNotFoundError{Digest: s.Digest}
			}
			if mode == ExportMove {
				src.Remove(srcRec)
				destRec = srcRec
			} else {
				destRec = srcRec.Clone()
			}
			destRec.Refcnt = 0
			destRec.OutRefcnt = 0
			destRec.WasExported = true
			if err := dst.Insert(destRec); err != nil {
				return err
			}
		}

		destRec.Refcnt += ino.LinkCount
		destRec.OutRefcnt += ino.LinkCount
	}
	return nil
}

// RollbackExport restores dst exactly to its pre-export state: every
// record loses the references this export added, and records the export
// created are unlinked and dropped.
func RollbackExport(dst *DigestIndex) {
	var created []*BlobRecord
	dst.ForEach(func(rec *BlobRecord) error {
		if rec.OutRefcnt > rec.Refcnt {
			rec.Refcnt = 0
		} else {
			rec.Refcnt -= rec.OutRefcnt
		}
		rec.OutRefcnt = 0
		if rec.WasExported {
			created = append(created, rec)
		}
		return nil
	})
	for _, rec := range created {
		dst.Remove(rec)
	}
}
