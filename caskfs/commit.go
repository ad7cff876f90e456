package caskfs

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/caskfs/cask/blob"
	"github.com/caskfs/cask/container"
)

// CommitCoordinator reconciles the staging overlay into the container
// at the end of a writable mount.
type CommitCoordinator struct {
	Cask    *container.Cask
	Image   *container.Image
	Staging *Staging

	Rewrite container.RewriteOptions
}

// Commit runs the full reconciliation: close every handle still bound
// to a staged record, fold each loose file back into the index (merging
// duplicates, dropping empties, promoting the rest), serialize the
// image tree, and rewrite the container.
//
// A failure while folding aborts the whole commit. There is no retry:
// the index may already hold some reconciled records, and loose files
// not yet processed are reported as orphans.
func (cc *CommitCoordinator) Commit() error {
	staged := cc.Staging.StagedRecords()

	for _, rec := range staged {
		if rec.StagedInode != nil {
			if err := rec.StagedInode.CloseHandles(); err != nil {
				log.Warn("closing staged handles", "err", err)
			}
		}
	}

	for i, rec := range staged {
		if err := cc.reconcile(rec); err != nil {
			return &CommitError{Err: err, Orphans: orphanPaths(staged[i:])}
		}
	}

	cc.Image.Sync()
	if err := cc.Cask.Rewrite(cc.Rewrite); err != nil {
		return &CommitError{Err: err}
	}
	log.Info("commit complete", "staged", len(staged))
	return nil
}

func (cc *CommitCoordinator) reconcile(rec *blob.BlobRecord) error {
	fi, err := os.Stat(rec.Location.Path)
	if err != nil {
		return fmt.Errorf("stating loose file: %w", err)
	}

	if fi.Size() == 0 {
		// Empty content is represented by no record at all.
		cc.Staging.Index.Remove(rec)
		cc.repoint(rec, nil)
		return os.Remove(rec.Location.Path)
	}

	d, _, err := blob.DigestFile(rec.Location.Path)
	if err != nil {
		return fmt.Errorf("hashing loose file: %w", err)
	}

	if dup, ok := cc.Staging.Index.Lookup(d); ok && dup != rec {
		// The bytes already exist: merge into the surviving record.
		dup.Refcnt += rec.Refcnt
		cc.Staging.Index.Remove(rec)
		cc.repoint(rec, dup)
		return os.Remove(rec.Location.Path)
	}

	// Promote: the record keeps its loose file until the container
	// rewrite ingests it, but is no longer staging-backed. The inode
	// backlink stays set until the streams have adopted the real digest.
	cc.Staging.Index.Remove(rec)
	rec.Digest = d
	rec.Size = fi.Size()
	rec.Location.Kind = blob.LocationExternalFile
	if err := cc.Staging.Index.Insert(rec); err != nil {
		return err
	}
	cc.repoint(rec, rec)
	rec.StagedInode = nil
	return nil
}

// repoint updates every stream of the staged record's owning inode that
// still references old: to the survivor after a merge, to the promoted
// record itself, or to nothing for dropped empty content.
func (cc *CommitCoordinator) repoint(old, now *blob.BlobRecord) {
	ino := old.StagedInode
	if ino == nil {
		return
	}
	for _, s := range ino.Streams {
		if s.Record() == old {
			s.SetRecord(now)
		}
	}
}

func orphanPaths(recs []*blob.BlobRecord) []string {
	var paths []string
	for _, rec := range recs {
		if rec.IsStaged() {
			paths = append(paths, rec.Location.Path)
		}
	}
	return paths
}
