package container

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/caskfs/cask/blob"
)

// RewriteOptions adjust how a container rewrite behaves.
type RewriteOptions struct {
	// Rebuild rewrites every payload file, not just the ones that are
	// missing or out of place.
	Rebuild bool

	// Recompress re-encodes every payload even when it is already in
	// container form, picking the codec fresh for each blob.
	Recompress bool

	// CheckIntegrity re-hashes each payload as it is written and fails
	// on a digest mismatch.
	CheckIntegrity bool
}

// Rewrite brings the on-disk container in line with the index: every
// referenced record not yet stored as a container payload is written in,
// unreferenced payload files are collected, fresh-export marks are
// cleared, and the metadata file is replaced atomically.
func (c *Cask) Rewrite(opts RewriteOptions) error {
	if c.Index == nil {
		return ErrIndexGone
	}

	var ingested, collected int
	err := c.Index.ForEach(func(rec *blob.BlobRecord) error {
		if rec.Refcnt == 0 {
			return nil
		}
		want := c.PayloadPath(rec.Digest)
		inPlace := rec.Location.Kind == blob.LocationInContainer && rec.Location.Path == want
		if inPlace && !opts.Rebuild && !opts.Recompress {
			return nil
		}

		data, err := rec.ReadAll()
		if err != nil {
			return fmt.Errorf("reading blob %s: %w", rec.Digest, err)
		}
		if opts.CheckIntegrity {
			if got := blob.DigestBytes(data); got != rec.Digest {
				return fmt.Errorf("%w: blob %s hashed to %s", blob.ErrInvalidDigest, rec.Digest, got)
			}
		}
		if err := os.MkdirAll(filepath.Dir(want), 0o755); err != nil {
			return err
		}
		if _, err := blob.WritePayloadFile(want, data); err != nil {
			return fmt.Errorf("writing blob %s: %w", rec.Digest, err)
		}

		old := rec.Location
		rec.Location = blob.BlobLocation{Kind: blob.LocationInContainer, Path: want}
		if old.Kind == blob.LocationStagingFile || old.Kind == blob.LocationExternalFile {
			os.Remove(old.Path)
		}
		ingested++
		return nil
	})
	if err != nil {
		return err
	}

	// Unreferenced payload files are garbage from dropped or moved-away
	// content; collect them now that every live record is in place.
	live := make(map[string]bool)
	c.Index.ForEach(func(rec *blob.BlobRecord) error {
		if rec.Refcnt > 0 && rec.Location.Kind == blob.LocationInContainer {
			live[rec.Location.Path] = true
		}
		return nil
	})
	blobRoot := filepath.Join(c.Dir, BlobDir)
	filepath.Walk(blobRoot, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() || live[path] {
			return nil
		}
		if os.Remove(path) == nil {
			collected++
		}
		return nil
	})

	for _, img := range c.Meta.Images {
		img.FreshExport = false
	}
	if err := c.SaveMetadata(); err != nil {
		return err
	}
	log.Info("container rewritten", "dir", c.Dir, "ingested", ingested, "collected", collected)
	return nil
}

// VerifyResult summarizes a container verification pass.
type VerifyResult struct {
	Blobs     int
	Corrupt   []blob.Digest
	Missing   []blob.Digest
	RefErrors []string
}

// OK reports whether verification found no problems.
func (r *VerifyResult) OK() bool {
	return len(r.Corrupt) == 0 && len(r.Missing) == 0 && len(r.RefErrors) == 0
}

// Verify re-hashes every referenced payload and recomputes reference
// counts from image metadata, reporting corrupt or missing blobs and
// refcount disagreements.
func (c *Cask) Verify() (*VerifyResult, error) {
	if c.Index == nil {
		return nil, ErrIndexGone
	}
	res := &VerifyResult{}

	want := make(map[blob.Digest]uint32)
	for _, img := range c.Meta.Images {
		for _, ir := range img.Inodes {
			for _, sr := range ir.Streams {
				if sr.Digest == "" {
					continue
				}
				d, err := blob.ParseDigest(sr.Digest)
				if err != nil {
					return nil, err
				}
				want[d] += ir.Links
			}
		}
	}

	err := c.Index.ForEach(func(rec *blob.BlobRecord) error {
		res.Blobs++
		data, err := rec.ReadAll()
		if err != nil {
			res.Missing = append(res.Missing, rec.Digest)
			return nil
		}
		if got := blob.DigestBytes(data); got != rec.Digest {
			res.Corrupt = append(res.Corrupt, rec.Digest)
		}
		if w := want[rec.Digest]; w != rec.Refcnt {
			res.RefErrors = append(res.RefErrors,
				fmt.Sprintf("blob %s: index refcnt %d, metadata references %d", rec.Digest, rec.Refcnt, w))
		}
		delete(want, rec.Digest)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for d := range want {
		res.Missing = append(res.Missing, d)
	}
	return res, nil
}
