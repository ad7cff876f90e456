package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taigrr/colorhash"

	"github.com/caskfs/cask/blob"
)

const (
	// BlobDir is the payload directory inside a container.
	BlobDir = "blobs"

	// LockFile serializes writable mounts on one container.
	LockFile = "cask.lock"

	// payloadBuckets is the number of bucket subdirectories payload
	// files are distributed across. Keeping directories small matters
	// on filesystems that degrade with large directories.
	payloadBuckets = 1000
)

// Cask is an open container: its directory, metadata, and the digest
// index owning every blob record reachable from its images.
type Cask struct {
	Dir   string
	Meta  *Metadata
	Index *blob.DigestIndex

	lockFile string
}

// Create initializes an empty container at dir.
func Create(dir string) (*Cask, error) {
	if err := os.MkdirAll(filepath.Join(dir, BlobDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating container layout: %w", err)
	}
	c := &Cask{
		Dir:   dir,
		Meta:  NewMetadata(),
		Index: blob.NewDigestIndex(),
	}
	if err := c.SaveMetadata(); err != nil {
		return nil, err
	}
	return c, nil
}

// Open loads an existing container: metadata is read from cask.json and
// the digest index is rebuilt from the image inode records, summing one
// reference per hard link per stream.
func Open(dir string) (*Cask, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataMissing, dir)
		}
		return nil, err
	}
	meta := &Metadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetadataFile, err)
	}

	c := &Cask{Dir: dir, Meta: meta, Index: blob.NewDigestIndex()}
	for _, img := range meta.Images {
		if err := c.indexImage(img); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Cask) indexImage(img *ImageInfo) error {
	for _, ir := range img.Inodes {
		for _, sr := range ir.Streams {
			if sr.Digest == "" {
				continue
			}
			d, err := blob.ParseDigest(sr.Digest)
			if err != nil {
				return fmt.Errorf("image %q inode %d: %w", img.Name, ir.Ino, err)
			}
			rec, ok := c.Index.Lookup(d)
			if !ok {
				rec = &blob.BlobRecord{
					Digest: d,
					Size:   sr.Size,
					Location: blob.BlobLocation{
						Kind: blob.LocationInContainer,
						Path: c.PayloadPath(d),
					},
				}
				if err := c.Index.Insert(rec); err != nil {
					return err
				}
			}
			rec.Refcnt += ir.Links
		}
	}
	return nil
}

// PayloadPath returns the payload file path for a digest, bucketed so
// that no single directory accumulates every blob.
func (c *Cask) PayloadPath(d blob.Digest) string {
	hexd := d.String()
	bucket := colorhash.HashString(hexd) % payloadBuckets
	return filepath.Join(c.Dir, BlobDir, fmt.Sprintf("%d", bucket), hexd)
}

// WriteBlob stores data as a payload file and returns an index record
// for it, reusing an existing record when the content is already
// present. The returned record's Refcnt is not adjusted; callers add
// references as streams adopt it.
func (c *Cask) WriteBlob(data []byte) (*blob.BlobRecord, error) {
	d := blob.DigestBytes(data)
	if rec, ok := c.Index.Lookup(d); ok {
		return rec, nil
	}
	path := c.PayloadPath(d)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if _, err := blob.WritePayloadFile(path, data); err != nil {
		return nil, err
	}
	rec := &blob.BlobRecord{
		Digest: d,
		Size:   int64(len(data)),
		Location: blob.BlobLocation{
			Kind: blob.LocationInContainer,
			Path: path,
		},
	}
	if err := c.Index.Insert(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveMetadata writes cask.json atomically via a temp file and rename.
func (c *Cask) SaveMetadata() error {
	if c.Meta == nil {
		return ErrMetadataMissing
	}
	raw, err := json.MarshalIndent(c.Meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(c.Dir, MetadataFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(c.Dir, MetadataFile))
}

// Lock takes the whole-container lock that admits a single writable
// mount. It fails with ErrLockHeld when another process holds it.
func (c *Cask) Lock() error {
	path := filepath.Join(c.Dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	c.lockFile = path
	return nil
}

// Unlock releases the container lock if held by this Cask.
func (c *Cask) Unlock() error {
	if c.lockFile == "" {
		return nil
	}
	err := os.Remove(c.lockFile)
	c.lockFile = ""
	return err
}

// Image returns the metadata for a 1-based image index.
func (c *Cask) Image(index int) (*ImageInfo, error) {
	if index < 1 || index > len(c.Meta.Images) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoSuchImage, index, len(c.Meta.Images))
	}
	return c.Meta.Images[index-1], nil
}
