package container

import (
	"github.com/caskfs/cask/version"
)

// MetadataFile is the name of the container metadata file.
const MetadataFile = "cask.json"

// Metadata is the container-level record set: which images exist, which
// one boots, and how many parts the container is split into.
type Metadata struct {
	FormatVersion int    `json:"format_version"`
	CaskVersion   string `json:"cask_version"`

	// PartCount is 1 for a whole container. Split containers are
	// readable but refuse writable mounts.
	PartCount int `json:"part_count"`

	// BootImage is the 1-based index of the boot image, 0 for none.
	BootImage int `json:"boot_image,omitempty"`

	Images []*ImageInfo `json:"images"`
}

// ImageInfo is one logical image: its naming records and the serialized
// inode tree.
type ImageInfo struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// FreshExport marks an image appended by an export that has not
	// been written out yet; such an image cannot be mounted.
	FreshExport bool `json:"fresh_export,omitempty"`

	Inodes []InodeRecord `json:"inodes"`
	Root   DirEntry      `json:"root"`
}

// InodeRecord is the serialized form of one inode.
type InodeRecord struct {
	Ino     uint64         `json:"ino"`
	Links   uint32         `json:"links"`
	Mode    uint32         `json:"mode"`
	Dir     bool           `json:"dir,omitempty"`
	Streams []StreamRecord `json:"streams,omitempty"`
}

// StreamRecord is the serialized form of one stream: a digest reference
// and declared size. An empty digest marks an empty stream.
type StreamRecord struct {
	Name   string `json:"name,omitempty"`
	Digest string `json:"digest,omitempty"`
	Size   int64  `json:"size"`
}

// DirEntry is one name in the serialized directory tree. Two entries
// referencing the same inode number are hard links.
type DirEntry struct {
	Name     string     `json:"name"`
	Ino      uint64     `json:"ino"`
	Children []DirEntry `json:"children,omitempty"`
}

// NewMetadata returns empty container metadata.
func NewMetadata() *Metadata {
	return &Metadata{
		FormatVersion: 1,
		CaskVersion:   version.GetVersion(),
		PartCount:     1,
	}
}

// ImageCount returns the number of images in the container.
func (m *Metadata) ImageCount() int {
	return len(m.Images)
}

// NameInUse reports whether a non-empty image name already exists.
// Empty names never collide.
func (m *Metadata) NameInUse(name string) bool {
	if name == "" {
		return false
	}
	for _, img := range m.Images {
		if img.Name == name {
			return true
		}
	}
	return false
}

// ImageByName returns the 1-based index of the named image, or 0.
// Empty names are never resolvable.
func (m *Metadata) ImageByName(name string) int {
	if name == "" {
		return 0
	}
	for i, img := range m.Images {
		if img.Name == name {
			return i + 1
		}
	}
	return 0
}
