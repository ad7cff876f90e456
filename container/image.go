package container

import (
	"fmt"
	"os"
	"sort"

	"github.com/caskfs/cask/blob"
)

// Image is the runtime form of one container image: a live inode tree
// resolved against the container's digest index.
type Image struct {
	Index int // 1-based position in the container
	Info  *ImageInfo

	Root    *blob.Inode
	Inodes  map[uint64]*blob.Inode
	NextIno uint64
}

// LoadImage materializes the 1-based image into a live inode tree and
// resolves every stream against the container index.
func (c *Cask) LoadImage(index int) (*Image, error) {
	info, err := c.Image(index)
	if err != nil {
		return nil, err
	}
	if info.FreshExport {
		return nil, ErrFreshExport
	}

	img := &Image{
		Index:  index,
		Info:   info,
		Inodes: make(map[uint64]*blob.Inode, len(info.Inodes)),
	}
	for i := range info.Inodes {
		ir := &info.Inodes[i]
		ino, err := inodeFromRecord(ir)
		if err != nil {
			return nil, fmt.Errorf("image %d inode %d: %w", index, ir.Ino, err)
		}
		img.Inodes[ir.Ino] = ino
		if ir.Ino >= img.NextIno {
			img.NextIno = ir.Ino + 1
		}
	}

	root, err := img.linkTree(&info.Root)
	if err != nil {
		return nil, err
	}
	img.Root = root

	for _, ino := range img.Inodes {
		ino.Resolve(c.Index)
	}
	return img, nil
}

func inodeFromRecord(ir *InodeRecord) (*blob.Inode, error) {
	var ino *blob.Inode
	if ir.Dir {
		ino = blob.NewDir(ir.Ino)
	} else {
		ino = blob.NewFile(ir.Ino)
		ino.Streams = ino.Streams[:0]
		for _, sr := range ir.Streams {
			s := &blob.Stream{Name: sr.Name}
			if sr.Digest != "" {
				d, err := blob.ParseDigest(sr.Digest)
				if err != nil {
					return nil, err
				}
				s.Digest = d
			}
			ino.Streams = append(ino.Streams, s)
		}
		if ino.Stream(blob.DefaultStream) == nil {
			ino.AddStream(blob.DefaultStream)
		}
	}
	ino.LinkCount = ir.Links
	ino.Mode = os.FileMode(ir.Mode)
	if ir.Dir {
		ino.Mode |= os.ModeDir
	}
	return ino, nil
}

func (img *Image) linkTree(de *DirEntry) (*blob.Inode, error) {
	ino, ok := img.Inodes[de.Ino]
	if !ok {
		return nil, fmt.Errorf("directory entry %q references missing inode %d", de.Name, de.Ino)
	}
	for i := range de.Children {
		child := &de.Children[i]
		c, err := img.linkTree(child)
		if err != nil {
			return nil, err
		}
		if ino.Children == nil {
			ino.Children = make(map[string]*blob.Inode)
		}
		ino.Children[child.Name] = c
	}
	return ino, nil
}

// NewInode allocates the next inode number for the image.
func (img *Image) NewInode() uint64 {
	if img.NextIno == 0 {
		img.NextIno = 1
	}
	n := img.NextIno
	img.NextIno++
	return n
}

// Sync serializes the live inode tree back into the image's metadata
// records. Streams must carry final digests; staged placeholder digests
// are a caller bug and are serialized as-is.
func (img *Image) Sync() {
	seen := make(map[uint64]bool)
	var inodes []InodeRecord
	var walk func(ino *blob.Inode)
	walk = func(ino *blob.Inode) {
		if !seen[ino.Ino] {
			seen[ino.Ino] = true
			inodes = append(inodes, inodeToRecord(ino))
		}
		for _, child := range sortedChildren(ino) {
			walk(ino.Children[child])
		}
	}
	walk(img.Root)

	sort.Slice(inodes, func(i, j int) bool { return inodes[i].Ino < inodes[j].Ino })
	img.Info.Inodes = inodes
	img.Info.Root = img.treeEntry("", img.Root)
}

func inodeToRecord(ino *blob.Inode) InodeRecord {
	ir := InodeRecord{
		Ino:   ino.Ino,
		Links: ino.LinkCount,
		Mode:  uint32(ino.Mode.Perm()),
		Dir:   ino.IsDir(),
	}
	for _, s := range ino.Streams {
		sr := StreamRecord{Name: s.Name}
		if !s.Digest.IsZero() {
			sr.Digest = s.Digest.String()
			if rec := s.Record(); rec != nil {
				sr.Size = rec.Size
			}
		}
		ir.Streams = append(ir.Streams, sr)
	}
	return ir
}

func (img *Image) treeEntry(name string, ino *blob.Inode) DirEntry {
	de := DirEntry{Name: name, Ino: ino.Ino}
	for _, child := range sortedChildren(ino) {
		de.Children = append(de.Children, img.treeEntry(child, ino.Children[child]))
	}
	return de
}

func sortedChildren(ino *blob.Inode) []string {
	names := make([]string, 0, len(ino.Children))
	for name := range ino.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InodeList returns every inode in the image, roots and leaves alike.
// Export walks this list so hard-linked inodes are visited exactly once.
func (img *Image) InodeList() []*blob.Inode {
	inodes := make([]*blob.Inode, 0, len(img.Inodes))
	for _, ino := range img.Inodes {
		inodes = append(inodes, ino)
	}
	sort.Slice(inodes, func(i, j int) bool { return inodes[i].Ino < inodes[j].Ino })
	return inodes
}

// AddImage appends an empty named image and returns its 1-based index.
func (c *Cask) AddImage(name, description string) (int, error) {
	if c.Meta.NameInUse(name) {
		return 0, &DuplicateNameError{Name: name}
	}
	rootIno := InodeRecord{Ino: 1, Links: 1, Mode: 0o755, Dir: true}
	c.Meta.Images = append(c.Meta.Images, &ImageInfo{
		Name:        name,
		Description: description,
		Inodes:      []InodeRecord{rootIno},
		Root:        DirEntry{Ino: 1},
	})
	return len(c.Meta.Images), nil
}
