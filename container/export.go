package container

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/caskfs/cask/blob"
)

// AllImages selects every image of the source container for export.
const AllImages = -1

// ExportFlags adjust ExportImage behavior.
type ExportFlags uint32

const (
	// ExportBoot marks the exported image (or the source's boot image
	// when exporting all) as the destination's boot image.
	ExportBoot ExportFlags = 1 << iota

	// ExportNoNames exports the image(s) without names.
	ExportNoNames

	// ExportNoDescriptions exports the image(s) without descriptions.
	ExportNoDescriptions

	// ExportMove transfers blob records out of the source index instead
	// of cloning them. The source container's index is unusable
	// afterwards and must be re-opened or rewritten.
	ExportMove
)

// ExportImage appends image(s) from src to dst transactionally: either
// every selected image lands in dst with its references counted, or dst
// is returned exactly to its prior state.
//
// srcImage is a 1-based index or AllImages. name and description
// override the source naming for a single-image export; both must be
// empty when exporting all images (each image keeps its own).
func ExportImage(src, dst *Cask, srcImage int, name, description string, flags ExportFlags) error {
	if src.Index == nil {
		return ErrIndexGone
	}
	if srcImage == AllImages && (name != "" || description != "") {
		return fmt.Errorf("%w: name and description require a single-image export", ErrBadFlags)
	}

	first, last := srcImage, srcImage
	if srcImage == AllImages {
		if src.Meta.ImageCount() == 0 {
			return fmt.Errorf("%w: source container is empty", ErrNoSuchImage)
		}
		first, last = 1, src.Meta.ImageCount()
	} else if _, err := src.Image(srcImage); err != nil {
		return err
	}

	// Validate every destination name before touching anything, so a
	// collision on the last image cannot strand earlier ones.
	for i := first; i <= last; i++ {
		info, _ := src.Image(i)
		n := exportedName(info, name, srcImage, flags)
		if dst.Meta.NameInUse(n) {
			return &DuplicateNameError{Name: n}
		}
	}

	blob.ResetExportState(dst.Index)
	mode := blob.ExportCopy
	if flags&ExportMove != 0 {
		mode = blob.ExportMove
	}

	appended := 0
	origBoot := dst.Meta.BootImage
	rollback := func() {
		dst.Meta.Images = dst.Meta.Images[:len(dst.Meta.Images)-appended]
		dst.Meta.BootImage = origBoot
		blob.RollbackExport(dst.Index)
	}

	for i := first; i <= last; i++ {
		info, _ := src.Image(i)

		img, err := src.LoadImage(i)
		if err != nil {
			rollback()
			return fmt.Errorf("loading source image %d: %w", i, err)
		}
		if err := blob.ExportInodes(src.Index, dst.Index, img.InodeList(), mode); err != nil {
			rollback()
			return fmt.Errorf("exporting image %d: %w", i, err)
		}

		out := &ImageInfo{
			Name:        exportedName(info, name, srcImage, flags),
			Description: exportedDescription(info, description, srcImage, flags),
			FreshExport: true,
			Inodes:      append([]InodeRecord(nil), info.Inodes...),
			Root:        info.Root,
		}
		dst.Meta.Images = append(dst.Meta.Images, out)
		appended++

		if flags&ExportBoot != 0 {
			if srcImage != AllImages || i == src.Meta.BootImage {
				dst.Meta.BootImage = len(dst.Meta.Images)
			}
		}
		log.Debug("exported image", "index", i, "name", out.Name, "dest", len(dst.Meta.Images))
	}

	if mode == blob.ExportMove {
		src.Index = nil
	}
	return nil
}

func exportedName(info *ImageInfo, override string, srcImage int, flags ExportFlags) string {
	if flags&ExportNoNames != 0 {
		return ""
	}
	if srcImage != AllImages && override != "" {
		return override
	}
	return info.Name
}

func exportedDescription(info *ImageInfo, override string, srcImage int, flags ExportFlags) string {
	if flags&ExportNoDescriptions != 0 {
		return ""
	}
	if srcImage != AllImages && override != "" {
		return override
	}
	return info.Description
}
