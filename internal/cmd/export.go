package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/caskfs/cask/container"
)

// NewExportCmd creates and returns the export subcommand, which copies
// or moves images from one container to another transactionally.
func NewExportCmd() *cobra.Command {
	var (
		imageName  string
		imageIndex int
		all        bool
		newName    string
		newDesc    string
		boot       bool
		noNames    bool
		noDescs    bool
		move       bool
	)

	cmd := &cobra.Command{
		Use:   "export SOURCE DEST",
		Short: "Export image(s) from one container to another",
		Long: `Export one image (or all images) from SOURCE into DEST.

Content already present in DEST is never duplicated; it gains references
instead. The export is transactional: on any failure DEST is left exactly
as it was. With --move, content records are transferred out of SOURCE
without copying payload bytes; SOURCE must be rewritten afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := container.Open(args[0])
			if err != nil {
				return err
			}
			dst, err := container.Open(args[1])
			if err != nil {
				return err
			}

			selector := imageIndex
			if all {
				selector = container.AllImages
			} else if imageName != "" {
				selector = src.Meta.ImageByName(imageName)
				if selector == 0 {
					return fmt.Errorf("%w: %q", container.ErrNoSuchImage, imageName)
				}
			}

			var flags container.ExportFlags
			if boot {
				flags |= container.ExportBoot
			}
			if noNames {
				flags |= container.ExportNoNames
			}
			if noDescs {
				flags |= container.ExportNoDescriptions
			}
			if move {
				flags |= container.ExportMove
			}

			if err := container.ExportImage(src, dst, selector, newName, newDesc, flags); err != nil {
				return err
			}
			if err := dst.Rewrite(container.RewriteOptions{}); err != nil {
				return err
			}
			if move {
				log.Warn("source container gave its content away; re-open it before further use", "source", args[0])
			}
			log.Info("export complete", "source", args[0], "dest", args[1], "images", dst.Meta.ImageCount())
			return nil
		},
	}

	cmd.Flags().StringVar(&imageName, "image", "", "source image name")
	cmd.Flags().IntVar(&imageIndex, "index", 1, "1-based source image index")
	cmd.Flags().BoolVar(&all, "all", false, "export every image")
	cmd.Flags().StringVar(&newName, "name", "", "name for the exported image")
	cmd.Flags().StringVar(&newDesc, "description", "", "description for the exported image")
	cmd.Flags().BoolVar(&boot, "boot", false, "mark the exported image as the destination boot image")
	cmd.Flags().BoolVar(&noNames, "no-names", false, "export without image names")
	cmd.Flags().BoolVar(&noDescs, "no-descriptions", false, "export without image descriptions")
	cmd.Flags().BoolVar(&move, "move", false, "transfer content out of the source instead of copying")
	return cmd
}
