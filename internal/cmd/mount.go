package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/caskfs/cask/caskfs"
	"github.com/caskfs/cask/container"
	"github.com/caskfs/cask/version"
)

// NewMountCmd creates and returns the mount subcommand for the cask CLI.
// It mounts one container image at the specified mountpoint and runs the
// mount daemon until an unmount request arrives.
func NewMountCmd() *cobra.Command {
	var (
		writable    bool
		imageName   string
		imageIndex  int
		idleTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mount CONTAINER MOUNTPOINT",
		Short: "Mount a container image",
		Long: `Mount a container image at the specified mountpoint.

CONTAINER is the path to the container directory.
MOUNTPOINT is the directory where the image will be mounted.

The process stays in the foreground as the mount daemon and exits when a
matching "cask unmount" completes the handshake.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Open(args[0])
			if err != nil {
				return err
			}

			index := imageIndex
			if imageName != "" {
				index = c.Meta.ImageByName(imageName)
				if index == 0 {
					return fmt.Errorf("%w: %q", container.ErrNoSuchImage, imageName)
				}
			}

			m, err := caskfs.MountImage(c, index, args[1], caskfs.MountOptions{
				Writable:    writable,
				IdleTimeout: idleTimeout,
			})
			if err != nil {
				return err
			}

			log.Info("mounted", "version", version.GetVersion(),
				"container", args[0], "image", index,
				"mountpoint", args[1], "writable", writable)
			return m.Serve()
		},
	}

	cmd.Flags().BoolVarP(&writable, "writable", "w", false, "mount read-write with a staging overlay")
	cmd.Flags().StringVar(&imageName, "image", "", "image name to mount")
	cmd.Flags().IntVar(&imageIndex, "index", 1, "1-based image index to mount")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "exit if no unmount request arrives in this time (0 = wait forever)")
	return cmd
}
