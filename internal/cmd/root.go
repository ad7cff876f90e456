package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/caskfs/cask/version"
)

// NewRootCmd creates and returns the root cobra command for the cask CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cask",
		Short: "cask - a content-addressed image container with writable FUSE mounts",
		Long: `cask stores filesystem images in a shared content-addressed container:
identical file content is stored once and reference-counted across images.

Images can be mounted read-only or writable. A writable mount accumulates
edits in a private staging directory; an explicit unmount --commit
deduplicates the staged content back into the container.

Use subcommands to perform different operations:
  - mount: Mount a container image at a specified mountpoint
  - unmount: Request an unmount, committing or discarding staged changes
  - create: Initialize a new empty container
  - export: Copy or move images between containers
  - verify: Check payload integrity and reference counts
  - info: List a container's images`,
		Version: version.GetFullVersion(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	groupContainer := "container"
	groupFilesystem := "filesystem"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupContainer,
		Title: "Container Operations",
	})

	mountCmd := NewMountCmd()
	unmountCmd := NewUnmountCmd()
	createCmd := NewCreateCmd()
	exportCmd := NewExportCmd()
	verifyCmd := NewVerifyCmd()
	infoCmd := NewInfoCmd()

	mountCmd.GroupID = groupFilesystem
	unmountCmd.GroupID = groupFilesystem
	createCmd.GroupID = groupContainer
	exportCmd.GroupID = groupContainer
	verifyCmd.GroupID = groupContainer
	infoCmd.GroupID = groupContainer

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(unmountCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)

	return rootCmd
}
