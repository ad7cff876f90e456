package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caskfs/cask/caskfs"
)

// NewUnmountCmd creates and returns the unmount subcommand. It runs the
// handshake with the mount daemon and reports the daemon's status.
func NewUnmountCmd() *cobra.Command {
	var flags caskfs.UnmountFlags

	cmd := &cobra.Command{
		Use:   "unmount MOUNTPOINT",
		Short: "Unmount a mounted image",
		Long: `Request an unmount from the mount daemon serving MOUNTPOINT.

With --commit the daemon reconciles staged changes into the container
before detaching; with --discard (the default) staged changes are thrown
away. The command blocks until the daemon reports the outcome.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := caskfs.Unmount(args[0], flags)
			if err != nil {
				return err
			}
			if status != 0 {
				return fmt.Errorf("unmount daemon reported failure (status %d)", status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.Commit, "commit", false, "commit staged changes to the container")
	cmd.Flags().BoolVar(&flags.Discard, "discard", false, "discard staged changes (default)")
	cmd.Flags().BoolVar(&flags.CheckIntegrity, "check", false, "verify payload digests during the commit rewrite")
	cmd.Flags().BoolVar(&flags.Rebuild, "rebuild", false, "rewrite every payload file during the commit rewrite")
	cmd.Flags().BoolVar(&flags.Recompress, "recompress", false, "re-encode payloads with freshly chosen codecs")
	return cmd
}
