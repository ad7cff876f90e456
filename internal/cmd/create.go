package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/caskfs/cask/container"
)

// NewCreateCmd creates and returns the create subcommand, which
// initializes a new empty container directory.
func NewCreateCmd() *cobra.Command {
	var imageName string

	cmd := &cobra.Command{
		Use:   "create CONTAINER",
		Short: "Initialize a new empty container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Create(args[0])
			if err != nil {
				return err
			}
			if imageName != "" {
				if _, err := c.AddImage(imageName, ""); err != nil {
					return err
				}
				if err := c.SaveMetadata(); err != nil {
					return err
				}
			}
			log.Info("container created", "dir", args[0], "image", imageName)
			return nil
		},
	}

	cmd.Flags().StringVar(&imageName, "image", "", "also add an empty image with this name")
	return cmd
}
