package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caskfs/cask/container"
)

// NewInfoCmd creates and returns the info subcommand, which lists a
// container's images.
func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info CONTAINER",
		Short: "Show container and image information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Open(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Container:    %s\n", args[0])
			fmt.Printf("Format:       %d\n", c.Meta.FormatVersion)
			fmt.Printf("Written by:   cask %s\n", c.Meta.CaskVersion)
			fmt.Printf("Parts:        %d\n", c.Meta.PartCount)
			fmt.Printf("Images:       %d\n", c.Meta.ImageCount())
			fmt.Printf("Blobs:        %d\n", c.Index.Len())
			fmt.Println()
			for i, img := range c.Meta.Images {
				boot := ""
				if i+1 == c.Meta.BootImage {
					boot = " (boot)"
				}
				name := img.Name
				if name == "" {
					name = "<unnamed>"
				}
				fmt.Printf("  %d: %s%s\n", i+1, name, boot)
				if img.Description != "" {
					fmt.Printf("     %s\n", img.Description)
				}
				fmt.Printf("     inodes: %d\n", len(img.Inodes))
			}
			return nil
		},
	}
}
