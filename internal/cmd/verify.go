package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/caskfs/cask/container"
)

// NewVerifyCmd creates and returns the verify subcommand, which
// re-hashes every payload and recomputes reference counts.
func NewVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify CONTAINER",
		Short: "Verify container integrity and reference counts",
		Long: `Verify a container: every referenced payload is re-hashed against its
digest, and reference counts are recomputed from image metadata and
compared with the index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := container.Open(args[0])
			if err != nil {
				return err
			}
			res, err := c.Verify()
			if err != nil {
				return err
			}

			for _, d := range res.Missing {
				log.Error("missing payload", "digest", d)
			}
			for _, d := range res.Corrupt {
				log.Error("corrupt payload", "digest", d)
			}
			for _, msg := range res.RefErrors {
				log.Error("refcount mismatch", "detail", msg)
			}

			if !res.OK() {
				return fmt.Errorf("verification failed: %d missing, %d corrupt, %d refcount errors",
					len(res.Missing), len(res.Corrupt), len(res.RefErrors))
			}
			log.Info("container verified", "dir", args[0], "blobs", res.Blobs)
			return nil
		},
	}
}
