// Package cmd provides the command-line interface implementation for cask.
//
// This package contains all the subcommand implementations for the cask CLI
// tool. It uses the Cobra library for command structure and Fang for styling.
//
// The package is organized into the following commands:
//   - root: Main command coordinator and entry point
//   - mount: FUSE image mounting (read-only or writable)
//   - unmount: unmount handshake with commit or discard
//   - create: new empty container initialization
//   - export: transactional image export between containers
//   - verify: container integrity and refcount verification
//   - info: container and image listing
//
// Each command is implemented as a separate file with its own constructor
// function that returns a *cobra.Command. The root command coordinates all
// subcommands.
package cmd
