// Package main provides the cask command-line interface.
//
// cask is a content-addressed image container with FUSE mounts. File
// content is stored once per digest and reference-counted across the
// images packed into a container. Writable mounts stage edits in a
// private directory and reconcile them into the container on an
// explicit commit at unmount.
//
// The main binary supports multiple subcommands:
//   - mount: Mount a container image at a specified mountpoint
//   - unmount: Request an unmount, committing or discarding staged changes
//   - create: Initialize a new empty container
//   - export: Copy or move images between containers
//   - verify: Check payload integrity and reference counts
//   - info: List a container's images
package main
