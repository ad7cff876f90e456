// Package caskfs mounts a container image as a FUSE filesystem. A
// writable mount overlays the image with a staging directory: the first
// write to any stream materializes a loose copy of its content, and an
// explicit commit at unmount reconciles the loose files back into the
// container with duplicate content stored once.
package caskfs
