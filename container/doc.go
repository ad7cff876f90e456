// Package container implements the cask container: a directory holding
// image metadata (cask.json) and content payloads (blobs/), plus the
// whole-container lock that serializes writable mounts. It layers image
// naming, export, rewrite, and verification over the blob store.
//
// Payload files are self-describing compressed frames (see package
// blob), bucketed into subdirectories so no single directory grows
// unbounded. Container header and resource-table parsing beyond this
// is out of scope here.
package container
