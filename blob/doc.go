// Package blob implements the content-addressed store primitives for cask:
// digests, blob records and their physical locations, the per-container
// digest index, the inode/stream/handle model, and transactional export of
// content between indexes.
//
// A BlobRecord is owned exclusively by the DigestIndex it is inserted into.
// Inodes and streams reference records by digest and hold non-owning
// pointers that are resolved lazily against the index.
package blob
