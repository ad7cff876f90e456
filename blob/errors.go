package blob

import (
	"errors"
	"fmt"
)

// Sentinel errors for package blob.
// These errors can be checked with errors.Is() for specific error handling.
var (
	// Index errors
	ErrDuplicateDigest = errors.New("digest already present in index")

	// Digest errors
	ErrInvalidDigest = errors.New("invalid digest format")

	// Handle errors
	ErrTooManyHandles = errors.New("too many open handles on inode")
	ErrHandleClosed   = errors.New("file handle already released")

	// Location errors
	ErrNoBacking = errors.New("record has no readable backing")
)

// ContentNotFoundError reports a stream whose content digest could not be
// resolved in either the destination or the source index. It only arises
// from a structurally inconsistent container.
type ContentNotFoundError struct {
	Digest Digest
}

func (e *ContentNotFoundError) Error() string {
	return fmt.Sprintf("content %s not found in source index", e.Digest)
}
