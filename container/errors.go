package container

import (
	"errors"
	"fmt"
)

// Sentinel errors for package container.
var (
	ErrMetadataMissing  = errors.New("container has no metadata")
	ErrNoSuchImage      = errors.New("no such image in container")
	ErrBadFlags         = errors.New("invalid flag combination")
	ErrLockHeld         = errors.New("container is locked by another writable mount")
	ErrSplitUnsupported = errors.New("split containers cannot be mounted writable")
	ErrFreshExport      = errors.New("image was just exported and cannot be mounted until written")
	ErrIndexGone        = errors.New("container index was moved away by an export")
)

// DuplicateNameError reports an image name that already exists in the
// destination container.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("an image named %q already exists in the destination container", e.Name)
}
