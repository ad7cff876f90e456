package caskfs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for package caskfs.
var (
	ErrReadOnly      = errors.New("mount is read-only")
	ErrNotMounted    = errors.New("no mount daemon found for mountpoint")
	ErrAlreadyStaged = errors.New("stream already has a staging backing")
	ErrStagingCreate = errors.New("cannot create staging directory")
	ErrCommitDiscard = errors.New("commit and discard are mutually exclusive")
)

// CommitError reports an aborted commit. Loose files that could not be
// reconciled remain in the staging directory; Orphans lists them so the
// caller can surface or salvage them.
type CommitError struct {
	Orphans []string
	Err     error
}

func (e *CommitError) Error() string {
	if len(e.Orphans) == 0 {
		return fmt.Sprintf("commit failed: %v", e.Err)
	}
	return fmt.Sprintf("commit failed: %v (orphaned staging files: %s)",
		e.Err, strings.Join(e.Orphans, ", "))
}

func (e *CommitError) Unwrap() error { return e.Err }
