package caskfs

import (
	"errors"
	"testing"

	"github.com/caskfs/cask/handshake"
)

func TestUnmountRejectsCommitWithDiscard(t *testing.T) {
	if _, err := Unmount(t.TempDir(), UnmountFlags{Commit: true, Discard: true}); !errors.Is(err, ErrCommitDiscard) {
		t.Errorf("Unmount = %v, want ErrCommitDiscard", err)
	}
}

func TestHandleUnmountRejectsReadOnlyCommit(t *testing.T) {
	m := &Mount{Writable: false}
	if status := m.handleUnmount(handshake.FlagCommit); status != 1 {
		t.Errorf("commit on a read-only mount: status = %d, want 1", status)
	}
	if status := m.handleUnmount(0); status != 0 {
		t.Errorf("plain unmount: status = %d, want 0", status)
	}
}
