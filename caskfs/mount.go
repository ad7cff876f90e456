package caskfs

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/charmbracelet/log"

	"github.com/caskfs/cask/container"
	"github.com/caskfs/cask/handshake"
)

// MountOptions configure MountImage.
type MountOptions struct {
	// Writable mounts the image read-write with a staging overlay.
	Writable bool

	// IdleTimeout bounds how long the daemon waits for an unmount
	// request once the kernel connection drops. Zero waits forever.
	IdleTimeout time.Duration
}

// Mount is one running mount: the container, the selected image, the
// staging overlay for writable mounts, and the FUSE connection.
type Mount struct {
	Cask       *container.Cask
	Image      *container.Image
	Staging    *Staging
	MountPoint string
	Writable   bool

	conn   *fuse.Conn
	daemon *handshake.Daemon
}

// MountImage validates the request, takes the container lock for
// writable mounts, creates the staging overlay, and attaches the FUSE
// connection. Setup failures return before any daemon loop starts.
func MountImage(c *container.Cask, image int, mountpoint string, opts MountOptions) (*Mount, error) {
	if opts.Writable && c.Meta.PartCount > 1 {
		return nil, container.ErrSplitUnsupported
	}
	if opts.Writable {
		if err := c.Lock(); err != nil {
			return nil, err
		}
	}

	img, err := c.LoadImage(image)
	if err != nil {
		if opts.Writable {
			c.Unlock()
		}
		return nil, err
	}

	m := &Mount{
		Cask:       c,
		Image:      img,
		MountPoint: mountpoint,
		Writable:   opts.Writable,
	}

	if opts.Writable {
		st, err := NewStaging(c.Dir, c.Index)
		if err != nil {
			c.Unlock()
			return nil, err
		}
		m.Staging = st
	}

	conn, err := fuse.Mount(mountpoint,
		fuse.FSName("cask"),
		fuse.Subtype("caskfs"),
	)
	if err != nil {
		m.teardown()
		return nil, fmt.Errorf("mounting %s: %w", mountpoint, err)
	}
	m.conn = conn

	reqPath, repPath, err := handshake.ChannelPaths(mountpoint)
	if err != nil {
		conn.Close()
		m.teardown()
		return nil, err
	}
	tr, err := handshake.ListenChannel(reqPath, repPath)
	if err != nil {
		conn.Close()
		m.teardown()
		return nil, err
	}

	var mountFlags uint32
	if opts.Writable {
		mountFlags |= handshake.MountWritable
	}
	m.daemon = &handshake.Daemon{
		Transport:   tr,
		Pid:         int32(os.Getpid()),
		MountFlags:  mountFlags,
		IdleTimeout: opts.IdleTimeout,
		Commit:      m.handleUnmount,
		Cleanup:     m.teardown,
	}
	return m, nil
}

// Serve answers filesystem calls until an unmount request (or the
// daemon's idle timeout) ends the mount. The handshake runs alongside
// the FUSE loop; its cleanup detaches the kernel mount, which in turn
// stops the serve loop.
func (m *Mount) Serve() error {
	errc := make(chan error, 1)
	go func() {
		errc <- fs.Serve(m.conn, &FS{m: m})
	}()

	hsErr := m.daemon.Serve()
	m.daemon.Transport.Close()

	// An idle-timeout exit never ran the handshake cleanup; teardown is
	// idempotent, so run it on every path out.
	m.teardown()

	fuse.Unmount(m.MountPoint)
	m.conn.Close()
	serveErr := <-errc

	if hsErr != nil {
		return hsErr
	}
	return serveErr
}

// handleUnmount runs the commit for a commit-requesting unmount of a
// writable mount and reports the status the invoker will see. Discard
// requests skip the commit entirely; a commit request against a
// read-only mount fails.
func (m *Mount) handleUnmount(unmountFlags uint32) int32 {
	if unmountFlags&handshake.FlagCommit == 0 {
		return 0
	}
	if !m.Writable {
		log.Error("commit requested", "err", ErrReadOnly)
		return 1
	}
	cc := &CommitCoordinator{
		Cask:    m.Cask,
		Image:   m.Image,
		Staging: m.Staging,
		Rewrite: container.RewriteOptions{
			Rebuild:        unmountFlags&handshake.FlagRebuild != 0,
			Recompress:     unmountFlags&handshake.FlagRecompress != 0,
			CheckIntegrity: unmountFlags&handshake.FlagCheckIntegrity != 0,
		},
	}
	if err := cc.Commit(); err != nil {
		log.Error("commit failed", "err", err)
		return 1
	}
	return 0
}

// teardown always attempts staging cleanup and releases the container
// lock. Safe to call on a partially constructed mount.
func (m *Mount) teardown() {
	if m.Staging != nil {
		if err := m.Staging.Cleanup(); err != nil {
			log.Warn("removing staging directory", "dir", m.Staging.Dir, "err", err)
		}
	}
	if m.Writable {
		m.Cask.Unlock()
	}
}

// UnmountFlags select what Unmount asks the daemon to do.
type UnmountFlags struct {
	Commit         bool
	Discard        bool
	CheckIntegrity bool
	Rebuild        bool
	Recompress     bool
}

// Unmount contacts the mount daemon for mountpoint and blocks until it
// reports Finished or the handshake fails. The returned status is the
// daemon's: 0 for success, nonzero for a failed commit.
func Unmount(mountpoint string, flags UnmountFlags) (int32, error) {
	if flags.Commit && flags.Discard {
		return -1, ErrCommitDiscard
	}

	reqPath, repPath, err := handshake.ChannelPaths(mountpoint)
	if err != nil {
		return -1, err
	}
	tr, err := handshake.ListenChannel(repPath, reqPath)
	if err != nil {
		return -1, err
	}
	defer tr.Close()

	var wire uint32
	if flags.Commit {
		wire |= handshake.FlagCommit
	}
	if flags.CheckIntegrity {
		wire |= handshake.FlagCheckIntegrity
	}
	if flags.Rebuild {
		wire |= handshake.FlagRebuild
	}
	if flags.Recompress {
		wire |= handshake.FlagRecompress
	}

	inv := &handshake.Invoker{Transport: tr}
	status, err := inv.Unmount(wire)
	if err != nil {
		if isConnRefused(err) {
			return -1, fmt.Errorf("%w: %s", ErrNotMounted, mountpoint)
		}
		return -1, err
	}
	return status, nil
}

// isConnRefused matches the errors a send to a daemonless channel
// produces: the socket file is gone or nothing listens on it.
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}
