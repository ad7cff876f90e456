package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// DefaultTimeout is the invoker's per-wait bound before probing the
// daemon for liveness.
const DefaultTimeout = 5 * time.Second

// finishedTimeout is the tighter poll interval once the daemon has
// identified itself; commit progress is then checked via the liveness
// probe rather than long waits.
const finishedTimeout = time.Second

// Daemon runs the mount-side of the handshake. It receives on the
// request channel and replies on the reply channel.
type Daemon struct {
	Transport Transport

	Pid        int32
	MountFlags uint32

	// IdleTimeout bounds the wait for the initial request; when it
	// expires the daemon exits cleanly, without error. Zero waits
	// forever.
	IdleTimeout time.Duration

	// Commit performs the unmount work for the given request flags and
	// returns the status to report. Runs synchronously: the invoker
	// observes a crash here only through its liveness probe.
	Commit func(unmountFlags uint32) int32

	// Cleanup always runs after Commit, before Finished is sent.
	Cleanup func()
}

// Serve waits for an unmount request and runs the handshake to
// completion. Version-incompatible messages restart the wait; a
// malformed message is a protocol failure and aborts the handshake.
func (d *Daemon) Serve() error {
	for {
		buf, err := d.Transport.Receive(d.IdleTimeout)
		if errors.Is(err, ErrTimeout) {
			log.Debug("no unmount request within idle timeout, exiting")
			return nil
		}
		if err != nil {
			return err
		}

		msg, err := Decode(buf)
		if errors.Is(err, ErrIncompatible) {
			continue
		}
		if err != nil {
			return err
		}
		if msg.Type != MsgRequest {
			return fmt.Errorf("%w: daemon got %s, want %s", ErrInvalidMessage, msg.Type, MsgRequest)
		}

		info, err := NewDaemonInfo(d.Pid, d.MountFlags).Encode()
		if err != nil {
			return err
		}
		if err := d.Transport.Send(info); err != nil {
			return err
		}

		var status int32
		if d.Commit != nil {
			status = d.Commit(msg.UnmountFlags)
		}
		if d.Cleanup != nil {
			d.Cleanup()
		}

		fin, err := NewFinished(status).Encode()
		if err != nil {
			return err
		}
		return d.Transport.Send(fin)
	}
}

// Invoker runs the unmount-requesting side of the handshake.
type Invoker struct {
	Transport Transport

	// Timeout bounds each wait for a daemon reply. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Probe reports whether the daemon process is alive. Nil uses a
	// null-signal check.
	Probe func(pid int32) bool
}

// Unmount sends the request and drives the invoker loop to its
// terminal state. It returns the daemon's reported status, or an error:
// ErrDaemonCrashed when the daemon stops responding and its process is
// gone, a protocol error for malformed traffic.
func (inv *Invoker) Unmount(unmountFlags uint32) (int32, error) {
	req, err := NewRequest(unmountFlags).Encode()
	if err != nil {
		return -1, err
	}
	if err := inv.Transport.Send(req); err != nil {
		return -1, err
	}

	timeout := inv.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	probe := inv.Probe
	if probe == nil {
		probe = processAlive
	}

	pid := int32(-1)
	for {
		buf, err := inv.Transport.Receive(timeout)
		if errors.Is(err, ErrTimeout) {
			if pid >= 0 && probe(pid) {
				// Commit still running; keep waiting.
				continue
			}
			return -1, ErrDaemonCrashed
		}
		if err != nil {
			return -1, err
		}

		msg, err := Decode(buf)
		if errors.Is(err, ErrIncompatible) {
			continue
		}
		if err != nil {
			return -1, err
		}

		switch msg.Type {
		case MsgDaemonInfo:
			pid = msg.DaemonPid
			if inv.Timeout == 0 {
				// Now that the pid is known, poll tighter and lean on
				// the liveness probe instead of long waits.
				timeout = finishedTimeout
			}
			log.Debug("daemon identified", "pid", pid, "mountFlags", msg.MountFlags)
		case MsgFinished:
			return msg.Status, nil
		default:
			return -1, fmt.Errorf("%w: invoker got %s", ErrInvalidMessage, msg.Type)
		}
	}
}

// processAlive probes a pid with the null signal. Permission errors
// still mean the process exists.
func processAlive(pid int32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
