package handshake

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/caskfs/cask/blob"
)

// maxMessageSize bounds one datagram. All defined messages are far
// smaller; oversized datagrams decode as malformed.
const maxMessageSize = 256

// Transport is one direction of a handshake channel: datagrams are
// delivered whole and in order, independently of the other channel.
type Transport interface {
	Send(buf []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// ChannelPaths derives the two socket paths for a mountpoint. The
// request channel carries invoker-to-daemon traffic, the reply channel
// the reverse. Hashing the absolute mountpoint keeps the names short,
// collision-free, and reconstructible by both processes.
func ChannelPaths(mountpoint string) (request, reply string, err error) {
	abs, err := filepath.Abs(mountpoint)
	if err != nil {
		return "", "", err
	}
	d := blob.DigestBytes([]byte(abs))
	tag := d.String()[:16]
	dir := os.TempDir()
	return filepath.Join(dir, fmt.Sprintf("cask-unmount-%s.req", tag)),
		filepath.Join(dir, fmt.Sprintf("cask-unmount-%s.rep", tag)),
		nil
}

// SocketTransport is one unix-datagram channel endpoint. The listening
// side binds recvPath; Send dials the peer's path per message so either
// side can come up first.
type SocketTransport struct {
	conn     *net.UnixConn
	sendPath string
	recvPath string
}

// ListenChannel binds the receiving end of one channel, replacing any
// stale socket left by a crashed process.
func ListenChannel(recvPath, sendPath string) (*SocketTransport, error) {
	os.Remove(recvPath)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: recvPath, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("binding handshake channel: %w", err)
	}
	return &SocketTransport{conn: conn, sendPath: sendPath, recvPath: recvPath}, nil
}

// Send writes one datagram to the peer's channel.
func (t *SocketTransport) Send(buf []byte) error {
	addr := &net.UnixAddr{Name: t.sendPath, Net: "unixgram"}
	_, err := t.conn.WriteToUnix(buf, addr)
	return err
}

// Receive reads one datagram, waiting at most timeout. A zero timeout
// waits forever.
func (t *SocketTransport) Receive(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, maxMessageSize)
	n, _, err := t.conn.ReadFromUnix(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return buf[:n], nil
}

// Close shuts the endpoint and removes its socket file.
func (t *SocketTransport) Close() error {
	err := t.conn.Close()
	os.Remove(t.recvPath)
	return err
}

// PipeTransport is an in-process Transport over a buffered channel,
// used by tests and single-process mounts.
type PipeTransport struct {
	send chan<- []byte
	recv <-chan []byte
}

// NewPipePair returns two connected endpoints: what one sends the
// other receives.
func NewPipePair() (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &PipeTransport{send: ab, recv: ba}, &PipeTransport{send: ba, recv: ab}
}

func (t *PipeTransport) Send(buf []byte) error {
	cp := append([]byte(nil), buf...)
	select {
	case t.send <- cp:
		return nil
	default:
		return fmt.Errorf("handshake pipe full")
	}
}

func (t *PipeTransport) Receive(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return <-t.recv, nil
	}
	select {
	case buf := <-t.recv:
		return buf, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

func (t *PipeTransport) Close() error { return nil }
