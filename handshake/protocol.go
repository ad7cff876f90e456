package handshake

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol version codes, encoded major<<20 | minor<<10 | patch.
const (
	// CurrentVersion is the protocol version this build speaks.
	CurrentVersion uint32 = 1<<20 | 0<<10 | 0

	// MinCompatVersion is the oldest reader that can understand the
	// messages this build sends.
	MinCompatVersion uint32 = 1<<20 | 0<<10 | 0
)

// MsgType tags a handshake message.
type MsgType uint32

const (
	// MsgRequest asks the daemon to unmount, optionally committing.
	// Invoker to daemon.
	MsgRequest MsgType = iota

	// MsgDaemonInfo announces the daemon's pid and mount flags. Daemon
	// to invoker, sent immediately on receiving a request.
	MsgDaemonInfo

	// MsgFinished reports the unmount outcome. Daemon to invoker,
	// always the daemon's last message.
	MsgFinished
)

func (t MsgType) String() string {
	switch t {
	case MsgRequest:
		return "request"
	case MsgDaemonInfo:
		return "daemon-info"
	case MsgFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// UnmountFlags carried in a Request.
const (
	// FlagCommit asks a writable mount to commit staged changes.
	FlagCommit uint32 = 1 << iota

	// FlagCheckIntegrity re-hashes payloads during the rewrite.
	FlagCheckIntegrity

	// FlagRebuild rewrites every payload, not just new ones.
	FlagRebuild

	// FlagRecompress re-encodes payloads with freshly chosen codecs.
	FlagRecompress
)

// MountFlags carried in a DaemonInfo.
const (
	// MountWritable marks a read-write mount.
	MountWritable uint32 = 1 << iota
)

// Header layout: four little-endian u32 fields. Sizes below are full
// message lengths, header included.
const (
	headerSize     = 16
	requestSize    = headerSize + 4
	daemonInfoSize = headerSize + 8
	finishedSize   = headerSize + 4
)

// Sentinel errors for package handshake.
var (
	ErrInvalidMessage = errors.New("malformed handshake message")
	ErrUnknownType    = errors.New("unknown handshake message type")
	ErrTimeout        = errors.New("timed out waiting for handshake message")
	ErrDaemonCrashed  = errors.New("daemon crashed, unmount outcome unknown")
	ErrIncompatible   = errors.New("message requires a newer protocol version")
)

// Message is one decoded handshake message. Exactly one payload field
// group is meaningful, selected by Type.
type Message struct {
	MinVersion uint32
	CurVersion uint32
	Type       MsgType

	// Request payload.
	UnmountFlags uint32

	// DaemonInfo payload.
	DaemonPid  int32
	MountFlags uint32

	// Finished payload.
	Status int32
}

// NewRequest builds an unmount request.
func NewRequest(unmountFlags uint32) *Message {
	return &Message{
		MinVersion:   MinCompatVersion,
		CurVersion:   CurrentVersion,
		Type:         MsgRequest,
		UnmountFlags: unmountFlags,
	}
}

// NewDaemonInfo builds the daemon's immediate reply to a request.
func NewDaemonInfo(pid int32, mountFlags uint32) *Message {
	return &Message{
		MinVersion: MinCompatVersion,
		CurVersion: CurrentVersion,
		Type:       MsgDaemonInfo,
		DaemonPid:  pid,
		MountFlags: mountFlags,
	}
}

// NewFinished builds the daemon's final status report.
func NewFinished(status int32) *Message {
	return &Message{
		MinVersion: MinCompatVersion,
		CurVersion: CurrentVersion,
		Type:       MsgFinished,
		Status:     status,
	}
}

func messageSize(t MsgType) (int, error) {
	switch t {
	case MsgRequest:
		return requestSize, nil
	case MsgDaemonInfo:
		return daemonInfoSize, nil
	case MsgFinished:
		return finishedSize, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, uint32(t))
	}
}

// Encode serializes the message into its fixed wire layout.
func (m *Message) Encode() ([]byte, error) {
	size, err := messageSize(m.Type)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], m.MinVersion)
	binary.LittleEndian.PutUint32(buf[4:], m.CurVersion)
	binary.LittleEndian.PutUint32(buf[8:], uint32(m.Type))
	binary.LittleEndian.PutUint32(buf[12:], uint32(size))
	switch m.Type {
	case MsgRequest:
		binary.LittleEndian.PutUint32(buf[16:], m.UnmountFlags)
	case MsgDaemonInfo:
		binary.LittleEndian.PutUint32(buf[16:], uint32(m.DaemonPid))
		binary.LittleEndian.PutUint32(buf[20:], m.MountFlags)
	case MsgFinished:
		binary.LittleEndian.PutUint32(buf[16:], uint32(m.Status))
	}
	return buf, nil
}

// Decode parses one wire message. A message whose minimum-compatible
// version is newer than this build returns ErrIncompatible: the caller
// ignores it and keeps waiting rather than failing. A bad length or an
// unknown type is ErrInvalidMessage or ErrUnknownType: a real protocol
// failure.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrInvalidMessage, len(buf), headerSize)
	}
	m := &Message{
		MinVersion: binary.LittleEndian.Uint32(buf[0:]),
		CurVersion: binary.LittleEndian.Uint32(buf[4:]),
		Type:       MsgType(binary.LittleEndian.Uint32(buf[8:])),
	}
	declared := binary.LittleEndian.Uint32(buf[12:])

	if m.MinVersion > CurrentVersion {
		return nil, ErrIncompatible
	}

	want, err := messageSize(m.Type)
	if err != nil {
		return nil, err
	}
	if int(declared) != want || len(buf) != want {
		return nil, fmt.Errorf("%w: %s declares %d bytes, carried %d, want %d",
			ErrInvalidMessage, m.Type, declared, len(buf), want)
	}

	switch m.Type {
	case MsgRequest:
		m.UnmountFlags = binary.LittleEndian.Uint32(buf[16:])
	case MsgDaemonInfo:
		m.DaemonPid = int32(binary.LittleEndian.Uint32(buf[16:]))
		m.MountFlags = binary.LittleEndian.Uint32(buf[20:])
	case MsgFinished:
		m.Status = int32(binary.LittleEndian.Uint32(buf[16:]))
	}
	return m, nil
}
