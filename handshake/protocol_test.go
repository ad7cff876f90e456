package handshake

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"request", NewRequest(FlagCommit | FlagCheckIntegrity)},
		{"daemon info", NewDaemonInfo(4242, MountWritable)},
		{"finished ok", NewFinished(0)},
		{"finished failed", NewFinished(-3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if *got != *tt.msg {
				t.Errorf("round trip: got %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	buf, err := NewRequest(FlagCommit).Encode()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("truncated header", func(t *testing.T) {
		if _, err := Decode(buf[:8]); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Decode = %v, want ErrInvalidMessage", err)
		}
	})
	t.Run("declared size mismatch", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		binary.LittleEndian.PutUint32(bad[12:], 99)
		if _, err := Decode(bad); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Decode = %v, want ErrInvalidMessage", err)
		}
	})
	t.Run("carried size mismatch", func(t *testing.T) {
		if _, err := Decode(append(buf, 0)); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("Decode = %v, want ErrInvalidMessage", err)
		}
	})
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	buf, err := NewFinished(0).Encode()
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(buf[8:], 77)
	if _, err := Decode(buf); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Decode = %v, want ErrUnknownType", err)
	}
}

func TestDecodeToleratesNewerSender(t *testing.T) {
	// A message demanding a newer reader is unreadable, not fatal: the
	// receiver ignores it and keeps waiting.
	buf, err := NewFinished(0).Encode()
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(buf[0:], CurrentVersion+1)
	if _, err := Decode(buf); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Decode = %v, want ErrIncompatible", err)
	}
}

func TestDecodeAcceptsOlderCompatibleSender(t *testing.T) {
	// A newer current version with a still-satisfied minimum decodes.
	buf, err := NewFinished(0).Encode()
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(buf[4:], CurrentVersion+1)
	if _, err := Decode(buf); err != nil {
		t.Errorf("Decode = %v, want success", err)
	}
}
