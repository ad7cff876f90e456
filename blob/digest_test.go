package blob

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestDigestBytesStable(t *testing.T) {
	data := []byte("the same bytes every time")
	d1 := DigestBytes(data)
	d2 := DigestBytes(data)
	if d1 != d2 {
		t.Errorf("same input produced different digests: %s vs %s", d1, d2)
	}
	if d1.IsZero() {
		t.Error("digest of non-empty input is zero")
	}
	if DigestBytes([]byte("other bytes")) == d1 {
		t.Error("different inputs produced the same digest")
	}
}

func TestDigestRoundTrip(t *testing.T) {
	d := DigestBytes([]byte("round trip"))
	s := d.String()
	if len(s) != DigestSize*2 {
		t.Fatalf("hex digest length = %d, want %d", len(s), DigestSize*2)
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		t.Fatalf("ParseDigest(%q): %v", s, err)
	}
	if parsed != d {
		t.Errorf("ParseDigest(String()) = %s, want %s", parsed, d)
	}
}

func TestParseDigestRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"not hex", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"},
		{"too long", "00112233445566778899aabbccddeeff0011223344"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDigest(tt.input); err == nil {
				t.Errorf("ParseDigest(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestDigestReaderMatchesDigestBytes(t *testing.T) {
	data := []byte("stream me")
	d, n, err := DigestReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DigestReader: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("consumed %d bytes, want %d", n, len(data))
	}
	if d != DigestBytes(data) {
		t.Error("DigestReader digest differs from DigestBytes")
	}
}

func TestDigestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	data := []byte("file content for hashing")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	d, n, err := DigestFile(path)
	if err != nil {
		t.Fatalf("DigestFile: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("size = %d, want %d", n, len(data))
	}
	if d != DigestBytes(data) {
		t.Error("file digest differs from in-memory digest")
	}
}

func TestRandomDigestsDiffer(t *testing.T) {
	if RandomDigest() == RandomDigest() {
		t.Error("two random digests collided")
	}
}
