package blob

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm used for an in-container
// payload. Tags are stored in the payload frame header (1 byte); the
// values are format constants.
type CompressionTag uint8

const (
	// CompressionNone stores bytes as-is. Chosen when compression does
	// not shrink the data.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression, the fast default for
	// binary content.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level, used when probing
	// shows a high ratio (text-like content).
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// The zstd encoder and decoder are process-wide and created once; both
// are safe for concurrent use.
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdInit() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

var errIncompressible = errors.New("data is incompressible")

// Compress compresses data with the given algorithm. For
// CompressionNone the input is returned unchanged.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return nil, errIncompressible
		}
		return dst[:n], nil
	case CompressionZstd:
		zstdOnce.Do(zstdInit)
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses Compress. The uncompressedSize must match the
// original length exactly.
func Decompress(data []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(data) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d",
				len(data), uncompressedSize)
		}
		return data, nil
	case CompressionLZ4:
		dst := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, uncompressedSize)
		}
		return dst, nil
	case CompressionZstd:
		zstdOnce.Do(zstdInit)
		out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), uncompressedSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// SelectCompression probes data with zstd and picks a tag by ratio:
// zstd above 1.5x, LZ4 between 1.1x and 1.5x, none below.
func SelectCompression(data []byte) CompressionTag {
	if len(data) == 0 {
		return CompressionNone
	}
	zstdOnce.Do(zstdInit)
	probe := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(probe))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Payload frame layout: 1 byte compression tag, 8 bytes little-endian
// uncompressed size, then the (possibly compressed) bytes. Payload files
// are self-describing so no resource table is needed to read one back.
const payloadHeaderSize = 1 + 8

// WritePayloadFile writes data as a payload frame at path, choosing the
// compression by probe. Returns the tag used.
func WritePayloadFile(path string, data []byte) (CompressionTag, error) {
	tag := SelectCompression(data)
	packed, err := Compress(data, tag)
	if errors.Is(err, errIncompressible) {
		tag = CompressionNone
		packed = data
	} else if err != nil {
		return 0, err
	}

	hdr := make([]byte, payloadHeaderSize)
	hdr[0] = byte(tag)
	binary.LittleEndian.PutUint64(hdr[1:], uint64(len(data)))

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return 0, err
	}
	if _, err := f.Write(packed); err != nil {
		f.Close()
		return 0, err
	}
	return tag, f.Close()
}

// ReadPayloadFile reads back a payload frame written by WritePayloadFile
// and returns the uncompressed bytes.
func ReadPayloadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < payloadHeaderSize {
		return nil, fmt.Errorf("payload file %s: truncated header", path)
	}
	tag := CompressionTag(raw[0])
	size := binary.LittleEndian.Uint64(raw[1:payloadHeaderSize])
	return Decompress(raw[payloadHeaderSize:], tag, int(size))
}

// OpenPayload returns a reader over the uncompressed bytes of a payload
// file. Decompression is not streamed; payloads are read fully.
func OpenPayload(path string) (io.ReadCloser, error) {
	data, err := ReadPayloadFile(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
