package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBufferSize is the framing ceiling applied when a caller does
// not configure one. Any size-and-buffer whose declared length exceeds
// the ceiling is rejected before allocation.
const DefaultMaxBufferSize = 16 << 20 // 16 MiB

// Common framing errors
var (
	// ErrMalformed indicates framing, length-ceiling, or deserialization
	// failure on untrusted input
	ErrMalformed = errors.New("malformed data")

	// ErrBufferTooLarge indicates a declared length above the framing ceiling
	ErrBufferTooLarge = fmt.Errorf("%w: declared buffer exceeds ceiling", ErrMalformed)

	// ErrTruncated indicates the stream ended before the declared length
	ErrTruncated = fmt.Errorf("%w: truncated buffer", ErrMalformed)
)

// WriteSizeAndBuffer writes buf as a size-and-buffer: a 4-byte
// little-endian length followed by the bytes themselves.
func WriteSizeAndBuffer(w io.Writer, buf []byte) error {
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(buf)))
	if _, err := w.Write(size[:]); err != nil {
		return fmt.Errorf("failed to write buffer length: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write buffer: %w", err)
	}
	return nil
}

// ReadSizeAndBuffer reads one size-and-buffer from r. The declared
// length is checked against maxSize before any allocation happens; a
// zero maxSize selects DefaultMaxBufferSize.
func ReadSizeAndBuffer(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxBufferSize
	}

	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, fmt.Errorf("%w: reading buffer length: %v", ErrMalformed, err)
	}

	length := binary.LittleEndian.Uint32(size[:])
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBufferTooLarge, length, maxSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: declared %d bytes: %v", ErrTruncated, length, err)
	}
	return buf, nil
}

// WriteInt64LE writes v as 8 little-endian bytes. Used for the
// notification creation timestamp.
func WriteInt64LE(w io.Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("failed to write int64: %w", err)
	}
	return nil
}

// ReadInt64LE reads 8 little-endian bytes as a signed 64-bit integer.
func ReadInt64LE(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: reading int64: %v", ErrMalformed, err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// ReadRemaining drains the rest of r, refusing to grow past maxSize.
// Used for the trailing signed region of a notification, whose length
// is implied by the enclosing buffer rather than a prefix.
func ReadRemaining(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxBufferSize
	}
	buf, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading trailing bytes: %v", ErrMalformed, err)
	}
	if len(buf) > int(maxSize) {
		return nil, fmt.Errorf("%w: trailing region exceeds %d", ErrBufferTooLarge, maxSize)
	}
	return buf, nil
}
