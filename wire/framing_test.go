package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestSizeAndBufferRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0xDE, 0xAD, 0xBE, 0xEF},
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, payload := range cases {
		var buf bytes.Buffer
		if err := WriteSizeAndBuffer(&buf, payload); err != nil {
			t.Fatalf("WriteSizeAndBuffer failed: %v", err)
		}

		got, err := ReadSizeAndBuffer(&buf, 0)
		if err != nil {
			t.Fatalf("ReadSizeAndBuffer failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch: wrote %d bytes, read %d", len(payload), len(got))
		}
	}
}

func TestSizeAndBufferCeiling(t *testing.T) {
	// A declared length far above the ceiling must fail before any
	// allocation of the declared size.
	var frame bytes.Buffer
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], 0xFFFFFFFF)
	frame.Write(size[:])
	frame.Write([]byte{0x00})

	_, err := ReadSizeAndBuffer(&frame, 1024)
	if !errors.Is(err, ErrBufferTooLarge) {
		t.Fatalf("expected ErrBufferTooLarge, got %v", err)
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatal("ceiling violation should be Malformed")
	}
}

func TestSizeAndBufferTruncated(t *testing.T) {
	var frame bytes.Buffer
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], 100)
	frame.Write(size[:])
	frame.Write([]byte{0x01, 0x02}) // only 2 of the declared 100 bytes

	_, err := ReadSizeAndBuffer(&frame, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestSizeAndBufferEmptyStream(t *testing.T) {
	_, err := ReadSizeAndBuffer(bytes.NewReader(nil), 0)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed on empty stream, got %v", err)
	}
}

func TestInt64RoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 1700000000000, -9223372036854775808, 9223372036854775807}

	for _, v := range values {
		var buf bytes.Buffer
		if err := WriteInt64LE(&buf, v); err != nil {
			t.Fatalf("WriteInt64LE(%d) failed: %v", v, err)
		}
		got, err := ReadInt64LE(&buf)
		if err != nil {
			t.Fatalf("ReadInt64LE failed: %v", err)
		}
		if got != v {
			t.Errorf("round trip mismatch: wrote %d, read %d", v, got)
		}
	}
}

func TestInt64Truncated(t *testing.T) {
	_, err := ReadInt64LE(bytes.NewReader([]byte{0x01, 0x02, 0x03}))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReadRemainingBounded(t *testing.T) {
	data := bytes.Repeat([]byte{0x55}, 64)

	got, err := ReadRemaining(bytes.NewReader(data), 128)
	if err != nil {
		t.Fatalf("ReadRemaining failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("ReadRemaining did not return the full stream")
	}

	_, err = ReadRemaining(bytes.NewReader(data), 32)
	if !errors.Is(err, ErrBufferTooLarge) {
		t.Fatalf("expected ErrBufferTooLarge, got %v", err)
	}
}
