package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
	Count int64  `cbor:"3,keyasint"`
}

func TestRecordRoundTrip(t *testing.T) {
	in := testRecord{Name: "alpha", Data: []byte{0xDE, 0xAD}, Count: 42}

	data, err := MarshalRecord(&in)
	require.NoError(t, err)

	var out testRecord
	require.NoError(t, UnmarshalRecord(data, &out))
	assert.Equal(t, in, out)
}

func TestRecordDeterministic(t *testing.T) {
	// Identical values must produce identical bytes, independent of
	// marshal order or instance.
	a := testRecord{Name: "peer", Data: []byte{1, 2, 3}, Count: -7}
	b := testRecord{Name: "peer", Data: []byte{1, 2, 3}, Count: -7}

	first, err := MarshalRecord(&a)
	require.NoError(t, err)
	second, err := MarshalRecord(&b)
	require.NoError(t, err)
	again, err := MarshalRecord(&a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, again)
}

func TestRecordDecoderStream(t *testing.T) {
	// Records are self-delimiting and can be concatenated with no
	// extra framing.
	var stream bytes.Buffer
	for _, r := range []testRecord{
		{Name: "one", Count: 1},
		{Name: "two", Count: 2},
	} {
		data, err := MarshalRecord(&r)
		require.NoError(t, err)
		stream.Write(data)
	}

	dec := NewRecordDecoder(&stream)
	var first, second testRecord
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "one", first.Name)
	assert.Equal(t, "two", second.Name)
}

func TestRecordMalformed(t *testing.T) {
	var out testRecord
	err := UnmarshalRecord([]byte{0xFF, 0xFF, 0xFF}, &out)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestBase64URLRoundTrip(t *testing.T) {
	data := []byte{0x00, 0xFF, 0x7E, 0x3F, 0xFB}

	encoded := EncodeBase64URL(data)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")
	assert.NotContains(t, encoded, "=")

	decoded, err := DecodeBase64URL(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)

	_, err = DecodeBase64URL("not!base64!")
	assert.ErrorIs(t, err, ErrMalformed)
}
