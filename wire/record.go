package wire

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Records are CBOR maps with integer keys (struct tags `cbor:"N,keyasint"`)
// encoded in core-deterministic mode, so a record's byte form is a pure
// function of its field values. Decoding forbids indefinite lengths and
// duplicate keys and bounds nesting, since record bytes arrive from
// untrusted peers.
var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building record encoder: %v", err))
	}
	recordEncMode = em

	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building record decoder: %v", err))
	}
	recordDecMode = dm
}

// MarshalRecord serializes v into its canonical record form.
func MarshalRecord(v interface{}) ([]byte, error) {
	data, err := recordEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord deserializes one record from data into v. The input
// must be exactly one record; trailing bytes are Malformed.
func UnmarshalRecord(data []byte, v interface{}) error {
	if err := recordDecMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding record: %v", ErrMalformed, err)
	}
	return nil
}

// RecordDecoder reads consecutive records from a stream. CBOR items are
// self-delimiting, so records can be concatenated without extra framing.
type RecordDecoder struct {
	dec *cbor.Decoder
}

// NewRecordDecoder wraps r for sequential record reads.
func NewRecordDecoder(r io.Reader) *RecordDecoder {
	return &RecordDecoder{dec: recordDecMode.NewDecoder(r)}
}

// Decode reads the next record from the stream into v.
func (d *RecordDecoder) Decode(v interface{}) error {
	if err := d.dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decoding record from stream: %v", ErrMalformed, err)
	}
	return nil
}

// EncodeBase64URL returns the unpadded URL-safe base64 form of data.
// Used for published address-book entries and key thumbprints.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeBase64URL decodes an unpadded URL-safe base64 string.
func DecodeBase64URL(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64url: %v", ErrMalformed, err)
	}
	return data, nil
}
