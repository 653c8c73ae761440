package courier

import (
	"time"

	"github.com/opd-ai/courier/crypto"
)

// Payload carries opaque application bytes. PayloadReferenceURI is set
// by the receiver after decryption to the inbox-item URL the
// notification was fetched from, and is what DeleteInboxItem uses to
// acknowledge the message.
type Payload struct {
	Content []byte `cbor:"1,keyasint"`

	// PayloadReferenceURI is receiver-side state, not part of the wire form.
	PayloadReferenceURI string `cbor:"-"`
}

// PayloadReference is the compact pointer that, once decrypted from a
// notification, lets a recipient fetch and open a payload blob: where
// the ciphertext lives, the hash that pins it, the one-time key and IV
// that open it, and when it expires.
type PayloadReference struct {
	Location         string `cbor:"1,keyasint"`
	Hash             []byte `cbor:"2,keyasint"`
	Key              []byte `cbor:"3,keyasint"`
	IV               []byte `cbor:"4,keyasint"`
	ExpiresUnixMilli int64  `cbor:"5,keyasint"`

	// ReferenceLocation is populated by the receiver with the inbox URL
	// the notification was fetched from; not part of the wire form.
	ReferenceLocation string `cbor:"-"`
}

// Expires returns the reference's expiry as a UTC timestamp.
func (r *PayloadReference) Expires() time.Time {
	return time.UnixMilli(r.ExpiresUnixMilli).UTC()
}

// Wipe erases the one-time key material held by the reference.
func (r *PayloadReference) Wipe() {
	if r == nil {
		return
	}
	crypto.ZeroBytes(r.Key)
	crypto.ZeroBytes(r.IV)
}
