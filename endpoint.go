package courier

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/wire"
)

// Endpoint is the public half of an addressable identity: a signing
// public key, an encryption public key, and the inbox URL notifications
// are deposited at. Immutable once populated; identity is the
// thumbprint of the signing key.
type Endpoint struct {
	SigningPublicKey         []byte `cbor:"1,keyasint"`
	EncryptionPublicKey      []byte `cbor:"2,keyasint"`
	MessageReceivingEndpoint string `cbor:"3,keyasint,omitempty"`
}

// Thumbprint returns the URL-safe identity string for this endpoint.
func (e *Endpoint) Thumbprint(provider crypto.Provider) string {
	return provider.Thumbprint(e.SigningPublicKey)
}

// OwnEndpoint is an Endpoint together with its private key material and
// the inbox owner secret. Private material leaves the process only
// through Save.
type OwnEndpoint struct {
	Public               Endpoint
	SigningPrivateKey    []byte
	EncryptionPrivateKey []byte
	InboxOwnerCode       string
}

// NewOwnEndpoint generates fresh signing and encryption key pairs for a
// new identity. The inbox URL and owner code are populated later by
// Channel.CreateInbox.
func NewOwnEndpoint() (*OwnEndpoint, error) {
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key pair: %w", err)
	}
	encryption, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate encryption key pair: %w", err)
	}

	own := &OwnEndpoint{
		Public: Endpoint{
			SigningPublicKey:    append([]byte(nil), signing.Public[:]...),
			EncryptionPublicKey: append([]byte(nil), encryption.Public[:]...),
		},
		SigningPrivateKey:    append([]byte(nil), signing.Private[:]...),
		EncryptionPrivateKey: append([]byte(nil), encryption.Private[:]...),
	}

	crypto.WipeSigningKeyPair(signing)
	crypto.WipeKeyPair(encryption)

	logrus.WithFields(logrus.Fields{
		"function":           "NewOwnEndpoint",
		"package":            "courier",
		"signing_pub_prefix": fmt.Sprintf("%x", own.Public.SigningPublicKey[:8]),
	}).Info("Generated new endpoint identity")

	return own, nil
}

// Wipe erases the endpoint's private key material.
func (o *OwnEndpoint) Wipe() {
	crypto.ZeroBytes(o.SigningPrivateKey)
	crypto.ZeroBytes(o.EncryptionPrivateKey)
}

// ownEndpointRecord is the persisted form of an OwnEndpoint. Field keys
// are frozen; new fields get new keys so old saves keep loading.
type ownEndpointRecord struct {
	Version              int    `cbor:"1,keyasint"`
	SigningPublicKey     []byte `cbor:"2,keyasint"`
	EncryptionPublicKey  []byte `cbor:"3,keyasint"`
	SigningPrivateKey    []byte `cbor:"4,keyasint"`
	EncryptionPrivateKey []byte `cbor:"5,keyasint"`
	InboxURL             string `cbor:"6,keyasint,omitempty"`
	InboxOwnerCode       string `cbor:"7,keyasint,omitempty"`
}

const ownEndpointVersion = 1

// Save writes the private endpoint to sink as one framed record.
func (o *OwnEndpoint) Save(sink io.Writer) error {
	record := ownEndpointRecord{
		Version:              ownEndpointVersion,
		SigningPublicKey:     o.Public.SigningPublicKey,
		EncryptionPublicKey:  o.Public.EncryptionPublicKey,
		SigningPrivateKey:    o.SigningPrivateKey,
		EncryptionPrivateKey: o.EncryptionPrivateKey,
		InboxURL:             o.Public.MessageReceivingEndpoint,
		InboxOwnerCode:       o.InboxOwnerCode,
	}

	data, err := wire.MarshalRecord(&record)
	if err != nil {
		return fmt.Errorf("failed to serialize endpoint: %w", err)
	}
	defer crypto.ZeroBytes(data)

	if err := wire.WriteSizeAndBuffer(sink, data); err != nil {
		return fmt.Errorf("failed to write endpoint: %w", err)
	}
	return nil
}

// OpenOwnEndpoint reads a private endpoint previously written by Save.
// Any deserialization failure is Malformed.
func OpenOwnEndpoint(source io.Reader) (*OwnEndpoint, error) {
	data, err := wire.ReadSizeAndBuffer(source, 0)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(data)

	var record ownEndpointRecord
	if err := wire.UnmarshalRecord(data, &record); err != nil {
		return nil, err
	}

	if record.Version != ownEndpointVersion {
		return nil, fmt.Errorf("%w: unsupported endpoint version %d", wire.ErrMalformed, record.Version)
	}
	if len(record.SigningPublicKey) == 0 || len(record.SigningPrivateKey) == 0 ||
		len(record.EncryptionPublicKey) == 0 || len(record.EncryptionPrivateKey) == 0 {
		return nil, fmt.Errorf("%w: endpoint record missing key material", wire.ErrMalformed)
	}

	return &OwnEndpoint{
		Public: Endpoint{
			SigningPublicKey:         record.SigningPublicKey,
			EncryptionPublicKey:      record.EncryptionPublicKey,
			MessageReceivingEndpoint: record.InboxURL,
		},
		SigningPrivateKey:    append([]byte(nil), record.SigningPrivateKey...),
		EncryptionPrivateKey: append([]byte(nil), record.EncryptionPrivateKey...),
		InboxOwnerCode:       record.InboxOwnerCode,
	}, nil
}
