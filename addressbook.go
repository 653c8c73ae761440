package courier

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/wire"
)

// AddressBookEntry is a signed, publishable record of a public
// Endpoint. Consumers verify the signature against the signing key
// embedded in the serialized endpoint, then check the thumbprint
// fragment of the URL they resolved.
type AddressBookEntry struct {
	SerializedEndpoint []byte `cbor:"1,keyasint"`
	Signature          []byte `cbor:"2,keyasint"`
}

// CreateAddressBookEntry serializes own's public endpoint and signs the
// resulting bytes with the signing private key.
func CreateAddressBookEntry(own *OwnEndpoint, provider crypto.Provider) (*AddressBookEntry, error) {
	endpointBytes, err := wire.MarshalRecord(&own.Public)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize endpoint: %w", err)
	}

	signature, err := provider.Sign(own.SigningPrivateKey, endpointBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign endpoint: %w", err)
	}

	return &AddressBookEntry{
		SerializedEndpoint: endpointBytes,
		Signature:          signature,
	}, nil
}

// Encode returns the base64url wire form of the entry, the string that
// gets published.
func (e *AddressBookEntry) Encode() (string, error) {
	data, err := wire.MarshalRecord(e)
	if err != nil {
		return "", fmt.Errorf("failed to serialize address book entry: %w", err)
	}
	return wire.EncodeBase64URL(data), nil
}

// ParseAddressBookEntry decodes a published entry string and verifies
// its signature under the embedded signing key. When
// expectedThumbprint is non-empty (the fragment of the URL the entry
// was resolved from), the embedded identity must match it.
func ParseAddressBookEntry(provider crypto.Provider, encoded, expectedThumbprint string) (*Endpoint, error) {
	data, err := wire.DecodeBase64URL(encoded)
	if err != nil {
		return nil, err
	}

	var entry AddressBookEntry
	if err := wire.UnmarshalRecord(data, &entry); err != nil {
		return nil, err
	}

	var endpoint Endpoint
	if err := wire.UnmarshalRecord(entry.SerializedEndpoint, &endpoint); err != nil {
		return nil, err
	}

	if err := provider.Verify(endpoint.SigningPublicKey, entry.SerializedEndpoint, entry.Signature); err != nil {
		return nil, newInvalidMessage(SubcodeBadSignature, err)
	}

	if expectedThumbprint != "" {
		actual := provider.Thumbprint(endpoint.SigningPublicKey)
		if actual != expectedThumbprint {
			return nil, newInvalidMessage(SubcodeMisdirected,
				fmt.Errorf("address book entry thumbprint %s does not match expected %s", actual, expectedThumbprint))
		}
	}

	return &endpoint, nil
}

// PublishedAddressBookURL appends the identity fragment to the URL an
// entry was published at and runs it through the shortener, so
// consumers can verify they resolved the intended identity. A nil
// shortener publishes the long form.
func PublishedAddressBookURL(ctx context.Context, shortener Shortener, entryURL string, own *OwnEndpoint, provider crypto.Provider) (string, error) {
	if shortener == nil {
		shortener = NoopShortener{}
	}

	short, err := shortener.Shorten(ctx, entryURL)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "PublishedAddressBookURL",
			"package":  "courier",
			"url":      entryURL,
			"error":    err.Error(),
		}).Warn("URL shortener failed, publishing long form")
		short = entryURL
	}

	return short + "#" + own.Public.Thumbprint(provider), nil
}
