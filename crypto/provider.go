package crypto

import "errors"

// Common provider errors
var (
	// ErrInvalidKeySize indicates a key of the wrong length was supplied
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize indicates an IV of the wrong length was supplied
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrDecryptionFailed indicates ciphertext failed to authenticate or decrypt
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrSignatureInvalid indicates a signature did not verify
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// SymmetricResult carries the output of a one-shot symmetric encryption.
// Key and IV are fresh per call and appear on the wire only inside
// encrypted notifications.
type SymmetricResult struct {
	Key        []byte
	IV         []byte
	Ciphertext []byte
}

// Wipe erases the key material held by the result.
func (r *SymmetricResult) Wipe() {
	if r == nil {
		return
	}
	ZeroBytes(r.Key)
	ZeroBytes(r.IV)
}

// Provider is the cryptographic capability consumed by the secure
// channel. The channel treats all keys, IVs, and ciphertexts opaquely;
// algorithm choice belongs to the provider. Implementations must use
// authenticated symmetric encryption: the channel's outer signature does
// not protect the payload blob beyond the hash check.
type Provider interface {
	// EncryptAsymmetric encrypts plaintext so only the holder of the
	// private half of recipientPublic can read it.
	EncryptAsymmetric(recipientPublic, plaintext []byte) ([]byte, error)

	// DecryptAsymmetric inverts EncryptAsymmetric using the recipient's
	// private key.
	DecryptAsymmetric(recipientPrivate, ciphertext []byte) ([]byte, error)

	// Sign produces a detached signature over message.
	Sign(signingPrivate, message []byte) ([]byte, error)

	// Verify checks a detached signature; returns ErrSignatureInvalid on
	// mismatch.
	Verify(signingPublic, message, signature []byte) error

	// EncryptSymmetric encrypts plaintext under a freshly generated
	// one-time key and IV.
	EncryptSymmetric(plaintext []byte) (*SymmetricResult, error)

	// DecryptSymmetric inverts EncryptSymmetric.
	DecryptSymmetric(key, iv, ciphertext []byte) ([]byte, error)

	// Hash computes the content hash used for payload binding.
	Hash(data []byte) []byte

	// Thumbprint returns the URL-safe identity string for a signing
	// public key: base64url of its hash.
	Thumbprint(signingPublic []byte) string
}
