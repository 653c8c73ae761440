package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// Sizes of the NaCl primitives this provider is built on.
const (
	// SymmetricKeySize is the secretbox key length in bytes.
	SymmetricKeySize = 32
	// NonceSize is the secretbox nonce length in bytes.
	NonceSize = 24
	// MaxPlaintextSize bounds a single encryption call (16 MiB) to
	// prevent excessive memory usage.
	MaxPlaintextSize = 16 << 20
)

// NaClProvider implements Provider with NaCl sealed boxes (asymmetric),
// NaCl secretbox (symmetric, authenticated), Ed25519 (signatures), and
// SHA-256 (hashing).
type NaClProvider struct{}

// NewNaClProvider returns the default cryptographic provider.
func NewNaClProvider() *NaClProvider {
	return &NaClProvider{}
}

// EncryptAsymmetric seals plaintext to a recipient's curve25519 public
// key using an ephemeral sender key (NaCl sealed box). Nothing about the
// sender is needed to open it, which is what a store-and-forward channel
// requires.
func (p *NaClProvider) EncryptAsymmetric(recipientPublic, plaintext []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":       "EncryptAsymmetric",
		"package":        "crypto",
		"plaintext_size": len(plaintext),
	})

	if len(recipientPublic) != 32 {
		logger.WithFields(logrus.Fields{
			"key_size":   len(recipientPublic),
			"error_type": "validation_failed",
		}).Error("Asymmetric encryption failed: recipient key must be 32 bytes")
		return nil, fmt.Errorf("%w: recipient public key is %d bytes", ErrInvalidKeySize, len(recipientPublic))
	}
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, errors.New("plaintext too large")
	}

	var pub [32]byte
	copy(pub[:], recipientPublic)

	logger.WithFields(logrus.Fields{
		"operation":  "nacl_box_seal_anonymous",
		"crypto_lib": "golang.org/x/crypto/nacl/box",
	}).Debug("Sealing plaintext to recipient public key")

	sealed, err := box.SealAnonymous(nil, plaintext, &pub, rand.Reader)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":      err.Error(),
			"error_type": "seal_failed",
		}).Error("Failed to seal plaintext")
		return nil, err
	}
	return sealed, nil
}

// DecryptAsymmetric opens a sealed box with the recipient's private key.
// The matching public key is derived from the private scalar.
func (p *NaClProvider) DecryptAsymmetric(recipientPrivate, ciphertext []byte) ([]byte, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":        "DecryptAsymmetric",
		"package":         "crypto",
		"ciphertext_size": len(ciphertext),
	})

	if len(recipientPrivate) != 32 {
		return nil, fmt.Errorf("%w: recipient private key is %d bytes", ErrInvalidKeySize, len(recipientPrivate))
	}

	var priv, pub [32]byte
	copy(priv[:], recipientPrivate)
	curve25519.ScalarBaseMult(&pub, &priv)

	plain, ok := box.OpenAnonymous(nil, ciphertext, &pub, &priv)
	ZeroBytes(priv[:])
	if !ok {
		logger.WithFields(logrus.Fields{
			"error_type": "open_failed",
			"operation":  "nacl_box_open_anonymous",
		}).Warn("Sealed box failed to open")
		return nil, fmt.Errorf("%w: sealed box rejected", ErrDecryptionFailed)
	}
	return plain, nil
}

// Sign produces an Ed25519 signature with a 32-byte private seed.
func (p *NaClProvider) Sign(signingPrivate, message []byte) ([]byte, error) {
	if len(signingPrivate) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: signing private key is %d bytes", ErrInvalidKeySize, len(signingPrivate))
	}
	var seed [32]byte
	copy(seed[:], signingPrivate)
	sig, err := Sign(message, seed)
	ZeroBytes(seed[:])
	return sig, err
}

// Verify checks an Ed25519 signature.
func (p *NaClProvider) Verify(signingPublic, message, signature []byte) error {
	if len(signingPublic) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: signing public key is %d bytes", ErrInvalidKeySize, len(signingPublic))
	}
	var pub [32]byte
	copy(pub[:], signingPublic)
	ok, err := VerifySignature(message, signature, pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !ok {
		return ErrSignatureInvalid
	}
	return nil
}

// EncryptSymmetric encrypts plaintext under a fresh one-time key and
// nonce using NaCl secretbox, which authenticates as well as encrypts.
func (p *NaClProvider) EncryptSymmetric(plaintext []byte) (*SymmetricResult, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":       "EncryptSymmetric",
		"package":        "crypto",
		"plaintext_size": len(plaintext),
	})

	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	if len(plaintext) > MaxPlaintextSize {
		return nil, errors.New("plaintext too large")
	}

	var key [SymmetricKeySize]byte
	var nonce [NonceSize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		ZeroBytes(key[:])
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"operation":  "secretbox_seal",
		"crypto_lib": "golang.org/x/crypto/nacl/secretbox",
	}).Debug("Performing symmetric authenticated encryption")

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &key)

	result := &SymmetricResult{
		Key:        append([]byte(nil), key[:]...),
		IV:         append([]byte(nil), nonce[:]...),
		Ciphertext: ciphertext,
	}
	ZeroBytes(key[:])

	logger.WithFields(logrus.Fields{
		"ciphertext_size": len(ciphertext),
		"overhead_bytes":  len(ciphertext) - len(plaintext),
		"operation":       "symmetric_encryption_success",
	}).Debug("Plaintext encrypted with one-time key")

	return result, nil
}

// DecryptSymmetric opens a secretbox ciphertext with the given key and
// nonce. Authentication failure is ErrDecryptionFailed.
func (p *NaClProvider) DecryptSymmetric(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != SymmetricKeySize {
		return nil, fmt.Errorf("%w: symmetric key is %d bytes", ErrInvalidKeySize, len(key))
	}
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrInvalidNonceSize, len(iv))
	}

	var k [SymmetricKeySize]byte
	var nonce [NonceSize]byte
	copy(k[:], key)
	copy(nonce[:], iv)

	plain, ok := secretbox.Open(nil, ciphertext, &nonce, &k)
	ZeroBytes(k[:])
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":        "DecryptSymmetric",
			"package":         "crypto",
			"ciphertext_size": len(ciphertext),
			"error_type":      "authentication_failed",
		}).Warn("Secretbox failed to authenticate")
		return nil, fmt.Errorf("%w: secretbox rejected", ErrDecryptionFailed)
	}
	return plain, nil
}

// Hash computes the SHA-256 digest of data.
func (p *NaClProvider) Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Thumbprint returns base64url(SHA-256(signingPublic)), the identity
// string appended as the fragment of published address-book URLs.
func (p *NaClProvider) Thumbprint(signingPublic []byte) string {
	return base64.RawURLEncoding.EncodeToString(p.Hash(signingPublic))
}
