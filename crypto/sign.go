package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// SigningKeyPair holds an Ed25519 identity. Private is the 32-byte seed;
// the full 64-byte ed25519 key is derived on demand.
type SigningKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateSigningKeyPair creates a new random Ed25519 signing key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	kp := signingKeyPairFromSeed(seed)
	ZeroBytes(seed[:])
	return kp, nil
}

// SigningKeyPairFromSeed derives the signing key pair for an existing
// 32-byte seed.
func SigningKeyPairFromSeed(seed [32]byte) (*SigningKeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid signing seed: all zeros")
	}
	return signingKeyPairFromSeed(seed), nil
}

func signingKeyPairFromSeed(seed [32]byte) *SigningKeyPair {
	edPrivate := ed25519.NewKeyFromSeed(seed[:])
	kp := &SigningKeyPair{}
	copy(kp.Public[:], edPrivate.Public().(ed25519.PublicKey))
	kp.Private = seed
	return kp
}

// Sign creates an Ed25519 signature for a message using the 32-byte
// private seed.
func Sign(message []byte, privateKey [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}

	// Ed25519 private keys are 64 bytes (32 bytes seed + 32 bytes public key)
	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])
	return ed25519.Sign(edPrivateKey, message), nil
}

// VerifySignature checks if a signature is valid for a message and public key.
func VerifySignature(message, signature []byte, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}
	if len(signature) != SignatureSize {
		return false, errors.New("invalid signature length")
	}
	return ed25519.Verify(publicKey[:], message, signature), nil
}
