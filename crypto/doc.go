// Package crypto implements the cryptographic capability for the courier
// secure channel.
//
// The channel consumes the Provider interface; the default NaClProvider
// implements it with NaCl sealed boxes for asymmetric encryption, NaCl
// secretbox for symmetric authenticated encryption, Ed25519 signatures,
// and SHA-256 hashing, using Go's x/crypto packages.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
