// Package courier implements an end-to-end encrypted, asynchronous
// secure channel between independently-addressable endpoints that never
// need to be online at the same time.
//
// A sender encrypts a payload under a one-time symmetric key, uploads
// the ciphertext to a content store, and deposits a small encrypted,
// signed "payload reference" notification into each recipient's inbox
// on an untrusted relay. Recipients poll their inbox, decrypt each
// notification, verify its signature and recipient binding, fetch and
// hash-check the payload blob, and delete the inbox item when done.
//
// The cryptographic provider, blob store, and relay are capabilities
// passed in by the caller; see the crypto, blob, and relay packages for
// the default implementations.
//
// Example:
//
//	alice, _ := courier.NewOwnEndpoint()
//	ch, _ := courier.NewChannel(alice, crypto.NewNaClProvider(), store, relayClient, nil)
//	ch.CreateInbox(ctx, "https://relay.example.com")
//	ch.Post(ctx, &courier.Payload{Content: data}, []*courier.Endpoint{&bob}, expires)
package courier
