// Package blob implements the content store capability for encrypted
// payload blobs.
//
// A Store uploads opaque ciphertext with an expiry and returns the
// absolute URL the ciphertext can later be fetched from. Three
// implementations are provided: an in-memory store (tests, loopback), a
// filesystem store with a disk-capacity guard, and a client for a
// remote HTTP store. The memory and filesystem stores double as
// http.Handlers so the blobs they hold are fetchable over HTTP.
package blob
