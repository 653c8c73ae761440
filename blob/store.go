package blob

import (
	"context"
	"errors"
	"time"
)

// Common store errors
var (
	// ErrNotFound indicates the named blob does not exist or has expired
	ErrNotFound = errors.New("blob not found")

	// ErrStoreFull indicates the store refused an upload for capacity reasons
	ErrStoreFull = errors.New("blob store full")

	// ErrEmptyContent indicates an upload with no bytes
	ErrEmptyContent = errors.New("empty blob content")
)

// Store is the capability for publishing encrypted payload blobs. Put
// uploads opaque bytes that expire at expiresUTC and returns the
// absolute URL they can be fetched from. Stores never see plaintext;
// cleanup after expiry is the store's own responsibility.
type Store interface {
	Put(ctx context.Context, content []byte, expiresUTC time.Time) (string, error)
}
