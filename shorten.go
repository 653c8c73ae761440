package courier

import "context"

// Shortener is the URL-shortening capability applied to published
// address-book URLs. It is thin glue: implementations call whatever
// shortening service a deployment uses.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
}

// NoopShortener returns URLs unchanged.
type NoopShortener struct{}

// Shorten returns longURL as-is.
func (NoopShortener) Shorten(_ context.Context, longURL string) (string, error) {
	return longURL, nil
}
