package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HTTPStore uploads blobs to a remote store over HTTP: PUT
// {base}/{name}?lifetime=<minutes>. The remote returns 2xx and the
// blob becomes fetchable at the same URL. The reference relay server
// exposes a conforming endpoint under /blob.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore creates a client for the remote blob store at baseURL.
// A nil client selects http.DefaultClient.
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Put uploads content and returns its absolute URL.
func (s *HTTPStore) Put(ctx context.Context, content []byte, expiresUTC time.Time) (string, error) {
	if len(content) == 0 {
		return "", ErrEmptyContent
	}

	lifetime := int64(time.Until(expiresUTC).Minutes())
	if lifetime < 0 {
		lifetime = 0
	}

	location := s.baseURL + "/" + uuid.NewString() + "?lifetime=" + strconv.FormatInt(lifetime, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("blob upload failed: status %d", resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"function":         "Put",
		"package":          "blob",
		"store":            "http",
		"size_bytes":       len(content),
		"lifetime_minutes": lifetime,
	}).Debug("Uploaded blob to remote store")

	// The fetch URL is the upload URL without the lifetime parameter
	fetchURL, _, _ := strings.Cut(location, "?")
	return fetchURL, nil
}
