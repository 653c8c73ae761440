package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutAndServe(t *testing.T) {
	store := NewMemoryStore("")
	srv := httptest.NewServer(store)
	defer srv.Close()
	store.SetBaseURL(srv.URL)

	content := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	location, err := store.Put(context.Background(), content, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, srv.URL))

	resp, err := http.Get(location)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore("")
	srv := httptest.NewServer(store)
	defer srv.Close()
	store.SetBaseURL(srv.URL)

	location, err := store.Put(context.Background(), []byte("soon gone"), time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)

	resp, err := http.Get(location)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "expired blob should 404")

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreRejectsEmpty(t *testing.T) {
	store := NewMemoryStore("http://blobs.example")
	_, err := store.Put(context.Background(), nil, time.Now().UTC().Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestMemoryStoreUnknownName(t *testing.T) {
	store := NewMemoryStore("")
	srv := httptest.NewServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/no-such-blob")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMemoryStoreObservesCancel(t *testing.T) {
	store := NewMemoryStore("http://blobs.example")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, []byte("x"), time.Now().UTC().Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}
