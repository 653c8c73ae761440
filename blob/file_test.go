package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T) (*FileStore, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	store, err := NewFileStore(dir, "")
	require.NoError(t, err)

	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	store.baseURL = srv.URL

	return store, srv
}

func TestFileStorePutAndServe(t *testing.T) {
	store, _ := newTestFileStore(t)

	content := []byte("payload ciphertext")
	location, err := store.Put(context.Background(), content, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	resp, err := http.Get(location)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestFileStoreSweepRemovesExpired(t *testing.T) {
	store, _ := newTestFileStore(t)

	_, err := store.Put(context.Background(), []byte("stale"), time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	_, err = store.Put(context.Background(), []byte("fresh"), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, store.Sweep())

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one blob file should remain on disk")
}

func TestFileStoreCapacity(t *testing.T) {
	store, _ := newTestFileStore(t)
	store.maxBytes = 8

	_, err := store.Put(context.Background(), []byte("this does not fit in eight bytes"), time.Now().UTC().Add(time.Hour))
	assert.ErrorIs(t, err, ErrStoreFull)
}

func TestFileStoreCapacityRecoveredBySweep(t *testing.T) {
	store, _ := newTestFileStore(t)
	store.maxBytes = 16

	// An expired blob holds the capacity until the next sweep; Put
	// sweeps before giving up.
	_, err := store.Put(context.Background(), []byte("0123456789"), time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)

	_, err = store.Put(context.Background(), []byte("0123456789"), time.Now().UTC().Add(time.Hour))
	assert.NoError(t, err)
}

func TestFileStoreRejectsTraversalNames(t *testing.T) {
	_, srv := newTestFileStore(t)

	resp, err := http.Get(srv.URL + "/..%2F..%2Fetc%2Fpasswd")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
