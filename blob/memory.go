package blob

import (
	"context"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryStore keeps blobs in process memory, keyed by random names. It
// serves the blobs it holds as an http.Handler: GET /<name> returns the
// bytes or 404 once the blob has expired.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	content []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store. The base URL names
// where the store's handler is mounted and prefixes every returned
// location; it may be set later with SetBaseURL when the listener
// address is not known yet.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

// SetBaseURL rebinds the store to a new public base URL. Call before
// any Put; locations already handed out are not rewritten.
func (s *MemoryStore) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = strings.TrimSuffix(baseURL, "/")
}

// Put stores content under a fresh random name until expiresUTC.
func (s *MemoryStore) Put(ctx context.Context, content []byte, expiresUTC time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", ErrEmptyContent
	}

	name := uuid.NewString()
	stored := make([]byte, len(content))
	copy(stored, content)

	s.mu.Lock()
	s.objects[name] = memoryObject{content: stored, expires: expiresUTC}
	base := s.baseURL
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Put",
		"package":    "blob",
		"store":      "memory",
		"name":       name,
		"size_bytes": len(content),
		"expires":    expiresUTC,
	}).Debug("Stored blob in memory")

	return base + "/" + name, nil
}

// ServeHTTP serves GET requests for stored blobs.
func (s *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Base(r.URL.Path)

	s.mu.RLock()
	obj, ok := s.objects[name]
	s.mu.RUnlock()

	if !ok || time.Now().After(obj.expires) {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(obj.content)
}

// Sweep drops every expired blob and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, obj := range s.objects {
		if now.After(obj.expires) {
			delete(s.objects, name)
			removed++
		}
	}
	return removed
}

// Len reports how many blobs are currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
