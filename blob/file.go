package blob

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileStore keeps blobs on disk under a single directory, one file per
// blob with a random uuid name. Capacity is bounded to a fraction of
// the available disk, recalculated at construction. Like MemoryStore it
// serves its contents as an http.Handler.
type FileStore struct {
	mu       sync.RWMutex
	dir      string
	baseURL  string
	expiry   map[string]time.Time
	used     uint64
	maxBytes uint64
}

// NewFileStore opens (creating if needed) a filesystem blob store in
// dir, served publicly at baseURL.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	maxBytes, err := CalculateStoreLimit(dir)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewFileStore",
			"package":  "blob",
			"dir":      dir,
			"error":    err.Error(),
		}).Warn("Failed to calculate storage limit, using 1GB default")
		maxBytes = 1024 * 1024 * 1024
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewFileStore",
		"package":   "blob",
		"dir":       dir,
		"max_bytes": maxBytes,
	}).Info("Opened filesystem blob store")

	return &FileStore{
		dir:      dir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		expiry:   make(map[string]time.Time),
		maxBytes: maxBytes,
	}, nil
}

// Put writes content to a fresh file and returns its public URL.
func (s *FileStore) Put(ctx context.Context, content []byte, expiresUTC time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", ErrEmptyContent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.used+uint64(len(content)) > s.maxBytes {
		s.sweepLocked()
		if s.used+uint64(len(content)) > s.maxBytes {
			return "", fmt.Errorf("%w: %d bytes used of %d", ErrStoreFull, s.used, s.maxBytes)
		}
	}

	name := uuid.NewString()
	if err := os.WriteFile(filepath.Join(s.dir, name), content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	s.expiry[name] = expiresUTC
	s.used += uint64(len(content))

	logrus.WithFields(logrus.Fields{
		"function":   "Put",
		"package":    "blob",
		"store":      "file",
		"name":       name,
		"size_bytes": len(content),
		"used_bytes": s.used,
	}).Debug("Stored blob on disk")

	return s.baseURL + "/" + name, nil
}

// ServeHTTP serves GET requests for stored blobs.
func (s *FileStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Base(r.URL.Path)
	if _, err := uuid.Parse(name); err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.RLock()
	expires, ok := s.expiry[name]
	s.mu.RUnlock()

	if !ok || time.Now().After(expires) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filepath.Join(s.dir, name))
}

// Sweep removes expired blob files and reports how many were removed.
func (s *FileStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *FileStore) sweepLocked() int {
	now := time.Now()
	removed := 0
	for name, expires := range s.expiry {
		if !now.After(expires) {
			continue
		}
		full := filepath.Join(s.dir, name)
		if info, err := os.Stat(full); err == nil {
			s.used -= uint64(info.Size())
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "Sweep",
				"package":  "blob",
				"name":     name,
				"error":    err.Error(),
			}).Warn("Failed to remove expired blob")
			continue
		}
		delete(s.expiry, name)
		removed++
	}
	return removed
}
