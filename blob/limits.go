package blob

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// StorageInfo contains information about available storage
type StorageInfo struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedBytes      uint64
}

// GetStorageInfo returns storage information for the given path using
// platform-specific syscalls.
func GetStorageInfo(path string) (*StorageInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	// Use the containing directory in case path names a file
	dir := filepath.Dir(absPath)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	fileInfo, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("path is not a directory")
	}

	totalBytes, availableBytes, usedBytes, err := getDiskSpace(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "GetStorageInfo",
		"package":         "blob",
		"dir":             dir,
		"total_bytes":     totalBytes,
		"available_bytes": availableBytes,
		"used_bytes":      usedBytes,
	}).Debug("Storage information retrieved")

	return &StorageInfo{
		TotalBytes:     totalBytes,
		AvailableBytes: availableBytes,
		UsedBytes:      usedBytes,
	}, nil
}

// CalculateStoreLimit calculates the maximum bytes the filesystem store
// may consume: 1% of available storage, clamped to [1MB, 1GB].
func CalculateStoreLimit(path string) (uint64, error) {
	info, err := GetStorageInfo(path)
	if err != nil {
		return 0, err
	}

	onePercentOfAvailable := info.AvailableBytes / 100

	const minLimit = 1024 * 1024        // 1MB minimum
	const maxLimit = 1024 * 1024 * 1024 // 1GB maximum

	limit := onePercentOfAvailable
	if limit < minLimit {
		limit = minLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	logrus.WithFields(logrus.Fields{
		"function":             "CalculateStoreLimit",
		"package":              "blob",
		"path":                 path,
		"calculated_1_percent": onePercentOfAvailable,
		"final_limit":          limit,
	}).Debug("Calculated blob store limit")

	return limit, nil
}
