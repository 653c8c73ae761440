//go:build !windows
// +build !windows

package blob

import "golang.org/x/sys/unix"

// getDiskSpace retrieves filesystem statistics via statfs.
func getDiskSpace(dir string) (totalBytes, availableBytes, usedBytes uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, 0, 0, err
	}

	// Bsize is the filesystem block size, Blocks the total data blocks,
	// Bavail the free blocks available to an unprivileged user
	totalBytes = uint64(stat.Blocks) * uint64(stat.Bsize)
	availableBytes = uint64(stat.Bavail) * uint64(stat.Bsize)
	usedBytes = totalBytes - (uint64(stat.Bfree) * uint64(stat.Bsize))

	return totalBytes, availableBytes, usedBytes, nil
}
