//go:build windows
// +build windows

package blob

import (
	"fmt"
	"syscall"
	"unsafe"
)

// getDiskSpace retrieves disk space information on Windows using
// GetDiskFreeSpaceExW.
func getDiskSpace(dir string) (totalBytes, availableBytes, usedBytes uint64, err error) {
	pathPtr, err := syscall.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to convert path to UTF-16: %w", err)
	}

	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	getDiskFreeSpaceEx := kernel32.NewProc("GetDiskFreeSpaceExW")

	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64

	ret, _, callErr := getDiskFreeSpaceEx.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		uintptr(unsafe.Pointer(&totalNumberOfBytes)),
		uintptr(unsafe.Pointer(&totalNumberOfFreeBytes)),
	)
	if ret == 0 {
		return 0, 0, 0, fmt.Errorf("GetDiskFreeSpaceExW failed: %w", callErr)
	}

	totalBytes = totalNumberOfBytes
	availableBytes = freeBytesAvailable
	usedBytes = totalNumberOfBytes - totalNumberOfFreeBytes

	return totalBytes, availableBytes, usedBytes, nil
}
