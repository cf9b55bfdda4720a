//go:build !linux

package mmap

import "errors"

// SharedMemory is only available on Linux.
func SharedMemory(name string, size int) (Region, error) {
	return nil, errors.New("shared memory capture requires linux")
}
