package mmap

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// SharedMemory maps named POSIX shared memory objects, equivalent to
// shm_open(name, O_RDWR|O_CREAT, 0666) followed by mmap(MAP_SHARED).
func SharedMemory(name string, size int) (Region, error) {
	path := filepath.Join(shmDir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open shared memory %s: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, fmt.Errorf("size shared memory %s: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map shared memory %s: %w", name, err)
	}
	return &mappedRegion{data: data}, nil
}

type mappedRegion struct {
	data []byte
}

func (r *mappedRegion) ReadAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, errClosed
	}
	return readAt(r.data, p, off)
}

func (r *mappedRegion) WriteAt(p []byte, off int64) (int, error) {
	if r.data == nil {
		return 0, errClosed
	}
	return writeAt(r.data, p, off)
}

func (r *mappedRegion) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}
