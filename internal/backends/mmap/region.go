package mmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Status field indices. Each field is a little-endian uint16.
const (
	FieldWidth = iota
	FieldHeight
	FieldMaxWidth
	FieldMaxHeight
	FieldNewFrame
	FieldDropped

	statusFields = iota
)

// StatusSize is the size of the status buffer. Only the first
// statusFields*2 bytes are used.
const StatusSize = 256

// Region is a shared buffer.
type Region interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// Mapper opens the shared buffer called name, sized to size bytes,
// creating it when it does not exist.
type Mapper func(name string, size int) (Region, error)

// Status is the decoded status buffer.
type Status struct {
	Width     uint16
	Height    uint16
	MaxWidth  uint16
	MaxHeight uint16
	NewFrame  uint16
	Dropped   uint16
}

// ReadStatus decodes the status fields from r.
func ReadStatus(r io.ReaderAt) (Status, error) {
	var s Status
	err := binary.Read(io.NewSectionReader(r, 0, statusFields*2), binary.LittleEndian, &s)
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	return s, nil
}

// WriteStatus encodes s into w.
func WriteStatus(w io.WriterAt, s Status) error {
	if err := binary.Write(io.NewOffsetWriter(w, 0), binary.LittleEndian, s); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// writeField sets one status field.
func writeField(w io.WriterAt, field int, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := w.WriteAt(buf[:], int64(field*2))
	return err
}

var errClosed = errors.New("region closed")

// MemoryMapper hands out process-local regions, keyed by name. Two calls
// with the same name share a buffer, so a producer in the same process can
// play the other side of the protocol.
type MemoryMapper struct {
	mu      sync.Mutex
	regions map[string]*memoryRegion
}

// NewMemoryMapper creates an empty MemoryMapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{regions: make(map[string]*memoryRegion)}
}

// Map implements Mapper.
func (m *MemoryMapper) Map(name string, size int) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[name]
	if !ok || r.closed {
		r = &memoryRegion{data: make([]byte, size)}
		m.regions[name] = r
	}
	return r, nil
}

type memoryRegion struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (r *memoryRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errClosed
	}
	return readAt(r.data, p, off)
}

func (r *memoryRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errClosed
	}
	return writeAt(r.data, p, off)
}

func (r *memoryRegion) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func readAt(data, p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func writeAt(data, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(data)) {
		return 0, io.ErrShortWrite
	}
	return copy(data[off:], p), nil
}
