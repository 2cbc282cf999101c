//go:build linux

package guestmem

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MappedImage is a guest image file mapped read-only into memory
type MappedImage struct {
	Image
	mu sync.Mutex
}

// MapFile maps the file at path as guest memory starting at base
func MapFile(path string, base uint32) (*MappedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open guest image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat guest image: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("guest image %s is empty", path)
	}
	if size > 1<<32-int64(base) {
		return nil, fmt.Errorf("guest image of %d bytes does not fit at 0x%08x", size, base)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap guest image: %w", err)
	}

	return &MappedImage{Image: Image{Base: base, Data: data}}, nil
}

// Close unmaps the image
func (m *MappedImage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Data == nil {
		return nil
	}
	if err := unix.Munmap(m.Data); err != nil {
		return fmt.Errorf("failed to munmap guest image: %w", err)
	}
	m.Data = nil
	return nil
}

// WriteU32 is not allowed on a read-only mapping
func (m *MappedImage) WriteU32(addr, value uint32) error {
	return fmt.Errorf("guest image is mapped read-only")
}
