//go:build !linux

package guestmem

import (
	"fmt"
	"os"
)

// MappedImage is a guest image file loaded into memory
type MappedImage struct {
	Image
}

// MapFile reads the file at path as guest memory starting at base
func MapFile(path string, base uint32) (*MappedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("guest image %s is empty", path)
	}
	return &MappedImage{Image: Image{Base: base, Data: data}}, nil
}

// Close releases the image
func (m *MappedImage) Close() error {
	m.Data = nil
	return nil
}
