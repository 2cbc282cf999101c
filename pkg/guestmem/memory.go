package guestmem

import (
	"encoding/binary"
	"fmt"
)

// Reader gives read-only access to big-endian guest memory
type Reader interface {
	ReadU32(addr uint32) (uint32, error)
	Slice(addr, size uint32) ([]byte, error)
}

// Image is a flat guest memory region starting at Base
type Image struct {
	Base uint32
	Data []byte
}

// NewImage creates a zeroed image of size bytes at base
func NewImage(base, size uint32) *Image {
	return &Image{
		Base: base,
		Data: make([]byte, size),
	}
}

// Contains reports whether [addr, addr+size) lies inside the image
func (m *Image) Contains(addr, size uint32) bool {
	if addr < m.Base {
		return false
	}
	off := uint64(addr - m.Base)
	return off+uint64(size) <= uint64(len(m.Data))
}

// ReadU32 reads a big-endian word
func (m *Image) ReadU32(addr uint32) (uint32, error) {
	if !m.Contains(addr, 4) {
		return 0, fmt.Errorf("guest address 0x%08x out of range", addr)
	}
	off := addr - m.Base
	return binary.BigEndian.Uint32(m.Data[off:]), nil
}

// WriteU32 writes a big-endian word
func (m *Image) WriteU32(addr, value uint32) error {
	if !m.Contains(addr, 4) {
		return fmt.Errorf("guest address 0x%08x out of range", addr)
	}
	off := addr - m.Base
	binary.BigEndian.PutUint32(m.Data[off:], value)
	return nil
}

// Slice returns the bytes of [addr, addr+size) without copying
func (m *Image) Slice(addr, size uint32) ([]byte, error) {
	if !m.Contains(addr, size) {
		return nil, fmt.Errorf("guest range 0x%08x+0x%x out of range", addr, size)
	}
	off := addr - m.Base
	return m.Data[off : off+size], nil
}

// Assemble writes consecutive instruction words starting at addr
func (m *Image) Assemble(addr uint32, words ...uint32) error {
	for i, w := range words {
		if err := m.WriteU32(addr+uint32(i)*4, w); err != nil {
			return err
		}
	}
	return nil
}
