// Package jitcache persists compile verdicts keyed by the code bytes of a
// guest function, so code that failed to compile once is not retried.
package jitcache

import (
	"encoding/binary"
	"fmt"

	"ppcrec/pkg/errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"golang.org/x/crypto/blake2b"
)

// Verdict is the outcome of compiling a function
type Verdict uint8

const (
	VerdictCompiled Verdict = iota + 1
	VerdictUnsupported
)

func (v Verdict) String() string {
	switch v {
	case VerdictCompiled:
		return "compiled"
	case VerdictUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("verdict(%d)", uint8(v))
}

const keyPrefix = 'v'

// Key identifies a function by its entry address and code bytes
type Key [1 + 4 + blake2b.Size256]byte

// MakeKey hashes code and appends it to the entry address
func MakeKey(entry uint32, code []byte) Key {
	var key Key
	key[0] = keyPrefix
	binary.BigEndian.PutUint32(key[1:5], entry)
	h := blake2b.Sum256(code)
	copy(key[5:], h[:])
	return key
}

// Entry is a stored verdict. Address, Opcode and Message describe the
// instruction that made compilation fail.
type Entry struct {
	Verdict Verdict
	Address uint32
	Opcode  uint32
	Message string
}

const entryHeaderSize = 9

func (e Entry) encode() []byte {
	buf := make([]byte, entryHeaderSize+len(e.Message))
	buf[0] = byte(e.Verdict)
	binary.BigEndian.PutUint32(buf[1:5], e.Address)
	binary.BigEndian.PutUint32(buf[5:9], e.Opcode)
	copy(buf[entryHeaderSize:], e.Message)
	return buf
}

func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) < entryHeaderSize {
		return Entry{}, fmt.Errorf("short cache entry of %d bytes", len(buf))
	}
	return Entry{
		Verdict: Verdict(buf[0]),
		Address: binary.BigEndian.Uint32(buf[1:5]),
		Opcode:  binary.BigEndian.Uint32(buf[5:9]),
		Message: string(buf[entryHeaderSize:]),
	}, nil
}

// Cache is a PebbleDB-backed verdict store
type Cache struct {
	db *pebble.DB
}

// Open opens or creates the cache at path
func Open(path string) (*Cache, error) {
	return OpenFS(path, vfs.Default)
}

// OpenFS opens the cache at path on fs
func OpenFS(path string, fs vfs.FS) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{FS: fs})
	if err != nil {
		return nil, fmt.Errorf("open verdict cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the verdict stored for key
func (c *Cache) Get(key Key) (Entry, bool, error) {
	value, closer, err := c.db.Get(key[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get verdict: %w", err)
	}
	defer closer.Close()
	e, err := decodeEntry(value)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Put stores the verdict for key
func (c *Cache) Put(key Key, e Entry) error {
	if err := c.db.Set(key[:], e.encode(), pebble.Sync); err != nil {
		return fmt.Errorf("put verdict: %w", err)
	}
	return nil
}

// Delete removes the verdict for key
func (c *Cache) Delete(key Key) error {
	if err := c.db.Delete(key[:], pebble.Sync); err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}
	return nil
}

// Count returns the number of stored verdicts
func (c *Cache) Count() (int, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{keyPrefix},
		UpperBound: []byte{keyPrefix + 1},
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database
func (c *Cache) Close() error {
	return c.db.Close()
}
