// Package cursor provides bounds-checked, little-endian reads over a byte
// slice for the bundle and index wire formats.
package cursor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// ErrShortBuffer is returned whenever a read would run past the end of the
// underlying slice.
var ErrShortBuffer = fmt.Errorf("cursor: unexpected end of buffer")

// Cursor reads little-endian primitives from a byte slice, advancing an
// internal offset and failing with ErrShortBuffer on short reads.
type Cursor struct {
	data []byte
	off  int
}

// New wraps data in a Cursor starting at offset 0.
func New(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Offset returns the current read position.
func (c *Cursor) Offset() int {
	return c.off
}

// Len returns the number of unread bytes remaining.
func (c *Cursor) Len() int {
	return len(c.data) - c.off
}

func (c *Cursor) need(n int) error {
	if n < 0 || c.off+n > len(c.data) {
		return ErrShortBuffer
	}
	return nil
}

// ReadBytes consumes and returns the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

// I32 reads a little-endian int32.
func (c *Cursor) I32() (int32, error) {
	v, err := c.U32()
	return int32(v), err
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

// I64 reads a little-endian int64.
func (c *Cursor) I64() (int64, error) {
	v, err := c.U64()
	return int64(v), err
}

// String reads the next length raw bytes as a string. The caller reads the
// u32 length prefix itself (used for bundle-path records in the index table,
// which are length-prefixed rather than null-terminated).
func (c *Cursor) String(length int) (string, error) {
	b, err := c.ReadBytes(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NullTerminatedString reads bytes up to (and consuming) the next 0x00
// byte and validates the result as UTF-8.
func (c *Cursor) NullTerminatedString() (string, error) {
	rest := c.data[c.off:]
	idx := bytes.IndexByte(rest, 0)
	if idx < 0 {
		return "", ErrShortBuffer
	}
	s := rest[:idx]
	if !utf8.Valid(s) {
		return "", fmt.Errorf("cursor: invalid utf-8 in null-terminated string")
	}
	c.off += idx + 1
	return string(s), nil
}
