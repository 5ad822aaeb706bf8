// Package wire implements the canonical byte encoding that signatures and
// content identifiers are computed over.
//
// The encoding is deterministic by construction: fields are written in a
// fixed order, integers are big-endian, byte strings are u64 length-prefixed,
// and every top-level payload starts with a domain tag byte. Two encoders
// given the same logical value produce identical bytes on every platform.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Domain tags. A tag is the first byte of every canonical payload so that a
// signature over one payload type can never be replayed as another.
const (
	TagAddress       byte = 0x01
	TagOwnerRecord   byte = 0x02
	TagOwnerTransfer byte = 0x03
	TagOperation     byte = 0x04
	TagSnapshot      byte = 0x05
)

var (
	// ErrTruncated reports canonical input that ends mid-field.
	ErrTruncated = errors.New("wire: truncated input")
	// ErrTrailing reports canonical input with bytes after the last field.
	ErrTrailing = errors.New("wire: trailing bytes")
)

// Writer accumulates a canonical payload.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a payload with the given domain tag.
func NewWriter(tag byte) *Writer {
	w := &Writer{}
	w.buf.WriteByte(tag)
	return w
}

func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *Writer) Uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// Bytes writes a u64 length prefix followed by the bytes.
func (w *Writer) Bytes(b []byte) {
	w.Uint64(uint64(len(b)))
	w.buf.Write(b)
}

func (w *Writer) String(s string) {
	w.Bytes([]byte(s))
}

// Raw writes bytes verbatim, without a length prefix. Only for fixed-size
// fields whose length is implied by the schema.
func (w *Writer) Raw(b []byte) {
	w.buf.Write(b)
}

// Finish returns the canonical payload.
func (w *Writer) Finish() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

// Reader decodes a canonical payload produced by Writer.
type Reader struct {
	rest []byte
}

// NewReader checks the domain tag and returns a reader over the remainder.
func NewReader(tag byte, b []byte) (*Reader, error) {
	if len(b) == 0 {
		return nil, ErrTruncated
	}
	if b[0] != tag {
		return nil, fmt.Errorf("wire: domain tag mismatch: got 0x%02x want 0x%02x", b[0], tag)
	}
	return &Reader{rest: b[1:]}, nil
}

func (r *Reader) Byte() (byte, error) {
	if len(r.rest) < 1 {
		return 0, ErrTruncated
	}
	b := r.rest[0]
	r.rest = r.rest[1:]
	return b, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if len(r.rest) < 8 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint64(r.rest[:8])
	r.rest = r.rest[8:]
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("wire: invalid bool byte 0x%02x", b)
	}
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if uint64(len(r.rest)) < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.rest[:n])
	r.rest = r.rest[n:]
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Raw reads exactly n verbatim bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	if len(r.rest) < n {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.rest[:n])
	r.rest = r.rest[n:]
	return out, nil
}

// Done fails unless the payload has been consumed exactly.
func (r *Reader) Done() error {
	if len(r.rest) != 0 {
		return ErrTrailing
	}
	return nil
}
