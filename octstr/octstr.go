// Package octstr implements the byte-string container the connection core
// treats as an external collaborator: a growable byte buffer with
// append/search/substring helpers and a network-order 32-bit length codec.
// It is a thin, idiomatic wrapper over []byte — Go's GC makes the source's
// explicit create/destroy lifecycle unnecessary, but the append/search/
// delete-range vocabulary is kept because conn.Connection's buffering
// algorithms are written directly against it.
package octstr

import (
	"encoding/binary"
	"io"
)

// Octstr is a mutable byte string.
type Octstr struct {
	data []byte
}

// New returns an Octstr containing a copy of b (b itself is not retained).
func New(b []byte) *Octstr {
	o := &Octstr{}
	if len(b) > 0 {
		o.data = append(o.data, b...)
	}
	return o
}

// Bytes returns the bytes currently stored. The returned slice must not be
// retained past the next mutation of o.
func (o *Octstr) Bytes() []byte {
	return o.data
}

// Len returns the number of bytes currently stored.
func (o *Octstr) Len() int {
	if o == nil {
		return 0
	}
	return len(o.data)
}

// Append adds the contents of other to the end of o.
func (o *Octstr) Append(other *Octstr) {
	o.data = append(o.data, other.data...)
}

// AppendData adds raw bytes to the end of o.
func (o *Octstr) AppendData(b []byte) {
	o.data = append(o.data, b...)
}

// GetChar returns the byte at pos.
func (o *Octstr) GetChar(pos int) byte {
	return o.data[pos]
}

// SearchChar returns the index of the first occurrence of c at or after
// start, or -1 if not found.
func (o *Octstr) SearchChar(c byte, start int) int {
	if start >= len(o.data) {
		return -1
	}
	for i := start; i < len(o.data); i++ {
		if o.data[i] == c {
			return i
		}
	}
	return -1
}

// CopySubstring returns a new Octstr holding length bytes starting at
// start.
func (o *Octstr) CopySubstring(start, length int) *Octstr {
	return New(o.data[start : start+length])
}

// GetManyChars copies length bytes starting at start into dst.
func (o *Octstr) GetManyChars(dst []byte, start, length int) {
	copy(dst, o.data[start:start+length])
}

// DeleteRange removes length bytes starting at start, shifting the rest
// down.
func (o *Octstr) DeleteRange(start, length int) {
	o.data = append(o.data[:start], o.data[start+length:]...)
}

// WriteDataFromOffsetToFD writes o.data[offset:] to w using a single
// non-blocking-friendly call, returning the number of bytes actually
// written. It never blocks on its own; the caller's fd is expected to
// already be non-blocking.
func (o *Octstr) WriteDataFromOffsetToFD(w io.Writer, offset int) (int, error) {
	if offset >= len(o.data) {
		return 0, nil
	}
	return w.Write(o.data[offset:])
}

// EncodeNetworkLong returns the big-endian 32-bit encoding of v as a new
// 4-byte slice.
func EncodeNetworkLong(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

// DecodeNetworkLong decodes a big-endian 32-bit integer from the first 4
// bytes of buf, returned as a signed value so a caller can detect a
// negative length prefix, the protocol anomaly conn_read_withlen guards
// against.
func DecodeNetworkLong(buf []byte) int32 {
	return int32(binary.BigEndian.Uint32(buf))
}
