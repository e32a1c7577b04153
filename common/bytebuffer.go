package common

import "encoding/binary"

// ByteBuffer accumulates PDU/ADU bytes in big-endian wire order, the
// encoding Modbus uses for every multi-byte field.
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4.2 ("data... is
// transmitted high order byte first")
type ByteBuffer struct {
	buf []byte
}

// NewByteBuffer creates an empty ByteBuffer, optionally pre-sizing its
// backing array.
func NewByteBuffer(capacity int) *ByteBuffer {
	return &ByteBuffer{buf: make([]byte, 0, capacity)}
}

// WriteByte appends a single byte.
func (b *ByteBuffer) WriteByte(v byte) *ByteBuffer {
	b.buf = append(b.buf, v)
	return b
}

// WriteUint16 appends v as two big-endian bytes.
func (b *ByteBuffer) WriteUint16(v uint16) *ByteBuffer {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// WriteBytes appends raw bytes verbatim.
func (b *ByteBuffer) WriteBytes(v []byte) *ByteBuffer {
	b.buf = append(b.buf, v...)
	return b
}

// Bytes returns the accumulated byte slice.
func (b *ByteBuffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes accumulated so far.
func (b *ByteBuffer) Len() int {
	return len(b.buf)
}

// ByteReader walks a byte slice field by field, tracking how many bytes
// have been consumed and refusing reads past the end.
type ByteReader struct {
	buf []byte
	pos int
}

// NewByteReader wraps buf for sequential reads.
func NewByteReader(buf []byte) *ByteReader {
	return &ByteReader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *ByteReader) Remaining() int {
	return len(r.buf) - r.pos
}

// ReadByte consumes and returns a single byte.
func (r *ByteReader) ReadByte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrInvalidResponseLength
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 consumes and returns a big-endian uint16.
func (r *ByteReader) ReadUint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrInvalidResponseLength
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

// ReadBytes consumes and returns the next n bytes.
func (r *ByteReader) ReadBytes(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrInvalidResponseLength
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}
