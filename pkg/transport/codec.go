package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Encoder builds a self-describing compact record body: every field is
// written as a fixed-width big-endian integer or a length-prefixed UTF-8
// string, in the order the caller writes them. There is no field tagging;
// readers must decode fields in the same order they were written.
type Encoder struct {
	buf bytes.Buffer
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

func (e *Encoder) PutUint8(v uint8) *Encoder {
	e.buf.WriteByte(v)
	return e
}

func (e *Encoder) PutUint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *Encoder) PutUint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
	return e
}

func (e *Encoder) PutInt64(v int64) *Encoder {
	return e.PutUint64(uint64(v))
}

func (e *Encoder) PutBytes(v []byte) *Encoder {
	e.PutUint32(uint32(len(v)))
	e.buf.Write(v)
	return e
}

func (e *Encoder) PutString(v string) *Encoder {
	return e.PutBytes([]byte(v))
}

// Decoder reads fields back out of a compact record body in write order.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(body []byte) *Decoder {
	return &Decoder{buf: body}
}

func (d *Decoder) Err() error { return d.err }

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: short record", ErrProtocolError)
		return false
	}
	return true
}

func (d *Decoder) GetUint8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *Decoder) GetUint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v
}

func (d *Decoder) GetUint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.off : d.off+8])
	d.off += 8
	return v
}

func (d *Decoder) GetInt64() int64 {
	return int64(d.GetUint64())
}

func (d *Decoder) GetBytes() []byte {
	n := d.GetUint32()
	if !d.need(int(n)) {
		return nil
	}
	v := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return append([]byte(nil), v...)
}

func (d *Decoder) GetString() string {
	return string(d.GetBytes())
}
