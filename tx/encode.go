package tx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// writer appends DeFiChain consensus encodings to a buffer.
type writer struct {
	bytes.Buffer
}

func (w *writer) u8(v byte) { w.WriteByte(v) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

// compactSize writes the length prefix used for vectors and scripts.
func (w *writer) compactSize(n uint64) {
	switch {
	case n < 0xfd:
		w.u8(byte(n))
	case n <= 0xffff:
		w.u8(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		w.Write(b[:])
	case n <= 0xffffffff:
		w.u8(0xfe)
		w.u32(uint32(n))
	default:
		w.u8(0xff)
		w.u64(n)
	}
}

// varInt writes the MSB base-128 VARINT encoding (each continuation byte
// carries an implicit +1), used for token and pool ids.
func (w *writer) varInt(n uint64) {
	var tmp [10]byte
	l := 0
	for {
		tmp[l] = byte(n & 0x7f)
		if l > 0 {
			tmp[l] |= 0x80
		}
		if n <= 0x7f {
			break
		}
		n = (n >> 7) - 1
		l++
	}
	for i := l; i >= 0; i-- {
		w.u8(tmp[i])
	}
}

func (w *writer) varBytes(b []byte) {
	w.compactSize(uint64(len(b)))
	w.Write(b)
}

// reader consumes the encodings written by writer. The first failure is
// sticky; callers check err once at the end.
type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("need %d bytes at offset %d: %w", n, r.off, io.ErrUnexpectedEOF)
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) compactSize() uint64 {
	switch p := r.u8(); p {
	case 0xfd:
		b := r.take(2)
		if b == nil {
			return 0
		}
		return uint64(binary.LittleEndian.Uint16(b))
	case 0xfe:
		return uint64(r.u32())
	case 0xff:
		return r.u64()
	default:
		return uint64(p)
	}
}

func (r *reader) varInt() uint64 {
	var n uint64
	for i := 0; i < 10; i++ {
		b := r.u8()
		if r.err != nil {
			return 0
		}
		n = (n << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return n
		}
		n++
	}
	r.err = fmt.Errorf("varint too long at offset %d", r.off)
	return 0
}

func (r *reader) varBytes() []byte {
	n := r.compactSize()
	if r.err == nil && n > uint64(len(r.b)-r.off) {
		r.err = fmt.Errorf("length %d exceeds remaining %d bytes: %w", n, len(r.b)-r.off, io.ErrUnexpectedEOF)
		return nil
	}
	b := r.take(int(n))
	return append([]byte(nil), b...)
}

func (r *reader) done() bool { return r.off == len(r.b) }
