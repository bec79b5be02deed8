// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package fst

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/wavedump/wavedump/wave"
)

// streamBufferSize is the refill buffer of a stream-backed
// reader.
const streamBufferSize = 16 * 1024

// endianTest is the IEEE-754 double stored in the header to
// resolve the writing host's byte order (e).
const endianTest = 2.7182818284590452354

// reader is a byte-range reader over either an owned byte
// slice (seekable; decoded blocks) or an input stream with a
// bounded refill buffer (sequential; the outer file).
type reader struct {
	in    io.Reader // nil for array-backed readers
	buf   []byte
	pos   int
	limit int
	total int64
}

// newStreamReader wraps in with a bounded refill buffer.
func newStreamReader(in io.Reader) *reader {
	return &reader{in: in, buf: make([]byte, streamBufferSize)}
}

// newBytesReader owns data and allows absolute seeks.
func newBytesReader(data []byte) *reader {
	return &reader{buf: data, limit: len(data)}
}

func (r *reader) stream() bool { return r.in != nil }

// offset is the absolute number of bytes consumed so far.
func (r *reader) offset() int64 { return r.total }

// size is the total byte count of an array-backed reader.
func (r *reader) size() int { return r.limit }

// position is the current read position of an array-backed
// reader.
func (r *reader) position() int { return r.pos }

// seek sets the read position of an array-backed reader.
func (r *reader) seek(pos int64) error {
	if r.stream() {
		return wave.Errf(wave.ErrInvariant, r.total, "seek on stream reader")
	}
	if pos < 0 || pos > int64(r.limit) {
		return wave.Errf(wave.ErrUnexpectedEOF, r.total, "seek to %d outside [0, %d]", pos, r.limit)
	}
	r.pos = int(pos)
	return nil
}

// ensure guarantees n readable bytes, refilling stream
// readers by shifting the residue to the buffer head.
func (r *reader) ensure(n int) error {
	if r.pos+n <= r.limit {
		return nil
	}
	if !r.stream() {
		return wave.Errf(wave.ErrUnexpectedEOF, r.total, "need %d bytes, %d available", n, r.limit-r.pos)
	}
	if n > len(r.buf) {
		return wave.Errf(wave.ErrInvariant, r.total, "demand %d exceeds %d byte buffer", n, len(r.buf))
	}
	rest := r.limit - r.pos
	copy(r.buf, r.buf[r.pos:r.limit])
	r.pos = 0
	r.limit = rest
	for r.limit < n {
		m, err := r.in.Read(r.buf[r.limit:])
		r.limit += m
		if err == io.EOF {
			if r.limit < n {
				return wave.Errf(wave.ErrUnexpectedEOF, r.total, "end of stream: need %d bytes, have %d", n, r.limit)
			}
			return nil
		}
		if err != nil {
			return wave.Errf(wave.ErrUnexpectedEOF, r.total, "read: %v", err)
		}
	}
	return nil
}

// more reports whether at least one byte remains.
func (r *reader) more() bool {
	if r.pos < r.limit {
		return true
	}
	if !r.stream() {
		return false
	}
	return r.ensure(1) == nil
}

func (r *reader) u8() (byte, error) {
	if err := r.ensure(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	r.total++
	return b, nil
}

func (r *reader) i8() (int8, error) {
	b, err := r.u8()
	return int8(b), err
}

// u64 reads a big-endian 64-bit integer; every multi-byte
// block field uses this regardless of the endian test.
func (r *reader) u64() (uint64, error) {
	if err := r.ensure(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	r.total += 8
	return v, nil
}

// endian reads the endian-test double and reports whether
// the writing host was little-endian.
func (r *reader) endian() (bool, error) {
	if err := r.ensure(8); err != nil {
		return false, err
	}
	le := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	be := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	r.total += 8
	switch {
	case math.Abs(le-endianTest) < 1e-10:
		return true, nil
	case math.Abs(be-endianTest) < 1e-10:
		return false, nil
	}
	return false, wave.Errf(wave.ErrInvariant, r.total-8, "endian test failed: %g / %g", le, be)
}

// uvarint reads an unsigned little-endian 7-bit-payload
// varint. A varint without a terminator within 10 bytes is a
// fatal decode error.
func (r *reader) uvarint() (uint64, error) {
	var v uint64
	var shift uint
	for n := 0; n < maxVarintLen; n++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, wave.Errf(wave.ErrInvalidNumeric, r.total, "varint exceeds %d bytes", maxVarintLen)
}

// svarint reads a signed varint: same wire form, with the
// 0x40 bit of the final byte sign-extending the result when
// the shift has not consumed all 64 bits.
func (r *reader) svarint() (int64, error) {
	var v uint64
	var shift uint
	for n := 0; n < maxVarintLen; n++ {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				v |= ^uint64(0) << shift
			}
			return int64(v), nil
		}
	}
	return 0, wave.Errf(wave.ErrInvalidNumeric, r.total, "varint exceeds %d bytes", maxVarintLen)
}

// bytes reads exactly n bytes into a fresh slice.
func (r *reader) bytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if err := r.readFull(out); err != nil {
		return nil, err
	}
	return out, nil
}

// readFull fills out, spanning refills for stream readers.
func (r *reader) readFull(out []byte) error {
	if !r.stream() {
		if err := r.ensure(len(out)); err != nil {
			return err
		}
		copy(out, r.buf[r.pos:])
		r.pos += len(out)
		r.total += int64(len(out))
		return nil
	}
	done := 0
	for done < len(out) {
		if r.pos == r.limit {
			if err := r.ensure(1); err != nil {
				return err
			}
		}
		n := copy(out[done:], r.buf[r.pos:r.limit])
		done += n
		r.pos += n
		r.total += int64(n)
	}
	return nil
}

// skip advances past n bytes.
func (r *reader) skip(n int64) error {
	if !r.stream() {
		if err := r.ensure(int(n)); err != nil {
			return err
		}
		r.pos += int(n)
		r.total += n
		return nil
	}
	for n > 0 {
		if r.pos == r.limit {
			if err := r.ensure(1); err != nil {
				return err
			}
		}
		step := int64(r.limit - r.pos)
		if step > n {
			step = n
		}
		r.pos += int(step)
		r.total += step
		n -= step
	}
	return nil
}

// cstring reads a null-terminated string.
func (r *reader) cstring() (string, error) {
	var out []byte
	for {
		b, err := r.u8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// fixedString reads a zero-padded fixed-size string field.
func (r *reader) fixedString(n int) (string, error) {
	raw, err := r.bytes(n)
	if err != nil {
		return "", err
	}
	end := n
	for i := 0; i < n; i++ {
		if raw[i] == 0 {
			end = i
			break
		}
	}
	return string(raw[:end]), nil
}
