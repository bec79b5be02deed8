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
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"testing/iotest"

	"github.com/wavedump/wavedump/wave"
)

func TestUvarint(t *testing.T) {
	cases := []struct {
		in   []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0xac, 0x02}, 300},
	}
	for _, c := range cases {
		r := newBytesReader(c.in)
		got, err := r.uvarint()
		if err != nil {
			t.Fatalf("uvarint(%x): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("uvarint(%x) = %d; want %d", c.in, got, c.want)
		}
		if varintSize(c.want) != len(c.in) {
			t.Errorf("varintSize(%d) = %d; want %d", c.want, varintSize(c.want), len(c.in))
		}
	}
}

func TestSvarint(t *testing.T) {
	cases := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x01}, 1},
		{[]byte{0x7f}, -1},
		{[]byte{0x43}, -61},
		{[]byte{0x3f}, 63},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, c := range cases {
		r := newBytesReader(c.in)
		got, err := r.svarint()
		if err != nil {
			t.Fatalf("svarint(%x): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("svarint(%x) = %d; want %d", c.in, got, c.want)
		}
	}
}

func TestVarintTooLong(t *testing.T) {
	in := bytes.Repeat([]byte{0x80}, 11)
	r := newBytesReader(in)
	if _, err := r.uvarint(); !errors.Is(err, wave.ErrInvalidNumeric) {
		t.Fatalf("expected ErrInvalidNumeric, got %v", err)
	}
}

func TestVarintTruncated(t *testing.T) {
	r := newBytesReader([]byte{0x80})
	if _, err := r.uvarint(); !errors.Is(err, wave.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestEndianTest(t *testing.T) {
	le := make([]byte, 8)
	binary.LittleEndian.PutUint64(le, math.Float64bits(endianTest))
	got, err := newBytesReader(le).endian()
	if err != nil || !got {
		t.Fatalf("little-endian: %v, %v", got, err)
	}
	be := make([]byte, 8)
	binary.BigEndian.PutUint64(be, math.Float64bits(endianTest))
	got, err = newBytesReader(be).endian()
	if err != nil || got {
		t.Fatalf("big-endian: %v, %v", got, err)
	}
	if _, err := newBytesReader(make([]byte, 8)).endian(); !errors.Is(err, wave.ErrInvariant) {
		t.Fatalf("garbage must fail the endian test, got %v", err)
	}
}

func TestStreamReaderRefill(t *testing.T) {
	payload := bytes.Repeat([]byte{0xab}, 3*streamBufferSize)
	r := newStreamReader(iotest.OneByteReader(bytes.NewReader(payload)))
	out := make([]byte, len(payload))
	if err := r.readFull(out); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("refilled read mismatch")
	}
	if r.more() {
		t.Fatal("expected end of stream")
	}
}

func TestStreamReaderEOF(t *testing.T) {
	r := newStreamReader(bytes.NewReader([]byte{1, 2}))
	if _, err := r.u64(); !errors.Is(err, wave.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestBytesReaderSeek(t *testing.T) {
	r := newBytesReader([]byte{0, 1, 2, 3})
	if err := r.seek(2); err != nil {
		t.Fatal(err)
	}
	b, err := r.u8()
	if err != nil || b != 2 {
		t.Fatalf("got %d, %v", b, err)
	}
	if err := r.seek(5); err == nil {
		t.Fatal("out-of-range seek must fail")
	}
}

func TestCstringAndFixedString(t *testing.T) {
	r := newBytesReader([]byte{'t', 'o', 'p', 0, 'x'})
	s, err := r.cstring()
	if err != nil || s != "top" {
		t.Fatalf("cstring = %q, %v", s, err)
	}
	r = newBytesReader(append([]byte("v1"), 0, 0, 0, 0))
	s, err = r.fixedString(6)
	if err != nil || s != "v1" {
		t.Fatalf("fixedString = %q, %v", s, err)
	}
}
