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

// Package compr provides a unified interface wrapping
// third-party decompression libraries.
//
// Callers hand a compressed byte range, an algorithm tag,
// and the declared uncompressed size to Decompress and get
// back an owned buffer of exactly that size. A zlib
// stream that ends early returns the partial buffer together
// with ErrShort; the caller decides whether a short decode
// is acceptable.
package compr

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Type tags a decompression algorithm.
type Type int

const (
	None Type = iota
	Zlib
	Gzip
	LZ4
	LZ4Duo
	FastLZ
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	case LZ4Duo:
		return "lz4-duo"
	case FastLZ:
		return "fastlz"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ErrShort is returned (with the partial output) when an
// algorithm produced fewer bytes than declared and cannot
// request more input.
var ErrShort = errors.New("compr: short decompression output")

// Decompress decodes src into a freshly-allocated buffer of
// exactly size bytes. On a short zlib decode the partial
// buffer is returned alongside ErrShort; every other size
// mismatch is an error with a nil buffer.
func Decompress(src []byte, typ Type, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("compr: invalid uncompressed size %d", size)
	}
	dst := make([]byte, size)
	switch typ {
	case None:
		if int64(len(src)) != size {
			return nil, fmt.Errorf("compr: expected %d raw bytes; got %d", size, len(src))
		}
		copy(dst, src)
		return dst, nil
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("compr: zlib: %w", err)
		}
		defer zr.Close()
		n, err := io.ReadFull(zr, dst)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			if int64(n) < size {
				return dst[:n], ErrShort
			}
			return dst, nil
		}
		if err != nil {
			return nil, fmt.Errorf("compr: zlib: %w", err)
		}
		return dst, nil
	case Gzip:
		gr, err := gzip.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("compr: gzip: %w", err)
		}
		defer gr.Close()
		if _, err := io.ReadFull(gr, dst); err != nil {
			return nil, fmt.Errorf("compr: gzip: expected %d bytes: %w", size, err)
		}
		return dst, nil
	case LZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("compr: lz4: %w", err)
		}
		if int64(n) != size {
			return nil, fmt.Errorf("compr: lz4: expected %d bytes decompressed; got %d", size, n)
		}
		return dst, nil
	case LZ4Duo:
		// stage one inflates into a scratch buffer sized at
		// 4x the input; stage two produces the declared size
		mid := make([]byte, 4*len(src)+16)
		n, err := lz4.UncompressBlock(src, mid)
		if err != nil {
			return nil, fmt.Errorf("compr: lz4-duo stage 1: %w", err)
		}
		n, err = lz4.UncompressBlock(mid[:n], dst)
		if err != nil {
			return nil, fmt.Errorf("compr: lz4-duo stage 2: %w", err)
		}
		if int64(n) != size {
			return nil, fmt.Errorf("compr: lz4-duo: expected %d bytes decompressed; got %d", size, n)
		}
		return dst, nil
	case FastLZ:
		n, err := fastlzDecompress(src, dst)
		if err != nil {
			return nil, fmt.Errorf("compr: fastlz: %w", err)
		}
		if int64(n) != size {
			return nil, fmt.Errorf("compr: fastlz: expected %d bytes decompressed; got %d", size, n)
		}
		return dst, nil
	}
	return nil, fmt.Errorf("compr: unsupported compression type %v", typ)
}
