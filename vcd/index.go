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

package vcd

import "github.com/wavedump/wavedump/wave"

// maxDenseEntries bounds the direct-mapped index; id ranges
// wider than this fall back to the map.
const maxDenseEntries = 16 * 1024 * 1024

// tokenIndex folds a printable-ASCII identifier token into
// an integer: each byte contributes (b - 0x20) in base 100.
func tokenIndex(tok []byte) int {
	idx := 0
	for _, b := range tok {
		idx = idx*100 + int(b-0x20)
	}
	return idx
}

// writerIndex resolves an identifier token to the writers it
// feeds. Dense id ranges use a direct-mapped array; sparse
// ranges (or out-of-range lookups) use the byte-keyed map.
// One entry may hold several writers when declarations share
// a token.
type writerIndex struct {
	arr  [][]*wave.Writer
	base int
	m    map[string][]*wave.Writer

	console   *wave.Console
	mapLogged bool
}

func newWriterIndex(byID map[string][]*wave.Writer, console *wave.Console) *writerIndex {
	ix := &writerIndex{m: byID, console: console}
	min, max := int(^uint(0)>>1), 0
	for id := range byID {
		n := tokenIndex([]byte(id))
		if n > max {
			max = n
		}
		if n < min {
			min = n
		}
	}
	count := max + 1 - min
	if len(byID) > 0 && count > 0 && count < maxDenseEntries {
		ix.arr = make([][]*wave.Writer, count)
		ix.base = min
		for id, ws := range byID {
			ix.arr[tokenIndex([]byte(id))-min] = ws
		}
		console.Info("using direct-mapped writer index:", count, "entries")
	} else {
		console.Info("using map writer index:", len(byID), "identifiers")
		ix.mapLogged = true
	}
	return ix
}

func (ix *writerIndex) lookup(idx int, tok []byte) []*wave.Writer {
	if ix.arr != nil {
		if n := idx - ix.base; n >= 0 && n < len(ix.arr) {
			return ix.arr[n]
		}
	}
	if !ix.mapLogged {
		ix.console.Info("writer index falling back to map lookup")
		ix.mapLogged = true
	}
	return ix.m[string(tok)]
}
