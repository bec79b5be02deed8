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
	"errors"
	"testing"

	"github.com/wavedump/wavedump/wave"
)

func chainDecoder(handles int) *Decoder {
	d := NewDecoder(nil, nil, nil)
	d.vars = make([]*variable, handles+1)
	for h := 1; h <= handles; h++ {
		d.vars[h] = &variable{handle: uint32(h)}
	}
	return d
}

// chainLayout places the chain bytes at the head of the
// payload so tests can hand the stream in directly.
func chainLayout(chain []byte, vcDataSize int64, maxHandle uint64) *vcLayout {
	return &vcLayout{
		vcMaxHandle:  maxHandle,
		vcDataSize:   vcDataSize,
		chainDataPos: 0,
		chainClen:    int64(len(chain)),
	}
}

func TestChainDynAlias2SkipRun(t *testing.T) {
	// svarint +2: LSB clear, skip one handle;
	// svarint +3: LSB set, offset delta +1
	chain := []byte{0x02, 0x03}
	d := chainDecoder(2)
	if err := d.decodeChain(chain, chainLayout(chain, 10, 2), blkVCDynAlias2); err != nil {
		t.Fatal(err)
	}
	if d.vars[1].chunkOffset != 0 || d.vars[1].chunkLength != 0 {
		t.Errorf("handle 1 = {%d, %d}; want no-data", d.vars[1].chunkOffset, d.vars[1].chunkLength)
	}
	if d.vars[2].chunkOffset != 1 {
		t.Errorf("handle 2 offset = %d; want 1", d.vars[2].chunkOffset)
	}
	// last data-bearing chunk closes against the end of the
	// VC data region
	if d.vars[2].chunkLength != 10 {
		t.Errorf("handle 2 length = %d; want 10", d.vars[2].chunkLength)
	}
}

func TestChainDynAlias2Aliases(t *testing.T) {
	// handle 1: offset delta +1 (svarint 3)
	// handle 2: new alias to handle 1 (svarint -1 -> 0x7f)
	// handle 3: reuse previous alias (svarint 0 with LSB set: 1)
	chain := []byte{0x03, 0x7f, 0x01}
	d := chainDecoder(3)
	l := chainLayout(chain, 6, 3)
	if err := d.decodeChain(chain, l, blkVCDynAlias2); err != nil {
		t.Fatal(err)
	}
	if d.vars[1].chunkOffset != 1 || d.vars[1].chunkLength != 6 {
		t.Errorf("handle 1 = {%d, %d}", d.vars[1].chunkOffset, d.vars[1].chunkLength)
	}
	if d.vars[2].chunkLength != -1 || d.vars[3].chunkLength != -1 {
		t.Errorf("aliases = %d, %d; want -1, -1", d.vars[2].chunkLength, d.vars[3].chunkLength)
	}
	if err := d.propagateAliases(l); err != nil {
		t.Fatal(err)
	}
	want := []uint32{1, 2, 3}
	got := d.vars[1].aliases
	if len(got) != len(want) || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("alias list = %v; want %v", got, want)
	}
}

func TestChainDynAlias(t *testing.T) {
	// handle 1: offset delta +3 (uvarint 7)
	// handle 2: alias pair (0, target 1)
	// handle 3: offset delta +2 (uvarint 5)
	// handle 4..5: skip run of 2 (uvarint 4)
	chain := []byte{0x07, 0x00, 0x01, 0x05, 0x04}
	d := chainDecoder(5)
	l := chainLayout(chain, 8, 5)
	if err := d.decodeChain(chain, l, blkVCDynAlias); err != nil {
		t.Fatal(err)
	}
	if d.vars[1].chunkOffset != 3 || d.vars[1].chunkLength != 2 {
		t.Errorf("handle 1 = {%d, %d}; want {3, 2}", d.vars[1].chunkOffset, d.vars[1].chunkLength)
	}
	if d.vars[2].chunkOffset != 0 || d.vars[2].chunkLength != -1 {
		t.Errorf("handle 2 = {%d, %d}; want alias of 1", d.vars[2].chunkOffset, d.vars[2].chunkLength)
	}
	if d.vars[3].chunkOffset != 5 || d.vars[3].chunkLength != 8-5+1 {
		t.Errorf("handle 3 = {%d, %d}", d.vars[3].chunkOffset, d.vars[3].chunkLength)
	}
	for h := 4; h <= 5; h++ {
		if d.vars[h].chunkOffset != 0 || d.vars[h].chunkLength != 0 {
			t.Errorf("handle %d = {%d, %d}; want no-data", h, d.vars[h].chunkOffset, d.vars[h].chunkLength)
		}
	}
}

func TestAliasOfAliasFatal(t *testing.T) {
	d := chainDecoder(3)
	d.vars[1].chunkOffset, d.vars[1].chunkLength = 1, 4
	d.vars[2].chunkLength = -3 // alias of an alias
	d.vars[3].chunkLength = -1
	err := d.propagateAliases(&vcLayout{vcMaxHandle: 3})
	if !errors.Is(err, wave.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestAliasOutOfRangeFatal(t *testing.T) {
	d := chainDecoder(2)
	d.vars[2].chunkLength = -9
	err := d.propagateAliases(&vcLayout{vcMaxHandle: 2})
	if !errors.Is(err, wave.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}
