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
	"github.com/wavedump/wavedump/compr"
	"github.com/wavedump/wavedump/wave"
)

// zeroWidthMarker in a geometry entry declares a zero-width
// (variable-length) entry rather than a bit count.
const zeroWidthMarker = 0xFFFFFFFF

// parseGeometry decodes a geometry block: one varint per
// handle in declaration order assigning the signal width.
// Geometry may be split across blocks; geomHandle carries
// the cursor.
func (d *Decoder) parseGeometry(r *reader) error {
	if !d.headerParsed {
		return wave.Errf(wave.ErrInvariant, r.offset(), "geometry block before header")
	}
	uclen, err := r.u64()
	if err != nil {
		return err
	}
	count, err := r.u64()
	if err != nil {
		return err
	}
	clen := r.size() - 16
	data := []byte(nil)
	if clen > 0 {
		raw, err := r.bytes(clen)
		if err != nil {
			return err
		}
		if uint64(clen) != uclen {
			data, err = compr.Decompress(raw, compr.Zlib, int64(uclen))
			if err != nil {
				return wave.Errf(wave.ErrDecompression, r.offset(), "geometry block: %v", err)
			}
		} else {
			data = raw
		}
	}
	d.console.Info("geometry block:", count, "handles from", d.geomHandle+1)

	gr := newBytesReader(data)
	start := d.geomHandle + 1
	end := d.geomHandle + count
	logic, reals := 0, 0
	for handle := start; handle <= end && gr.more(); handle++ {
		val, err := gr.uvarint()
		if err != nil {
			return err
		}
		if handle >= uint64(len(d.vars)) {
			d.console.Warning("geometry handle", handle, "beyond declared max handle - ignored")
			continue
		}
		v := d.vars[handle]
		if v == nil {
			v = &variable{handle: uint32(handle)}
			v.Idx0, v.Idx1 = -1, -1
			d.vars[handle] = v
		}
		switch {
		case val == 0:
			// real signal, 64-bit float
			v.Kind = wave.KindFloat
			reals++
		case val == zeroWidthMarker:
			// zero-width: variable-length payloads
			v.Kind = wave.KindText
			v.Scale = 0
			logic++
		default:
			v.Kind = wave.KindLogic
			v.Scale = int(val)
			logic++
		}
	}
	d.geomHandle = end
	d.console.Info("geometry block done:", logic, "logic,", reals, "real")
	return nil
}
