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
	"math"

	"github.com/wavedump/wavedump/compr"
	"github.com/wavedump/wavedump/wave"
)

// Value-change pack types.
const (
	packZlib   = 'Z'
	packLZ4    = '4'
	packFastLZ = 'F'
)

// parseValueChangeBlock decodes one queued value-change
// block (type and length prefix included). Only the dynamic
// alias variants are decodable; plain value-change blocks
// are reported unsupported and skipped.
func (d *Decoder) parseValueChangeBlock(block []byte) error {
	br := newBytesReader(block)
	blockType, err := br.u8()
	if err != nil {
		return err
	}
	length, err := br.u64()
	if err != nil {
		return err
	}
	bstart, err := br.u64()
	if err != nil {
		return err
	}
	bend, err := br.u64()
	if err != nil {
		return err
	}
	memRequired, err := br.u64()
	if err != nil {
		return err
	}
	d.console.Info(blockNames[blockType], "block: time", int64(bstart)+d.timeZero, "-", int64(bend)+d.timeZero,
		"memory", memRequired, "length", length)

	if blockType == blkVCData {
		d.console.Warning("plain value-change block is not supported - skipped")
		return nil
	}
	payload := block[33:]
	if len(payload) == 0 {
		d.console.Info("  empty value-change block")
		return nil
	}
	return d.parseDynAlias(payload, blockType, int64(bstart)+d.timeZero)
}

// vcLayout is the reverse-computed section layout of a
// dynamic alias block. All offsets are relative to the block
// payload (after the 33-byte block header).
type vcLayout struct {
	frameUclen, frameClen int64
	frameMaxHandle        uint64
	frameDataPos          int64

	vcMaxHandle uint64
	packType    byte
	vcDataPos   int64
	vcDataSize  int64

	chainDataPos int64
	chainClen    int64

	timeDataPos         int64
	tsecUclen, tsecClen int64
	tsecNitems          int64
}

// layoutDynAlias computes the section layout: the frame and
// value-change headers parse forward from the payload start,
// the time and chain trailers parse backward from its end.
func (d *Decoder) layoutDynAlias(payload []byte) (*vcLayout, error) {
	l := &vcLayout{}
	r := newBytesReader(payload)

	fu, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	fc, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	l.frameUclen, l.frameClen = int64(fu), int64(fc)
	if l.frameMaxHandle, err = r.uvarint(); err != nil {
		return nil, err
	}
	l.frameDataPos = int64(r.position())
	if err := r.skip(l.frameClen); err != nil {
		return nil, err
	}
	if l.vcMaxHandle, err = r.uvarint(); err != nil {
		return nil, err
	}
	if l.packType, err = r.u8(); err != nil {
		return nil, err
	}
	switch l.packType {
	case packZlib, packLZ4, packFastLZ:
	default:
		return nil, wave.Errf(wave.ErrInvalidToken, r.offset(), "invalid pack type %q", l.packType)
	}
	l.vcDataPos = int64(r.position())

	if len(payload) < 32 {
		return nil, wave.Errf(wave.ErrUnexpectedEOF, 0, "value-change block too small for trailers: %d bytes", len(payload))
	}
	if err := r.seek(int64(len(payload)) - 24); err != nil {
		return nil, err
	}
	tu, err := r.u64()
	if err != nil {
		return nil, err
	}
	tc, err := r.u64()
	if err != nil {
		return nil, err
	}
	tn, err := r.u64()
	if err != nil {
		return nil, err
	}
	l.tsecUclen, l.tsecClen, l.tsecNitems = int64(tu), int64(tc), int64(tn)
	l.timeDataPos = int64(len(payload)) - 24 - l.tsecClen

	chainHeaderPos := l.timeDataPos - 8
	if chainHeaderPos < l.vcDataPos {
		return nil, wave.Errf(wave.ErrUnexpectedEOF, 0, "chain trailer overlaps value-change data")
	}
	if err := r.seek(chainHeaderPos); err != nil {
		return nil, err
	}
	cc, err := r.u64()
	if err != nil {
		return nil, err
	}
	l.chainClen = int64(cc)
	l.chainDataPos = chainHeaderPos - l.chainClen
	l.vcDataSize = l.chainDataPos - l.vcDataPos
	if l.chainDataPos < l.vcDataPos || l.timeDataPos < 0 {
		return nil, wave.Errf(wave.ErrUnexpectedEOF, 0, "inconsistent section layout")
	}
	return l, nil
}

func (d *Decoder) parseDynAlias(payload []byte, blockType byte, blockStart int64) error {
	l, err := d.layoutDynAlias(payload)
	if err != nil {
		return err
	}
	d.console.Info("  frame:", l.frameClen, "->", l.frameUclen, "bytes,", l.frameMaxHandle, "handles;",
		"vc:", l.vcDataSize, "bytes, pack", string(l.packType), ", max handle", l.vcMaxHandle, ";",
		"chain:", l.chainClen, "bytes; time:", l.tsecNitems, "entries")

	if err := d.decodeFrame(payload, l, blockStart); err != nil {
		return err
	}
	timestamps, err := d.decodeTime(payload, l)
	if err != nil {
		return err
	}
	if err := d.decodeChain(payload, l, blockType); err != nil {
		return err
	}
	if err := d.propagateAliases(l); err != nil {
		return err
	}
	if len(timestamps) > 0 {
		d.decodeChunks(payload, l, timestamps)
	} else {
		d.console.Info("  no timestamps - skipping value-change data")
	}
	// handles whose chunks held no changes still emit their
	// frame initial value
	if l.frameClen > 0 {
		for h := uint64(1); h <= l.vcMaxHandle && h < uint64(len(d.vars)); h++ {
			if v := d.vars[h]; v != nil {
				if err := d.assertInitial(v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// decodeFrame seeds every live handle's initial value from
// the zlib-compressed frame section. Values are stored, not
// emitted; emission happens lazily per handle.
func (d *Decoder) decodeFrame(payload []byte, l *vcLayout, blockStart int64) error {
	if l.frameClen <= 0 {
		return nil
	}
	raw := payload[l.frameDataPos : l.frameDataPos+l.frameClen]
	data := raw
	if l.frameClen != l.frameUclen {
		var err error
		data, err = compr.Decompress(raw, compr.Zlib, l.frameUclen)
		if err != nil && err != compr.ErrShort {
			return wave.Errf(wave.ErrDecompression, l.frameDataPos, "frame section: %v", err)
		}
		if err == compr.ErrShort {
			// the frame section tolerates a short inflate
			d.console.Warning("frame section short decode:", len(data), "of", l.frameUclen, "bytes")
		}
	}
	pos := 0
	start := d.frameHandle + 1
	end := d.frameHandle + l.frameMaxHandle
	seeded := 0
	for h := start; h <= end; h++ {
		if h >= uint64(len(d.vars)) {
			continue
		}
		v := d.vars[h]
		if v == nil {
			continue
		}
		size := v.Scale
		if v.Kind == wave.KindFloat {
			size = 8
		}
		if size <= 0 {
			continue
		}
		if pos+size > len(data) {
			return wave.Errf(wave.ErrUnexpectedEOF, l.frameDataPos, "frame section short: handle %d needs %d bytes at %d", h, size, pos)
		}
		v.idata = append([]byte(nil), data[pos:pos+size]...)
		v.blockStart = blockStart
		pos += size
		seeded++
	}
	d.frameHandle = end
	if pos != len(data) {
		return wave.Errf(wave.ErrInvariant, l.frameDataPos, "frame section size mismatch: consumed %d of %d bytes", pos, len(data))
	}
	d.console.Info("  frame seeded", seeded, "handles")
	return nil
}

// decodeTime inflates the time section and accumulates the
// varint deltas into absolute timestamps.
func (d *Decoder) decodeTime(payload []byte, l *vcLayout) ([]int64, error) {
	if l.tsecClen <= 0 {
		return nil, nil
	}
	raw := payload[l.timeDataPos : l.timeDataPos+l.tsecClen]
	data := raw
	if l.tsecClen != l.tsecUclen {
		var err error
		data, err = compr.Decompress(raw, compr.Zlib, l.tsecUclen)
		if err != nil {
			return nil, wave.Errf(wave.ErrDecompression, l.timeDataPos, "time section: %v", err)
		}
	}
	tr := newBytesReader(data)
	out := make([]int64, 0, l.tsecNitems)
	t := d.timeZero
	for i := int64(0); i < l.tsecNitems && tr.more(); i++ {
		dt, err := tr.uvarint()
		if err != nil {
			return nil, err
		}
		t += int64(dt)
		out = append(out, t)
	}
	return out, nil
}

// decodeChain fills the per-handle chunk offset and length
// tables. Lengths use reserved encodings: negative values
// alias another handle, zero means no data.
func (d *Decoder) decodeChain(payload []byte, l *vcLayout, blockType byte) error {
	for h := uint64(1); h < uint64(len(d.vars)); h++ {
		if v := d.vars[h]; v != nil {
			v.chunkOffset = 0
			v.chunkLength = 0
		}
	}
	chain := payload[l.chainDataPos : l.chainDataPos+l.chainClen]
	cr := newBytesReader(chain)
	maxHandle := l.vcMaxHandle

	idx := uint64(1)
	pidx := uint64(0)
	pval := int64(0)
	set := func(h uint64, off, length int64) {
		if h < uint64(len(d.vars)) && d.vars[h] != nil {
			d.vars[h].chunkOffset = off
			d.vars[h].chunkLength = length
		}
	}
	if blockType == blkVCDynAlias2 {
		prevAlias := int64(0)
		for cr.more() && idx <= maxHandle {
			val, err := cr.svarint()
			if err != nil {
				return err
			}
			if val&1 != 0 {
				shval := val >> 1
				switch {
				case shval > 0:
					pval += shval
					set(idx, pval, 0)
					if pidx != 0 && pidx < uint64(len(d.vars)) && d.vars[pidx] != nil {
						d.vars[pidx].chunkLength = pval - d.vars[pidx].chunkOffset
					}
					pidx = idx
					idx++
				case shval < 0:
					prevAlias = shval
					set(idx, 0, shval)
					idx++
				default:
					set(idx, 0, prevAlias)
					idx++
				}
			} else {
				for i := int64(0); i < val>>1 && idx <= maxHandle; i++ {
					set(idx, 0, 0)
					idx++
				}
			}
		}
	} else {
		for cr.more() && idx <= maxHandle {
			val, err := cr.uvarint()
			if err != nil {
				return err
			}
			switch {
			case val == 0:
				target, err := cr.uvarint()
				if err != nil {
					return err
				}
				set(idx, 0, -int64(target))
				idx++
			case val&1 != 0:
				pval += int64(val >> 1)
				set(idx, pval, 0)
				if pidx != 0 && pidx < uint64(len(d.vars)) && d.vars[pidx] != nil {
					d.vars[pidx].chunkLength = pval - d.vars[pidx].chunkOffset
				}
				pidx = idx
				idx++
			default:
				for i := uint64(0); i < val>>1 && idx <= maxHandle; i++ {
					set(idx, 0, 0)
					idx++
				}
			}
		}
	}
	// close the last data-bearing chunk against the end of
	// the VC data region; chain offsets count the pack-type
	// byte, hence the +1
	if pidx != 0 && pidx < uint64(len(d.vars)) && d.vars[pidx] != nil {
		d.vars[pidx].chunkLength = l.vcDataSize - d.vars[pidx].chunkOffset + 1
	}
	d.console.Info("  chain table:", idx-1, "entries")
	return nil
}

// propagateAliases attaches every aliasing handle to its
// target's fan-out list. A reference to a missing handle or
// to another alias is fatal.
func (d *Decoder) propagateAliases(l *vcLayout) error {
	for h := uint64(1); h <= l.vcMaxHandle && h < uint64(len(d.vars)); h++ {
		v := d.vars[h]
		if v == nil || v.chunkLength >= 0 {
			continue
		}
		target := uint64(-v.chunkLength)
		if target == 0 || target >= uint64(len(d.vars)) || d.vars[target] == nil {
			return wave.Errf(wave.ErrInvariant, 0, "handle %d aliases out-of-range handle %d", h, target)
		}
		tv := d.vars[target]
		if tv.chunkLength < 0 {
			return wave.Errf(wave.ErrInvariant, 0, "handle %d aliases handle %d, which is itself an alias", h, target)
		}
		if tv.chunkOffset <= 0 || tv.chunkLength <= 0 {
			// alias of a handle with no data this block
			continue
		}
		if tv.aliases == nil {
			tv.aliases = append(tv.aliases, uint32(target))
		}
		tv.aliases = append(tv.aliases, uint32(h))
	}
	return nil
}

// decodeChunks walks every data-bearing handle and decodes
// its compressed chunk. Failures are per-handle: the signal
// is abandoned and decoding continues with the others.
func (d *Decoder) decodeChunks(payload []byte, l *vcLayout, timestamps []int64) {
	done, changes := 0, 0
	for h := uint64(1); h <= l.vcMaxHandle && h < uint64(len(d.vars)); h++ {
		v := d.vars[h]
		if v == nil || v.chunkOffset <= 0 || v.chunkLength <= 0 {
			continue
		}
		n, err := d.decodeChunk(payload, l, v, timestamps)
		if err != nil {
			d.console.Error("handle", h, "chunk decode failed:", err)
			continue
		}
		done++
		changes += n
	}
	d.console.Info("  value changes:", changes, "across", done, "handles")
}

func (d *Decoder) decodeChunk(payload []byte, l *vcLayout, v *variable, timestamps []int64) (int, error) {
	// chain offsets are one-based: the pack-type byte is
	// counted into the chain arithmetic
	start := l.vcDataPos + v.chunkOffset - 1
	if start < l.vcDataPos || start+v.chunkLength > l.chainDataPos {
		return 0, wave.Errf(wave.ErrUnexpectedEOF, start, "chunk outside value-change data region")
	}
	cr := newBytesReader(payload[start : start+v.chunkLength])
	uclen, err := cr.uvarint()
	if err != nil {
		return 0, err
	}
	raw := payload[start+int64(cr.position()) : start+v.chunkLength]
	chunk := raw
	if uclen != 0 {
		typ := compr.Zlib
		switch l.packType {
		case packLZ4:
			typ = compr.LZ4
		case packFastLZ:
			typ = compr.FastLZ
		}
		chunk, err = compr.Decompress(raw, typ, int64(uclen))
		if err != nil {
			// a short or failed chunk inflate is not tolerable
			return 0, wave.Errf(wave.ErrDecompression, start, "chunk: %v", err)
		}
	}

	r := newBytesReader(chunk)
	timeIndex := 0
	n := 0
	for r.more() {
		vli, err := r.uvarint()
		if err != nil {
			return n, err
		}
		switch {
		case v.Kind == wave.KindText || (v.Kind == wave.KindLogic && v.Scale == 0):
			// variable-length payload
			timeIndex += int(vli >> 1)
			plen, err := r.uvarint()
			if err != nil {
				return n, err
			}
			data, err := r.bytes(int(plen))
			if err != nil {
				return n, err
			}
			t, err := at(timestamps, timeIndex)
			if err != nil {
				return n, err
			}
			if err := d.emitText(v, t, data); err != nil {
				return n, err
			}
		case v.Kind == wave.KindLogic && v.Scale <= 1:
			shcnt := uint(2) << (vli & 1)
			timeIndex += int(vli >> shcnt)
			enc := byte(vli & 0x0f)
			if vli&1 == 0 {
				enc = byte(vli & 0x03)
			}
			t, err := at(timestamps, timeIndex)
			if err != nil {
				return n, err
			}
			if err := d.emitSingleBit(v, t, enc); err != nil {
				return n, err
			}
		case v.Kind == wave.KindLogic:
			timeIndex += int(vli >> 1)
			size := v.Scale
			bitData := vli&1 == 0
			if bitData {
				size = (size + 7) / 8
			}
			data, err := r.bytes(size)
			if err != nil {
				return n, err
			}
			t, err := at(timestamps, timeIndex)
			if err != nil {
				return n, err
			}
			if err := d.emitVector(v, t, bitData, data); err != nil {
				return n, err
			}
		case v.Kind == wave.KindFloat:
			timeIndex += int(vli >> 1)
			data, err := r.bytes(8)
			if err != nil {
				return n, err
			}
			t, err := at(timestamps, timeIndex)
			if err != nil {
				return n, err
			}
			if err := d.emitReal(v, t, data); err != nil {
				return n, err
			}
		default:
			return n, wave.Errf(wave.ErrUnsupported, 0, "change record for %v signal", v.Kind)
		}
		n++
	}
	return n, nil
}

func at(timestamps []int64, i int) (int64, error) {
	if i < 0 || i >= len(timestamps) {
		return 0, wave.Errf(wave.ErrInvalidNumeric, 0, "time index %d outside %d entries", i, len(timestamps))
	}
	return timestamps[i], nil
}

// fanout returns the handles an emission reaches: the alias
// list when one is attached, otherwise the handle itself.
func (d *Decoder) fanout(v *variable) []uint32 {
	if v.aliases != nil {
		return v.aliases
	}
	return []uint32{v.handle}
}

// assertInitial flushes a pending frame value, if any, at
// the block start timestamp.
func (d *Decoder) assertInitial(v *variable) error {
	if v.idata == nil {
		return nil
	}
	idata := v.idata
	v.idata = nil
	switch v.Kind {
	case wave.KindFloat:
		return d.emitReal(v, v.blockStart, idata)
	case wave.KindText:
		return d.emitText(v, v.blockStart, idata)
	default:
		return d.emitVector(v, v.blockStart, false, idata)
	}
}

// flushInitial emits a fan-out member's pending frame value
// before its first received change when that change happens
// after block start; a change at block start supersedes it.
func (d *Decoder) flushInitial(v *variable, t int64) error {
	if v.idata == nil {
		return nil
	}
	if t <= v.blockStart {
		v.idata = nil
		return nil
	}
	return d.assertInitial(v)
}

func (d *Decoder) emitSingleBit(v *variable, t int64, enc byte) error {
	st := stateTable[enc]
	if st == stateNone {
		return wave.Errf(wave.ErrInvalidToken, 0, "invalid logic state 0x%02x", enc)
	}
	level := int(st >> 4)
	state := st & 0x0f
	for _, h := range d.fanout(v) {
		av := d.vars[h]
		if av == nil || av.Writer == nil {
			continue
		}
		if err := d.flushInitial(av, t); err != nil {
			return err
		}
		if av.Writer.Kind != wave.KindLogic {
			continue
		}
		if err := av.Writer.WriteLogicState(t, false, level, state); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) emitVector(v *variable, t int64, bitData bool, data []byte) error {
	// flush pending initials first: the flush re-enters this
	// function and shares the states buffer below
	for _, h := range d.fanout(v) {
		av := d.vars[h]
		if av == nil || av.Writer == nil || av.Writer.Kind != wave.KindLogic {
			continue
		}
		if err := d.flushInitial(av, t); err != nil {
			return err
		}
	}
	if v.states == nil {
		v.states = make([]byte, v.Scale)
	}
	states := v.states
	tag := false
	level := wave.Level2
	if bitData {
		// one bit per bit, MSB first, width rounded up to
		// whole bytes
		n := 0
		for i := 0; n < v.Scale; i++ {
			b := data[i]
			for bit := 0; bit < 8 && n < v.Scale; bit++ {
				states[n] = (b >> (7 - bit)) & 1
				n++
			}
		}
	} else {
		for i, b := range data {
			st := stateTable[b]
			if st == stateNone {
				return wave.Errf(wave.ErrInvalidToken, 0, "invalid logic state %q in vector", b)
			}
			if lv := int(st >> 4); lv > level {
				level = lv
			}
			state := st & 0x0f
			states[i] = state
			if state == wave.StateX {
				tag = true
			}
		}
	}
	for _, h := range d.fanout(v) {
		av := d.vars[h]
		if av == nil || av.Writer == nil || av.Writer.Kind != wave.KindLogic {
			continue
		}
		if err := av.Writer.WriteLogic(t, tag, level, wave.State0, states); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) emitReal(v *variable, t int64, data []byte) error {
	if len(data) != 8 {
		return wave.Errf(wave.ErrUnexpectedEOF, 0, "real sample needs 8 bytes, have %d", len(data))
	}
	bits := binary.BigEndian.Uint64(data)
	if d.littleEndian {
		bits = binary.LittleEndian.Uint64(data)
	}
	val := math.Float64frombits(bits)
	for _, h := range d.fanout(v) {
		av := d.vars[h]
		if av == nil || av.Writer == nil || av.Writer.Kind != wave.KindFloat {
			continue
		}
		if err := d.flushInitial(av, t); err != nil {
			return err
		}
		if err := av.Writer.WriteFloat(t, false, val); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) emitText(v *variable, t int64, data []byte) error {
	for _, h := range d.fanout(v) {
		av := d.vars[h]
		if av == nil || av.Writer == nil || av.Writer.Kind != wave.KindText {
			continue
		}
		if err := d.flushInitial(av, t); err != nil {
			return err
		}
		if err := av.Writer.WriteText(t, false, string(data)); err != nil {
			return err
		}
	}
	return nil
}
