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
	"math"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/wavedump/wavedump/wave"
)

// builder assembles synthetic trace bytes.
type builder struct {
	bytes.Buffer
}

func (b *builder) u8(v byte) { b.WriteByte(v) }

func (b *builder) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

func (b *builder) uvarint(v uint64) {
	for v >= 0x80 {
		b.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	b.WriteByte(byte(v))
}

func (b *builder) cstring(s string) {
	b.WriteString(s)
	b.WriteByte(0)
}

// block frames payload as one typed block: type byte, then
// big-endian length that includes the length field itself.
func (b *builder) block(typ byte, payload []byte) {
	b.u8(typ)
	b.u64(uint64(8 + len(payload)))
	b.Write(payload)
}

func headerBlock(endRaw uint64, timescale int8) []byte {
	var p builder
	p.u64(0)      // start time
	p.u64(endRaw) // end time
	var et [8]byte
	binary.BigEndian.PutUint64(et[:], math.Float64bits(endianTest))
	p.Write(et[:])
	p.u64(0) // memory hint
	p.u64(1) // scope count
	p.u64(2) // var count
	p.u64(2) // max handle
	p.u64(1) // section count
	p.u8(byte(timescale))
	version := make([]byte, hdrVersionSize)
	copy(version, "fixture")
	p.Write(version)
	date := make([]byte, hdrDateSize)
	p.Write(date)
	p.u8(0)  // file type
	p.u64(0) // time zero
	return p.Bytes()
}

func geometryBlock(widths ...uint64) []byte {
	var data builder
	for _, w := range widths {
		data.uvarint(w)
	}
	var p builder
	p.u64(uint64(data.Len()))
	p.u64(uint64(len(widths)))
	p.Write(data.Bytes())
	return p.Bytes()
}

func hierarchyBlock(t *testing.T, entries []byte) []byte {
	t.Helper()
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(entries); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	var p builder
	p.u64(uint64(len(entries)))
	p.Write(gz.Bytes())
	return p.Bytes()
}

func twoWireHierarchy() []byte {
	var h builder
	h.u8(tagScope)
	h.u8(0) // module
	h.cstring("top")
	h.cstring("")
	h.u8(16) // wire
	h.u8(0)  // implicit direction
	h.cstring("a")
	h.uvarint(1)
	h.uvarint(0) // new handle -> 1
	h.u8(16)
	h.u8(0)
	h.cstring("b")
	h.uvarint(1)
	h.uvarint(0) // new handle -> 2
	h.u8(tagUpscope)
	return h.Bytes()
}

// vcBlockPayload assembles a dynamic-alias payload from its
// sections: frame chars, chain stream, chunk bytes (placed
// as handle 1's chunk at offset 1), and time deltas.
func vcBlockPayload(frame, chain, vcData []byte, deltas []uint64) []byte {
	var p builder
	p.uvarint(uint64(len(frame))) // frame uclen
	p.uvarint(uint64(len(frame))) // frame clen (uncompressed)
	p.uvarint(2)                  // frame max handle
	p.Write(frame)
	p.uvarint(2) // vc max handle
	p.u8(packZlib)
	p.Write(vcData)
	p.Write(chain)
	p.u64(uint64(len(chain)))
	var td builder
	for _, d := range deltas {
		td.uvarint(d)
	}
	p.Write(td.Bytes())
	p.u64(uint64(td.Len())) // time uclen
	p.u64(uint64(td.Len())) // time clen (uncompressed)
	p.u64(uint64(len(deltas)))
	return p.Bytes()
}

func vcBlock(frame, chain, vcData []byte, deltas []uint64, startRaw, endRaw uint64) []byte {
	var p builder
	p.u64(startRaw)
	p.u64(endRaw)
	p.u64(0) // memory required
	p.Write(vcBlockPayload(frame, chain, vcData, deltas))
	return p.Bytes()
}

// aliasFixture is a complete trace: two width-1 wires where
// handle 2's chunk aliases handle 1, value-change data
// queued before geometry and hierarchy to force the second
// pass, plus a skip and an unknown block.
func aliasFixture(t *testing.T) []byte {
	t.Helper()
	// handle 1 chunk: uncompressed marker + three single-bit
	// records (t0 -> 1, t5 -> 0, t10 -> 1)
	vcData := []byte{0x00, 0x02, 0x04, 0x06}
	// chain: offset delta 1 for handle 1, alias pair for 2
	chain := []byte{0x03, 0x00, 0x01}
	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkVCDynAlias, vcBlock([]byte("00"), chain, vcData, []uint64{0, 5, 5}, 0, 10))
	f.block(blkGeometry, geometryBlock(1, 1))
	f.block(blkHierarchy, hierarchyBlock(t, twoWireHierarchy()))
	f.block(blkSkip, []byte{0xde, 0xad, 0xbe, 0xef})
	f.block(77, []byte{0x01, 0x02})
	return f.Bytes()
}

func decodeFixture(t *testing.T, raw []byte) (*Decoder, *wave.Record) {
	t.Helper()
	return decodeFixtureProps(t, raw, nil)
}

func decodeFixtureProps(t *testing.T, raw []byte, props *wave.Properties) (*Decoder, *wave.Record) {
	t.Helper()
	d := NewDecoder(bytes.NewReader(raw), props, nil)
	rec, err := d.Decode(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return d, rec
}

func fixtureSignal(t *testing.T, rec *wave.Record, name string) *wave.Signal {
	t.Helper()
	for _, s := range rec.Signals {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("signal %q not found", name)
	return nil
}

func scalarSamples(s *wave.Signal) map[int64]byte {
	out := make(map[int64]byte)
	for i := range s.Writer.Logic {
		l := &s.Writer.Logic[i]
		out[l.T] = l.Expand(1)[0]
	}
	return out
}

func TestDecodeAliasFixture(t *testing.T) {
	d, rec := decodeFixture(t, aliasFixture(t))
	if rec.Base != wave.Ns {
		t.Errorf("base = %v", rec.Base)
	}
	if rec.Start != 0 || rec.End != 11 {
		t.Errorf("record range = [%d, %d]; want [0, 11]", rec.Start, rec.End)
	}
	if d.queued != 1 || d.consumedVC != d.queued {
		t.Errorf("queued %d, consumed %d", d.queued, d.consumedVC)
	}
	a := fixtureSignal(t, rec, "a")
	b := fixtureSignal(t, rec, "b")
	if got := rec.H.Path(a.Scope); got != "top" {
		t.Errorf("scope path = %q", got)
	}
	want := map[int64]byte{0: wave.State1, 5: wave.State0, 10: wave.State1}
	if got := scalarSamples(a); !reflect.DeepEqual(got, want) {
		t.Errorf("handle 1 samples = %v; want %v", got, want)
	}
	// the alias target's emissions are multiplexed onto the
	// aliasing handle at identical timestamps
	if got := scalarSamples(b); !reflect.DeepEqual(got, want) {
		t.Errorf("alias samples = %v; want %v", got, want)
	}
}

// eventStringHierarchy declares an "event"-typed wire and a
// "string"-typed variable; the sample kinds still come from
// the geometry entries alone.
func eventStringHierarchy() []byte {
	var h builder
	h.u8(tagScope)
	h.u8(0)
	h.cstring("top")
	h.cstring("")
	h.u8(0) // event
	h.u8(0)
	h.cstring("ev")
	h.uvarint(1)
	h.uvarint(0) // new handle -> 1
	h.u8(21) // string
	h.u8(0)
	h.cstring("msg")
	h.uvarint(0)
	h.uvarint(0) // new handle -> 2
	h.u8(tagUpscope)
	return h.Bytes()
}

func TestEventAndVariableLengthHandles(t *testing.T) {
	// handle 1: geometry width 1 -> single-bit logic decode,
	// even though the hierarchy labels it "event"
	chunk1 := []byte{0x00, 0x02, 0x04} // t0 -> 1, t5 -> 0
	// handle 2: geometry 0xFFFFFFFF -> zero width, chunk
	// carries variable-length payloads
	chunk2 := []byte{0x00,
		0x00, 0x02, 'o', 'k',
		0x02, 0x03, 'e', 'n', 'd',
	}
	// chain: handle 1 at offset 1, handle 2 at offset 4
	chain := []byte{0x03, 0x07}
	vcData := append(append([]byte(nil), chunk1...), chunk2...)
	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkVCDynAlias, vcBlock(nil, chain, vcData, []uint64{0, 5}, 0, 10))
	f.block(blkGeometry, geometryBlock(1, 0xFFFFFFFF))
	f.block(blkHierarchy, hierarchyBlock(t, eventStringHierarchy()))

	_, rec := decodeFixture(t, f.Bytes())
	ev := fixtureSignal(t, rec, "ev")
	if ev.Kind != wave.KindLogic || ev.Scale != 1 {
		t.Errorf("ev: kind %v scale %d; want logic 1", ev.Kind, ev.Scale)
	}
	if ev.Description != "event" {
		t.Errorf("ev description = %q", ev.Description)
	}
	want := map[int64]byte{0: wave.State1, 5: wave.State0}
	if got := scalarSamples(ev); !reflect.DeepEqual(got, want) {
		t.Errorf("ev samples = %v; want %v", got, want)
	}
	msg := fixtureSignal(t, rec, "msg")
	if msg.Kind != wave.KindText || msg.Scale != 0 {
		t.Errorf("msg: kind %v scale %d; want text 0", msg.Kind, msg.Scale)
	}
	if msg.Description != "string" {
		t.Errorf("msg description = %q", msg.Description)
	}
	texts := msg.Writer.Texts
	if len(texts) != 2 || texts[0].T != 0 || texts[0].V != "ok" || texts[1].T != 5 || texts[1].V != "end" {
		t.Errorf("msg samples = %+v", texts)
	}
}

func TestFstEmptyScopePruned(t *testing.T) {
	var h builder
	h.Write(twoWireHierarchy())
	h.u8(tagScope)
	h.u8(0)
	h.cstring("unused")
	h.cstring("")
	h.u8(tagUpscope)

	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkGeometry, geometryBlock(1, 1))
	f.block(blkHierarchy, hierarchyBlock(t, h.Bytes()))

	_, rec := decodeFixture(t, f.Bytes())
	var names []string
	rec.Walk(func(id wave.ScopeID, depth int) {
		names = append(names, rec.H.Name(id))
	})
	if !reflect.DeepEqual(names, []string{"", "top"}) {
		t.Errorf("walked scopes %q", names)
	}
}

func TestFstHierarchySplit(t *testing.T) {
	var h builder
	h.u8(16) // wire
	h.u8(0)
	h.cstring("cpu.alu.carry")
	h.uvarint(1)
	h.uvarint(0)

	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkGeometry, geometryBlock(1))
	f.block(blkHierarchy, hierarchyBlock(t, h.Bytes()))

	_, rec := decodeFixtureProps(t, f.Bytes(), &wave.Properties{Hierarchy: `\.`, Empty: true})
	s := fixtureSignal(t, rec, "carry")
	if got := rec.H.Path(s.Scope); got != "cpu.alu" {
		t.Errorf("scope path = %q", got)
	}
}

func TestFrameInitialBeforeFirstChange(t *testing.T) {
	// the first change lands after block start, so the frame
	// value is emitted first, on the target and its alias
	vcData := []byte{0x00, 0x02, 0x04} // t5 -> 1, t10 -> 0
	chain := []byte{0x03, 0x00, 0x01}
	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkVCDynAlias, vcBlock([]byte("00"), chain, vcData, []uint64{5, 5}, 0, 10))
	f.block(blkGeometry, geometryBlock(1, 1))
	f.block(blkHierarchy, hierarchyBlock(t, twoWireHierarchy()))

	_, rec := decodeFixture(t, f.Bytes())
	want := map[int64]byte{0: wave.State0, 5: wave.State1, 10: wave.State0}
	for _, name := range []string{"a", "b"} {
		s := fixtureSignal(t, rec, name)
		if got := scalarSamples(s); !reflect.DeepEqual(got, want) {
			t.Errorf("%s samples = %v; want %v", name, got, want)
		}
	}
}

func TestDecodeZWrapper(t *testing.T) {
	inner := aliasFixture(t)
	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	if _, err := gw.Write(inner); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	var p builder
	p.u64(uint64(len(inner)))
	p.Write(gz.Bytes())
	var f builder
	f.block(blkZWrapper, p.Bytes())

	_, rec := decodeFixture(t, f.Bytes())
	a := fixtureSignal(t, rec, "a")
	if len(a.Writer.Logic) != 3 {
		t.Fatalf("got %d samples through the wrapper", len(a.Writer.Logic))
	}
}

func TestDecodeSkipOnlyChains(t *testing.T) {
	// both handles skipped in the chain: only frame initial
	// values appear, at the block start time
	chain := []byte{0x04} // skip run of 2
	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkVCDynAlias, vcBlock([]byte("10"), chain, nil, []uint64{0}, 0, 10))
	f.block(blkGeometry, geometryBlock(1, 1))
	f.block(blkHierarchy, hierarchyBlock(t, twoWireHierarchy()))

	_, rec := decodeFixture(t, f.Bytes())
	a := fixtureSignal(t, rec, "a")
	b := fixtureSignal(t, rec, "b")
	if got := scalarSamples(a); !reflect.DeepEqual(got, map[int64]byte{0: wave.State1}) {
		t.Errorf("a samples = %v", got)
	}
	if got := scalarSamples(b); !reflect.DeepEqual(got, map[int64]byte{0: wave.State0}) {
		t.Errorf("b samples = %v", got)
	}
}

func TestPlainValueChangeUnsupported(t *testing.T) {
	var p builder
	p.u64(0)
	p.u64(10)
	p.u64(0)
	var f builder
	f.block(blkHeader, headerBlock(10, -9))
	f.block(blkVCData, p.Bytes())
	f.block(blkGeometry, geometryBlock(1, 1))
	f.block(blkHierarchy, hierarchyBlock(t, twoWireHierarchy()))

	_, rec := decodeFixture(t, f.Bytes())
	a := fixtureSignal(t, rec, "a")
	if a.Writer.Samples() != 0 {
		t.Errorf("plain block emitted %d samples", a.Writer.Samples())
	}
}

func TestHeaderMustBeFirst(t *testing.T) {
	var f builder
	f.block(blkGeometry, geometryBlock(1))
	f.block(blkHeader, headerBlock(10, -9))
	d := NewDecoder(bytes.NewReader(f.Bytes()), nil, nil)
	if _, err := d.Decode(nil); err == nil {
		t.Fatal("expected an error for a late header block")
	}
}

func TestStateTable(t *testing.T) {
	cases := []struct {
		b     byte
		level int
		state byte
	}{
		{0x00, wave.Level2, wave.State0},
		{0x02, wave.Level2, wave.State1},
		{0x01, wave.Level2, wave.StateX},
		{0x03, wave.Level2, wave.StateZ},
		{'0', wave.Level2, wave.State0},
		{'x', wave.Level4, wave.StateX},
		{'H', wave.Level16, wave.StateH},
		{'?', wave.Level16, wave.StateUnknown},
	}
	for _, c := range cases {
		st := stateTable[c.b]
		if st == stateNone {
			t.Errorf("state[0x%02x] unmapped", c.b)
			continue
		}
		if int(st>>4) != c.level || st&0xf != c.state {
			t.Errorf("state[0x%02x] = level %d state %d; want %d %d", c.b, st>>4, st&0xf, c.level, c.state)
		}
	}
	if stateTable[0xC0] != stateNone {
		t.Error("0xC0 should be invalid")
	}
}

func TestPager(t *testing.T) {
	var p pager
	small := []byte{1, 2, 3}
	big := bytes.Repeat([]byte{7}, pageSize+5)
	i := p.add(small)
	j := p.add(big)
	k := p.add([]byte{9})
	if p.count() != 3 {
		t.Fatalf("count = %d", p.count())
	}
	if !bytes.Equal(p.get(i), small) || !bytes.Equal(p.get(j), big) || !bytes.Equal(p.get(k), []byte{9}) {
		t.Fatal("fragment round trip mismatch")
	}
}
