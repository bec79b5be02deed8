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

// Package fst decodes FST (fast signal trace) binary input
// into a wave.Record.
//
// Decoding runs in two passes: phase 1 frames the typed
// blocks, parses header, geometry and hierarchy, and queues
// every value-change block into a pageable byte store;
// phase 2 walks the queued blocks in file order and emits
// samples. Two passes are required because geometry and
// hierarchy may follow value-change blocks in the file, but
// widths and handles must be known before value-change
// chunks can be interpreted.
package fst

import (
	"io"
	"math"
	"regexp"

	"github.com/klauspost/compress/gzip"

	"github.com/wavedump/wavedump/wave"
)

// Block types.
const (
	blkHeader      = 0
	blkVCData      = 1
	blkBlackout    = 2
	blkGeometry    = 3
	blkHierarchy   = 4
	blkVCDynAlias  = 5
	blkHierLZ4     = 6
	blkHierLZ4Duo  = 7
	blkVCDynAlias2 = 8
	blkZWrapper    = 254
	blkSkip        = 255
)

var blockNames = map[byte]string{
	blkHeader:      "HEADER",
	blkVCData:      "VALUE_CHANGE",
	blkBlackout:    "BLACKOUT",
	blkGeometry:    "GEOMETRY",
	blkHierarchy:   "HIERARCHY",
	blkVCDynAlias:  "VALUE_CHANGE_DYN_ALIAS",
	blkHierLZ4:     "HIERARCHY_LZ4",
	blkHierLZ4Duo:  "HIERARCHY_LZ4DUO",
	blkVCDynAlias2: "VALUE_CHANGE_DYN_ALIAS2",
	blkZWrapper:    "ZWRAPPER",
	blkSkip:        "SKIP",
}

// Header string field sizes.
const (
	hdrVersionSize = 128
	hdrDateSize    = 119
)

var fileTypeNames = []string{"Verilog", "VHDL", "Verilog/VHDL"}

// variable is the per-handle decode state: the pre-creation
// record plus chunk location, alias list, and the pending
// frame initial value.
type variable struct {
	wave.Variable
	handle uint32

	chunkOffset int64
	chunkLength int64
	aliases     []uint32

	// idata is the undecoded initial value from the current
	// block's frame, emitted lazily before the first change
	idata      []byte
	blockStart int64

	states []byte
}

// Decoder decodes one FST stream. Create with NewDecoder,
// drive with Decode.
type Decoder struct {
	in      io.Reader
	props   *wave.Properties
	console *wave.Console

	h    *wave.Hierarchy
	rec  *wave.Record
	vars []*variable // indexed by handle, slot 0 unused

	// header fields
	headerParsed bool
	startTime    int64
	endTime      int64
	littleEndian bool
	memoryUsed   uint64
	numScopes    uint64
	numVars      uint64
	maxHandle    uint64
	sectionCount uint64
	timescale    int8
	version      string
	date         string
	fileType     byte
	timeZero     int64

	// handle cursors across split geometry/frame blocks
	hierHandle  uint64
	geomHandle  uint64
	frameHandle uint64

	blocks     pager
	queued     int
	consumedVC int
}

// NewDecoder prepares a decoder reading from in. props may
// be nil for defaults; console may be nil to discard logs.
func NewDecoder(in io.Reader, props *wave.Properties, console *wave.Console) *Decoder {
	if props == nil {
		props = &wave.Properties{}
	}
	return &Decoder{
		in:      in,
		props:   props,
		console: console,
		h:       wave.NewHierarchy(),
	}
}

// Record returns the record built so far (nil until phase 1
// completes).
func (d *Decoder) Record() *wave.Record { return d.rec }

// Decode runs both passes and returns the completed record.
// On a fatal error the record (when it exists) is closed at
// the last known timestamp and returned alongside the error.
func (d *Decoder) Decode(progress wave.Progress) (*wave.Record, error) {
	if progress == nil {
		progress = wave.NoProgress{}
	}
	d.console.Info("FST decode started")
	r := newStreamReader(d.in)

	if err := d.phase1(r, progress); err != nil {
		return d.closeOut(err)
	}
	if !d.headerParsed {
		return nil, wave.Errf(wave.ErrUnexpectedEOF, 0, "no header block")
	}

	base, ok := wave.TimeBaseFromExponent(d.timescale)
	if !ok {
		return nil, wave.Errf(wave.ErrInvariant, 0, "timescale exponent %d out of range", d.timescale)
	}
	d.rec = wave.NewRecord("FST", base, d.h)

	vars := make([]*wave.Variable, 0, len(d.vars))
	for _, v := range d.vars {
		if v != nil {
			vars = append(vars, &v.Variable)
		}
	}
	if len(vars) == 0 {
		return d.closeOut(wave.Errf(wave.ErrInvariant, 0, "no variables found"))
	}
	wave.IdentifyGroups(vars, false)
	wave.CreateSignals(d.rec, vars, wave.Filters(d.props.Include), wave.Filters(d.props.Exclude))
	wave.CreateWriters(d.rec, vars)

	if !d.props.Empty {
		d.rec.PruneEmpty()
	}
	if d.props.Hierarchy != "" {
		re, err := regexp.Compile(d.props.Hierarchy)
		if err != nil {
			return d.closeOut(wave.Errf(wave.ErrInvalidCommand, -1, "bad hierarchy split pattern %q: %v", d.props.Hierarchy, err))
		}
		d.console.Info("building hierarchical signal organization")
		d.rec.SplitScopes(re)
	}

	d.rec.Open(d.startTime)
	err := d.phase2(progress)
	d.rec.Close(d.endTime)
	if err != nil {
		d.console.Error(err)
		return d.rec, err
	}
	d.console.Info("decode complete:", d.consumedVC, "value-change blocks,", len(d.rec.Signals), "signals")
	return d.rec, nil
}

func (d *Decoder) closeOut(err error) (*wave.Record, error) {
	if d.rec != nil && !d.rec.Closed() {
		d.rec.Close(d.endTime)
	}
	if err != nil {
		d.console.Error(err)
	}
	return d.rec, err
}

// phase1 frames blocks until end of input: header, geometry
// and hierarchy are decoded eagerly; value-change blocks are
// copied (with their type and length prefix preserved) into
// the pageable store for phase 2.
func (d *Decoder) phase1(r *reader, progress wave.Progress) error {
	count := 0
	for r.more() {
		if progress.Canceled() {
			return wave.Errf(wave.ErrCanceled, r.offset(), "decode canceled")
		}
		blockType, err := r.u8()
		if err != nil {
			return err
		}
		count++
		name := blockNames[blockType]
		if name == "" {
			name = "UNKNOWN"
		}
		length, err := r.u64()
		if err != nil {
			return err
		}
		d.console.Info("block", count, "type", blockType, "("+name+")", "length", length)
		// block length includes the 8-byte length field
		if length < 8 || length-8 > math.MaxInt32 {
			return wave.Errf(wave.ErrInvariant, r.offset(), "invalid block length %d", length)
		}
		dataSize := int(length - 8)

		switch blockType {
		case blkVCData, blkVCDynAlias, blkVCDynAlias2:
			full := make([]byte, 9+dataSize)
			full[0] = blockType
			for i := 0; i < 8; i++ {
				full[1+i] = byte(length >> (8 * (7 - i)))
			}
			if err := r.readFull(full[9:]); err != nil {
				return err
			}
			d.blocks.add(full)
			d.queued++
			d.console.Info("  queued value-change block for phase 2")
			continue
		case blkZWrapper:
			if err := d.parseZWrapper(r, dataSize, progress); err != nil {
				return err
			}
			continue
		}

		data, err := r.bytes(dataSize)
		if err != nil {
			return err
		}
		br := newBytesReader(data)
		switch blockType {
		case blkHeader:
			if count != 1 {
				return wave.Errf(wave.ErrInvariant, r.offset(), "header block is not the first block")
			}
			err = d.parseHeader(br)
		case blkBlackout:
			d.parseBlackout(br)
		case blkGeometry:
			err = d.parseGeometry(br)
		case blkHierarchy, blkHierLZ4, blkHierLZ4Duo:
			err = d.parseHierarchy(br, blockType)
		case blkSkip:
			// nothing to decode
		default:
			d.console.Warning("unknown block type", blockType, "- skipped", dataSize, "bytes")
		}
		if err != nil {
			return err
		}
		progress.Update(r.offset())
	}
	d.console.Info("phase 1 complete:", count, "blocks,", d.queued, "value-change blocks queued")
	return nil
}

// parseHeader decodes the fixed header block layout. The
// header must appear exactly once, before anything else.
func (d *Decoder) parseHeader(r *reader) error {
	if d.headerParsed {
		return wave.Errf(wave.ErrInvariant, r.offset(), "duplicate header block")
	}
	var err error
	read64 := func() int64 {
		var v uint64
		if err == nil {
			v, err = r.u64()
		}
		return int64(v)
	}
	d.startTime = read64()
	d.endTime = read64() + 1
	if err != nil {
		return err
	}
	if d.littleEndian, err = r.endian(); err != nil {
		return err
	}
	d.memoryUsed = uint64(read64())
	d.numScopes = uint64(read64())
	d.numVars = uint64(read64())
	d.maxHandle = uint64(read64())
	d.sectionCount = uint64(read64())
	if err != nil {
		return err
	}
	if d.timescale, err = r.i8(); err != nil {
		return err
	}
	if d.version, err = r.fixedString(hdrVersionSize); err != nil {
		return err
	}
	if d.date, err = r.fixedString(hdrDateSize); err != nil {
		return err
	}
	if d.fileType, err = r.u8(); err != nil {
		return err
	}
	tz := read64()
	if err != nil {
		return err
	}
	d.timeZero = tz
	d.startTime += d.timeZero
	d.endTime += d.timeZero

	ft := "Unknown"
	if int(d.fileType) < len(fileTypeNames) {
		ft = fileTypeNames[d.fileType]
	}
	d.console.Info("header: start", d.startTime, "end", d.endTime,
		"scopes", d.numScopes, "vars", d.numVars, "max handle", d.maxHandle,
		"sections", d.sectionCount, "timescale", d.timescale,
		"file type", ft, "version", d.version)
	if d.littleEndian {
		d.console.Info("writer host was little-endian")
	}

	if d.maxHandle > math.MaxInt32 {
		return wave.Errf(wave.ErrInvariant, r.offset(), "max handle %d out of range", d.maxHandle)
	}
	d.vars = make([]*variable, d.maxHandle+1)
	d.headerParsed = true
	return nil
}

// parseBlackout decodes dump-control intervals. They are
// recognized and reported but never applied to emission.
func (d *Decoder) parseBlackout(r *reader) {
	n, err := r.uvarint()
	if err != nil {
		d.console.Warning("blackout block:", err)
		return
	}
	d.console.Info("blackout block:", n, "entries")
	var t int64
	for i := uint64(0); i < n; i++ {
		active, err := r.u8()
		if err != nil {
			d.console.Warning("blackout block truncated:", err)
			return
		}
		dt, err := r.uvarint()
		if err != nil {
			d.console.Warning("blackout block truncated:", err)
			return
		}
		t += int64(dt)
		state := "off"
		if active != 0 {
			state = "on"
		}
		d.console.Log("  blackout", state, "at", t+d.timeZero)
	}
}

// parseZWrapper frames a gzip-compressed whole-file wrapper
// recursively.
func (d *Decoder) parseZWrapper(r *reader, dataSize int, progress wave.Progress) error {
	if _, err := r.u64(); err != nil { // uncompressed length; streamed instead
		return err
	}
	dataSize -= 8
	if dataSize <= 0 {
		d.console.Info("empty zwrapper block")
		return nil
	}
	d.console.Info("zwrapper block: framing", dataSize, "compressed bytes")
	gz, err := gzip.NewReader(&sectionReader{r: r, n: int64(dataSize)})
	if err != nil {
		return wave.Errf(wave.ErrDecompression, r.offset(), "zwrapper: %v", err)
	}
	defer gz.Close()
	return d.phase1(newStreamReader(gz), progress)
}

// sectionReader exposes the next n bytes of a reader as an
// io.Reader.
type sectionReader struct {
	r *reader
	n int64
}

func (s *sectionReader) Read(p []byte) (int, error) {
	if s.n == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.n {
		p = p[:s.n]
	}
	// pull through the refill buffer in bounded steps
	step := len(p)
	if step > streamBufferSize {
		step = streamBufferSize
	}
	if err := s.r.ensure(1); err != nil {
		return 0, io.EOF
	}
	avail := s.r.limit - s.r.pos
	if step > avail {
		step = avail
	}
	copy(p, s.r.buf[s.r.pos:s.r.pos+step])
	s.r.pos += step
	s.r.total += int64(step)
	s.n -= int64(step)
	return step, nil
}

// phase2 decodes every queued value-change block in file
// order.
func (d *Decoder) phase2(progress wave.Progress) error {
	if d.blocks.count() == 0 {
		d.console.Info("phase 2: no value-change blocks")
		return nil
	}
	d.console.Info("phase 2: processing", d.blocks.count(), "value-change blocks")
	for i := 0; i < d.blocks.count(); i++ {
		if progress.Canceled() {
			return wave.Errf(wave.ErrCanceled, 0, "decode canceled")
		}
		if err := d.parseValueChangeBlock(d.blocks.get(i)); err != nil {
			return err
		}
		d.consumedVC++
	}
	return nil
}
