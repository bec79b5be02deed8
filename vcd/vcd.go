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

// Package vcd decodes VCD (value change dump) text input
// into a wave.Record.
//
// The decoder is a streaming, token-driven parser: input is
// read into a wrap buffer, every complete token is consumed,
// and the unconsumed tail is carried over into the next
// refill. Header commands accumulate scope and variable
// declarations; the record and its writers are created on
// the first time marker (or an explicit $dumpvars) and
// samples are emitted from then on.
package vcd

import (
	"io"
	"math"
	"regexp"
	"strconv"

	"github.com/wavedump/wavedump/wave"
)

// bufferSize is the size of the token wrap buffer. A single
// token (including a command and its $end) must fit.
const bufferSize = 1 << 16

// maxVectorStates bounds the number of state characters one
// vector change may carry.
const maxVectorStates = 4096

// decl is one $var declaration together with its identifier
// token.
type decl struct {
	id string
	v  *wave.Variable
}

// Decoder decodes one VCD stream. Create with NewDecoder,
// drive with Decode.
type Decoder struct {
	in      io.Reader
	props   *wave.Properties
	console *wave.Console

	h     *wave.Hierarchy
	scope wave.ScopeID
	rec   *wave.Record

	base     wave.TimeBase
	timeZero int64
	current  int64

	start, end, delay int64
	dilate            float64
	include, exclude  []wave.Filter

	ids   map[string]*wave.Variable
	decls []decl

	index *writerIndex

	// hierarchySplit holds the configured split regex; nested
	// $scope declarations disable it.
	hierarchySplit string

	initialized bool
	opened      bool
	closed      bool

	states [maxVectorStates]byte
}

// NewDecoder prepares a decoder reading from in. props may
// be nil for defaults; console may be nil to discard logs.
func NewDecoder(in io.Reader, props *wave.Properties, console *wave.Console) *Decoder {
	if props == nil {
		props = &wave.Properties{}
	}
	h := wave.NewHierarchy()
	return &Decoder{
		in:             in,
		props:          props,
		console:        console,
		h:              h,
		scope:          wave.RootScope,
		base:           wave.Ns,
		start:          math.MinInt64,
		end:            math.MaxInt64,
		dilate:         1,
		ids:            make(map[string]*wave.Variable),
		hierarchySplit: props.Hierarchy,
	}
}

// Record returns the record built so far (nil until the
// first time marker or $dumpvars).
func (d *Decoder) Record() *wave.Record { return d.rec }

// Decode runs the parse to completion or cancellation and
// returns the record. On a fatal parse error the record is
// still closed at the last known timestamp and returned
// alongside the error.
func (d *Decoder) Decode(progress wave.Progress) (*wave.Record, error) {
	if progress == nil {
		progress = wave.NoProgress{}
	}
	d.console.Info("VCD decode started")

	buffer := make([]byte, bufferSize)
	wrapped := 0
	inserted := false
	eof := false
	var total int64

	for !progress.Canceled() {
		if eof && inserted && wrapped == 0 {
			break
		}
		read := 0
		if !eof {
			if wrapped == len(buffer) {
				return d.finish(d.errAt(wave.ErrInvalidToken, 0, "token exceeds %d byte buffer", len(buffer)), buffer[:wrapped], total)
			}
			n, err := d.in.Read(buffer[wrapped:])
			read = n
			if err == io.EOF {
				eof = true
			} else if err != nil {
				return d.finish(err, nil, total)
			}
		}
		// the parser only terminates the final token on a
		// trailing separator, so append one at EOF
		if eof && read == 0 && !inserted {
			buffer[wrapped] = ' '
			read = 1
			inserted = true
		}
		available := wrapped + read
		if available == 0 {
			break
		}
		used, err := d.parse(buffer[:available])
		if err != nil {
			return d.finish(err, buffer[:available], total)
		}
		if d.closed {
			d.console.Info("decode complete: record closed")
			return d.rec, nil
		}
		progress.Update(total + int64(used))
		if eof && inserted && used == 0 && available > 0 {
			return d.finish(d.errAt(wave.ErrInvalidToken, 0, "unable to parse remaining %d bytes", available), buffer[:available], total)
		}
		copy(buffer, buffer[used:available])
		wrapped = available - used
		total += int64(used)
	}
	if progress.Canceled() {
		return d.finish(wave.Errf(wave.ErrCanceled, -1, "decode canceled"), nil, total)
	}
	return d.finish(nil, nil, total)
}

// finish closes the record (when one exists) at the last
// known timestamp and decorates err with the absolute offset
// and a snippet.
func (d *Decoder) finish(err error, buf []byte, total int64) (*wave.Record, error) {
	if d.rec != nil && !d.closed {
		d.rec.Close(d.current + 1)
		d.closed = true
		d.console.Info("record closed at", d.current+1)
	}
	if err == nil {
		return d.rec, nil
	}
	if de, ok := err.(*wave.DecodeError); ok && de.Offset >= 0 {
		if buf != nil && de.Snippet == "" {
			de.Snippet = wave.Snippet(buf, int(de.Offset))
		}
		de.Offset += total
	}
	d.console.Error(err)
	return d.rec, err
}

func (d *Decoder) errAt(kind error, pos int, format string, args ...interface{}) *wave.DecodeError {
	e := wave.Errf(kind, int64(pos), format, args...)
	return e
}

// parse consumes complete tokens from buf and returns the
// number of bytes used. A return of (n, nil) with n short of
// len(buf) means the tail is an incomplete token and must be
// carried into the next refill.
func (d *Decoder) parse(buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		sel := tokenTable[buf[n]]
		var used int
		var err error
		switch sel & 0xf0 {
		case tokWS:
			n++
			continue
		case tokTime:
			used, err = d.parseTime(buf, n)
			if err != nil || used == 0 {
				if used == 0 && err == nil {
					return n, nil
				}
				return n, err
			}
			if !d.initialized {
				d.console.Info("initializing record structure on first time marker")
				if err := d.initialize(); err != nil {
					return n, err
				}
				// initialize resets the current time; apply the now
				// configured delay and dilate to this first marker
				if _, err := d.parseTime(buf, n); err != nil {
					return n, err
				}
				if d.current >= d.start {
					d.openRecord()
				}
				return n + used, nil
			}
			if !d.opened {
				if d.current >= d.start {
					d.openRecord()
				}
			} else if !d.closed && d.current > d.end {
				d.rec.Close(d.end)
				d.closed = true
				d.console.Info("record closed at configured end", d.end)
				return n + used, nil
			}
		case tokVector:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseVectorChange(buf, n)
			} else {
				used = skipChange(buf, n)
			}
		case tokChange2:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseScalarChange(buf, n, wave.Level2, sel&0xf, false)
			} else {
				used = skipChange(buf, n)
			}
		case tokChange4:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseScalarChange(buf, n, wave.Level4, sel&0xf, sel&0xf == wave.StateX)
			} else {
				used = skipChange(buf, n)
			}
		case tokChange16:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseScalarChange(buf, n, wave.Level16, sel&0xf, false)
			} else {
				used = skipChange(buf, n)
			}
		case tokReal:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseRealChange(buf, n)
			} else {
				used = skipChange(buf, n)
			}
		case tokString:
			if err := d.needInit(n); err != nil {
				return n, err
			}
			if d.opened {
				used, err = d.parseStringChange(buf, n)
			} else {
				used = skipChange(buf, n)
			}
		case tokCommand:
			wasInitialized := d.initialized
			used, err = d.parseCommand(buf, n)
			if err == nil && used > 0 && d.initialized && !wasInitialized {
				// give the driver a chance to flush after the
				// header completes
				if next := n + used + 1; next < len(buf) {
					return next, nil
				}
				return len(buf), nil
			}
		default:
			return n, d.errAt(wave.ErrInvalidToken, n, "invalid character %q", buf[n])
		}
		if err != nil {
			return n, err
		}
		if used == 0 {
			return n, nil
		}
		// the byte that terminated the token is consumed with it
		n += used + 1
	}
	if n > len(buf) {
		n = len(buf)
	}
	return n, nil
}

func (d *Decoder) needInit(pos int) error {
	if !d.initialized {
		return d.errAt(wave.ErrInvalidToken, pos, "value change before record initialization")
	}
	return nil
}

// transform applies delay and dilation to a raw timestamp.
func (d *Decoder) transform(raw int64) int64 {
	if d.dilate == 1 {
		return raw + d.delay
	}
	return int64(float64(raw+d.delay) * d.dilate)
}

// parseTime consumes a '#' time marker and advances the
// current timestamp.
func (d *Decoder) parseTime(buf []byte, n int) (int, error) {
	var raw int64
	for i := n + 1; i < len(buf); i++ {
		b := buf[i]
		if b < '0' || b > '9' {
			if i == n+1 {
				return 0, d.errAt(wave.ErrInvalidNumeric, i, "time marker without digits")
			}
			d.current = d.transform(raw)
			d.console.Log("time marker", raw, "current", d.current)
			return i - n, nil
		}
		raw = raw*10 + int64(b-'0')
	}
	return 0, nil
}

// skipChange discards a value change line while the record
// is outside its open range.
func skipChange(buf []byte, n int) int {
	for i := n + 1; i < len(buf); i++ {
		if buf[i] == '\n' {
			return i - n
		}
	}
	return 0
}

// parseScalarChange handles single-state changes: the state
// is embedded in the token class and the identifier token
// follows immediately.
func (d *Decoder) parseScalarChange(buf []byte, n, level int, state byte, tag bool) (int, error) {
	idx := 0
	for i := n + 1; i < len(buf); i++ {
		b := buf[i]
		if b > '~' || b < '!' {
			if i == n+1 {
				return 0, d.errAt(wave.ErrInvalidToken, i, "scalar change without identifier")
			}
			for _, w := range d.index.lookup(idx, buf[n+1:i]) {
				switch w.Kind {
				case wave.KindLogic:
					pre := state
					if w.Scale > 1 {
						pre = wave.State0
					}
					if err := w.WriteLogic(d.current, tag, level, pre, []byte{state}); err != nil {
						return 0, err
					}
				case wave.KindEvent:
					if err := w.WriteEvent(d.current, tag); err != nil {
						return 0, err
					}
				}
			}
			return i - n, nil
		}
		idx = idx*100 + int(b-0x20)
	}
	return 0, nil
}

// parseVectorChange handles 'b'-prefixed vector changes:
// state characters, whitespace, then the identifier token.
func (d *Decoder) parseVectorChange(buf []byte, n int) (int, error) {
	i := n + 1
	states := 0
	level := wave.Level2
	tag := false

readStates:
	for i < len(buf) && states < maxVectorStates {
		sel := tokenTable[buf[i]]
		switch sel & 0xf0 {
		case tokChange2:
			d.states[states] = sel & 0xf
			states++
		case tokChange4:
			d.states[states] = sel & 0xf
			states++
			if level < wave.Level4 {
				level = wave.Level4
			}
			if sel&0xf == wave.StateX {
				tag = true
			}
		case tokChange16:
			d.states[states] = sel & 0xf
			states++
			level = wave.Level16
		case tokWS:
			i++
			break readStates
		default:
			return 0, d.errAt(wave.ErrInvalidToken, i, "invalid logic state %q in vector change", buf[i])
		}
		i++
	}

	for i < len(buf) {
		if b := buf[i]; b != ' ' && b != '\t' {
			break
		}
		i++
	}

	idx := 0
	m := i
	for i < len(buf) {
		b := buf[i]
		if b > '~' || b < '!' {
			if i == m {
				return 0, d.errAt(wave.ErrInvalidToken, i, "vector change without identifier")
			}
			for _, w := range d.index.lookup(idx, buf[m:i]) {
				switch w.Kind {
				case wave.KindLogic:
					if err := d.emitVector(w, states, level, tag); err != nil {
						return 0, err
					}
				case wave.KindEvent:
					if err := w.WriteEvent(d.current, tag); err != nil {
						return 0, err
					}
				}
			}
			return i - n, nil
		}
		idx = idx*100 + int(b-0x20)
		i++
	}
	return 0, nil
}

// emitVector trims the collected states to the signal width,
// derives the preceding (left-extension) state, and writes
// the differing tail.
func (d *Decoder) emitVector(w *wave.Writer, states, level int, tag bool) error {
	first := 0
	if states > w.Scale {
		first += states - w.Scale
	}
	var preceding byte
	if states < w.Scale && d.states[first] == wave.State1 {
		preceding = wave.State0
	} else {
		preceding = d.states[first]
		first++
	}
	for first < states && d.states[first] == preceding {
		first++
	}
	if states-first == 0 {
		return w.WriteLogic(d.current, tag, level, preceding, nil)
	}
	return w.WriteLogic(d.current, tag, level, preceding, d.states[first:states])
}

// parseRealChange handles 'r'-prefixed float changes.
func (d *Decoder) parseRealChange(buf []byte, n int) (int, error) {
	i := n + 1
	var value float64
	for i < len(buf) {
		b := buf[i]
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			v, err := strconv.ParseFloat(string(buf[n+1:i]), 64)
			if err != nil {
				return 0, d.errAt(wave.ErrInvalidNumeric, n+1, "bad real value %q", buf[n+1:i])
			}
			value = v
			break
		}
		i++
	}
	if i >= len(buf) {
		return 0, nil
	}
	for i < len(buf) {
		if b := buf[i]; b != ' ' && b != '\t' {
			break
		}
		i++
	}
	idx := 0
	m := i
	for i < len(buf) {
		b := buf[i]
		if b > '~' || b < '!' {
			if i == m {
				return 0, d.errAt(wave.ErrInvalidToken, i, "real change without identifier")
			}
			for _, w := range d.index.lookup(idx, buf[m:i]) {
				if w.Kind == wave.KindFloat {
					if err := w.WriteFloat(d.current, false, value); err != nil {
						return 0, err
					}
				}
			}
			return i - n, nil
		}
		idx = idx*100 + int(b-0x20)
		i++
	}
	return 0, nil
}

// parseStringChange handles 's'-prefixed text changes.
func (d *Decoder) parseStringChange(buf []byte, n int) (int, error) {
	i := n + 1
	value := ""
	for i < len(buf) {
		b := buf[i]
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			value = string(buf[n+1 : i])
			break
		}
		i++
	}
	if i >= len(buf) {
		return 0, nil
	}
	for i < len(buf) {
		if b := buf[i]; b != ' ' && b != '\t' {
			break
		}
		i++
	}
	idx := 0
	m := i
	for i < len(buf) {
		b := buf[i]
		if b > '~' || b < '!' {
			if i == m {
				return 0, d.errAt(wave.ErrInvalidToken, i, "string change without identifier")
			}
			for _, w := range d.index.lookup(idx, buf[m:i]) {
				if w.Kind == wave.KindText {
					if err := w.WriteText(d.current, false, value); err != nil {
						return 0, err
					}
				}
			}
			return i - n, nil
		}
		idx = idx*100 + int(b-0x20)
		i++
	}
	return 0, nil
}

// openRecord opens the record at the configured start (or
// the current timestamp when no start is set).
func (d *Decoder) openRecord() {
	t := d.current
	if d.start != math.MinInt64 {
		t = d.start
	}
	d.rec.Open(t)
	d.opened = true
	d.console.Info("record opened at", t)
}

// initialize creates the record from the accumulated
// declarations and materializes the configuration against
// the established domain base.
func (d *Decoder) initialize() error {
	d.rec = wave.NewRecord("VCD", d.base, d.h)

	vars := make([]*wave.Variable, len(d.decls))
	for i := range d.decls {
		vars[i] = d.decls[i].v
	}
	d.include = wave.Filters(d.props.Include)
	d.exclude = wave.Filters(d.props.Exclude)
	wave.IdentifyGroups(vars, d.props.Vector)
	wave.CreateSignals(d.rec, vars, d.include, d.exclude)
	wave.CreateWriters(d.rec, vars)

	byID := make(map[string][]*wave.Writer)
	created := 0
	for i := range d.decls {
		if w := d.decls[i].v.Writer; w != nil {
			byID[d.decls[i].id] = append(byID[d.decls[i].id], w)
			created++
		}
	}
	d.console.Info("created", created, "signal writers")

	d.start = d.base.ParseMultiple(d.props.Start, d.start)
	d.end = d.base.ParseMultiple(d.props.End, d.end)
	d.delay = d.base.ParseMultiple(d.props.Delay, d.delay)
	d.dilate = d.props.EffectiveDilate()
	d.delay += d.timeZero
	d.current = d.transform(0)

	d.index = newWriterIndex(byID, d.console)

	if !d.props.Empty {
		d.rec.PruneEmpty()
	}
	if d.hierarchySplit != "" {
		re, err := regexp.Compile(d.hierarchySplit)
		if err != nil {
			return wave.Errf(wave.ErrInvalidCommand, -1, "bad hierarchy split pattern %q: %v", d.hierarchySplit, err)
		}
		d.console.Info("building hierarchical signal organization")
		d.rec.SplitScopes(re)
	}
	d.initialized = true
	d.console.Info("record initialization completed")
	return nil
}
