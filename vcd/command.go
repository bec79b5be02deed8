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

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/wavedump/wavedump/wave"
)

type command int

const (
	cmdVar command = iota
	cmdEnddefinitions
	cmdEnd
	cmdScope
	cmdUpscope
	cmdComment
	cmdDate
	cmdDumpall
	cmdDumpoff
	cmdDumpon
	cmdDumpvars
	cmdVersion
	cmdTimescale
	cmdTimezero
)

// commandNames is matched in order; enddefinitions must
// precede its prefix end.
var commandNames = []struct {
	name string
	cmd  command
}{
	{"var", cmdVar},
	{"enddefinitions", cmdEnddefinitions},
	{"end", cmdEnd},
	{"scope", cmdScope},
	{"upscope", cmdUpscope},
	{"comment", cmdComment},
	{"date", cmdDate},
	{"dumpall", cmdDumpall},
	{"dumpoff", cmdDumpoff},
	{"dumpon", cmdDumpon},
	{"dumpvars", cmdDumpvars},
	{"version", cmdVersion},
	{"timescale", cmdTimescale},
	{"timezero", cmdTimezero},
}

var (
	patTimescale = regexp.MustCompile(`\s*(1|10|100)\s*(fs|ps|ns|us|ms|s)\s*`)
	patVar       = regexp.MustCompile(`\s*(\w+)\s+(\d+)\s+([!-~]+)\s+((?s).*)`)
	patBracketWS = regexp.MustCompile(`\s+\[`)
)

// parseCommand dispatches a '$' command at buf[n]. Returns
// the bytes used, or 0 when the command (or its $end) is not
// yet complete in the buffer.
func (d *Decoder) parseCommand(buf []byte, n int) (int, error) {
	more := false
	for _, c := range commandNames {
		i := n
		skip := false
		for k := 0; k < len(c.name); k++ {
			i++
			if i >= len(buf) {
				more = true
				skip = true
				break
			}
			if buf[i] != c.name[k] {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if more {
			// a longer command name is still a candidate
			return 0, nil
		}
		i++
		used, err := d.runCommand(c.cmd, buf, i)
		if err != nil {
			return 0, err
		}
		if used < 0 {
			return 0, nil // incomplete, wait for refill
		}
		return i - n + used, nil
	}
	if !more {
		return 0, d.errAt(wave.ErrInvalidCommand, n, "no valid command")
	}
	return 0, nil
}

// runCommand executes one recognized command whose
// parameters start at buf[i]. It returns -1 when the
// terminating $end is not in the buffer yet.
func (d *Decoder) runCommand(cmd command, buf []byte, i int) (int, error) {
	switch cmd {
	case cmdVar:
		return d.runVar(buf, i)
	case cmdEnd, cmdDumpall, cmdDumpoff, cmdDumpon:
		// recognized; no effect on emitted samples
		return 0, nil
	case cmdDumpvars:
		if !d.initialized {
			d.console.Info("initializing record structure on $dumpvars")
			if err := d.initialize(); err != nil {
				return 0, err
			}
			if d.current >= d.start {
				d.openRecord()
			}
		}
		return 0, nil
	case cmdScope:
		// a scope nested under another scope disables the
		// hierarchy split mode
		if d.scope != wave.RootScope {
			d.hierarchySplit = ""
		}
		used, params := parameterFields(buf, i, 2)
		if used == 0 {
			return -1, nil
		}
		if params[0] == "" || params[1] == "" {
			return 0, d.errAt(wave.ErrInvalidCommand, i, "invalid parameter count in scope definition")
		}
		d.scope = d.h.Add(d.scope, params[1])
		d.console.Log("scope", params[0], params[1])
		return used, nil
	case cmdUpscope:
		used, _ := parameterBlock(buf, i)
		if used == 0 {
			return -1, nil
		}
		d.scope = d.h.Parent(d.scope)
		return used, nil
	case cmdComment, cmdDate, cmdVersion, cmdEnddefinitions:
		used, body := parameterBlock(buf, i)
		if used == 0 {
			return -1, nil
		}
		d.console.Log("command block:", body)
		return used, nil
	case cmdTimescale:
		used, m := parameterPattern(buf, i, patTimescale)
		if used == 0 {
			return -1, nil
		}
		if m == nil || m[1] == "" || m[2] == "" {
			return 0, d.errAt(wave.ErrInvalidCommand, i, "invalid parameter count in timescale definition")
		}
		unit := m[2]
		switch m[1] {
		case "10":
			unit += "10"
		case "100":
			unit += "100"
		}
		base, ok := wave.ParseTimeBase(unit)
		if !ok {
			return 0, d.errAt(wave.ErrInvalidCommand, i, "invalid timescale unit %q", unit)
		}
		d.base = base
		d.console.Log("timescale", m[1], m[2])
		return used, nil
	case cmdTimezero:
		used, body := parameterBlock(buf, i)
		if used == 0 {
			return -1, nil
		}
		if v, err := strconv.ParseInt(strings.TrimSpace(body), 10, 64); err == nil {
			d.timeZero = v
		}
		d.console.Log("timezero", d.timeZero)
		return used, nil
	}
	return 0, d.errAt(wave.ErrInvalidCommand, i, "unhandled command")
}

// runVar parses one $var declaration.
func (d *Decoder) runVar(buf []byte, i int) (int, error) {
	used, m := parameterPattern(buf, i, patVar)
	if used == 0 {
		return -1, nil
	}
	if m == nil || m[1] == "" || m[2] == "" || m[3] == "" || strings.TrimSpace(m[4]) == "" {
		return 0, d.errAt(wave.ErrInvalidCommand, i, "invalid parameter count in variable definition")
	}
	vtype, width, id := m[1], m[2], m[3]
	name := strings.TrimSpace(patBracketWS.ReplaceAllString(m[4], "["))

	v := &wave.Variable{
		Name:        name,
		Scope:       d.scope,
		Description: vtype,
		Idx0:        -1,
		Idx1:        -1,
	}
	switch vtype {
	case "event":
		v.Kind = wave.KindEvent
	case "real":
		v.Kind = wave.KindFloat
	case "string":
		v.Kind = wave.KindText
	default:
		v.Kind = wave.KindLogic
		v.Scale = parseIntDefault(width, -1)
	}

	// bit range: name[idx0] or name[idx0:idx1]
	if open := strings.LastIndex(name, "["); open > 0 {
		v.IdxName = strings.TrimSpace(name[:open])
		colon := strings.Index(name[open:], ":")
		rb := strings.Index(name[open:], "]")
		if rb > 0 {
			rb += open
			if colon > 0 {
				colon += open
				v.Idx0 = parseIntDefault(strings.TrimSpace(name[open+1:colon]), -1)
				v.Idx1 = parseIntDefault(strings.TrimSpace(name[colon+1:rb]), -1)
			} else {
				v.Idx0 = parseIntDefault(strings.TrimSpace(name[open+1:rb]), -1)
			}
		}
		if v.Idx1 > v.Idx0 {
			v.Idx0, v.Idx1 = v.Idx1, v.Idx0
		}
	}

	if v.Kind == wave.KindFloat && v.Idx0 >= 0 {
		return 0, d.errAt(wave.ErrInvariant, i, "real data type cannot have vector indices")
	}
	if v.Kind == wave.KindText && v.Idx0 >= 0 {
		return 0, d.errAt(wave.ErrInvariant, i, "string data type cannot have vector indices")
	}

	if prev, ok := d.ids[id]; ok {
		if v.Scale != prev.Scale {
			return 0, d.errAt(wave.ErrInvariant, i, "shared identifier %q declared with widths %d and %d", id, prev.Scale, v.Scale)
		}
		v.Shared = true
		prev.Shared = true
	} else {
		d.ids[id] = v
	}
	d.decls = append(d.decls, decl{id: id, v: v})
	d.console.Log("var", vtype, width, id, name)
	return used, nil
}

// endMarker finds the literal $end starting the scan at
// from; it returns the index of the '$' or -1.
func endMarker(buf []byte, from int) int {
	for i := from; i+3 < len(buf); i++ {
		if buf[i] == '$' && buf[i+1] == 'e' && buf[i+2] == 'n' && buf[i+3] == 'd' {
			return i
		}
	}
	return -1
}

// parameterBlock captures everything between the command and
// its $end as one trimmed string. used is 0 when $end is not
// in the buffer.
func parameterBlock(buf []byte, n int) (used int, body string) {
	at := endMarker(buf, n)
	if at < 0 {
		return 0, ""
	}
	return at + 3 - n, strings.TrimSpace(string(buf[n:at]))
}

// parameterFields splits the parameter payload on
// whitespace into at most want fields.
func parameterFields(buf []byte, n, want int) (used int, params []string) {
	at := endMarker(buf, n)
	if at < 0 {
		return 0, nil
	}
	params = make([]string, want)
	fields := strings.Fields(string(buf[n:at]))
	for i := 0; i < len(fields) && i < want; i++ {
		params[i] = fields[i]
	}
	return at + 3 - n, params
}

// parameterPattern applies a capture regex to the parameter
// payload. m is nil when the pattern does not match.
func parameterPattern(buf []byte, n int, pat *regexp.Regexp) (used int, m []string) {
	at := endMarker(buf, n)
	if at < 0 {
		return 0, nil
	}
	return at + 3 - n, pat.FindStringSubmatch(string(buf[n:at]))
}

func parseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
