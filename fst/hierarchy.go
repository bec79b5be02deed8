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
	"regexp"
	"strconv"
	"strings"

	"github.com/wavedump/wavedump/compr"
	"github.com/wavedump/wavedump/wave"
)

// Hierarchy entry tags.
const (
	tagScope     = 254
	tagUpscope   = 255
	tagAttrBegin = 252
	tagAttrEnd   = 253
	maxVarTag    = 29
)

var scopeTypeNames = []string{
	"module", "task", "function", "begin", "fork", "generate",
	"struct", "union", "class", "interface", "package", "program",
}

var varTypeNames = []string{
	"event", "integer", "parameter", "real", "real_parameter",
	"reg", "supply0", "supply1", "time", "tri", "triand", "trior",
	"trireg", "tri0", "tri1", "wand", "wire", "wor", "port",
	"sparray", "realtime", "string", "sv_bit", "sv_logic", "sv_int",
	"sv_shortint", "sv_longint", "sv_byte", "sv_enum", "sv_shortreal",
}

// parseHierarchy decompresses a hierarchy block with the
// algorithm implied by its block type and walks the tagged
// entries, building the scope tree and assigning handles.
func (d *Decoder) parseHierarchy(r *reader, blockType byte) error {
	if !d.headerParsed {
		return wave.Errf(wave.ErrInvariant, r.offset(), "hierarchy block before header")
	}
	uclen, err := r.u64()
	if err != nil {
		return err
	}
	typ := compr.Gzip
	switch blockType {
	case blkHierLZ4:
		typ = compr.LZ4
	case blkHierLZ4Duo:
		typ = compr.LZ4Duo
	}
	clen := r.size() - 8
	d.console.Info("hierarchy block:", clen, "bytes,", typ, "to", uclen, "bytes")
	raw, err := r.bytes(clen)
	if err != nil {
		return err
	}
	data, err := compr.Decompress(raw, typ, int64(uclen))
	if err != nil {
		return wave.Errf(wave.ErrDecompression, r.offset(), "hierarchy block: %v", err)
	}
	return d.walkHierarchy(newBytesReader(data))
}

func (d *Decoder) walkHierarchy(r *reader) error {
	scope := wave.RootScope
	entries := 0
	for r.more() {
		tag, err := r.u8()
		if err != nil {
			return err
		}
		entries++
		switch {
		case tag == tagScope:
			kind, err := r.u8()
			if err != nil {
				return err
			}
			name, err := r.cstring()
			if err != nil {
				return err
			}
			component, err := r.cstring()
			if err != nil {
				return err
			}
			scope = d.h.Add(scope, name)
			d.console.Log("scope", scopeTypeName(kind), name, component)
		case tag == tagUpscope:
			scope = d.h.Parent(scope)
		case tag == tagAttrBegin:
			// recognized, advisory only
			if _, err := r.u8(); err != nil {
				return err
			}
			if _, err := r.u8(); err != nil {
				return err
			}
			name, err := r.cstring()
			if err != nil {
				return err
			}
			if _, err := r.uvarint(); err != nil {
				return err
			}
			d.console.Warning("attribute", name, "ignored: attributes are not supported")
		case tag == tagAttrEnd:
			// nothing to do
		case tag <= maxVarTag:
			if err := d.hierarchyVariable(r, scope, tag); err != nil {
				return err
			}
		default:
			d.console.Warning("unknown hierarchy tag", tag, "- ignored")
		}
	}
	d.console.Info("hierarchy walk complete:", entries, "entries")
	return nil
}

// hierarchyVariable decodes one variable declaration entry
// and assigns its handle: declared handle 0 means a new
// sequential handle; non-zero aliases the declared handle.
func (d *Decoder) hierarchyVariable(r *reader, scope wave.ScopeID, varType byte) error {
	if _, err := r.u8(); err != nil { // direction
		return err
	}
	name, err := r.cstring()
	if err != nil {
		return err
	}
	width, err := r.uvarint()
	if err != nil {
		return err
	}
	declared, err := r.uvarint()
	if err != nil {
		return err
	}

	var handle uint64
	if declared == 0 {
		d.hierHandle++
		handle = d.hierHandle
	} else {
		handle = declared
	}
	if handle == 0 || handle >= uint64(len(d.vars)) {
		return wave.Errf(wave.ErrInvariant, r.offset(), "handle %d out of bounds (max %d)", handle, len(d.vars)-1)
	}
	v := d.vars[handle]
	if v == nil {
		v = &variable{handle: uint32(handle)}
		v.Idx0, v.Idx1 = -1, -1
		d.vars[handle] = v
	}

	name = patBracketWS.ReplaceAllString(name, "[")
	if open := strings.LastIndex(name, "["); open > 0 {
		v.IdxName = strings.TrimSpace(name[:open])
		colon := strings.Index(name[open:], ":")
		rb := strings.Index(name[open:], "]")
		if rb > 0 {
			rb += open
			if colon > 0 {
				colon += open
				v.Idx0 = atoiDefault(name[open+1:colon], -1)
				v.Idx1 = atoiDefault(name[colon+1:rb], -1)
			} else {
				v.Idx0 = atoiDefault(name[open+1:rb], -1)
			}
		}
		if v.Idx1 > v.Idx0 {
			v.Idx0, v.Idx1 = v.Idx1, v.Idx0
		}
	}

	// the variable-type code only labels the signal; the
	// sample kind and width come from the geometry block
	v.Name = name
	v.Scope = scope
	v.Description = varTypeName(varType)
	if declared != 0 {
		d.console.Log("var", name, "aliases handle", declared)
	} else {
		d.console.Log("var", name, "handle", handle, "width", width)
	}
	return nil
}

var patBracketWS = regexp.MustCompile(`\s+\[`)

func scopeTypeName(kind byte) string {
	if int(kind) < len(scopeTypeNames) {
		return scopeTypeNames[kind]
	}
	return "unknown"
}

func varTypeName(t byte) string {
	if int(t) < len(varTypeNames) {
		return varTypeNames[t]
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}
