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

package wave

// Variable is a pre-creation record of one declared signal.
// Decoders accumulate Variables while parsing headers; the
// registry turns accepted variables into signals and writers
// when the record is initialized.
type Variable struct {
	Name        string
	Kind        SignalKind
	Scale       int // bit width for logic; 0 = variable length
	Idx0, Idx1  int // vector indices, high/low; -1 when absent
	IdxName     string
	Scope       ScopeID
	Shared      bool
	Description string

	// Group is the ordinal of the vector group the variable
	// belongs to, or -1.
	Group int

	Signal *Signal
	Writer *Writer
}

// IdentifyGroups scans variables in declaration order and,
// when vector is set, marks runs of single-bit logic
// variables in the same scope that share an index base name
// as members of one vector group.
func IdentifyGroups(vars []*Variable, vector bool) {
	for _, v := range vars {
		v.Group = -1
	}
	if !vector {
		return
	}
	group := 0
	for i := 0; i < len(vars); {
		v := vars[i]
		if v.Kind != KindLogic || v.Scale != 1 || v.IdxName == "" || v.Idx0 < 0 {
			i++
			continue
		}
		j := i + 1
		for j < len(vars) {
			n := vars[j]
			if n.Kind != KindLogic || n.Scale != 1 || n.IdxName != v.IdxName ||
				n.Scope != v.Scope || n.Idx0 < 0 {
				break
			}
			j++
		}
		if j-i > 1 {
			for k := i; k < j; k++ {
				vars[k].Group = group
			}
			group++
		}
		i = j
	}
}

// CreateSignals creates one signal per variable whose
// hierarchical name passes the include/exclude filters and
// attaches it to the record. Rejected variables keep a nil
// Signal.
func CreateSignals(r *Record, vars []*Variable, include, exclude []Filter) {
	for _, v := range vars {
		name := v.Name
		if p := r.H.Path(v.Scope); p != "" {
			name = p + "." + name
		}
		if !Accepted(name, include, exclude) {
			continue
		}
		s := &Signal{
			Name:        v.Name,
			Scope:       v.Scope,
			Kind:        v.Kind,
			Scale:       v.Scale,
			Description: v.Description,
		}
		v.Signal = s
		r.AddSignal(s)
	}
}

// CreateWriters creates one sample writer per created
// signal.
func CreateWriters(r *Record, vars []*Variable) {
	for _, v := range vars {
		if v.Signal == nil {
			continue
		}
		w := NewWriter(v.Kind, v.Scale, r.Base)
		v.Writer = w
		v.Signal.Writer = w
	}
}
