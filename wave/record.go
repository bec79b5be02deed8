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

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ScopeID indexes a scope inside a Hierarchy arena.
// The root scope is always RootScope.
type ScopeID int32

// RootScope is the id of the root scope of every hierarchy.
const RootScope ScopeID = 0

type scope struct {
	name     string
	parent   ScopeID
	children []ScopeID
	signals  []*Signal
	dead     bool
}

// Hierarchy is an arena of scopes. Decoders build the scope
// tree here while parsing headers, before the record exists;
// the record then adopts the arena. Scopes are addressed by
// ScopeID so that parser state is a plain stack of ids
// rather than a web of parent pointers.
type Hierarchy struct {
	scopes []scope
}

// NewHierarchy returns a hierarchy holding only the
// (unnamed) root scope.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{scopes: []scope{{parent: -1}}}
}

// Child looks up a direct child of parent by name.
func (h *Hierarchy) Child(parent ScopeID, name string) (ScopeID, bool) {
	for _, c := range h.scopes[parent].children {
		if h.scopes[c].name == name {
			return c, true
		}
	}
	return 0, false
}

// Add creates (or finds) a child scope of parent.
func (h *Hierarchy) Add(parent ScopeID, name string) ScopeID {
	if id, ok := h.Child(parent, name); ok {
		return id
	}
	id := ScopeID(len(h.scopes))
	h.scopes = append(h.scopes, scope{name: name, parent: parent})
	h.scopes[parent].children = append(h.scopes[parent].children, id)
	return id
}

// Parent returns the parent of id, or RootScope when id is
// the root.
func (h *Hierarchy) Parent(id ScopeID) ScopeID {
	p := h.scopes[id].parent
	if p < 0 {
		return RootScope
	}
	return p
}

// Name returns the name of the scope id.
func (h *Hierarchy) Name(id ScopeID) string { return h.scopes[id].name }

// Path returns the dotted hierarchical path of id
// (the root contributes nothing).
func (h *Hierarchy) Path(id ScopeID) string {
	if id == RootScope {
		return ""
	}
	var parts []string
	for id != RootScope {
		parts = append(parts, h.scopes[id].name)
		id = h.Parent(id)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Signal is one signal of a record.
type Signal struct {
	Name        string
	Scope       ScopeID
	Kind        SignalKind
	Scale       int
	Description string
	Writer      *Writer
}

// Record is the top-level container of the scope tree and
// the signal set. It is mutable while a decoder runs and is
// sealed by Close.
type Record struct {
	ID      string
	Name    string
	Base    TimeBase
	H       *Hierarchy
	Signals []*Signal

	Start, End     int64
	opened, closed bool
}

// NewRecord creates a record named name with the given
// domain base, adopting the scope hierarchy h (nil for an
// empty one).
func NewRecord(name string, base TimeBase, h *Hierarchy) *Record {
	if h == nil {
		h = NewHierarchy()
	}
	return &Record{ID: uuid.NewString(), Name: name, Base: base, H: h}
}

// AddSignal attaches a signal to its scope and to the
// record's flat signal list.
func (r *Record) AddSignal(s *Signal) {
	r.Signals = append(r.Signals, s)
	sc := &r.H.scopes[s.Scope]
	sc.signals = append(sc.signals, s)
}

// ScopeSignals returns the signals directly under id.
func (r *Record) ScopeSignals(id ScopeID) []*Signal { return r.H.scopes[id].signals }

// Open marks the record readable from t. Reopening is a
// no-op.
func (r *Record) Open(t int64) {
	if r.opened {
		return
	}
	r.opened = true
	r.Start = t
}

// Opened reports whether Open has been called.
func (r *Record) Opened() bool { return r.opened }

// Close seals the record at t. Closing twice is a no-op.
func (r *Record) Close(t int64) {
	if r.closed {
		return
	}
	r.closed = true
	r.End = t
}

// Closed reports whether Close has been called.
func (r *Record) Closed() bool { return r.closed }

// PruneEmpty marks scopes without signals anywhere beneath
// them as dead; Walk skips them.
func (r *Record) PruneEmpty() {
	var live func(id ScopeID) bool
	live = func(id ScopeID) bool {
		sc := &r.H.scopes[id]
		any := len(sc.signals) > 0
		for _, c := range sc.children {
			if live(c) {
				any = true
			}
		}
		sc.dead = !any && id != RootScope
		return any
	}
	live(RootScope)
}

// Walk visits every live scope depth-first, parents before
// children.
func (r *Record) Walk(fn func(id ScopeID, depth int)) {
	var walk func(id ScopeID, depth int)
	walk = func(id ScopeID, depth int) {
		if r.H.scopes[id].dead {
			return
		}
		fn(id, depth)
		for _, c := range r.H.scopes[id].children {
			walk(c, depth+1)
		}
	}
	walk(RootScope, 0)
}

// SplitScopes re-hierarchizes flat signal names: every
// signal name is split on re and all but the last component
// become nested scopes under the signal's current scope.
func (r *Record) SplitScopes(re *regexp.Regexp) {
	for _, s := range r.Signals {
		parts := re.Split(s.Name, -1)
		if len(parts) < 2 {
			continue
		}
		old := &r.H.scopes[s.Scope]
		for i := range old.signals {
			if old.signals[i] == s {
				old.signals = append(old.signals[:i], old.signals[i+1:]...)
				break
			}
		}
		id := s.Scope
		for _, p := range parts[:len(parts)-1] {
			id = r.H.Add(id, p)
		}
		s.Scope = id
		s.Name = parts[len(parts)-1]
		sc := &r.H.scopes[id]
		sc.signals = append(sc.signals, s)
	}
}
