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

// Package wave holds the in-memory record model that the
// waveform decoders produce into: the time domain base,
// the scope hierarchy, pre-creation variable records,
// signals, and append-only sample writers.
package wave

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TimeBase is the domain base of a record: a power-of-ten
// time unit shared by every timestamp the decoders emit.
// Consecutive values differ by a factor of ten, so the
// difference of two TimeBase values is a decimal exponent.
type TimeBase int8

const (
	Fs TimeBase = iota // 1 fs
	Fs10
	Fs100
	Ps
	Ps10
	Ps100
	Ns
	Ns10
	Ns100
	Us
	Us10
	Us100
	Ms
	Ms10
	Ms100
	S
)

var baseUnits = []struct {
	unit string
	base TimeBase
}{
	{"fs", Fs}, {"ps", Ps}, {"ns", Ns}, {"us", Us}, {"ms", Ms}, {"s", S},
}

// ParseTimeBase parses a unit string like "ns", "10ns",
// or "ns10" (factor-suffixed form) into a TimeBase.
func ParseTimeBase(s string) (TimeBase, bool) {
	s = strings.TrimSpace(s)
	factor := 0
	switch {
	case strings.HasPrefix(s, "100"):
		factor, s = 2, s[3:]
	case strings.HasPrefix(s, "10"):
		factor, s = 1, s[2:]
	case strings.HasSuffix(s, "100"):
		factor, s = 2, s[:len(s)-3]
	case strings.HasSuffix(s, "10"):
		factor, s = 1, s[:len(s)-2]
	}
	for i := range baseUnits {
		if baseUnits[i].unit == s {
			return baseUnits[i].base + TimeBase(factor), true
		}
	}
	return 0, false
}

// TimeBaseFromExponent converts a decimal exponent relative
// to one second (0 = s, -9 = ns, -15 = fs) into a TimeBase.
func TimeBaseFromExponent(exp int8) (TimeBase, bool) {
	b := S + TimeBase(exp)
	if b < Fs || b > S {
		return 0, false
	}
	return b, true
}

func (b TimeBase) String() string {
	for i := range baseUnits {
		u := baseUnits[i]
		if b == u.base {
			return u.unit
		}
		if b == u.base+1 {
			return "10" + u.unit
		}
		if b == u.base+2 {
			return "100" + u.unit
		}
	}
	return fmt.Sprintf("TimeBase(%d)", int8(b))
}

// ParseMultiple parses a numeric configuration value
// expressed in this domain base. The value may carry its own
// unit suffix ("10ns"), in which case it is converted into
// this base. Empty or malformed input yields def.
func (b TimeBase) ParseMultiple(s string, def int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	i := 0
	for i < len(s) && (s[i] == '-' || s[i] == '+' || s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	num, unit := s[:i], strings.TrimSpace(s[i:])
	val, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return def
	}
	if unit != "" {
		ub, ok := ParseTimeBase(unit)
		if !ok {
			return def
		}
		val *= math.Pow10(int(ub) - int(b))
	}
	return int64(val)
}
