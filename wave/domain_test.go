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

import "testing"

func TestParseTimeBase(t *testing.T) {
	cases := []struct {
		in   string
		want TimeBase
		ok   bool
	}{
		{"fs", Fs, true},
		{"ps", Ps, true},
		{"ns", Ns, true},
		{"us", Us, true},
		{"ms", Ms, true},
		{"s", S, true},
		{"ns10", Ns10, true},
		{"10ns", Ns10, true},
		{"ns100", Ns100, true},
		{"100us", Us100, true},
		{"", 0, false},
		{"minutes", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseTimeBase(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("ParseTimeBase(%q) = %v, %v; want %v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestTimeBaseFromExponent(t *testing.T) {
	cases := []struct {
		exp  int8
		want TimeBase
		ok   bool
	}{
		{0, S, true},
		{-9, Ns, true},
		{-15, Fs, true},
		{-8, Ns10, true},
		{1, 0, false},
		{-16, 0, false},
	}
	for _, c := range cases {
		got, ok := TimeBaseFromExponent(c.exp)
		if ok != c.ok || (ok && got != c.want) {
			t.Errorf("TimeBaseFromExponent(%d) = %v, %v; want %v, %v", c.exp, got, ok, c.want, c.ok)
		}
	}
}

func TestParseMultiple(t *testing.T) {
	cases := []struct {
		base TimeBase
		in   string
		def  int64
		want int64
	}{
		{Ns, "", 7, 7},
		{Ns, "100", 0, 100},
		{Ns, " -5 ", 0, -5},
		{Ns, "1us", 0, 1000},
		{Ns, "10ns", 0, 10},
		{Us, "1ms", 0, 1000},
		{Ns, "bogus", 3, 3},
	}
	for _, c := range cases {
		if got := c.base.ParseMultiple(c.in, c.def); got != c.want {
			t.Errorf("%v.ParseMultiple(%q, %d) = %d; want %d", c.base, c.in, c.def, got, c.want)
		}
	}
}

func TestTimeBaseString(t *testing.T) {
	if Ns.String() != "ns" {
		t.Errorf("Ns = %q", Ns.String())
	}
	if Us10.String() != "10us" {
		t.Errorf("Us10 = %q", Us10.String())
	}
}
