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
)

// Filter matches a hierarchical signal name. A pattern that
// compiles matches when either the regular expression or the
// literal substring matches; a pattern that does not compile
// matches as a literal substring only.
type Filter struct {
	re  *regexp.Regexp
	lit string
}

// Filters builds a filter list from a comma-separated
// pattern string. Empty input yields an empty list.
func Filters(s string) []Filter {
	var out []Filter
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if re, err := regexp.Compile(p); err == nil {
			out = append(out, Filter{re: re, lit: p})
		} else {
			out = append(out, Filter{lit: p})
		}
	}
	return out
}

// Match tests the filter against name.
func (f *Filter) Match(name string) bool {
	if f.re != nil && f.re.MatchString(name) {
		return true
	}
	return f.lit != "" && strings.Contains(name, f.lit)
}

// Accepted applies the include/exclude filter pair: an empty
// include list accepts everything, and exclusion wins.
func Accepted(name string, include, exclude []Filter) bool {
	ok := len(include) == 0
	for i := range include {
		if include[i].Match(name) {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	for i := range exclude {
		if exclude[i].Match(name) {
			return false
		}
	}
	return true
}
