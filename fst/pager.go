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

// pageSize is the allocation granule of the pager.
const pageSize = 1 << 16

type fragment struct {
	page, off, len int
}

// pager is a pageable byte store for the value-change blocks
// queued between phase 1 and phase 2: amortized O(1) append,
// random access by fragment index. Fragments larger than a
// page get a dedicated page.
type pager struct {
	pages [][]byte
	frags []fragment
}

// add copies b into the store and returns its fragment
// index.
func (p *pager) add(b []byte) int {
	if len(b) >= pageSize {
		p.pages = append(p.pages, append([]byte(nil), b...))
		p.frags = append(p.frags, fragment{page: len(p.pages) - 1, off: 0, len: len(b)})
		return len(p.frags) - 1
	}
	if len(p.pages) == 0 || len(p.pages[len(p.pages)-1])+len(b) > pageSize {
		p.pages = append(p.pages, make([]byte, 0, pageSize))
	}
	n := len(p.pages) - 1
	off := len(p.pages[n])
	p.pages[n] = append(p.pages[n], b...)
	p.frags = append(p.frags, fragment{page: n, off: off, len: len(b)})
	return len(p.frags) - 1
}

// get returns fragment i. The slice aliases the store; it is
// valid until the pager is dropped.
func (p *pager) get(i int) []byte {
	f := p.frags[i]
	return p.pages[f.page][f.off : f.off+f.len]
}

// count is the number of stored fragments.
func (p *pager) count() int { return len(p.frags) }
