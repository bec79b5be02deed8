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

import "github.com/wavedump/wavedump/wave"

// Token classes. The high nibble of a table entry is the
// class; for state-change classes the low nibble carries the
// logic state code.
const (
	tokCommand  = 0x10 // '$'
	tokTime     = 0x20 // '#'
	tokVector   = 0x30 // 'b' 'B'
	tokReal     = 0x40 // 'r' 'R'
	tokWS       = 0x50
	tokChange2  = 0x60 // '0' '1'
	tokChange4  = 0x70 // 'x' 'z' and friends
	tokChange16 = 0x80 // 'h' 'l' 'u' 'w' '-'
	tokString   = 0x90 // 's' 'S'
	tokNone     = 0xf0
)

// tokenTable classifies every input byte in one load.
var tokenTable [256]byte

func init() {
	for i := range tokenTable {
		tokenTable[i] = tokNone
	}
	tokenTable['$'] = tokCommand
	tokenTable['#'] = tokTime
	tokenTable['b'] = tokVector
	tokenTable['B'] = tokVector
	tokenTable['r'] = tokReal
	tokenTable['R'] = tokReal
	tokenTable['s'] = tokString
	tokenTable['S'] = tokString
	tokenTable[' '] = tokWS
	tokenTable['\t'] = tokWS
	tokenTable['\n'] = tokWS | 1
	tokenTable['\r'] = tokWS | 2
	tokenTable['0'] = tokChange2 | wave.State0
	tokenTable['1'] = tokChange2 | wave.State1
	tokenTable['z'] = tokChange4 | wave.StateZ
	tokenTable['Z'] = tokChange4 | wave.StateZ
	tokenTable['x'] = tokChange4 | wave.StateX
	tokenTable['X'] = tokChange4 | wave.StateX
	tokenTable['l'] = tokChange16 | wave.StateL
	tokenTable['L'] = tokChange16 | wave.StateL
	tokenTable['h'] = tokChange16 | wave.StateH
	tokenTable['H'] = tokChange16 | wave.StateH
	tokenTable['u'] = tokChange16 | wave.StateU
	tokenTable['U'] = tokChange16 | wave.StateU
	tokenTable['w'] = tokChange16 | wave.StateW
	tokenTable['W'] = tokChange16 | wave.StateW
	tokenTable['-'] = tokChange16 | wave.StateD
}
