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

import "github.com/wavedump/wavedump/wave"

// stateNone marks a byte that is not a valid encoded logic
// state.
const stateNone = 0xff

// stateTable decodes the per-byte encoded states used inside
// value-change payloads: the low-numbered single-bit
// encodings (bit 0 selects the extended set) and the ASCII
// state characters used by char-per-bit vectors. Entries
// pack level<<4 | state.
var stateTable [256]byte

func packState(level int, state byte) byte { return byte(level<<4) | state }

func init() {
	for i := range stateTable {
		stateTable[i] = stateNone
	}
	// single-bit wire encodings: even values are 2-state,
	// odd values index the extended states
	stateTable[0<<1] = packState(wave.Level2, wave.State0)
	stateTable[1<<1] = packState(wave.Level2, wave.State1)
	stateTable[1|0<<1] = packState(wave.Level2, wave.StateX)
	stateTable[1|1<<1] = packState(wave.Level2, wave.StateZ)
	stateTable[1|2<<1] = packState(wave.Level2, wave.StateH)
	stateTable[1|3<<1] = packState(wave.Level2, wave.StateU)
	stateTable[1|4<<1] = packState(wave.Level2, wave.StateW)
	stateTable[1|5<<1] = packState(wave.Level2, wave.StateL)
	stateTable[1|6<<1] = packState(wave.Level2, wave.StateD)
	stateTable[1|7<<1] = packState(wave.Level2, wave.StateUnknown)

	stateTable['0'] = packState(wave.Level2, wave.State0)
	stateTable['1'] = packState(wave.Level2, wave.State1)
	stateTable['z'] = packState(wave.Level4, wave.StateZ)
	stateTable['Z'] = packState(wave.Level4, wave.StateZ)
	stateTable['x'] = packState(wave.Level4, wave.StateX)
	stateTable['X'] = packState(wave.Level4, wave.StateX)
	stateTable['l'] = packState(wave.Level16, wave.StateL)
	stateTable['L'] = packState(wave.Level16, wave.StateL)
	stateTable['h'] = packState(wave.Level16, wave.StateH)
	stateTable['H'] = packState(wave.Level16, wave.StateH)
	stateTable['u'] = packState(wave.Level16, wave.StateU)
	stateTable['U'] = packState(wave.Level16, wave.StateU)
	stateTable['w'] = packState(wave.Level16, wave.StateW)
	stateTable['W'] = packState(wave.Level16, wave.StateW)
	stateTable['-'] = packState(wave.Level16, wave.StateD)
	stateTable['?'] = packState(wave.Level16, wave.StateUnknown)
}
