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

package compr

import "errors"

// FastLZ block decompression. The stream is a sequence of
// control bytes: values below 32 start a literal run of
// ctrl+1 bytes; values >= 32 encode a back-reference whose
// length lives in the top three bits and whose distance
// combines the low five bits with one extension byte.
// Level 2 (selected by the top bits of the first byte) adds
// unbounded length extension bytes and a 16-bit far-distance
// form.

var (
	errFastlzCorrupt = errors.New("corrupt input")
	errFastlzLevel   = errors.New("unsupported level")
)

const fastlzMaxL2Distance = 8191

// fastlzDecompress inflates src into dst and returns the
// number of bytes produced. dst must be sized to the
// declared uncompressed length; overruns fail rather than
// grow.
func fastlzDecompress(src, dst []byte) (int, error) {
	if len(src) == 0 {
		return 0, errFastlzCorrupt
	}
	switch level := src[0] >> 5; level {
	case 0:
		return fastlz1Decompress(src, dst)
	case 1:
		return fastlz2Decompress(src, dst)
	default:
		return 0, errFastlzLevel
	}
}

func fastlz1Decompress(src, dst []byte) (int, error) {
	ip, op := 0, 0
	ctrl := uint32(src[ip] & 31)
	ip++
	for {
		if ctrl >= 32 {
			length := int(ctrl>>5) - 1
			ofs := int(ctrl&31) << 8
			if length == 7-1 {
				if ip >= len(src) {
					return 0, errFastlzCorrupt
				}
				length += int(src[ip])
				ip++
			}
			if ip >= len(src) {
				return 0, errFastlzCorrupt
			}
			ref := op - ofs - int(src[ip]) - 1
			ip++
			if op+length+3 > len(dst) || ref < 0 {
				return 0, errFastlzCorrupt
			}
			copyMatch(dst, op, ref, length+3)
			op += length + 3
		} else {
			run := int(ctrl) + 1
			if op+run > len(dst) || ip+run > len(src) {
				return 0, errFastlzCorrupt
			}
			copy(dst[op:op+run], src[ip:ip+run])
			op += run
			ip += run
		}
		if ip >= len(src) {
			break
		}
		ctrl = uint32(src[ip])
		ip++
	}
	return op, nil
}

func fastlz2Decompress(src, dst []byte) (int, error) {
	ip, op := 0, 0
	ctrl := uint32(src[ip] & 31)
	ip++
	for {
		if ctrl >= 32 {
			length := int(ctrl>>5) - 1
			ofs := int(ctrl&31) << 8
			ref := op - ofs - 1
			if length == 7-1 {
				for {
					if ip >= len(src) {
						return 0, errFastlzCorrupt
					}
					code := src[ip]
					ip++
					length += int(code)
					if code != 255 {
						break
					}
				}
			}
			if ip >= len(src) {
				return 0, errFastlzCorrupt
			}
			code := src[ip]
			ip++
			ref -= int(code)
			// far distance: two extra bytes extend the match
			// window beyond 8 KiB
			if code == 255 && ofs == 31<<8 {
				if ip+2 > len(src) {
					return 0, errFastlzCorrupt
				}
				ofs = int(src[ip])<<8 | int(src[ip+1])
				ip += 2
				ref = op - ofs - fastlzMaxL2Distance - 1
			}
			if op+length+3 > len(dst) || ref < 0 {
				return 0, errFastlzCorrupt
			}
			copyMatch(dst, op, ref, length+3)
			op += length + 3
		} else {
			run := int(ctrl) + 1
			if op+run > len(dst) || ip+run > len(src) {
				return 0, errFastlzCorrupt
			}
			copy(dst[op:op+run], src[ip:ip+run])
			op += run
			ip += run
		}
		if ip >= len(src) {
			break
		}
		ctrl = uint32(src[ip])
		ip++
	}
	return op, nil
}

// copyMatch copies n bytes from ref to op byte-by-byte so
// that overlapping runs replicate correctly.
func copyMatch(dst []byte, op, ref, n int) {
	for i := 0; i < n; i++ {
		dst[op+i] = dst[ref+i]
	}
}
