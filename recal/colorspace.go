// elrecal: base quality score recalibration for SAM files.
// Copyright (c) 2017-2020 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/exascience/elrecal/blob/master/LICENSE.txt>.

package recal

import "github.com/pkg/errors"

// colorTransitions[color][base] is the base following base under a
// color-space symbol, for bases indexed A, C, G, T.
var colorTransitions = [4][4]byte{
	{'A', 'C', 'G', 'T'},
	{'C', 'A', 'T', 'G'},
	{'G', 'T', 'A', 'C'},
	{'T', 'G', 'C', 'A'},
}

/*
DecodeColor returns the base implied by a previous base and a SOLiD
color-space symbol: '0' repeats the base, '1' swaps A/C and G/T, '2'
swaps A/G and C/T, and '3' complements it. Bases other than A, C, G,
and T decode to themselves. Any other symbol fails with
ErrUnrecognizedColorSpaceSymbol.
*/
func DecodeColor(prev, color byte) (byte, error) {
	if color < '0' || color > '3' {
		return 0, errors.Wrapf(ErrUnrecognizedColorSpaceSymbol, "color %q", color)
	}
	index := baseIndex(prev)
	if index < 0 {
		return prev, nil
	}
	return colorTransitions[color-'0'][index], nil
}

// decodeColorSpace determines which bases disagree with the color
// calls of a SOLiD read. Reads without usable color information are
// treated as fully consistent.
func (read *Read) decodeColorSpace(info *ReadInfo) error {
	cs := info.ColorSpace
	if len(cs) == 0 {
		return nil
	}
	n := len(read.Bases)
	if len(cs) != n+1 {
		warnOnce("color-space-length", "read %v has %v color calls for %v bases, ignoring color space information", info.Name, len(cs)-1, n)
		return nil
	}
	read.Inconsistent = make([]bool, n)
	read.ImpliedBases = make([]byte, n)
	prev := cs[0]
	if 'a' <= prev && prev <= 'z' {
		prev -= 'a' - 'A'
	}
	for i := 0; i < n; i++ {
		implied, err := DecodeColor(prev, cs[i+1])
		if err != nil {
			return errors.WithMessagef(err, "read %v at color %v", info.Name, i)
		}
		read.ImpliedBases[i] = implied
		read.Inconsistent[i] = implied != read.Bases[i]
		prev = read.Bases[i]
	}
	if len(info.ColorQuals) == n {
		read.ColorQuals = info.ColorQuals
	}
	return nil
}

// IsInconsistent reports whether the base at a machine-direction
// offset disagrees with its color call.
func (read *Read) IsInconsistent(offset int) bool {
	return read.Inconsistent != nil && read.Inconsistent[offset]
}
