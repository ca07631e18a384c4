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

package internal

import "math/rand"

// Rand is the source of pseudo-random numbers used for reproducible
// coin flips.
type Rand = rand.Rand

// NewRand returns a new Rand seeded with the given seed.
func NewRand(seed int64) *Rand {
	return rand.New(rand.NewSource(seed))
}

// NewReadRand returns a Rand whose seed depends only on the given
// global seed and the read name, so that results do not depend on the
// order in which reads are processed.
func NewReadRand(seed int64, name string) *Rand {
	return NewRand(seed ^ int64(StringHash(name)))
}
