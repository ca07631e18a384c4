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

import "strings"

// Platform identifies the sequencing technology of a read, as far as
// it matters for covariate computation.
type Platform int

// Platforms with distinct covariate semantics.
const (
	UnknownPlatform Platform = iota
	Illumina
	LS454
	Solid
)

var platformNames = map[string]Platform{
	"ILLUMINA":  Illumina,
	"SLX":       Illumina,
	"SOLEXA":    Illumina,
	"454":       LS454,
	"LS454":     LS454,
	"SOLID":     Solid,
	"ABI_SOLID": Solid,
}

// ParsePlatform parses a platform string as found in the PL field of
// an @RG header line. Matching is case-insensitive.
func ParsePlatform(s string) (Platform, bool) {
	p, ok := platformNames[strings.ToUpper(strings.TrimSpace(s))]
	return p, ok
}

func (p Platform) String() string {
	switch p {
	case Illumina:
		return "ILLUMINA"
	case LS454:
		return "LS454"
	case Solid:
		return "SOLID"
	default:
		return "UNKNOWN"
	}
}
