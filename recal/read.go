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

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	baseIndexTable  [256]int8
	complementTable [256]byte
)

func init() {
	for i := range baseIndexTable {
		baseIndexTable[i] = -1
		complementTable[i] = byte(i)
	}
	for i, b := range []byte("ACGT") {
		baseIndexTable[b] = int8(i)
		baseIndexTable[b+'a'-'A'] = int8(i)
	}
	for _, pair := range []string{"AT", "CG", "at", "cg"} {
		complementTable[pair[0]] = pair[1]
		complementTable[pair[1]] = pair[0]
	}
}

// baseIndex maps A, C, G, T to 0-3, ignoring case, and anything else to -1.
func baseIndex(b byte) int {
	return int(baseIndexTable[b])
}

func isACGT(b byte) bool {
	return baseIndexTable[b] >= 0
}

func complement(b byte) byte {
	return complementTable[b]
}

/*
ReadInfo describes a read in its stored orientation, as found in an
alignment file. All qualities are Phred values.
*/
type ReadInfo struct {
	Name          string
	Bases         []byte
	Quals         []byte
	OriginalQuals []byte
	Reversed      bool
	Paired        bool
	SecondOfPair  bool
	ReadGroup     string
	Platform      string

	// ColorSpace and ColorQuals hold the SOLiD CS and CQ attributes,
	// which are in machine direction. ColorSpace starts with the
	// primer base.
	ColorSpace []byte
	ColorQuals []byte

	// RefBases holds the reference base each read base is aligned
	// to, or 0 for inserted and clipped bases. It is only needed for
	// SOLiD reference bias removal.
	RefBases []byte
}

/*
A Read is a read enriched for covariate computation. Bases,
qualities, and all derived per-base data are in machine direction:
for reads stored on the reverse strand they are reversed, and bases
are complemented.

A Read is computed once per read and then only read, except that
reference bias removal may replace bases.
*/
type Read struct {
	Name         string
	Bases        []byte
	Quals        []byte
	Reversed     bool
	Paired       bool
	SecondOfPair bool

	ReadGroup     int32
	HasReadGroup  bool
	ReadGroupName string
	Platform      Platform

	Tile    int32
	HasTile bool

	// FlowCycles holds the 454 flow cycle per offset.
	FlowCycles []int32

	// Inconsistent and ImpliedBases hold the color-space decoding
	// of SOLiD reads, or are nil.
	Inconsistent []bool
	ImpliedBases []byte
	ColorQuals   []byte
	RefBases     []byte
}

func reversed(s []byte) []byte {
	if s == nil {
		return nil
	}
	result := make([]byte, len(s))
	for i, b := range s {
		result[len(s)-1-i] = b
	}
	return result
}

func reverseComplemented(s []byte) []byte {
	if s == nil {
		return nil
	}
	result := make([]byte, len(s))
	for i, b := range s {
		result[len(s)-1-i] = complement(b)
	}
	return result
}

func upperCased(s []byte) []byte {
	result := make([]byte, len(s))
	for i, b := range s {
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		result[i] = b
	}
	return result
}

// effectivePlatform resolves the platform of a read once, without
// touching any shared header data.
func effectivePlatform(info *ReadInfo, cfg *Config) Platform {
	if cfg.ForcePlatform != "" {
		p, _ := ParsePlatform(cfg.ForcePlatform)
		return p
	}
	if info.Platform != "" {
		if p, ok := ParsePlatform(info.Platform); ok {
			return p
		}
		warnOnce("platform:"+info.Platform, "unrecognized platform %q in read group %v, using default platform %q", info.Platform, info.ReadGroup, cfg.DefaultPlatform)
	}
	p, _ := ParsePlatform(cfg.DefaultPlatform)
	return p
}

func effectiveReadGroup(info *ReadInfo, cfg *Config) string {
	switch {
	case cfg.ForceReadGroup != "":
		return cfg.ForceReadGroup
	case info.ReadGroup != "":
		return info.ReadGroup
	default:
		return cfg.DefaultReadGroup
	}
}

/*
parseTile extracts the tile number from an Illumina read name, either
instrument:run:flowcell:lane:tile:x:y or the older
machine:lane:tile:x:y.
*/
func parseTile(name string) (int32, bool) {
	if i := strings.IndexAny(name, " /"); i >= 0 {
		name = name[:i]
	}
	fields := strings.Split(name, ":")
	var field string
	switch len(fields) {
	case 7:
		field = fields[4]
	case 5:
		field = fields[2]
	default:
		return 0, false
	}
	tile, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(tile), true
}

// flowCycles numbers 454 flows: the cycle increases each time a base
// differs from the last A, C, G, or T seen. Other bases take the
// current cycle without changing it.
func flowCycles(bases []byte) []int32 {
	cycles := make([]int32, len(bases))
	var cycle int32
	var last byte
	for i, b := range bases {
		if isACGT(b) {
			if last != 0 && b != last {
				cycle++
			}
			last = b
		}
		cycles[i] = cycle
	}
	return cycles
}

// NewRead enriches a read for covariate computation. It fails with
// ErrMissingCovariateInput for reads that cannot be used at all, and
// with ErrUnrecognizedColorSpaceSymbol for corrupt SOLiD color data.
func NewRead(info *ReadInfo, cfg *Config) (*Read, error) {
	if len(info.Bases) != len(info.Quals) {
		return nil, errors.Wrapf(ErrMissingCovariateInput, "read %v has %v bases but %v qualities", info.Name, len(info.Bases), len(info.Quals))
	}
	quals := info.Quals
	if cfg.UseOriginalQuals {
		if len(info.OriginalQuals) == len(info.Bases) {
			quals = info.OriginalQuals
		} else {
			warnOnce("original-quals", "read %v has no usable original qualities, using reported qualities instead", info.Name)
		}
	}
	read := &Read{
		Name:         info.Name,
		Reversed:     info.Reversed,
		Paired:       info.Paired,
		SecondOfPair: info.SecondOfPair,
		Platform:     effectivePlatform(info, cfg),
	}
	if info.Reversed {
		read.Bases = upperCased(reverseComplemented(info.Bases))
		read.Quals = reversed(quals)
		read.RefBases = reverseComplemented(info.RefBases)
	} else {
		read.Bases = upperCased(info.Bases)
		read.Quals = append([]byte(nil), quals...)
		read.RefBases = info.RefBases
	}
	if rg := effectiveReadGroup(info, cfg); rg != "" {
		read.ReadGroupName = rg
		read.ReadGroup = readGroupCode(rg)
		read.HasReadGroup = true
	}
	read.Tile, read.HasTile = parseTile(info.Name)
	switch read.Platform {
	case LS454:
		read.FlowCycles = flowCycles(read.Bases)
	case Solid:
		if err := read.decodeColorSpace(info); err != nil {
			return nil, err
		}
	}
	return read, nil
}

// Len returns the number of bases of the read.
func (read *Read) Len() int {
	return len(read.Bases)
}

// StoredOffset converts a machine-direction offset to an offset in
// stored orientation.
func (read *Read) StoredOffset(offset int) int {
	if read.Reversed {
		return len(read.Bases) - 1 - offset
	}
	return offset
}

// MachineOffset converts an offset in stored orientation to machine
// direction.
func (read *Read) MachineOffset(storedOffset int) int {
	return read.StoredOffset(storedOffset)
}

// StoredBase returns the base at a machine-direction offset as it
// appears on the reference strand.
func (read *Read) StoredBase(offset int) byte {
	if read.Reversed {
		return complement(read.Bases[offset])
	}
	return read.Bases[offset]
}

// StoredBases returns the bases in stored orientation.
func (read *Read) StoredBases() []byte {
	if read.Reversed {
		return reverseComplemented(read.Bases)
	}
	return append([]byte(nil), read.Bases...)
}

// StoredQuals converts machine-direction qualities to stored
// orientation, reusing quals.
func (read *Read) StoredQuals(quals []byte) []byte {
	if read.Reversed {
		for i, j := 0, len(quals)-1; i < j; i, j = i+1, j-1 {
			quals[i], quals[j] = quals[j], quals[i]
		}
	}
	return quals
}
