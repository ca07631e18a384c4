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

package sam

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	psort "github.com/exascience/pargo/sort"
	"github.com/pkg/errors"

	"github.com/exascience/elrecal/utils"
)

// SAM file format version and date this package supports.
const (
	FileFormatVersion = "1.6"
	FileFormatDate    = "22 May 2018"
)

// SortingOrder represents the value of the @HD SO tag, or the
// requested order of a pipeline's output.
type SortingOrder string

// Sorting orders.
const (
	Keep       SortingOrder = "keep"
	Unknown    SortingOrder = "unknown"
	Unsorted   SortingOrder = "unsorted"
	Queryname  SortingOrder = "queryname"
	Coordinate SortingOrder = "coordinate"
)

// IsHeaderUserTag checks whether a header code is a user-defined tag,
// which contains at least one lower-case letter.
func IsHeaderUserTag(code string) bool {
	for _, c := range code {
		if ('a' <= c) && (c <= 'z') {
			return true
		}
	}
	return false
}

// Header represents the header section of a SAM file.
type Header struct {
	HD          utils.StringMap
	SQ, RG, PG  []utils.StringMap
	CO          []string
	UserRecords map[string][]utils.StringMap
}

// NewHeader allocates and initializes an empty header.
func NewHeader() *Header { return &Header{} }

// SQLN returns the LN field of a @SQ record.
func SQLN(record utils.StringMap) (int32, error) {
	ln, found := record["LN"]
	if !found {
		return 0x7FFFFFFF, errors.New("LN entry in a SQ header line missing")
	}
	val, err := strconv.ParseInt(ln, 10, 32)
	return int32(val), err
}

// EnsureHD returns the @HD record, creating it if necessary.
func (hdr *Header) EnsureHD() utils.StringMap {
	if hdr.HD == nil {
		hdr.HD = utils.StringMap{"VN": FileFormatVersion}
	}
	return hdr.HD
}

// HDSO returns the sorting order recorded in the header.
func (hdr *Header) HDSO() SortingOrder {
	if so, found := hdr.EnsureHD()["SO"]; found {
		return SortingOrder(so)
	}
	return Unknown
}

// SetHDSO records the given sorting order in the header.
func (hdr *Header) SetHDSO(value SortingOrder) {
	hd := hdr.EnsureHD()
	delete(hd, "GO")
	hd["SO"] = string(value)
}

// AddUserRecord adds a record for a user-defined header code.
func (hdr *Header) AddUserRecord(code string, record utils.StringMap) {
	if hdr.UserRecords == nil {
		hdr.UserRecords = make(map[string][]utils.StringMap)
	}
	hdr.UserRecords[code] = append(hdr.UserRecords[code], record)
}

// ReadGroup returns the @RG record with the given ID, or nil.
func (hdr *Header) ReadGroup(id string) utils.StringMap {
	if index := utils.Find(hdr.RG, func(record utils.StringMap) bool { return record["ID"] == id }); index >= 0 {
		return hdr.RG[index]
	}
	return nil
}

// ReadGroupPlatforms maps each read group ID to its PL field, if
// present.
func (hdr *Header) ReadGroupPlatforms() map[string]string {
	platforms := make(map[string]string, len(hdr.RG))
	for _, record := range hdr.RG {
		if pl, found := record["PL"]; found {
			platforms[record["ID"]] = pl
		}
	}
	return platforms
}

// CigarOperation is one length/operation pair of a CIGAR string.
type CigarOperation struct {
	Length    int32
	Operation byte
}

// Alignment represents one read in a SAM file.
//
// SEQ holds the bases as ASCII letters. QUAL holds Phred values, not
// offset by 33. Both are empty when the SAM field is "*".
type Alignment struct {
	QNAME string
	FLAG  uint16
	RNAME string
	POS   int32
	MAPQ  byte
	CIGAR []CigarOperation
	RNEXT string
	PNEXT int32
	TLEN  int32
	SEQ   []byte
	QUAL  []byte
	TAGS  utils.SmallMap
	Temps utils.SmallMap
}

// Symbols for optional fields and temporary values used by this
// package and its clients.
var (
	RG    = utils.Intern("RG")
	OQ    = utils.Intern("OQ")
	CS    = utils.Intern("CS")
	CQ    = utils.Intern("CQ")
	REFID = utils.Intern("REFID")
)

// NewAlignment allocates a new alignment with room for some tags.
func NewAlignment() *Alignment {
	return &Alignment{
		TAGS:  make(utils.SmallMap, 0, 16),
		Temps: make(utils.SmallMap, 0, 4),
	}
}

// RG returns the read group of the alignment, if any.
func (aln *Alignment) RG() (string, bool) {
	return aln.TAGS.GetString(RG)
}

// SetRG sets the read group of the alignment.
func (aln *Alignment) SetRG(rg string) {
	aln.TAGS.Set(RG, rg)
}

// REFID returns the index of RNAME in the reference sequence
// dictionary, as stored by the AddREFID filter.
func (aln *Alignment) REFID() int32 {
	refid, ok := aln.Temps.Get(REFID)
	if !ok {
		return -1
	}
	return refid.(int32)
}

// SetREFID stores the reference index of the alignment.
func (aln *Alignment) SetREFID(refid int32) {
	aln.Temps.Set(REFID, refid)
}

// CoordinateLess orders alignments by reference index and position,
// with unmapped alignments last.
func CoordinateLess(aln1, aln2 *Alignment) bool {
	refid1 := aln1.REFID()
	refid2 := aln2.REFID()
	switch {
	case refid1 < refid2:
		return refid1 >= 0
	case refid2 < refid1:
		return refid2 < 0
	default:
		return aln1.POS < aln2.POS
	}
}

// QNAMELess orders alignments by read name.
func QNAMELess(aln1, aln2 *Alignment) bool {
	return aln1.QNAME < aln2.QNAME
}

// Flags of the FLAG field of an alignment.
const (
	Multiple      = 0x1
	Proper        = 0x2
	Unmapped      = 0x4
	NextUnmapped  = 0x8
	Reversed      = 0x10
	NextReversed  = 0x20
	First         = 0x40
	Last          = 0x80
	Secondary     = 0x100
	QCFailed      = 0x200
	Duplicate     = 0x400
	Supplementary = 0x800
)

func (aln *Alignment) IsMultiple() bool  { return (aln.FLAG & Multiple) != 0 }
func (aln *Alignment) IsUnmapped() bool  { return (aln.FLAG & Unmapped) != 0 }
func (aln *Alignment) IsReversed() bool  { return (aln.FLAG & Reversed) != 0 }
func (aln *Alignment) IsFirst() bool     { return (aln.FLAG & First) != 0 }
func (aln *Alignment) IsLast() bool      { return (aln.FLAG & Last) != 0 }
func (aln *Alignment) IsDuplicate() bool { return (aln.FLAG & Duplicate) != 0 }

// FlagNotAny checks that none of the given flags are set.
func (aln *Alignment) FlagNotAny(flag uint16) bool { return (aln.FLAG & flag) == 0 }

type (
	// By is a less function for sorting alignments.
	By func(aln1, aln2 *Alignment) bool

	alignmentSorter struct {
		alns []*Alignment
		by   By
	}
)

func (s alignmentSorter) SequentialSort(i, j int) {
	alns, by := s.alns[i:j], s.by
	sort.SliceStable(alns, func(i, j int) bool {
		return by(alns[i], alns[j])
	})
}

func (s alignmentSorter) NewTemp() psort.StableSorter {
	return alignmentSorter{make([]*Alignment, len(s.alns)), s.by}
}

func (s alignmentSorter) Len() int {
	return len(s.alns)
}

func (s alignmentSorter) Less(i, j int) bool {
	return s.by(s.alns[i], s.alns[j])
}

func (s alignmentSorter) Assign(p psort.StableSorter) func(i, j, len int) {
	dst, src := s.alns, p.(alignmentSorter).alns
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// ParallelStableSort sorts alignments in parallel.
func (by By) ParallelStableSort(alns []*Alignment) {
	psort.StableSort(alignmentSorter{alns, by})
}

// Sam represents a complete SAM file in memory.
type Sam struct {
	Header     *Header
	Alignments []*Alignment
	nofBatches int
}

// NewSam allocates an empty SAM representation.
func NewSam() *Sam { return &Sam{Header: NewHeader()} }

func isDigit(char byte) bool { return ('0' <= char) && (char <= '9') }

var cigarOperations = [256]bool{
	'M': true, 'I': true, 'D': true, 'N': true, 'S': true,
	'H': true, 'P': true, 'X': true, '=': true,
}

var (
	cigarSliceCache      = map[string][]CigarOperation{"*": {}}
	cigarSliceCacheMutex sync.RWMutex
)

func slowScanCigarString(cigar string) ([]CigarOperation, error) {
	var slice []CigarOperation
	for i := 0; i < len(cigar); {
		j := i
		for j < len(cigar) && isDigit(cigar[j]) {
			j++
		}
		if j == i || j == len(cigar) || !cigarOperations[cigar[j]] {
			return nil, fmt.Errorf("invalid CIGAR string %v", cigar)
		}
		length, err := strconv.ParseInt(cigar[i:j], 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "while scanning CIGAR string %v", cigar)
		}
		slice = append(slice, CigarOperation{int32(length), cigar[j]})
		i = j + 1
	}
	cigarSliceCacheMutex.Lock()
	defer cigarSliceCacheMutex.Unlock()
	if value, found := cigarSliceCache[cigar]; found {
		return value, nil
	}
	cigarSliceCache[cigar] = slice
	return slice, nil
}

// ScanCigarString parses a CIGAR string. Results are cached and
// shared, and must not be modified.
func ScanCigarString(cigar string) ([]CigarOperation, error) {
	cigarSliceCacheMutex.RLock()
	value, found := cigarSliceCache[cigar]
	cigarSliceCacheMutex.RUnlock()
	if found {
		return value, nil
	}
	return slowScanCigarString(cigar)
}

// AppendCigar formats a parsed CIGAR string.
func AppendCigar(out []byte, cigar []CigarOperation) []byte {
	if len(cigar) == 0 {
		return append(out, '*')
	}
	for _, op := range cigar {
		out = append(strconv.AppendInt(out, int64(op.Length), 10), op.Operation)
	}
	return out
}
