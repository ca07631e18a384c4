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

package intervals

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/pargo/parallel"
	"github.com/exascience/pargo/pipeline"
	psort "github.com/exascience/pargo/sort"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// Interval is a 0-based, half-open range [Start, End) on a contig.
type Interval struct {
	Start, End int32
}

// SortByStart sorts a slice of Interval by Start position.
func SortByStart(intervals []Interval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		return intervals[i].Start < intervals[j].Start
	})
}

type stableIntervalSorter []Interval

func (s stableIntervalSorter) SequentialSort(i, j int) {
	SortByStart(s[i:j])
}

func (s stableIntervalSorter) NewTemp() psort.StableSorter {
	return stableIntervalSorter(make([]Interval, len(s)))
}

func (s stableIntervalSorter) Len() int {
	return len(s)
}

func (s stableIntervalSorter) Less(i, j int) bool {
	return s[i].Start < s[j].Start
}

func (s stableIntervalSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableIntervalSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// ParallelSortByStart sorts a slice of Interval by Start position using
// a parallel stable sort.
func ParallelSortByStart(intervals []Interval) {
	psort.StableSort(stableIntervalSorter(intervals))
}

// Extend makes interval1 larger if it overlaps with interval2,
// by storing max(interval1.End, interval2.End) in interval1.End;
// otherwise, interval1 remains unchanged.
// Returns true if the two intervals overlap, false otherwise.
// interval2.Start >= interval1.Start must be true before
// calling Extend.
func (interval1 *Interval) Extend(interval2 Interval) bool {
	if interval2.Start > interval1.End {
		return false
	}
	if interval2.End > interval1.End {
		interval1.End = interval2.End
	}
	return true
}

// Flatten merges overlapping intervals into larger intervals.
// intervals must be sorted by Start before calling Flatten.
// The resulting slice is sorted by Start, and no two
// intervals in the result overlap with each other.
// The result shares memory with the intervals argument.
func Flatten(intervals []Interval) []Interval {
	for i, n := 0, len(intervals)-1; i < n; i++ {
		if intervals[i].Extend(intervals[i+1]) {
			n++
			for j := i + 1; j < n; j++ {
				if !intervals[i].Extend(intervals[j]) {
					i++
					intervals[i] = intervals[j]
				}
			}
			return intervals[:i+1]
		}
	}
	return intervals
}

const parallelFlattenGrainSize = 0x1000

// ParallelFlatten merges overlapping intervals into larger intervals,
// using a parallel algorithm.
// intervals must be sorted by Start before calling Flatten.
// The resulting slice is sorted by Start, and no two
// intervals in the result overlap with each other.
// The result shares memory with the intervals argument.
func ParallelFlatten(intervals []Interval) []Interval {
	if len(intervals) < parallelFlattenGrainSize {
		return Flatten(intervals)
	}
	half := len(intervals) >> 1
	left, right := intervals[:half], intervals[half:]
	parallel.Do(
		func() { left = ParallelFlatten(left) },
		func() { right = ParallelFlatten(right) },
	)
	for len(right) > 0 && left[len(left)-1].Extend(right[0]) {
		right = right[1:]
	}
	return append(left, right...)
}

// ElsitesHeader is the header line that every .elsites file starts with.
const ElsitesHeader = "# elsites format version 1.0\n"

func sortedContigs(intervals map[string][]Interval) []string {
	contigs := make([]string, 0, len(intervals))
	for contig := range intervals {
		contigs = append(contigs, contig)
	}
	sort.Strings(contigs)
	return contigs
}

// ToElsitesFile stores intervals in a .elsites file, contig by contig
// in lexicographic order.
func ToElsitesFile(intervals map[string][]Interval, filename string) (err error) {
	output, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := output.Close(); err == nil {
			err = nerr
		}
	}()
	if _, err = output.WriteString(ElsitesHeader); err != nil {
		return err
	}
	for _, chrom := range sortedContigs(intervals) {
		var buf []byte
		for _, ival := range intervals[chrom] {
			buf = append(buf, chrom...)
			buf = append(buf, '\t')
			buf = strconv.AppendInt(buf, int64(ival.Start), 10)
			buf = append(buf, '\t')
			buf = strconv.AppendInt(buf, int64(ival.End), 10)
			buf = append(buf, '\n')
		}
		if _, err = output.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// openText opens a text file, transparently decompressing .gz files.
func openText(filename string) (*bufio.Reader, func() error, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	if filepath.Ext(filename) != ".gz" {
		return bufio.NewReader(file), file.Close, nil
	}
	gz, err := pgzip.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, nil, errors.Wrapf(err, "while opening %v", filename)
	}
	return bufio.NewReader(gz), func() error {
		err := gz.Close()
		if nerr := file.Close(); err == nil {
			err = nerr
		}
		return err
	}, nil
}

// parseLines parses the remaining lines of input in parallel with a
// pargo pipeline. parse returns false for lines to be skipped.
func parseLines(input io.Reader, parse func(line string) (chrom string, interval Interval, ok bool, err error)) (map[string][]Interval, error) {
	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(input))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		intervals := make(map[string][]Interval)
		for _, line := range data.([]string) {
			chrom, interval, ok, err := parse(line)
			if err != nil {
				p.SetErr(err)
				return intervals
			}
			if ok {
				intervals[chrom] = append(intervals[chrom], interval)
			}
		}
		return intervals
	})))
	result := make(map[string][]Interval)
	p.Add(pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
		for chrom, ivals := range data.(map[string][]Interval) {
			result[chrom] = append(result[chrom], ivals...)
		}
		return data
	})))
	p.Run()
	if err := p.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func parseElsitesLine(line string) (string, Interval, bool, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 3 || fields[0] == "" {
		return "", Interval{}, false, errors.Errorf("invalid sites line %v", line)
	}
	start, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return "", Interval{}, false, errors.Wrapf(err, "invalid sites line %v", line)
	}
	end, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return "", Interval{}, false, errors.Wrapf(err, "invalid sites line %v", line)
	}
	return fields[0], Interval{int32(start), int32(end)}, true, nil
}

// FromElsitesFile loads intervals from a .elsites file.
func FromElsitesFile(filename string) (intervals map[string][]Interval, err error) {
	input, closer, err := openText(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := closer(); err == nil {
			err = nerr
		}
	}()
	header, err := input.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	if header != ElsitesHeader {
		return nil, errors.Errorf("%v is not a .elsites file - invalid header", filename)
	}
	return parseLines(input, parseElsitesLine)
}

// parseVcfLine reads the CHROM, POS, and REF columns of a VCF data
// line. Other columns are ignored.
func parseVcfLine(line string) (string, Interval, bool, error) {
	if line == "" || line[0] == '#' {
		return "", Interval{}, false, nil
	}
	fields := strings.SplitN(line, "\t", 5)
	if len(fields) < 4 {
		return "", Interval{}, false, errors.Errorf("invalid VCF line %v", line)
	}
	pos, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil || pos < 1 {
		return "", Interval{}, false, errors.Errorf("invalid VCF position in line %v", line)
	}
	start := int32(pos - 1)
	return fields[0], Interval{start, start + int32(len(fields[3]))}, true, nil
}

// FromVcfFile loads the regions covered by the reference alleles of
// the variants in a VCF file.
func FromVcfFile(filename string) (intervals map[string][]Interval, err error) {
	input, closer, err := openText(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := closer(); err == nil {
			err = nerr
		}
	}()
	return parseLines(input, parseVcfLine)
}

func parseBedLine(line string) (string, Interval, bool, error) {
	if line == "" || line[0] == '#' || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
		return "", Interval{}, false, nil
	}
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return "", Interval{}, false, errors.Errorf("invalid BED line %v", line)
	}
	start, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return "", Interval{}, false, errors.Wrapf(err, "invalid BED line %v", line)
	}
	end, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return "", Interval{}, false, errors.Wrapf(err, "invalid BED line %v", line)
	}
	return fields[0], Interval{int32(start), int32(end)}, true, nil
}

// FromBedFile loads the regions of a BED file.
func FromBedFile(filename string) (intervals map[string][]Interval, err error) {
	input, closer, err := openText(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := closer(); err == nil {
			err = nerr
		}
	}()
	return parseLines(input, parseBedLine)
}

// FromFile loads intervals from a .elsites, .vcf, or .bed file,
// based on the filename extension. A trailing .gz is ignored.
func FromFile(filename string) (map[string][]Interval, error) {
	switch filepath.Ext(strings.TrimSuffix(filename, ".gz")) {
	case ".elsites":
		return FromElsitesFile(filename)
	case ".vcf":
		return FromVcfFile(filename)
	case ".bed":
		return FromBedFile(filename)
	default:
		return nil, errors.Errorf("unknown known-sites format for %v", filename)
	}
}

// Merge adds the intervals of src to dst, then sorts and flattens
// each contig of dst.
func Merge(dst, src map[string][]Interval) {
	for chrom, ivals := range src {
		dst[chrom] = append(dst[chrom], ivals...)
	}
	for chrom, ivals := range dst {
		ParallelSortByStart(ivals)
		dst[chrom] = ParallelFlatten(ivals)
	}
}

/*
A SiteMask answers whether a genomic position lies in any of a set of
intervals, with one bit per reference position. It is immutable once
built and safe for concurrent use.
*/
type SiteMask struct {
	contigs map[string]*bitset.BitSet
}

// NewSiteMask builds a SiteMask from the given intervals.
func NewSiteMask(intervals map[string][]Interval) *SiteMask {
	mask := &SiteMask{contigs: make(map[string]*bitset.BitSet, len(intervals))}
	for chrom, ivals := range intervals {
		var max int32
		for _, ival := range ivals {
			if ival.End > max {
				max = ival.End
			}
		}
		bits := bitset.New(uint(max))
		for _, ival := range ivals {
			for pos := ival.Start; pos < ival.End; pos++ {
				if pos >= 0 {
					bits.Set(uint(pos))
				}
			}
		}
		mask.contigs[chrom] = bits
	}
	return mask
}

// IsKnown reports whether the 1-based position pos on the given
// contig is covered by the mask. A nil SiteMask is empty.
func (mask *SiteMask) IsKnown(contig string, pos int32) bool {
	if mask == nil || pos < 1 {
		return false
	}
	bits, ok := mask.contigs[contig]
	return ok && bits.Test(uint(pos-1))
}

// Count returns the number of positions covered by the mask.
func (mask *SiteMask) Count() (count uint) {
	if mask == nil {
		return 0
	}
	for _, bits := range mask.contigs {
		count += bits.Count()
	}
	return count
}

// LoadSiteMask loads and merges the intervals of the given files into
// a SiteMask.
func LoadSiteMask(filenames []string) (*SiteMask, error) {
	all := make(map[string][]Interval)
	for _, filename := range filenames {
		intervals, err := FromFile(filename)
		if err != nil {
			return nil, errors.Wrapf(err, "while loading known sites %v", filename)
		}
		Merge(all, intervals)
	}
	return NewSiteMask(all), nil
}
