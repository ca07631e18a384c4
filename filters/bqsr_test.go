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

package filters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exascience/elrecal/fasta"
	"github.com/exascience/elrecal/intervals"
	"github.com/exascience/elrecal/recal"
	"github.com/exascience/elrecal/sam"
	"github.com/exascience/elrecal/utils"
)

func testHeader() *sam.Header {
	hdr := sam.NewHeader()
	hdr.SQ = []utils.StringMap{{"SN": "chr1", "LN": "12"}}
	hdr.RG = []utils.StringMap{{"ID": "rg1", "PL": "ILLUMINA", "SM": "s1"}}
	return hdr
}

func testAlignment(name, seq string, pos int32, cigar []sam.CigarOperation, flag uint16) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = name
	aln.FLAG = flag
	aln.RNAME = "chr1"
	aln.POS = pos
	aln.MAPQ = 60
	aln.CIGAR = cigar
	aln.SEQ = []byte(seq)
	aln.QUAL = make([]byte, len(seq))
	for i := range aln.QUAL {
		aln.QUAL[i] = 30
	}
	aln.SetRG("rg1")
	return aln
}

func matches(n int32) []sam.CigarOperation {
	return []sam.CigarOperation{{Length: n, Operation: 'M'}}
}

var testReference = fasta.Fasta{"chr1": []byte("ACGTACGTAAAA")}

func endToEndSam() *sam.Sam {
	reads := sam.NewSam()
	reads.Header = testHeader()
	for i := 0; i < 1000; i++ {
		reads.Alignments = append(reads.Alignments, testAlignment("r", "ACGTACGA", 1, matches(8), 0))
	}
	return reads
}

func TestUsableForRecalibration(t *testing.T) {
	assert.True(t, UsableForRecalibration(testAlignment("r", "ACGT", 1, matches(4), 0)))
	assert.True(t, UsableForRecalibration(testAlignment("r", "ACGT", 1, matches(4), sam.Reversed|sam.Multiple)))
	for _, flag := range []uint16{sam.Secondary, sam.Duplicate, sam.QCFailed, sam.Unmapped} {
		assert.False(t, UsableForRecalibration(testAlignment("r", "ACGT", 1, matches(4), flag)))
	}
	aln := testAlignment("r", "ACGT", 1, matches(4), 0)
	aln.MAPQ = 0
	assert.False(t, UsableForRecalibration(aln))
	aln.MAPQ = 255
	assert.False(t, UsableForRecalibration(aln))
	assert.False(t, UsableForRecalibration(testAlignment("r", "ACGT", 0, matches(4), 0)))
	assert.False(t, UsableForRecalibration(testAlignment("r", "ACGT", 1, matches(3), 0)))
	aln = testAlignment("r", "ACGT", 1, matches(4), 0)
	aln.QUAL = aln.QUAL[:2]
	assert.False(t, UsableForRecalibration(aln))
}

func TestReadInfoFromAlignment(t *testing.T) {
	cigar := []sam.CigarOperation{{Length: 1, Operation: 'S'}, {Length: 2, Operation: 'M'}, {Length: 1, Operation: 'I'}, {Length: 2, Operation: 'M'}}
	aln := testAlignment("r", "TACGTA", 2, cigar, sam.Reversed|sam.Multiple|sam.Last)
	aln.TAGS.Set(sam.OQ, "+5?I+5")
	aln.TAGS.Set(sam.CS, "T0123012")
	aln.TAGS.Set(sam.CQ, "!!!!!!!")
	info := ReadInfoFromAlignment(aln, map[string]string{"rg1": "SOLID"}, testReference["chr1"])
	assert.Equal(t, "rg1", info.ReadGroup)
	assert.Equal(t, "SOLID", info.Platform)
	assert.True(t, info.Reversed)
	assert.True(t, info.Paired)
	assert.True(t, info.SecondOfPair)
	assert.Equal(t, []byte{10, 20, 30, 40, 10, 20}, info.OriginalQuals)
	assert.Equal(t, []byte("T0123012"), info.ColorSpace)
	assert.Equal(t, make([]byte, 7), info.ColorQuals)
	assert.Equal(t, []byte{0, 'C', 'G', 0, 'T', 'A'}, info.RefBases)

	aln.TAGS.Set(sam.OQ, "\x01")
	assert.Nil(t, ReadInfoFromAlignment(aln, nil, nil).OriginalQuals)
	assert.Nil(t, ReadInfoFromAlignment(aln, nil, nil).RefBases)
}

func testRecalibrator(t *testing.T, cfg *recal.Config, known *intervals.SiteMask) *BaseRecalibrator {
	recalibrator, err := NewBaseRecalibrator(cfg, testReference, known)
	require.NoError(t, err)
	return recalibrator
}

func TestRecalibrateEndToEnd(t *testing.T) {
	cfg := recal.DefaultConfig()
	counter, err := testRecalibrator(t, cfg, nil).Recalibrate(endToEndSam())
	require.NoError(t, err)
	covs := counter.Covariates()
	rg, _ := covs[0].ValueFromText("rg1")
	ga, _ := covs[3].ValueFromText("GA")
	datum := counter.Full.Get(recal.Key{rg, 30, 8, ga})
	require.NotNil(t, datum)
	assert.Equal(t, uint64(1000), datum.Observations)
	assert.Equal(t, uint64(1000), datum.Mismatches)
	assert.Equal(t, uint64(8), counter.Counts.CountedSites)
	assert.Equal(t, uint64(7000), counter.Counts.CountedBases)

	small := testRecalibrator(t, cfg, nil)
	small.WindowSize = 3
	windowed, err := small.Recalibrate(endToEndSam())
	require.NoError(t, err)
	assert.True(t, counter.Full.Equal(windowed.Full))
	assert.Equal(t, counter.Counts, windowed.Counts)

	known := intervals.NewSiteMask(map[string][]intervals.Interval{"chr1": {{Start: 7, End: 8}}})
	masked, err := testRecalibrator(t, cfg, known).Recalibrate(endToEndSam())
	require.NoError(t, err)
	assert.Nil(t, masked.Full.Get(recal.Key{rg, 30, 8, ga}))
	assert.Equal(t, uint64(1000), masked.Counts.VariantMismatches)
	assert.Equal(t, uint64(6000), masked.Counts.CountedBases)
}

func TestRecalibrateSkipsReads(t *testing.T) {
	reads := sam.NewSam()
	reads.Header = testHeader()
	other := testAlignment("elsewhere", "ACGT", 1, matches(4), 0)
	other.RNAME = "chrUn"
	reads.Alignments = []*sam.Alignment{
		testAlignment("dup", "ACGT", 1, matches(4), sam.Duplicate),
		other,
		testAlignment("ok", "ACGT", 1, matches(4), 0),
	}
	counter, err := testRecalibrator(t, recal.DefaultConfig(), nil).Recalibrate(reads)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), counter.Counts.CountedBases)
}

func TestRecalibrateChecksContigLengths(t *testing.T) {
	reads := endToEndSam()
	reads.Header.SQ[0]["LN"] = "13"
	_, err := testRecalibrator(t, recal.DefaultConfig(), nil).Recalibrate(reads)
	assert.Error(t, err)

	reads = endToEndSam()
	reads.Header.SQ = append(reads.Header.SQ, utils.StringMap{"SN": "chrUn", "LN": "100"})
	_, err = testRecalibrator(t, recal.DefaultConfig(), nil).Recalibrate(reads)
	assert.NoError(t, err)
}

func TestMakeWindows(t *testing.T) {
	reads := []*alignedRead{
		{contig: "chr2", start: 1, end: 5},
		{contig: "chr1", start: 8, end: 12},
		{contig: "chr1", start: 1, end: 3},
	}
	windows := makeWindows(reads, nil, 5)
	require.Len(t, windows, 4)
	assert.Equal(t, "chr1", windows[0].contig)
	assert.Equal(t, int32(1), windows[0].start)
	assert.Equal(t, int32(5), windows[0].end)
	assert.Len(t, windows[0].reads, 1)
	assert.Equal(t, int32(6), windows[1].start)
	assert.Equal(t, int32(11), windows[2].start)
	assert.Equal(t, "chr2", windows[3].contig)
}

func TestApplyRecalibration(t *testing.T) {
	cfg := recal.DefaultConfig()
	counter, err := testRecalibrator(t, cfg, nil).Recalibrate(endToEndSam())
	require.NoError(t, err)
	r, err := recal.NewRecalibrator(counter.Report(), cfg)
	require.NoError(t, err)
	filter, errorf := ApplyRecalibration(r, cfg, nil)
	alnFilter := filter(testHeader())

	aln := testAlignment("r", "ACGTACGA", 1, matches(8), 0)
	assert.True(t, alnFilter(aln))
	assert.Equal(t, []byte{30, 30, 30, 30, 30, 30, 30, 0}, aln.QUAL)
	oq, ok := aln.TAGS.GetString(sam.OQ)
	assert.True(t, ok)
	assert.Equal(t, "????????", oq)

	// the reverse complement has the same bases in machine direction
	rev := testAlignment("r", "TCGTACGT", 1, matches(8), sam.Reversed)
	assert.True(t, alnFilter(rev))
	assert.Equal(t, []byte{0, 30, 30, 30, 30, 30, 30, 30}, rev.QUAL)

	unknown := testAlignment("r", "ACGTACGA", 1, matches(8), 0)
	unknown.SetRG("rg2")
	assert.False(t, alnFilter(unknown))
	assert.True(t, errors.Is(errorf(), recal.ErrUnknownReadGroup))
	assert.False(t, alnFilter(testAlignment("r", "ACGTACGA", 1, matches(8), 0)))
}

func writeSam(t *testing.T, path string, alns ...*sam.Alignment) {
	t.Helper()
	reads := sam.NewSam()
	reads.Header = testHeader()
	reads.Alignments = alns
	out, err := sam.Create(path)
	require.NoError(t, err)
	require.NoError(t, reads.RunPipeline(out, nil, sam.Keep))
	require.NoError(t, out.Close())
}

func TestApplyRecalibrationFile(t *testing.T) {
	cfg := recal.DefaultConfig()
	counter, err := testRecalibrator(t, cfg, nil).Recalibrate(endToEndSam())
	require.NoError(t, err)
	r, err := recal.NewRecalibrator(counter.Report(), cfg)
	require.NoError(t, err)
	pg := utils.StringMap{"ID": "elrecal"}
	dir := t.TempDir()

	input := filepath.Join(dir, "input.sam")
	output := filepath.Join(dir, "output.sam")
	writeSam(t, input, testAlignment("r", "ACGTACGA", 1, matches(8), 0))
	require.NoError(t, ApplyRecalibrationFile(input, output, r, cfg, nil, pg))
	result, err := sam.ReadSam(output)
	require.NoError(t, err)
	require.Len(t, result.Alignments, 1)
	assert.Equal(t, []byte{30, 30, 30, 30, 30, 30, 30, 0}, result.Alignments[0].QUAL)
	assert.Len(t, result.Header.PG, 1)

	unknown := testAlignment("u", "ACGTACGA", 1, matches(8), 0)
	unknown.SetRG("rg2")
	input = filepath.Join(dir, "unknown.sam")
	output = filepath.Join(dir, "unknown-output.sam")
	writeSam(t, input, testAlignment("r", "ACGTACGA", 1, matches(8), 0), unknown)
	err = ApplyRecalibrationFile(input, output, r, cfg, nil, pg)
	assert.True(t, errors.Is(err, recal.ErrUnknownReadGroup))
	_, err = os.Stat(output)
	assert.True(t, os.IsNotExist(err))
}
