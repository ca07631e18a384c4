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
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTableHeader = "# Counted Sites    8\n" +
	"# collapsed_pos false\n" +
	"# collapsed_dinuc false\n" +
	"ReadGroup,QualityScore,Cycle,Dinuc,nObservations,nMismatches,Qempirical\n"

func TestReportRoundTrip(t *testing.T) {
	counter := endToEndCounter(t)
	report := counter.Report()
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, report))
	text := buf.String()

	assert.True(t, strings.HasPrefix(text, "# Counted Sites    8\n# Counted Bases    7000\n# Skipped Sites    0\n"))
	assert.Contains(t, text, "# Run "+report.RunID+"\n")
	assert.Contains(t, text, "# collapsed_pos false\n# collapsed_dinuc false\n")
	assert.Contains(t, text, "\nReadGroup,QualityScore,Cycle,Dinuc,nObservations,nMismatches,Qempirical\n")
	assert.Contains(t, text, "\nrg1,30,2,AC,1000,0,30\n")
	assert.Contains(t, text, "\nrg1,30,8,GA,1000,1000,0\nEOF\n")
	assert.True(t, strings.HasSuffix(text, "\nEOF\n"))

	loaded, err := ReadReport(strings.NewReader(text), testConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"ReadGroup", "QualityScore", "Cycle", "Dinuc"}, CovariateNamesOf(loaded.Covariates))
	assert.True(t, report.Table.Equal(loaded.Table))
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Equal(t, report.Counts.CountedSites, loaded.Counts.CountedSites)
	assert.Equal(t, report.Counts.CountedBases, loaded.Counts.CountedBases)
	loaded.Table.Range(func(key Key, datum *RecalDatum) bool {
		assert.Equal(t, datum.Quality(1, 40), datum.EmpiricalQuality)
		return true
	})

	var again bytes.Buffer
	require.NoError(t, WriteReport(&again, loaded))
	assert.Equal(t, text, again.String())
}

func TestReportFiles(t *testing.T) {
	report := endToEndCounter(t).Report()
	for _, name := range []string{"table.csv", "table.csv.gz"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, WriteReportFile(path, report))
		loaded, err := ReadReportFile(path, nil)
		require.NoError(t, err, name)
		assert.True(t, report.Table.Equal(loaded.Table), name)
	}
	_, err := ReadReportFile(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.Error(t, err)
}

func TestReadReportErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  error
	}{
		{"empty", "", ErrTruncatedFile},
		{"no eof", testTableHeader + "rg1,30,2,AC,10,0,10\n", ErrTruncatedFile},
		{"header only", testTableHeader, ErrTruncatedFile},
		{"eof only", "EOF\n", ErrMalformedRow},
		{"no header", "rg1,30,2,AC,10,0,10\nEOF\n", ErrMalformedRow},
		{"field count", testTableHeader + "rg1,30,2,10,0,10\nEOF\n", ErrMalformedRow},
		{"bad quality", testTableHeader + "rg1,x,2,AC,10,0,10\nEOF\n", ErrMalformedRow},
		{"bad dinuc", testTableHeader + "rg1,30,2,AN,10,0,10\nEOF\n", ErrMalformedRow},
		{"bad count", testTableHeader + "rg1,30,2,AC,-10,0,10\nEOF\n", ErrMalformedRow},
		{"bad qempirical", testTableHeader + "rg1,30,2,AC,10,0,high\nEOF\n", ErrMalformedRow},
		{"mismatches exceed observations", testTableHeader + "rg1,30,2,AC,10,11,0\nEOF\n", ErrMalformedRow},
		{"data after eof", testTableHeader + "rg1,30,2,AC,10,0,10\nEOF\nrg1,30,3,AC,10,0,10\n", ErrMalformedRow},
		{"bad flag", "# collapsed_pos maybe\n" + testTableHeader + "EOF\n", ErrMalformedRow},
		{"duplicate", testTableHeader + "rg1,30,2,AC,10,0,10\nrg1,30,2,AC,5,0,10\nEOF\n", ErrDuplicateKey},
		{"unknown covariate", "ReadGroup,QualityScore,Moon,nObservations,nMismatches,Qempirical\nEOF\n", ErrConfiguration},
		{"covariate order", "QualityScore,ReadGroup,nObservations,nMismatches,Qempirical\nEOF\n", ErrConfiguration},
	}
	for _, test := range tests {
		_, err := ReadReport(strings.NewReader(test.input), nil)
		assert.True(t, errors.Is(err, test.kind), "%v: %v", test.name, err)
	}
}

func TestReadReportAccepts(t *testing.T) {
	input := "# a free comment\n" +
		"# collapsed_pos TRUE\n" +
		"# collapsed_dinuc false\r\n" +
		"ReadGroup,QualityScore,Position,nObservations,nMismatches,Qempirical\n" +
		"\n" +
		"rg1,30,2,10,0,10.41\n" +
		"EOF\n\n"
	report, err := ReadReport(strings.NewReader(input), nil)
	require.NoError(t, err)
	assert.True(t, report.CollapsedPosition)
	assert.False(t, report.CollapsedDinucleotide)
	assert.Equal(t, 1, report.Table.Len())
}

func TestMergeReports(t *testing.T) {
	cfg := testConfig("ReadGroup", "QualityScore", "Cycle", "Dinuc", "Homopolymer")
	loci := randomLoci(t, cfg, 7)
	serial := count(t, cfg, loci).Report()

	var shards []*Report
	for _, bounds := range [][2]int{{0, 10}, {10, 45}, {45, len(loci)}} {
		var buf bytes.Buffer
		require.NoError(t, WriteReport(&buf, count(t, cfg, loci[bounds[0]:bounds[1]]).Report()))
		shard, err := ReadReport(&buf, cfg)
		require.NoError(t, err)
		shards = append(shards, shard)
	}
	merged, err := MergeReports(shards...)
	require.NoError(t, err)
	assert.True(t, serial.Table.Equal(merged.Table))
	assert.Equal(t, serial.Counts.CountedSites, merged.Counts.CountedSites)
	assert.Equal(t, serial.Counts.CountedBases, merged.Counts.CountedBases)

	other := count(t, testConfig(), loci).Report()
	_, err = MergeReports(serial, other)
	assert.True(t, errors.Is(err, ErrConfiguration))
	_, err = MergeReports()
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestWriteSummary(t *testing.T) {
	report := endToEndCounter(t).Report()
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, report))
	text := buf.String()
	assert.Contains(t, text, "#:RecalTable0:")
	assert.Contains(t, text, "#:RecalTable1:")
	assert.Contains(t, text, "#:RecalTable2:")
	lines := strings.Split(text, "\n")
	require.Greater(t, len(lines), 4)
	assert.Equal(t, "ReadGroup  EmpiricalQuality  Observations  Errors", lines[1])
	assert.Regexp(t, `^rg1\s+\d+\.\d{4}\s+7000\s+1000$`, lines[2])
	assert.Contains(t, text, "GA              Dinuc")
}

func TestWriteSummaryUsesCounterMarginals(t *testing.T) {
	counter := endToEndCounter(t)
	report := counter.Report()
	assert.Same(t, counter.Collapsed, report.Collapsed)

	var fromCounter, fromTable bytes.Buffer
	require.NoError(t, WriteSummary(&fromCounter, report))
	report.Collapsed = nil
	require.NoError(t, WriteSummary(&fromTable, report))
	assert.Equal(t, fromTable.String(), fromCounter.String())

	report.Collapsed = counter.Collapsed
	report.Collapsed.ByReadGroup.Delete(Key{readGroupCode("rg1")})
	var pruned bytes.Buffer
	require.NoError(t, WriteSummary(&pruned, report))
	assert.NotRegexp(t, `(?m)^rg1\s+\d+\.\d{4}\s+7000\s+1000$`, pruned.String())
	assert.Contains(t, pruned.String(), "#:RecalTable1:")

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, counter.Report()))
	reloaded, err := ReadReport(&buf, nil)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Collapsed)
}
