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
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
)

// Column names and comment keys of recalibration table files.
const (
	observationsColumn = "nObservations"
	mismatchesColumn   = "nMismatches"
	qualityColumn      = "Qempirical"
	eofMarker          = "EOF"

	collapsedPositionKey     = "collapsed_pos"
	collapsedDinucleotideKey = "collapsed_dinuc"
	countedSitesKey          = "Counted Sites"
	countedBasesKey          = "Counted Bases"
	skippedSitesKey          = "Skipped Sites"
	fractionSkippedKey       = "Fraction Skipped"
	runKey                   = "Run"
)

/*
A Report is a full covariate table together with the metadata that is
persisted with it.
*/
type Report struct {
	Covariates []Covariate
	Table      *Table
	Counts     Counts
	RunID      string

	// CollapsedPosition and CollapsedDinucleotide mark tables whose
	// Position or Dinuc dimension must be ignored when applied.
	CollapsedPosition     bool
	CollapsedDinucleotide bool

	// SmoothingConstant and MaxQuality determine the Qempirical column.
	SmoothingConstant int
	MaxQuality        int

	// Collapsed holds the marginal tables accumulated during counting.
	// It is nil for reports read from disk or merged from shards.
	Collapsed *CollapsedTables
}

// NewReport creates a report for a table, with a fresh run id.
func NewReport(covs []Covariate, table *Table) *Report {
	return &Report{
		Covariates:        covs,
		Table:             table,
		RunID:             uuid.New().String(),
		SmoothingConstant: DefaultSmoothingConstant,
		MaxQuality:        DefaultMaxQuality,
	}
}

type stickyWriter struct {
	w   *bufio.Writer
	err error
}

func (sw *stickyWriter) printf(format string, args ...interface{}) {
	if sw.err == nil {
		_, sw.err = fmt.Fprintf(sw.w, format, args...)
	}
}

func (sw *stickyWriter) write(p []byte) {
	if sw.err == nil {
		_, sw.err = sw.w.Write(p)
	}
}

func (sw *stickyWriter) flush() error {
	if sw.err == nil {
		sw.err = sw.w.Flush()
	}
	return sw.err
}

// WriteReport writes a report as a recalibration table, with rows
// sorted by key and terminated by an EOF line.
func WriteReport(w io.Writer, report *Report) error {
	sw := &stickyWriter{w: bufio.NewWriter(w)}
	counts := report.Counts
	sw.printf("# %v    %v\n", countedSitesKey, counts.CountedSites)
	sw.printf("# %v    %v\n", countedBasesKey, counts.CountedBases)
	sw.printf("# %v    %v\n", skippedSitesKey, counts.SkippedSites)
	if counts.SkippedSites > 0 {
		sw.printf("# %v 1 / %.0f bp\n", fractionSkippedKey, float64(counts.CountedSites)/float64(counts.SkippedSites))
	} else {
		sw.printf("# %v 0\n", fractionSkippedKey)
	}
	if report.RunID != "" {
		sw.printf("# %v %v\n", runKey, report.RunID)
	}
	sw.printf("# %v %v\n", collapsedPositionKey, report.CollapsedPosition)
	sw.printf("# %v %v\n", collapsedDinucleotideKey, report.CollapsedDinucleotide)
	sw.printf("%v,%v,%v,%v\n", strings.Join(CovariateNamesOf(report.Covariates), ","), observationsColumn, mismatchesColumn, qualityColumn)
	var line []byte
	for _, key := range report.Table.SortedKeys(report.Covariates) {
		datum := report.Table.Get(key)
		line = line[:0]
		for i, cov := range report.Covariates {
			line = append(line, cov.FormatValue(key[i])...)
			line = append(line, ',')
		}
		line = strconv.AppendUint(line, datum.Observations, 10)
		line = append(line, ',')
		line = strconv.AppendUint(line, datum.Mismatches, 10)
		line = append(line, ',')
		line = strconv.AppendUint(line, uint64(datum.QualityByte(report.SmoothingConstant, report.MaxQuality)), 10)
		line = append(line, '\n')
		sw.write(line)
	}
	sw.printf("%v\n", eofMarker)
	return sw.flush()
}

func malformed(lineNumber int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedRow, "line %v: %v", lineNumber, fmt.Sprintf(format, args...))
}

func parseBoolComment(lineNumber int, key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, malformed(lineNumber, "invalid value %q for %v", value, key)
	}
}

func (report *Report) parseComment(lineNumber int, comment string) error {
	comment = strings.TrimSpace(comment)
	for _, key := range []string{countedSitesKey, countedBasesKey, skippedSitesKey} {
		if strings.HasPrefix(comment, key) {
			value, err := strconv.ParseUint(strings.TrimSpace(comment[len(key):]), 10, 64)
			if err != nil {
				return malformed(lineNumber, "invalid count %q", comment)
			}
			switch key {
			case countedSitesKey:
				report.Counts.CountedSites = value
			case countedBasesKey:
				report.Counts.CountedBases = value
			default:
				report.Counts.SkippedSites = value
			}
			return nil
		}
	}
	fields := strings.Fields(comment)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case collapsedPositionKey, collapsedDinucleotideKey:
		if len(fields) != 2 {
			return malformed(lineNumber, "%v needs a single value", fields[0])
		}
		value, err := parseBoolComment(lineNumber, fields[0], fields[1])
		if err != nil {
			return err
		}
		if fields[0] == collapsedPositionKey {
			report.CollapsedPosition = value
		} else {
			report.CollapsedDinucleotide = value
		}
	case runKey:
		if len(fields) == 2 {
			report.RunID = fields[1]
		}
	}
	return nil
}

func (report *Report) parseHeader(lineNumber int, line string, cfg *Config) error {
	fields := strings.Split(line, ",")
	n := len(fields)
	if n < 5 || fields[n-3] != observationsColumn || fields[n-2] != mismatchesColumn || fields[n-1] != qualityColumn {
		return malformed(lineNumber, "missing header row")
	}
	covs, err := newCovariates(fields[:n-3])
	if err != nil {
		return err
	}
	for _, cov := range covs {
		if err := cov.Initialize(cfg); err != nil {
			return err
		}
	}
	report.Covariates = covs
	report.Table = NewTable(len(covs))
	return nil
}

func (report *Report) parseRow(lineNumber int, line string) error {
	fields := strings.Split(line, ",")
	width := len(report.Covariates)
	if len(fields) != width+3 {
		return malformed(lineNumber, "expected %v fields, got %v", width+3, len(fields))
	}
	var key Key
	for i, cov := range report.Covariates {
		value, err := cov.ValueFromText(fields[i])
		if err != nil {
			return errors.WithMessagef(err, "line %v", lineNumber)
		}
		key[i] = value
	}
	observations, err := strconv.ParseUint(fields[width], 10, 64)
	if err != nil {
		return malformed(lineNumber, "invalid number of observations %q", fields[width])
	}
	mismatches, err := strconv.ParseUint(fields[width+1], 10, 64)
	if err != nil {
		return malformed(lineNumber, "invalid number of mismatches %q", fields[width+1])
	}
	if _, err := strconv.ParseFloat(fields[width+2], 64); err != nil {
		return malformed(lineNumber, "invalid empirical quality %q", fields[width+2])
	}
	if mismatches > observations {
		return malformed(lineNumber, "%v mismatches exceed %v observations", mismatches, observations)
	}
	if err := report.Table.Put(key, &RecalDatum{Observations: observations, Mismatches: mismatches}); err != nil {
		return errors.Wrapf(err, "line %v", lineNumber)
	}
	return nil
}

/*
ReadReport parses a recalibration table. The covariates named in its
header are initialized with cfg, or with the default configuration if
cfg is nil. Empirical qualities are recomputed from the counts.

A table without final EOF line fails with ErrTruncatedFile. Rows that
cannot be parsed fail with ErrMalformedRow, repeated keys with
ErrDuplicateKey, and unknown covariates with ErrConfiguration.
*/
func ReadReport(r io.Reader, cfg *Config) (*Report, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	report := &Report{
		SmoothingConstant: cfg.SmoothingConstant,
		MaxQuality:        cfg.MaxQuality,
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	eof := false
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case eof:
			return nil, malformed(lineNumber, "data after %v marker", eofMarker)
		case line == eofMarker:
			eof = true
		case line[0] == '#':
			if err := report.parseComment(lineNumber, line[1:]); err != nil {
				return nil, err
			}
		case report.Table == nil:
			if err := report.parseHeader(lineNumber, line, cfg); err != nil {
				return nil, err
			}
		default:
			if err := report.parseRow(lineNumber, line); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading recalibration table")
	}
	if !eof {
		return nil, errors.Wrapf(ErrTruncatedFile, "no %v marker after %v lines", eofMarker, lineNumber)
	}
	if report.Table == nil {
		return nil, malformed(lineNumber, "missing header row")
	}
	generateEmpiricalQualities(report.Table, report.SmoothingConstant, report.MaxQuality)
	return report, nil
}

func isGzipName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".gz")
}

// WriteReportFile writes a recalibration table to a file, compressed
// if the name ends in .gz.
func WriteReportFile(name string, report *Report) (err error) {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := file.Close(); err == nil {
			err = nerr
		}
	}()
	if !isGzipName(name) {
		return WriteReport(file, report)
	}
	gz := pgzip.NewWriter(file)
	if err := WriteReport(gz, report); err != nil {
		_ = gz.Close()
		return err
	}
	return gz.Close()
}

// ReadReportFile reads a recalibration table from a file, compressed
// if the name ends in .gz.
func ReadReportFile(name string, cfg *Config) (report *Report, err error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := file.Close(); err == nil {
			err = nerr
		}
	}()
	var r io.Reader = file
	if isGzipName(name) {
		gz, err := pgzip.NewReader(file)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %v", name)
		}
		defer gz.Close()
		r = gz
	}
	report, err = ReadReport(r, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %v", name)
	}
	return report, nil
}

/*
MergeReports sums the tables and counts of reports computed for
different shards of the same input. All reports must use the same
covariates and collapse flags. The result may share storage with the
arguments.
*/
func MergeReports(reports ...*Report) (*Report, error) {
	if len(reports) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "no recalibration tables to merge")
	}
	first := reports[0]
	names := strings.Join(CovariateNamesOf(first.Covariates), ",")
	result := NewReport(first.Covariates, first.Table)
	result.Counts = first.Counts
	result.CollapsedPosition = first.CollapsedPosition
	result.CollapsedDinucleotide = first.CollapsedDinucleotide
	result.SmoothingConstant = first.SmoothingConstant
	result.MaxQuality = first.MaxQuality
	for _, report := range reports[1:] {
		if other := strings.Join(CovariateNamesOf(report.Covariates), ","); other != names {
			return nil, errors.Wrapf(ErrConfiguration, "cannot merge tables with covariates %v and %v", names, other)
		}
		if report.CollapsedPosition != first.CollapsedPosition || report.CollapsedDinucleotide != first.CollapsedDinucleotide {
			return nil, errors.Wrap(ErrConfiguration, "cannot merge tables with different collapse flags")
		}
		result.Table = result.Table.Merge(report.Table)
		result.Counts.Add(report.Counts)
	}
	generateEmpiricalQualities(result.Table, result.SmoothingConstant, result.MaxQuality)
	return result, nil
}
