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

package cmd

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/exascience/elrecal/fasta"
	"github.com/exascience/elrecal/filters"
	"github.com/exascience/elrecal/intervals"
	"github.com/exascience/elrecal/recal"
	"github.com/exascience/elrecal/sam"
)

// RecalHelp is the help string for this command.
const RecalHelp = "\nrecal parameters:\n" +
	"elrecal recal sam-input-file\n" +
	"--reference elfasta-or-fasta\n" +
	"--known-sites list\n" +
	"--output-table file\n" +
	"[--summary file]\n" +
	recalFlagsHelp +
	"[--subsample n]\n" +
	"[--window-size n]\n" +
	"[--nr-of-threads n]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Recal implements the elrecal recal command.
func Recal() (err error) {
	var (
		rf                                 recalFlags
		reference, knownSites, outputTable string
		summary, profile, logPath          string
		subsample, windowSize, nrOfThreads int
		timed                              bool
	)

	var flags flag.FlagSet

	rf.register(&flags)
	flags.StringVar(&reference, "reference", "", "reference used for detecting mismatches (.elfasta or .fasta)")
	flags.StringVar(&knownSites, "known-sites", "", "comma-separated list of .elsites, .vcf, or .bed files with known variant sites")
	flags.StringVar(&outputTable, "output-table", "", "write the recalibration table to this file (.gz for compression)")
	flags.StringVar(&summary, "summary", "", "write a summary of the collapsed tables to this file")
	flags.IntVar(&subsample, "subsample", 0, "count only every n-th reference position")
	flags.IntVar(&windowSize, "window-size", filters.DefaultWindowSize, "number of reference positions per unit of parallel work")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 3, RecalHelp)

	input := getFilename(os.Args[2], RecalHelp)

	if err = setLogOutput(logPath); err != nil {
		return err
	}

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkExist("--reference", reference) {
		sanityChecksFailed = true
	}
	knownSitesFiles := splitList(knownSites)
	for _, file := range knownSitesFiles {
		if !checkExist("--known-sites", file) {
			sanityChecksFailed = true
		}
	}
	if !checkCreate("--output-table", outputTable) {
		sanityChecksFailed = true
	}
	if summary != "" && !checkCreate("--summary", summary) {
		sanityChecksFailed = true
	}
	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}
	if windowSize < 1 {
		sanityChecksFailed = true
		log.Error("Error: Invalid window-size: ", windowSize)
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Error("Error: Invalid nr-of-threads: ", nrOfThreads)
	}

	cfg, err := rf.config()
	if err == nil {
		cfg.KnownSitesSubsample = subsample
		err = cfg.Validate()
	}
	if err != nil {
		sanityChecksFailed = true
		log.Error(err)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, RecalHelp)
		os.Exit(1)
	}

	if len(knownSitesFiles) == 0 {
		log.Warn("No known sites given. All mismatches are counted as errors.")
	}

	setNrOfThreads(nrOfThreads)

	var (
		reads  *sam.Sam
		mask   *intervals.SiteMask
		report *recal.Report
	)
	var phase int64

	phase++
	if err := timedRun(timed, profile, "Reading SAM into memory.", phase, func() (err error) {
		reads, err = sam.ReadSam(input, sam.FilterUnmappedReads, sam.FilterDuplicateReads)
		return err
	}); err != nil {
		return err
	}

	ref, closeRef, err := fasta.OpenReference(reference)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := closeRef(); err == nil {
			err = nerr
		}
	}()

	phase++
	if err := timedRun(timed, profile, "Loading known sites.", phase, func() (err error) {
		mask, err = intervals.LoadSiteMask(knownSitesFiles)
		return err
	}); err != nil {
		return err
	}
	if len(knownSitesFiles) > 0 {
		log.Infof("Loaded %v known sites.", mask.Count())
	}

	phase++
	if err := timedRun(timed, profile, "Computing recalibration tables.", phase, func() error {
		recalibrator, err := filters.NewBaseRecalibrator(cfg, ref, mask)
		if err != nil {
			return err
		}
		recalibrator.WindowSize = int32(windowSize)
		counter, err := recalibrator.Recalibrate(reads)
		if err != nil {
			return err
		}
		report = counter.Report()
		log.WithFields(log.Fields{
			"counted sites": report.Counts.CountedSites,
			"counted bases": report.Counts.CountedBases,
			"skipped sites": report.Counts.SkippedSites,
		}).Info("Recalibration tables computed.")
		return nil
	}); err != nil {
		return err
	}

	phase++
	return timedRun(timed, profile, "Writing recalibration tables.", phase, func() error {
		if err := recal.WriteReportFile(outputTable, report); err != nil {
			return err
		}
		if summary == "" {
			return nil
		}
		return writeSummaryFile(summary, report)
	})
}

func writeSummaryFile(name string, report *recal.Report) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := f.Close(); err == nil {
			err = nerr
		}
	}()
	return recal.WriteSummary(f, report)
}
