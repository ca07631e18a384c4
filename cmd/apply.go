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
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/exascience/elrecal/fasta"
	"github.com/exascience/elrecal/filters"
	"github.com/exascience/elrecal/recal"
	"github.com/exascience/elrecal/utils"
)

// ApplyHelp is the help string for this command.
const ApplyHelp = "\napply parameters:\n" +
	"elrecal apply sam-input-file sam-output-file\n" +
	"--table file\n" +
	"[--reference elfasta-or-fasta]\n" +
	recalFlagsHelp +
	"[--preserve-qualities-below n]\n" +
	"[--lenient-read-groups]\n" +
	"[--seed n]\n" +
	"[--nr-of-threads n]\n" +
	"[--timed]\n" +
	"[--profile file]\n" +
	"[--log-path path]\n"

// Apply implements the elrecal apply command.
func Apply() (err error) {
	var (
		rf                         recalFlags
		table, reference           string
		profile, logPath           string
		preserveBelow, nrOfThreads int
		seed                       int64
		lenientReadGroups, timed   bool
	)

	var flags flag.FlagSet

	rf.register(&flags)
	flags.StringVar(&table, "table", "", "recalibration table computed by elrecal recal")
	flags.StringVar(&reference, "reference", "", "reference for SOLiD reference bias removal (.elfasta or .fasta)")
	flags.IntVar(&preserveBelow, "preserve-qualities-below", recal.DefaultPreserveQualitiesBelow, "keep reported qualities below this value")
	flags.BoolVar(&lenientReadGroups, "lenient-read-groups", false, "recalibrate reads of unknown read groups from all read groups instead of failing")
	flags.Int64Var(&seed, "seed", 0, "seed for reproducible SOLiD reference bias removal")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&profile, "profile", "", "write a runtime profile to the specified file(s)")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 4, ApplyHelp)

	input := getFilename(os.Args[2], ApplyHelp)
	output := getFilename(os.Args[3], ApplyHelp)

	if err = setLogOutput(logPath); err != nil {
		return err
	}

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", input) {
		sanityChecksFailed = true
	}
	if !checkCreate("", output) {
		sanityChecksFailed = true
	}
	if !checkExist("--table", table) {
		sanityChecksFailed = true
	}
	if reference != "" && !checkExist("--reference", reference) {
		sanityChecksFailed = true
	}
	if profile != "" && !checkCreate("--profile", profile) {
		sanityChecksFailed = true
	}
	if nrOfThreads < 0 {
		sanityChecksFailed = true
		log.Error("Error: Invalid nr-of-threads: ", nrOfThreads)
	}

	cfg, err := rf.config()
	if err == nil {
		cfg.PreserveQualitiesBelow = preserveBelow
		cfg.LenientReadGroups = lenientReadGroups
		cfg.Seed = seed
		err = cfg.Validate()
	}
	if err != nil {
		sanityChecksFailed = true
		log.Error(err)
	} else if cfg.SolidRecalMode == recal.RemoveRefBias && reference == "" {
		sanityChecksFailed = true
		log.Error("Error: Attempt to remove SOLiD reference bias without specifying a reference file. Please add the --reference option to your call.")
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, ApplyHelp)
		os.Exit(1)
	}

	setNrOfThreads(nrOfThreads)

	var recalibrator *recal.Recalibrator
	var phase int64

	phase++
	if err := timedRun(timed, profile, "Reading recalibration table.", phase, func() error {
		report, err := recal.ReadReportFile(table, cfg)
		if err != nil {
			return err
		}
		log.Infof("Table %v has %v entries over covariates %v.", table, report.Table.Len(), recal.CovariateNamesOf(report.Covariates))
		recalibrator, err = recal.NewRecalibrator(report, cfg)
		return err
	}); err != nil {
		return err
	}

	var ref fasta.Reference
	if reference != "" {
		var closeRef func() error
		ref, closeRef, err = fasta.OpenReference(reference)
		if err != nil {
			return err
		}
		defer func() {
			if nerr := closeRef(); err == nil {
				err = nerr
			}
		}()
	}

	phase++
	pg := utils.StringMap{
		"ID": utils.ProgramName,
		"PN": utils.ProgramName,
		"VN": utils.ProgramVersion,
		"CL": strings.Join(os.Args, " "),
	}
	return timedRun(timed, profile, "Applying recalibration.", phase, func() error {
		return filters.ApplyRecalibrationFile(input, output, recalibrator, cfg, ref, pg)
	})
}
