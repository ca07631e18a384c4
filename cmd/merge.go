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

	"github.com/exascience/elrecal/internal"
	"github.com/exascience/elrecal/recal"
)

// MergeTablesHelp is the help string for this command.
const MergeTablesHelp = "\nmerge-tables parameters:\n" +
	"elrecal merge-tables /path/to/tables table-output-file\n" +
	recalFlagsHelp +
	"[--timed]\n" +
	"[--log-path path]\n"

// MergeTables implements the elrecal merge-tables command. The input
// is either a directory with tables computed for shards of the same
// data, or a single table.
func MergeTables() error {
	var (
		rf      recalFlags
		logPath string
		timed   bool
	)

	var flags flag.FlagSet

	rf.register(&flags)
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")

	parseFlags(&flags, 4, MergeTablesHelp)

	input := getFilename(os.Args[2], MergeTablesHelp)
	output := getFilename(os.Args[3], MergeTablesHelp)

	if err := setLogOutput(logPath); err != nil {
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

	tables, err := internal.DirectoryPaths(input)
	if err != nil {
		log.Errorf("Given path %v causes error %v.", input, err)
		sanityChecksFailed = true
	} else if len(tables) == 0 {
		log.Errorf("Given directory %v does not contain any recalibration tables.", input)
		sanityChecksFailed = true
	}

	cfg, err := rf.config()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		sanityChecksFailed = true
		log.Error(err)
	}

	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, MergeTablesHelp)
		os.Exit(1)
	}

	return timedRun(timed, "", "Merging recalibration tables.", 1, func() error {
		reports := make([]*recal.Report, 0, len(tables))
		for _, table := range tables {
			report, err := recal.ReadReportFile(table, cfg)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		merged, err := recal.MergeReports(reports...)
		if err != nil {
			return err
		}
		log.Infof("Merged %v tables into %v entries.", len(reports), merged.Table.Len())
		return recal.WriteReportFile(output, merged)
	})
}
