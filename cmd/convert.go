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
	"os"

	"github.com/exascience/elrecal/fasta"
	"github.com/exascience/elrecal/intervals"
)

// VcfToElsitesHelp is the help string for this command.
const VcfToElsitesHelp = "\nvcf-to-elsites parameters:\n" +
	"elrecal vcf-to-elsites vcf-file elsites-file\n" +
	"[--log-path path]\n"

// BedToElsitesHelp is the help string for this command.
const BedToElsitesHelp = "\nbed-to-elsites parameters:\n" +
	"elrecal bed-to-elsites bed-file elsites-file\n" +
	"[--log-path path]\n"

// FastaToElfastaHelp is the help string for this command.
const FastaToElfastaHelp = "\nfasta-to-elfasta parameters:\n" +
	"elrecal fasta-to-elfasta fasta-file elfasta-file\n" +
	"[--log-path path]\n"

func convert(help string, f func(input, output string) error) error {
	var logPath string

	var flags flag.FlagSet
	flags.StringVar(&logPath, "log-path", "", "write log files to the specified directory")
	parseFlags(&flags, 4, help)

	input := getFilename(os.Args[2], help)
	output := getFilename(os.Args[3], help)

	if err := setLogOutput(logPath); err != nil {
		return err
	}
	return f(input, output)
}

func toElsites(read func(string) (map[string][]intervals.Interval, error)) func(input, output string) error {
	return func(input, output string) error {
		inter, err := read(input)
		if err != nil {
			return err
		}
		for chrom, ivals := range inter {
			intervals.ParallelSortByStart(ivals)
			inter[chrom] = intervals.ParallelFlatten(ivals)
		}
		return intervals.ToElsitesFile(inter, output)
	}
}

// VcfToElsites implements the elrecal vcf-to-elsites command.
func VcfToElsites() error {
	return convert(VcfToElsitesHelp, toElsites(intervals.FromVcfFile))
}

// BedToElsites implements the elrecal bed-to-elsites command.
func BedToElsites() error {
	return convert(BedToElsitesHelp, toElsites(intervals.FromBedFile))
}

// FastaToElfasta implements the elrecal fasta-to-elfasta command.
func FastaToElfasta() error {
	return convert(FastaToElfastaHelp, func(input, output string) error {
		fa, err := fasta.ParseFasta(input)
		if err != nil {
			return err
		}
		return fasta.ToElfasta(fa, output)
	})
}
