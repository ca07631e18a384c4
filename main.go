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

// elrecal recalibrates the base quality scores of aligned sequencing
// reads, using covariates of each base to correct the error
// probabilities reported by the sequencer.
//
// Please see https://github.com/exascience/elrecal for a
// documentation of the tool.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/exascience/elrecal/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: recal, apply, merge-tables, vcf-to-elsites, bed-to-elsites, fasta-to-elfasta")
	fmt.Fprint(os.Stderr, cmd.RecalHelp)
	fmt.Fprint(os.Stderr, cmd.ApplyHelp)
	fmt.Fprint(os.Stderr, cmd.MergeTablesHelp)
	fmt.Fprint(os.Stderr, cmd.VcfToElsitesHelp)
	fmt.Fprint(os.Stderr, cmd.BedToElsitesHelp)
	fmt.Fprint(os.Stderr, cmd.FastaToElfastaHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		log.Error("Incorrect number of parameters.")
		fmt.Fprintln(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "recal":
		err = cmd.Recal()
	case "apply":
		err = cmd.Apply()
	case "merge-tables":
		err = cmd.MergeTables()
	case "vcf-to-elsites":
		err = cmd.VcfToElsites()
	case "bed-to-elsites":
		err = cmd.BedToElsites()
	case "fasta-to-elfasta":
		err = cmd.FastaToElfasta()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		log.Errorf("Unknown command %v.", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}
