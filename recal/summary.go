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
	"io"
	"strconv"
)

type summaryTable struct {
	name, description string
	columns           []string
	rows              [][]string
}

func (table *summaryTable) print(sw *stickyWriter) {
	widths := make([]int, len(table.columns))
	for i, column := range table.columns {
		widths[i] = len(column)
	}
	for _, row := range table.rows {
		for i, field := range row {
			if len(field) > widths[i] {
				widths[i] = len(field)
			}
		}
	}
	sw.printf("#:%v:%v\n", table.name, table.description)
	printRow := func(row []string) {
		for i, field := range row {
			switch {
			case i == len(row)-1:
				sw.printf("  %v", field)
			case i > 0:
				sw.printf("  %-[1]*[2]s", widths[i], field)
			default:
				sw.printf("%-[1]*[2]s", widths[i], field)
			}
		}
		sw.printf("\n")
	}
	printRow(table.columns)
	for _, row := range table.rows {
		printRow(row)
	}
	sw.printf("\n")
}

func datumFields(datum *RecalDatum) []string {
	return []string{
		strconv.FormatFloat(datum.EmpiricalQuality, 'f', 4, 64),
		strconv.FormatUint(datum.Observations, 10),
		strconv.FormatUint(datum.Mismatches, 10),
	}
}

var datumColumns = []string{"EmpiricalQuality", "Observations", "Errors"}

/*
WriteSummary prints the marginal tables of a report in a readable,
column-aligned form: RecalTable0 by read group, RecalTable1 by read
group and quality, and RecalTable2 by read group, quality, and each
further covariate. The marginals accumulated by the counter are used
when present; otherwise they are derived from the full table.
*/
func WriteSummary(w io.Writer, report *Report) error {
	tables := report.Collapsed
	if tables == nil {
		tables = Collapse(report.Table)
		tables.GenerateEmpiricalQualities(report.SmoothingConstant, report.MaxQuality)
	}
	rg, qs := report.Covariates[0], report.Covariates[1]

	table0 := &summaryTable{
		name:        "RecalTable0",
		description: "Empirical qualities by read group",
		columns:     append([]string{rg.Name()}, datumColumns...),
	}
	for _, key := range tables.ByReadGroup.SortedKeys(report.Covariates) {
		row := []string{rg.FormatValue(key[0])}
		table0.rows = append(table0.rows, append(row, datumFields(tables.ByReadGroup.Get(key))...))
	}

	table1 := &summaryTable{
		name:        "RecalTable1",
		description: "Empirical qualities by read group and quality score",
		columns:     append([]string{rg.Name(), qs.Name()}, datumColumns...),
	}
	for _, key := range tables.ByQuality.SortedKeys(report.Covariates) {
		row := []string{rg.FormatValue(key[0]), qs.FormatValue(key[1])}
		table1.rows = append(table1.rows, append(row, datumFields(tables.ByQuality.Get(key))...))
	}

	table2 := &summaryTable{
		name:        "RecalTable2",
		description: "Empirical qualities by read group, quality score, and covariate",
		columns:     append([]string{rg.Name(), qs.Name(), "CovariateValue", "CovariateName"}, datumColumns...),
	}
	for i, table := range tables.ByCovariate {
		cov := report.Covariates[i+2]
		for _, key := range table.SortedKeys([]Covariate{rg, qs, cov}) {
			row := []string{rg.FormatValue(key[0]), qs.FormatValue(key[1]), cov.FormatValue(key[2]), cov.Name()}
			table2.rows = append(table2.rows, append(row, datumFields(table.Get(key))...))
		}
	}

	sw := &stickyWriter{w: bufio.NewWriter(w)}
	table0.print(sw)
	table1.print(sw)
	table2.print(sw)
	return sw.flush()
}
