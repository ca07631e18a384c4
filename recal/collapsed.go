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

/*
CollapsedTables holds the marginal tables of a full covariate table:
by read group, by read group and quality, and by read group, quality,
and each further covariate. ByCovariate[i] holds the marginal for the
covariate at position i+2.
*/
type CollapsedTables struct {
	ByReadGroup *Table
	ByQuality   *Table
	ByCovariate []*Table
}

// NewCollapsedTables creates empty marginal tables for full keys with
// width components.
func NewCollapsedTables(width int) *CollapsedTables {
	tables := &CollapsedTables{
		ByReadGroup: NewTable(1),
		ByQuality:   NewTable(2),
	}
	for i := 2; i < width; i++ {
		tables.ByCovariate = append(tables.ByCovariate, NewTable(3))
	}
	return tables
}

// Add adds an observation for a full key to every marginal table.
func (tables *CollapsedTables) Add(key Key, mismatch bool) {
	tables.ByReadGroup.Increment(Key{key[0]}, mismatch)
	tables.ByQuality.Increment(Key{key[0], key[1]}, mismatch)
	for i, table := range tables.ByCovariate {
		table.Increment(Key{key[0], key[1], key[i+2]}, mismatch)
	}
}

// Collapse derives the marginal tables of a full table by projection.
func Collapse(full *Table) *CollapsedTables {
	tables := &CollapsedTables{
		ByReadGroup: full.Project([]int{0}),
		ByQuality:   full.Project([]int{0, 1}),
	}
	for i := 2; i < full.Width; i++ {
		tables.ByCovariate = append(tables.ByCovariate, full.Project([]int{0, 1, i}))
	}
	return tables
}

// Merge sums two sets of marginal tables of equal shape.
func (tables *CollapsedTables) Merge(other *CollapsedTables) *CollapsedTables {
	tables.ByReadGroup = tables.ByReadGroup.Merge(other.ByReadGroup)
	tables.ByQuality = tables.ByQuality.Merge(other.ByQuality)
	for i := range tables.ByCovariate {
		tables.ByCovariate[i] = tables.ByCovariate[i].Merge(other.ByCovariate[i])
	}
	return tables
}

// Equal reports whether two sets of marginal tables hold the same counts.
func (tables *CollapsedTables) Equal(other *CollapsedTables) bool {
	if len(tables.ByCovariate) != len(other.ByCovariate) ||
		!tables.ByReadGroup.Equal(other.ByReadGroup) ||
		!tables.ByQuality.Equal(other.ByQuality) {
		return false
	}
	for i, table := range tables.ByCovariate {
		if !table.Equal(other.ByCovariate[i]) {
			return false
		}
	}
	return true
}

func generateEmpiricalQualities(table *Table, smoothing, maxQuality int) {
	for _, datum := range table.data {
		datum.EmpiricalQuality = datum.Quality(smoothing, maxQuality)
	}
}

/*
GenerateEmpiricalQualities sets the empirical quality of every entry.
In the per-covariate marginals, read group and quality buckets that
hold only a single covariate value are then dropped: they carry no
information beyond the read group and quality marginal.
*/
func (tables *CollapsedTables) GenerateEmpiricalQualities(smoothing, maxQuality int) {
	generateEmpiricalQualities(tables.ByReadGroup, smoothing, maxQuality)
	generateEmpiricalQualities(tables.ByQuality, smoothing, maxQuality)
	for _, table := range tables.ByCovariate {
		generateEmpiricalQualities(table, smoothing, maxQuality)
		buckets := make(map[[2]int32][]Key)
		for key := range table.data {
			bucket := [2]int32{key[0], key[1]}
			buckets[bucket] = append(buckets[bucket], key)
		}
		for _, keys := range buckets {
			if len(keys) == 1 {
				table.Delete(keys[0])
			}
		}
	}
}
