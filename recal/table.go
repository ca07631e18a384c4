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
	"fmt"
	"sort"
)

// MaxCovariates is the maximum number of active covariates.
const MaxCovariates = 10

// A Key is a covariate tuple. Only the first Width components of a
// table's keys are meaningful; the others are zero.
type Key [MaxCovariates]int32

/*
A Table maps covariate tuples of a fixed width to RecalDatum counts.
It is a sparse flat map, so tables of different shards can be merged
by summing entries with equal keys.

A Table is not safe for concurrent updates. Concurrent accumulation
uses one table per goroutine, merged afterwards.
*/
type Table struct {
	Width int
	data  map[Key]*RecalDatum
}

// NewTable creates an empty table for keys with width components.
func NewTable(width int) *Table {
	return &Table{Width: width, data: make(map[Key]*RecalDatum)}
}

// Increment adds an observation for a key.
func (table *Table) Increment(key Key, mismatch bool) {
	if datum, ok := table.data[key]; ok {
		datum.Increment(mismatch)
		return
	}
	datum := new(RecalDatum)
	datum.Increment(mismatch)
	table.data[key] = datum
}

// Add adds counts for a key.
func (table *Table) Add(key Key, datum *RecalDatum) {
	if entry, ok := table.data[key]; ok {
		entry.Combine(datum)
		return
	}
	entry := *datum
	table.data[key] = &entry
}

// Get returns the datum for a key, or nil.
func (table *Table) Get(key Key) *RecalDatum {
	return table.data[key]
}

// Put stores a datum for a key that must not be present yet.
func (table *Table) Put(key Key, datum *RecalDatum) error {
	if _, found := table.data[key]; found {
		return ErrDuplicateKey
	}
	table.data[key] = datum
	return nil
}

// Delete removes a key.
func (table *Table) Delete(key Key) {
	delete(table.data, key)
}

// Len returns the number of keys in the table.
func (table *Table) Len() int {
	return len(table.data)
}

// Range calls f for every entry until f returns false. The order is
// unspecified.
func (table *Table) Range(f func(key Key, datum *RecalDatum) bool) {
	for key, datum := range table.data {
		if !f(key, datum) {
			return
		}
	}
}

/*
Merge sums two tables of equal width. It folds the smaller table into
the larger one and returns the larger one, so the result may share
storage with either argument. Merge panics if the widths differ.
*/
func (table *Table) Merge(other *Table) *Table {
	if table.Width != other.Width {
		panic(fmt.Sprintf("cannot merge tables of width %v and %v", table.Width, other.Width))
	}
	if table.Len() < other.Len() {
		table, other = other, table
	}
	for key, datum := range other.data {
		table.Add(key, datum)
	}
	return table
}

// Project sums the table over all dimensions not listed in dims. The
// components of the result are the listed dimensions, in order.
func (table *Table) Project(dims []int) *Table {
	result := NewTable(len(dims))
	for key, datum := range table.data {
		var projected Key
		for i, dim := range dims {
			projected[i] = key[dim]
		}
		result.Add(projected, datum)
	}
	return result
}

// SortedKeys returns all keys of the table, ordered lexicographically
// by the given covariates.
func (table *Table) SortedKeys(covs []Covariate) []Key {
	keys := make([]Key, 0, len(table.data))
	for key := range table.data {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ki, kj := &keys[i], &keys[j]
		for d := 0; d < table.Width; d++ {
			if ki[d] != kj[d] {
				return covariateLess(covs[d], ki[d], kj[d])
			}
		}
		return false
	})
	return keys
}

// Equal reports whether two tables hold the same counts.
func (table *Table) Equal(other *Table) bool {
	if table.Width != other.Width || table.Len() != other.Len() {
		return false
	}
	for key, datum := range table.data {
		o, ok := other.data[key]
		if !ok || o.Observations != datum.Observations || o.Mismatches != datum.Mismatches {
			return false
		}
	}
	return true
}
