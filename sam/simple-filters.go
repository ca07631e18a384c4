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

package sam

import (
	"strconv"

	"github.com/exascience/elrecal/utils"
)

// FilterUnmappedReads removes unmapped alignments, based on FLAG,
// POS, and RNAME.
func FilterUnmappedReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool {
		return !aln.IsUnmapped() && (aln.POS != 0) && (aln.RNAME != "*")
	}
}

// FilterDuplicateReads removes alignments flagged as duplicates.
func FilterDuplicateReads(_ *Header) AlignmentFilter {
	return func(aln *Alignment) bool { return !aln.IsDuplicate() }
}

/*
AddPGLine adds a @PG record to the Header, chained after the last
program of the existing chain. If the ID is already taken, a numeric
suffix is appended.
*/
func AddPGLine(newPG utils.StringMap) Filter {
	return func(header *Header) AlignmentFilter {
		base := newPG["ID"]
		id := base
		for n := 1; utils.Find(header.PG, func(entry utils.StringMap) bool { return entry["ID"] == id }) >= 0; n++ {
			id = base + "." + strconv.Itoa(n)
		}
		record := make(utils.StringMap, len(newPG)+1)
		for key, value := range newPG {
			record[key] = value
		}
		record["ID"] = id
		for _, pg := range header.PG {
			nextID := pg["ID"]
			if utils.Find(header.PG, func(entry utils.StringMap) bool { return entry["PP"] == nextID }) < 0 {
				record["PP"] = nextID
				break
			}
		}
		header.PG = append(header.PG, record)
		return nil
	}
}

// AddREFID stores the index of each alignment's RNAME in the
// reference sequence dictionary as a temporary value.
func AddREFID(header *Header) AlignmentFilter {
	dictTable := make(map[string]int32)
	for index, entry := range header.SQ {
		dictTable[entry["SN"]] = int32(index)
	}
	return func(aln *Alignment) bool {
		value, found := dictTable[aln.RNAME]
		if !found {
			value = -1
		}
		aln.SetREFID(value)
		return true
	}
}
