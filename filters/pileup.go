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

package filters

import (
	"sort"

	"github.com/exascience/elrecal/intervals"
	"github.com/exascience/elrecal/recal"
)

/*
Pileup handling:
For each position in the reference, a locus collects the read bases
aligned to it. Bases that are only in the reads (clips, insertions)
are not part of any locus.
*/

// An alignedRead is a read enriched for recalibration, together with
// the reference position of each base in stored orientation.
type alignedRead struct {
	read       *recal.Read
	contig     string
	positions  []int32
	start, end int32
}

// A window is a stretch of a contig owned by exactly one counter.
// Start and end are 1-based and inclusive.
type window struct {
	contig     string
	start, end int32
	ref        []byte
	reads      []*alignedRead
}

// DefaultWindowSize is the default number of reference positions per
// pileup window.
const DefaultWindowSize = 100000

/*
makeWindows distributes reads over fixed-size windows per contig. A
read overlapping several windows is listed in each of them, but every
base ends up in exactly one locus.
*/
func makeWindows(reads []*alignedRead, refs map[string][]byte, size int32) []*window {
	index := make(map[string]map[int32]*window)
	var windows []*window
	for _, r := range reads {
		ref := refs[r.contig]
		contig := index[r.contig]
		if contig == nil {
			contig = make(map[int32]*window)
			index[r.contig] = contig
		}
		for w := (r.start - 1) / size; w <= (r.end-1)/size; w++ {
			win := contig[w]
			if win == nil {
				win = &window{contig: r.contig, start: w*size + 1, end: (w + 1) * size, ref: ref}
				contig[w] = win
				windows = append(windows, win)
			}
			win.reads = append(win.reads, r)
		}
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].contig != windows[j].contig {
			return windows[i].contig < windows[j].contig
		}
		return windows[i].start < windows[j].start
	})
	return windows
}

// count feeds the loci of a window to a counter, in reference order.
func (win *window) count(counter *recal.Counter, knownSites *intervals.SiteMask) error {
	pileups := make([][]recal.PileupElement, win.end-win.start+1)
	for _, r := range win.reads {
		for offset, pos := range r.positions {
			if pos < win.start || pos > win.end {
				continue
			}
			pileups[pos-win.start] = append(pileups[pos-win.start], recal.PileupElement{
				Read:   r.read,
				Offset: r.read.MachineOffset(offset),
			})
		}
	}
	for i, pileup := range pileups {
		if len(pileup) == 0 {
			continue
		}
		pos := win.start + int32(i)
		if int(pos) > len(win.ref) {
			break
		}
		locus := recal.Locus{
			Contig:       win.contig,
			Pos:          pos,
			RefBase:      win.ref[pos-1],
			KnownVariant: knownSites.IsKnown(win.contig, pos),
			Pileup:       pileup,
		}
		if err := counter.AddLocus(&locus); err != nil {
			return err
		}
	}
	return nil
}
