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

/*
Package recal implements covariate-based base quality score
recalibration.

Recalibration runs in two passes. The first pass walks the loci covered
by aligned reads, and for every usable base extracts a tuple of
covariate values (read group, reported quality, machine cycle,
dinucleotide context, and optional experimental covariates). It counts
observations and mismatches against the reference per tuple in a
Counter, skipping loci that are known variant sites. The resulting
tables are persisted with WriteReport.

The second pass loads the persisted table with ReadReport, derives
empirical qualities, and rewrites the quality scores of each read with
a Recalibrator.

All per-position computations operate on reads in machine
(sequencing) direction. NewRead converts reads from their stored
orientation once, and results are converted back before they are
returned.
*/
package recal
