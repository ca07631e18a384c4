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
	"gonum.org/v1/gonum/stat/distuv"
)

// minSanityObservations is the number of observations at known variant
// sites and elsewhere needed before the mismatch rates are compared.
const minSanityObservations = 100

// chiSquareTest returns the p-value of Pearson's chi-square test for
// the 2x2 contingency table of mismatches and matches at known variant
// sites and elsewhere.
func chiSquareTest(counts Counts) float64 {
	observed := [2][2]float64{
		{float64(counts.VariantMismatches), float64(counts.VariantObservations - counts.VariantMismatches)},
		{float64(counts.NovelMismatches), float64(counts.NovelObservations - counts.NovelMismatches)},
	}
	total := float64(counts.VariantObservations + counts.NovelObservations)
	rows := [2]float64{float64(counts.VariantObservations), float64(counts.NovelObservations)}
	cols := [2]float64{observed[0][0] + observed[1][0], observed[0][1] + observed[1][1]}
	var stat float64
	for i := range observed {
		for j := range observed[i] {
			expected := rows[i] * cols[j] / total
			if expected == 0 {
				continue
			}
			d := observed[i][j] - expected
			stat += d * d / expected
		}
	}
	return 1 - distuv.ChiSquared{K: 1}.CDF(stat)
}

/*
checkSanity warns once when mismatches at known variant sites are not
clearly more frequent than elsewhere, which suggests the known sites
do not belong to the sequenced sample or reference.
*/
func (c *Counter) checkSanity() {
	counts := c.Counts
	if counts.VariantObservations < minSanityObservations || counts.NovelObservations < minSanityObservations {
		return
	}
	variantRate := float64(counts.VariantMismatches) / float64(counts.VariantObservations)
	novelRate := float64(counts.NovelMismatches) / float64(counts.NovelObservations)
	if variantRate >= c.cfg.SanityRatio*novelRate {
		return
	}
	warnOnce("known-sites-sanity",
		"mismatch rate at known variant sites (%.5f) is less than %v times the rate elsewhere (%.5f), p=%.3g; check that the known sites match the reference",
		variantRate, c.cfg.SanityRatio, novelRate, chiSquareTest(counts))
}
