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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorProbabilityToQuality(t *testing.T) {
	tests := []struct {
		p    float64
		want byte
	}{
		{1, 0},
		{0.1, 10},
		{0.01, 20},
		{0.001, 30},
		{0.0001, 40},
		{0.00001, 40},
		{0, 40},
		{-1, 40},
		{2, 0},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ErrorProbabilityToQuality(test.p, 40), "p=%v", test.p)
	}
	assert.Equal(t, byte(50), ErrorProbabilityToQuality(0.00001, 60))
}

func TestQualityCeiling(t *testing.T) {
	datum := &RecalDatum{Observations: 100000000}
	assert.Equal(t, 40.0, datum.Quality(1, 40))
	assert.Equal(t, byte(40), datum.QualityByte(1, 40))
	assert.Equal(t, byte(40), datum.QualityByte(0, 40))
	for _, maxQ := range []int{1, 20, 40, 60, 93} {
		for n := uint64(0); n < 2000; n += 37 {
			datum := &RecalDatum{Observations: n}
			assert.LessOrEqual(t, int(datum.QualityByte(1, maxQ)), maxQ)
			assert.LessOrEqual(t, datum.Quality(1, maxQ), float64(maxQ))
		}
	}
}

func TestQualitySmoothing(t *testing.T) {
	assert.Equal(t, 0.0, (&RecalDatum{}).Quality(1, 40))
	assert.Equal(t, 0.0, (&RecalDatum{}).Quality(0, 40))
	assert.Equal(t, byte(0), (&RecalDatum{}).QualityByte(0, 40))
	assert.Equal(t, byte(0), (&RecalDatum{Observations: 1000, Mismatches: 1000}).QualityByte(1, 40))
	assert.Equal(t, byte(30), (&RecalDatum{Observations: 1000}).QualityByte(1, 40))
	assert.InDelta(t, 30.004, (&RecalDatum{Observations: 1000}).Quality(1, 40), 0.001)
}

func TestQualityMonotonicity(t *testing.T) {
	for n := uint64(1); n <= 200; n += 7 {
		previous := 1000.0
		for b := uint64(0); b <= n; b++ {
			q := (&RecalDatum{Observations: n, Mismatches: b}).Quality(1, 40)
			assert.LessOrEqual(t, q, previous, "n=%v b=%v", n, b)
			previous = q
		}
	}
	for b := uint64(0); b <= 50; b += 5 {
		previous := -1.0
		for n := b; n <= b+500; n += 3 {
			q := (&RecalDatum{Observations: n, Mismatches: b}).Quality(1, 40)
			assert.GreaterOrEqual(t, q, previous, "n=%v b=%v", n, b)
			previous = q
		}
	}
}

func TestDatumCombine(t *testing.T) {
	var datum RecalDatum
	datum.Increment(true)
	datum.Increment(false)
	datum.Combine(&RecalDatum{Observations: 10, Mismatches: 3})
	assert.Equal(t, uint64(12), datum.Observations)
	assert.Equal(t, uint64(4), datum.Mismatches)
}
