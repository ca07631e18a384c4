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

import "math"

// A RecalDatum counts the observations of, and mismatches against the
// reference for, bases sharing a covariate tuple.
type RecalDatum struct {
	Observations uint64
	Mismatches   uint64

	// EmpiricalQuality is derived from the counts by
	// GenerateEmpiricalQualities, and is not persisted.
	EmpiricalQuality float64
}

// Increment adds one observation.
func (datum *RecalDatum) Increment(mismatch bool) {
	datum.Observations++
	if mismatch {
		datum.Mismatches++
	}
}

// Combine adds the counts of another datum.
func (datum *RecalDatum) Combine(other *RecalDatum) {
	datum.Observations += other.Observations
	datum.Mismatches += other.Mismatches
}

func (datum *RecalDatum) errorRate(smoothing int) (float64, bool) {
	s := float64(smoothing)
	n := float64(datum.Observations) + s
	if n == 0 {
		return 0, false
	}
	return (float64(datum.Mismatches) + s) / n, true
}

/*
Quality returns the empirical quality -10*log10((B+s)/(N+s)) for N
observations and B mismatches, capped at maxQuality. Without any
observations and smoothing, the quality is 0.
*/
func (datum *RecalDatum) Quality(smoothing, maxQuality int) float64 {
	rate, ok := datum.errorRate(smoothing)
	if !ok {
		return 0
	}
	if rate <= 0 {
		return float64(maxQuality)
	}
	return math.Min(-10*math.Log10(rate), float64(maxQuality))
}

// QualityByte returns the empirical quality rounded to a Phred value.
func (datum *RecalDatum) QualityByte(smoothing, maxQuality int) byte {
	rate, ok := datum.errorRate(smoothing)
	if !ok {
		return 0
	}
	return ErrorProbabilityToQuality(rate, maxQuality)
}

/*
ErrorProbabilityToQuality converts an error probability to a Phred
quality, rounding half away from zero, with a floor of 0 and a ceiling
of maxQuality. Probabilities of 0 or less map to maxQuality.
*/
func ErrorProbabilityToQuality(p float64, maxQuality int) byte {
	if p <= 0 {
		return byte(maxQuality)
	}
	q := math.Round(-10 * math.Log10(p))
	switch {
	case q <= 0:
		return 0
	case q >= float64(maxQuality):
		return byte(maxQuality)
	default:
		return byte(q)
	}
}
