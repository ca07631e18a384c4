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
	"math"

	"github.com/exascience/elrecal/internal"
	"github.com/pkg/errors"
)

/*
A Recalibrator rewrites base qualities from a recalibration table.

All lookup data is computed once by NewRecalibrator and never changes
afterwards, so a Recalibrator can be shared by any number of
goroutines.
*/
type Recalibrator struct {
	cfg             *Config
	covs            []Covariate
	full            map[Key]byte
	byQuality       map[Key]byte
	knownReadGroups map[int32]bool

	// Tables summed over all read groups, keyed without the read
	// group component, for reads of read groups the table lacks.
	anyReadGroup map[Key]byte
	anyQuality   map[Key]byte
}

// collapsedDimensions returns the dimensions of a report that remain
// after dropping collapsed covariates.
func collapsedDimensions(report *Report) []int {
	dims := make([]int, 0, len(report.Covariates))
	for i, cov := range report.Covariates {
		switch {
		case report.CollapsedPosition && cov.Name() == "Position":
		case report.CollapsedDinucleotide && cov.Name() == "Dinuc":
		default:
			dims = append(dims, i)
		}
	}
	return dims
}

/*
NewRecalibrator prepares a report for application. The qualities of
complete covariate tuples are looked up directly; tuples that never
occurred fall back to the read group and quality marginal. Reads of
read groups that do not occur in the table use the same tables summed
over all read groups.
*/
func NewRecalibrator(report *Report, cfg *Config) (*Recalibrator, error) {
	if len(report.Covariates) < 2 {
		return nil, errors.Wrap(ErrConfiguration, "recalibration table needs at least ReadGroup and QualityScore")
	}
	table := report.Table
	covs := report.Covariates
	if dims := collapsedDimensions(report); len(dims) < len(covs) {
		table = table.Project(dims)
		selected := make([]Covariate, len(dims))
		for i, dim := range dims {
			selected[i] = covs[dim]
		}
		covs = selected
	}
	r := &Recalibrator{
		cfg:             cfg,
		covs:            covs,
		full:            make(map[Key]byte, table.Len()),
		byQuality:       make(map[Key]byte),
		knownReadGroups: make(map[int32]bool),
		anyReadGroup:    make(map[Key]byte),
		anyQuality:      make(map[Key]byte),
	}
	table.Range(func(key Key, datum *RecalDatum) bool {
		r.full[key] = datum.QualityByte(cfg.SmoothingConstant, cfg.MaxQuality)
		r.knownReadGroups[key[0]] = true
		return true
	})
	table.Project([]int{0, 1}).Range(func(key Key, datum *RecalDatum) bool {
		r.byQuality[key] = datum.QualityByte(cfg.SmoothingConstant, cfg.MaxQuality)
		return true
	})
	others := make([]int, len(covs)-1)
	for i := range others {
		others[i] = i + 1
	}
	table.Project(others).Range(func(key Key, datum *RecalDatum) bool {
		r.anyReadGroup[key] = datum.QualityByte(cfg.SmoothingConstant, cfg.MaxQuality)
		return true
	})
	table.Project([]int{1}).Range(func(key Key, datum *RecalDatum) bool {
		r.anyQuality[key] = datum.QualityByte(cfg.SmoothingConstant, cfg.MaxQuality)
		return true
	})
	return r, nil
}

// lookup finds the recalibrated quality for a covariate tuple, first
// in the complete table and then in the quality marginal.
func (r *Recalibrator) lookup(key Key, knownReadGroup bool) (byte, bool) {
	if knownReadGroup {
		if q, ok := r.full[key]; ok {
			return q, true
		}
		q, ok := r.byQuality[Key{key[0], key[1]}]
		return q, ok
	}
	var rest Key
	copy(rest[:], key[1:])
	if q, ok := r.anyReadGroup[rest]; ok {
		return q, true
	}
	q, ok := r.anyQuality[Key{key[1]}]
	return q, ok
}

// Covariates returns the covariates the recalibrator looks up.
func (r *Recalibrator) Covariates() []Covariate {
	return r.covs
}

/*
RecalibrateRead computes new qualities for a read, in stored
orientation. It returns nil if the read is to be left unchanged.

The first base in machine direction keeps its quality, as do bases
with qualities below the preservation threshold and bases for which a
covariate cannot be computed. In REMOVE_REF_BIAS mode, the bases of
SOLiD reads may be replaced as a side effect.
*/
func (r *Recalibrator) RecalibrateRead(read *Read) ([]byte, error) {
	if !read.HasReadGroup {
		warnOnce("no-read-group", "read %v has no read group and no default read group is configured, leaving its qualities unchanged", read.Name)
		return nil, nil
	}
	knownReadGroup := r.knownReadGroups[read.ReadGroup]
	if !knownReadGroup {
		if !r.cfg.LenientReadGroups {
			return nil, errors.Wrapf(ErrUnknownReadGroup, "read %v has read group %v", read.Name, read.ReadGroupName)
		}
		warnOnce("read-group:"+read.ReadGroupName, "read group %v does not occur in the recalibration table, recalibrating its reads from all read groups", read.ReadGroupName)
	}
	isSolid := read.Platform == Solid && read.Inconsistent != nil
	if isSolid && r.cfg.SolidRecalMode == RemoveRefBias {
		RemoveReferenceBias(read, internal.NewReadRand(r.cfg.Seed, read.Name))
	}
	quals := append([]byte(nil), read.Quals...)
	for offset := 1; offset < len(quals); offset++ {
		q := quals[offset]
		if q == 0 || int(q) < r.cfg.PreserveQualitiesBelow {
			continue
		}
		key, err := ComputeKey(r.covs, read, offset)
		if err != nil {
			if errors.Is(err, ErrMissingCovariateInput) {
				warnMissingInput(err, read, offset)
				continue
			}
			return nil, err
		}
		if newQual, ok := r.lookup(key, knownReadGroup); ok {
			quals[offset] = newQual
		}
	}
	if isSolid && r.cfg.SolidRecalMode == SetQZero {
		for i, inconsistent := range read.Inconsistent {
			if inconsistent {
				quals[i] = 0
				if i > 0 {
					quals[i-1] = 0
				}
			}
		}
	}
	return read.StoredQuals(quals), nil
}

/*
RemoveReferenceBias revisits SOLiD bases that agree with the reference
but not with their color call. Such a base is replaced by the base its
color implies with a probability weighted by the color quality
against the base quality, using the given source of randomness.
*/
func RemoveReferenceBias(read *Read, rnd *internal.Rand) {
	if read.Inconsistent == nil || read.RefBases == nil {
		return
	}
	for i, inconsistent := range read.Inconsistent {
		if !inconsistent || read.RefBases[i] == 0 || baseIndex(read.Bases[i]) != baseIndex(read.RefBases[i]) {
			continue
		}
		implied := read.ImpliedBases[i]
		if !isACGT(implied) {
			continue
		}
		p := 0.5
		if read.ColorQuals != nil {
			diff := float64(read.Quals[i]) - float64(read.ColorQuals[i])
			p = 1 / (1 + math.Pow(10, diff/10))
		}
		if rnd.Float64() < p {
			read.Bases[i] = implied
			read.Inconsistent[i] = false
		}
	}
}
