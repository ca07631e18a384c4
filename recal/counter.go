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

import "github.com/pkg/errors"

// A PileupElement is a base of a read covering a locus, given by its
// offset in machine direction.
type PileupElement struct {
	Read   *Read
	Offset int
}

// A Locus is a reference position with the read bases aligned to it.
// Pos is 1-based.
type Locus struct {
	Contig       string
	Pos          int32
	RefBase      byte
	KnownVariant bool
	Pileup       []PileupElement
}

// Counts tallies the sites and bases seen by a Counter.
type Counts struct {
	CountedSites    uint64
	SkippedSites    uint64
	SubsampledSites uint64
	CountedBases    uint64
	SkippedBases    uint64

	// Observations at known variant sites and elsewhere, used for
	// checking that the known sites match the data.
	VariantObservations uint64
	VariantMismatches   uint64
	NovelObservations   uint64
	NovelMismatches     uint64
}

// Add adds other counts.
func (counts *Counts) Add(other Counts) {
	counts.CountedSites += other.CountedSites
	counts.SkippedSites += other.SkippedSites
	counts.SubsampledSites += other.SubsampledSites
	counts.CountedBases += other.CountedBases
	counts.SkippedBases += other.SkippedBases
	counts.VariantObservations += other.VariantObservations
	counts.VariantMismatches += other.VariantMismatches
	counts.NovelObservations += other.NovelObservations
	counts.NovelMismatches += other.NovelMismatches
}

/*
A Counter accumulates the covariate tables from a sequence of loci.

Counters are independent and not safe for concurrent use; concurrent
accumulation uses one Counter per shard and merges them.
*/
type Counter struct {
	cfg       *Config
	covs      []Covariate
	Full      *Table
	Collapsed *CollapsedTables
	Counts    Counts

	sitesSinceCheck int
}

// NewCounter creates a Counter for initialized covariates.
func NewCounter(cfg *Config, covs []Covariate) *Counter {
	return &Counter{
		cfg:       cfg,
		covs:      covs,
		Full:      NewTable(len(covs)),
		Collapsed: NewCollapsedTables(len(covs)),
	}
}

// Covariates returns the covariates of the counter.
func (c *Counter) Covariates() []Covariate {
	return c.covs
}

// usable reports whether a pileup element may serve as evidence.
func (c *Counter) usable(e PileupElement) bool {
	read, offset := e.Read, e.Offset
	if offset < 1 || offset >= len(read.Bases) {
		return false
	}
	if read.Quals[offset] == 0 {
		return false
	}
	if !isACGT(read.Bases[offset]) || !isACGT(read.Bases[offset-1]) {
		return false
	}
	return c.cfg.SolidRecalMode == DoNothing || !read.IsInconsistent(offset)
}

func isMismatch(e PileupElement, refIndex int) bool {
	return baseIndex(e.Read.StoredBase(e.Offset)) != refIndex
}

/*
AddLocus accumulates the bases of a locus. Loci with a non-ACGT
reference base are skipped. Known variant sites are skipped too, but
tallied for the sanity check. Bases for which a covariate cannot be
computed are skipped with a warning. Other errors abort.
*/
func (c *Counter) AddLocus(locus *Locus) error {
	refIndex := baseIndex(locus.RefBase)
	if refIndex < 0 {
		c.Counts.SkippedSites++
		return nil
	}
	if locus.KnownVariant {
		c.Counts.SkippedSites++
		for _, e := range locus.Pileup {
			if c.usable(e) {
				c.Counts.VariantObservations++
				if isMismatch(e, refIndex) {
					c.Counts.VariantMismatches++
				}
			}
		}
		return nil
	}
	if n := c.cfg.KnownSitesSubsample; n > 1 && locus.Pos%int32(n) != 0 {
		c.Counts.SubsampledSites++
		return nil
	}
	c.Counts.CountedSites++
	for _, e := range locus.Pileup {
		if !c.usable(e) {
			continue
		}
		key, err := ComputeKey(c.covs, e.Read, e.Offset)
		if err != nil {
			if errors.Is(err, ErrMissingCovariateInput) {
				c.Counts.SkippedBases++
				warnMissingInput(err, e.Read, e.Offset)
				continue
			}
			return errors.WithMessagef(err, "%v:%v", locus.Contig, locus.Pos)
		}
		mismatch := isMismatch(e, refIndex)
		c.Full.Increment(key, mismatch)
		c.Collapsed.Add(key, mismatch)
		c.Counts.CountedBases++
		c.Counts.NovelObservations++
		if mismatch {
			c.Counts.NovelMismatches++
		}
	}
	if c.cfg.SanityCheckInterval > 0 {
		c.sitesSinceCheck++
		if c.sitesSinceCheck >= c.cfg.SanityCheckInterval {
			c.sitesSinceCheck = 0
			c.checkSanity()
		}
	}
	return nil
}

// Merge sums two counters over the same covariates, and returns the
// result, which may share storage with either.
func (c *Counter) Merge(other *Counter) *Counter {
	c.Full = c.Full.Merge(other.Full)
	c.Collapsed = c.Collapsed.Merge(other.Collapsed)
	c.Counts.Add(other.Counts)
	return c
}

// Finalize runs a last sanity check and derives the empirical
// qualities of all tables.
func (c *Counter) Finalize() {
	c.checkSanity()
	generateEmpiricalQualities(c.Full, c.cfg.SmoothingConstant, c.cfg.MaxQuality)
	c.Collapsed.GenerateEmpiricalQualities(c.cfg.SmoothingConstant, c.cfg.MaxQuality)
}

// Report packages the accumulated tables for persistence and
// summaries.
func (c *Counter) Report() *Report {
	report := NewReport(c.covs, c.Full)
	report.Collapsed = c.Collapsed
	report.Counts = c.Counts
	report.SmoothingConstant = c.cfg.SmoothingConstant
	report.MaxQuality = c.cfg.MaxQuality
	return report
}
