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
	"strings"

	"github.com/pkg/errors"
)

// SolidRecalMode selects how color-space inconsistencies in SOLiD
// reads are treated.
type SolidRecalMode int

// SOLiD recalibration modes.
const (
	// DoNothing ignores color-space information.
	DoNothing SolidRecalMode = iota
	// SetQZero sets the quality of an inconsistent base and of its
	// predecessor in machine direction to zero.
	SetQZero
	// RemoveRefBias replaces bases that agree with the reference
	// against color-space evidence by a quality-weighted coin flip.
	RemoveRefBias
)

var solidRecalModeNames = []string{"DO_NOTHING", "SET_Q_ZERO", "REMOVE_REF_BIAS"}

func (mode SolidRecalMode) String() string {
	if mode >= 0 && int(mode) < len(solidRecalModeNames) {
		return solidRecalModeNames[mode]
	}
	return "INVALID"
}

// ParseSolidRecalMode parses one of DO_NOTHING, SET_Q_ZERO, or
// REMOVE_REF_BIAS.
func ParseSolidRecalMode(s string) (SolidRecalMode, error) {
	for i, name := range solidRecalModeNames {
		if strings.EqualFold(s, name) {
			return SolidRecalMode(i), nil
		}
	}
	return DoNothing, errors.Wrapf(ErrConfiguration, "unknown SOLiD recalibration mode %q", s)
}

// Default configuration values.
const (
	DefaultSmoothingConstant      = 1
	DefaultMaxQuality             = 40
	DefaultHomopolymerLookback    = 7
	DefaultWindowHalfWidth        = 2
	DefaultSanityRatio            = 2.0
	DefaultSanityCheckInterval    = 1000000
	DefaultPreserveQualitiesBelow = 5
	maxPhredQuality               = 93
)

// DefaultCovariates are the covariates used when none are configured.
var DefaultCovariates = []string{"ReadGroup", "QualityScore", "Cycle", "Dinuc"}

// Config holds the settings shared by both recalibration passes.
type Config struct {
	// Covariates lists the active covariates in order. The first two
	// must be ReadGroup and QualityScore.
	Covariates []string

	SmoothingConstant int
	MaxQuality        int

	// DefaultReadGroup and DefaultPlatform are used for reads that
	// lack that information. ForceReadGroup and ForcePlatform override
	// it for all reads.
	DefaultReadGroup string
	DefaultPlatform  string
	ForceReadGroup   string
	ForcePlatform    string

	SolidRecalMode SolidRecalMode

	HomopolymerLookback int
	WindowHalfWidth     int

	// UseOriginalQuals uses the OQ attribute instead of the reported
	// qualities where present.
	UseOriginalQuals bool

	// KnownSitesSubsample counts only every n-th non-variant locus
	// when greater than 1.
	KnownSitesSubsample int

	// SanityRatio is the minimum factor by which the mismatch rate at
	// known variant sites is expected to exceed the rate elsewhere.
	SanityRatio         float64
	SanityCheckInterval int

	// PreserveQualitiesBelow keeps reported qualities below this
	// value unchanged in the application pass.
	PreserveQualitiesBelow int

	// LenientReadGroups recalibrates reads with read groups that do not
	// occur in the table from the table summed over all read groups,
	// instead of failing.
	LenientReadGroups bool

	// Seed makes coin flips for reference bias removal reproducible.
	Seed int64
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() *Config {
	return &Config{
		Covariates:             append([]string(nil), DefaultCovariates...),
		SmoothingConstant:      DefaultSmoothingConstant,
		MaxQuality:             DefaultMaxQuality,
		SolidRecalMode:         DoNothing,
		HomopolymerLookback:    DefaultHomopolymerLookback,
		WindowHalfWidth:        DefaultWindowHalfWidth,
		SanityRatio:            DefaultSanityRatio,
		SanityCheckInterval:    DefaultSanityCheckInterval,
		PreserveQualitiesBelow: DefaultPreserveQualitiesBelow,
	}
}

func checkPlatform(name, value string) error {
	if value == "" {
		return nil
	}
	if _, ok := ParsePlatform(value); !ok {
		return errors.Wrapf(ErrConfiguration, "unrecognized %v %q", name, value)
	}
	return nil
}

// Validate checks the configuration for invalid or contradictory
// settings. Errors wrap ErrConfiguration.
func (cfg *Config) Validate() error {
	switch {
	case cfg.SmoothingConstant < 0:
		return errors.Wrapf(ErrConfiguration, "negative smoothing constant %v", cfg.SmoothingConstant)
	case cfg.MaxQuality < 1 || cfg.MaxQuality > maxPhredQuality:
		return errors.Wrapf(ErrConfiguration, "maximum quality %v out of range 1-%v", cfg.MaxQuality, maxPhredQuality)
	case cfg.HomopolymerLookback < 1:
		return errors.Wrapf(ErrConfiguration, "homopolymer lookback %v must be positive", cfg.HomopolymerLookback)
	case cfg.WindowHalfWidth < 0:
		return errors.Wrapf(ErrConfiguration, "negative window half-width %v", cfg.WindowHalfWidth)
	case cfg.KnownSitesSubsample < 0:
		return errors.Wrapf(ErrConfiguration, "negative known-sites subsampling %v", cfg.KnownSitesSubsample)
	case cfg.SanityRatio <= 0:
		return errors.Wrapf(ErrConfiguration, "sanity ratio %v must be positive", cfg.SanityRatio)
	case cfg.SanityCheckInterval < 0:
		return errors.Wrapf(ErrConfiguration, "negative sanity check interval %v", cfg.SanityCheckInterval)
	case cfg.PreserveQualitiesBelow < 0:
		return errors.Wrapf(ErrConfiguration, "negative quality preservation threshold %v", cfg.PreserveQualitiesBelow)
	case cfg.SolidRecalMode < DoNothing || cfg.SolidRecalMode > RemoveRefBias:
		return errors.Wrapf(ErrConfiguration, "invalid SOLiD recalibration mode %v", int(cfg.SolidRecalMode))
	}
	if err := checkPlatform("default platform", cfg.DefaultPlatform); err != nil {
		return err
	}
	if err := checkPlatform("forced platform", cfg.ForcePlatform); err != nil {
		return err
	}
	_, err := newCovariates(cfg.Covariates)
	return err
}
