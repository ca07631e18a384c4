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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(cfg *Config)
	}{
		{"negative smoothing", func(cfg *Config) { cfg.SmoothingConstant = -1 }},
		{"zero max quality", func(cfg *Config) { cfg.MaxQuality = 0 }},
		{"huge max quality", func(cfg *Config) { cfg.MaxQuality = 94 }},
		{"lookback", func(cfg *Config) { cfg.HomopolymerLookback = 0 }},
		{"window", func(cfg *Config) { cfg.WindowHalfWidth = -1 }},
		{"subsample", func(cfg *Config) { cfg.KnownSitesSubsample = -3 }},
		{"sanity ratio", func(cfg *Config) { cfg.SanityRatio = 0 }},
		{"solid mode", func(cfg *Config) { cfg.SolidRecalMode = 7 }},
		{"default platform", func(cfg *Config) { cfg.DefaultPlatform = "Sanger" }},
		{"forced platform", func(cfg *Config) { cfg.ForcePlatform = "Nanopore" }},
		{"covariate order", func(cfg *Config) { cfg.Covariates = []string{"QualityScore", "ReadGroup"} }},
		{"unknown covariate", func(cfg *Config) { cfg.Covariates = append(cfg.Covariates, "GC") }},
	}
	for _, test := range tests {
		cfg := DefaultConfig()
		test.modify(cfg)
		err := cfg.Validate()
		assert.True(t, errors.Is(err, ErrConfiguration), "%v: %v", test.name, err)
	}

	cfg := DefaultConfig()
	cfg.DefaultPlatform = "solexa"
	cfg.ForcePlatform = "ABI_SOLID"
	assert.NoError(t, cfg.Validate())
}

func TestParseSolidRecalMode(t *testing.T) {
	for _, mode := range []SolidRecalMode{DoNothing, SetQZero, RemoveRefBias} {
		parsed, err := ParseSolidRecalMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}
	parsed, err := ParseSolidRecalMode("set_q_zero")
	require.NoError(t, err)
	assert.Equal(t, SetQZero, parsed)
	_, err = ParseSolidRecalMode("PURPLE")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
		ok   bool
	}{
		{"ILLUMINA", Illumina, true},
		{"slx", Illumina, true},
		{" Solexa ", Illumina, true},
		{"454", LS454, true},
		{"ls454", LS454, true},
		{"SOLiD", Solid, true},
		{"abi_solid", Solid, true},
		{"PACBIO", UnknownPlatform, false},
		{"", UnknownPlatform, false},
	}
	for _, test := range tests {
		p, ok := ParsePlatform(test.in)
		assert.Equal(t, test.ok, ok, test.in)
		assert.Equal(t, test.want, p, test.in)
	}
}
