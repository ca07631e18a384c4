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
)

func TestNewReadMachineDirection(t *testing.T) {
	cfg := testConfig()
	read := testRead(t, cfg, &ReadInfo{
		Name:     "r",
		Bases:    []byte("tacgt"),
		Quals:    []byte{10, 20, 30, 40, 50},
		RefBases: []byte("TACGA"),
		Reversed: true,
	})
	assert.Equal(t, []byte("ACGTA"), read.Bases)
	assert.Equal(t, []byte{50, 40, 30, 20, 10}, read.Quals)
	assert.Equal(t, []byte("TCGTA"), read.RefBases)
	assert.Equal(t, byte('T'), read.StoredBase(0))
	assert.Equal(t, 4, read.StoredOffset(0))
	assert.Equal(t, []byte("TACGT"), read.StoredBases())
	assert.Equal(t, []byte{1, 2, 3}, read.StoredQuals([]byte{3, 2, 1}))

	forward := testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("ACGTA"), Quals: []byte{10, 20, 30, 40, 50}})
	assert.Equal(t, []byte("ACGTA"), forward.Bases)
	assert.Equal(t, []byte{10, 20, 30, 40, 50}, forward.Quals)
	assert.Equal(t, byte('A'), forward.StoredBase(0))
	assert.Equal(t, []byte{3, 2, 1}, forward.StoredQuals([]byte{3, 2, 1}))
}

func TestNewReadOriginalQuals(t *testing.T) {
	cfg := testConfig()
	cfg.UseOriginalQuals = true
	read := testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("AC"), Quals: []byte{30, 30}, OriginalQuals: []byte{20, 25}})
	assert.Equal(t, []byte{20, 25}, read.Quals)
	read = testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("AC"), Quals: []byte{30, 30}})
	assert.Equal(t, []byte{30, 30}, read.Quals)

	_, err := NewRead(&ReadInfo{Name: "r", Bases: []byte("ACG"), Quals: []byte{30}}, cfg)
	assert.True(t, errors.Is(err, ErrMissingCovariateInput))
}

func TestNewReadPlatform(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultPlatform = "illumina"
	tests := []struct {
		platform, forced string
		want             Platform
	}{
		{"", "", Illumina},
		{"SOLID", "", Solid},
		{"ls454", "", LS454},
		{"PacBio", "", Illumina},
		{"SOLID", "454", LS454},
	}
	for _, test := range tests {
		cfg.ForcePlatform = test.forced
		read := testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("AC"), Platform: test.platform})
		assert.Equal(t, test.want, read.Platform, "%+v", test)
	}
}
