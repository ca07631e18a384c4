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
	"strconv"
	"strings"

	"github.com/exascience/elrecal/utils"
	"github.com/pkg/errors"
)

/*
A Covariate extracts one value from a base in a read, and converts
between that value and its textual form in recalibration tables.

Values are small integer codes, so that a complete covariate tuple
fits in a Key. Offsets are always in machine direction.
*/
type Covariate interface {
	Name() string
	Initialize(cfg *Config) error
	ValueFromRead(read *Read, offset int) (int32, error)
	ValueFromText(field string) (int32, error)
	FormatValue(value int32) string
}

// An OrderedCovariate orders values by something other than their
// integer codes.
type OrderedCovariate interface {
	Covariate
	Less(a, b int32) bool
}

func covariateLess(cov Covariate, a, b int32) bool {
	if ordered, ok := cov.(OrderedCovariate); ok {
		return ordered.Less(a, b)
	}
	return a < b
}

var readGroups utils.Dictionary

// readGroupCode returns the process-wide code for a read group name.
func readGroupCode(name string) int32 {
	return readGroups.Code(name)
}

var covariateRegistry = map[string]func() Covariate{}

var covariateOrder []string

// RegisterCovariate makes a covariate available by name. It is meant
// to be called from init functions.
func RegisterCovariate(name string, factory func() Covariate) {
	if _, found := covariateRegistry[name]; found {
		panic("covariate registered twice: " + name)
	}
	covariateRegistry[name] = factory
	covariateOrder = append(covariateOrder, name)
}

// CovariateNames returns the names of all registered covariates.
func CovariateNames() []string {
	return append([]string(nil), covariateOrder...)
}

func init() {
	RegisterCovariate("ReadGroup", func() Covariate { return readGroupCovariate{} })
	RegisterCovariate("QualityScore", func() Covariate { return qualityScoreCovariate{} })
	RegisterCovariate("Cycle", func() Covariate { return cycleCovariate{} })
	RegisterCovariate("Dinuc", func() Covariate { return dinucCovariate{} })
	RegisterCovariate("Position", func() Covariate { return positionCovariate{} })
	RegisterCovariate("Homopolymer", func() Covariate { return &homopolymerCovariate{} })
	RegisterCovariate("MinimumNQS", func() Covariate { return &minimumNQSCovariate{} })
	RegisterCovariate("PrimerRound", func() Covariate { return primerRoundCovariate{} })
	RegisterCovariate("PairedReadOrder", func() Covariate { return pairedReadOrderCovariate{} })
	RegisterCovariate("Tile", func() Covariate { return tileCovariate{} })
}

// canonicalCovariateName accepts registered names in any case, with
// or without a Covariate suffix.
func canonicalCovariateName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if len(name) > len("Covariate") && strings.EqualFold(name[len(name)-len("Covariate"):], "Covariate") {
		name = name[:len(name)-len("Covariate")]
	}
	for _, registered := range covariateOrder {
		if strings.EqualFold(name, registered) {
			return registered, true
		}
	}
	return "", false
}

func newCovariates(names []string) ([]Covariate, error) {
	if len(names) < 2 {
		return nil, errors.Wrapf(ErrConfiguration, "at least ReadGroup and QualityScore covariates are required, got %v", names)
	}
	if len(names) > MaxCovariates {
		return nil, errors.Wrapf(ErrConfiguration, "too many covariates (%v), at most %v are supported", len(names), MaxCovariates)
	}
	covs := make([]Covariate, 0, len(names))
	seen := make(map[string]bool)
	for i, name := range names {
		canonical, ok := canonicalCovariateName(name)
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "unknown covariate %q, known covariates are %v", name, strings.Join(covariateOrder, ", "))
		}
		if seen[canonical] {
			return nil, errors.Wrapf(ErrConfiguration, "covariate %v listed twice", canonical)
		}
		seen[canonical] = true
		switch {
		case i == 0 && canonical != "ReadGroup":
			return nil, errors.Wrapf(ErrConfiguration, "first covariate must be ReadGroup, not %v", canonical)
		case i == 1 && canonical != "QualityScore":
			return nil, errors.Wrapf(ErrConfiguration, "second covariate must be QualityScore, not %v", canonical)
		}
		covs = append(covs, covariateRegistry[canonical]())
	}
	return covs, nil
}

// NewCovariates creates and initializes the covariates listed in the
// configuration, in order.
func NewCovariates(cfg *Config) ([]Covariate, error) {
	covs, err := newCovariates(cfg.Covariates)
	if err != nil {
		return nil, err
	}
	for _, cov := range covs {
		if err := cov.Initialize(cfg); err != nil {
			return nil, err
		}
	}
	return covs, nil
}

// CovariateNamesOf returns the names of the given covariates.
func CovariateNamesOf(covs []Covariate) []string {
	names := make([]string, len(covs))
	for i, cov := range covs {
		names[i] = cov.Name()
	}
	return names
}

// ComputeKey computes the covariate tuple of a base. Errors wrap
// ErrMissingCovariateInput if any covariate cannot be computed.
func ComputeKey(covs []Covariate, read *Read, offset int) (key Key, err error) {
	for i, cov := range covs {
		if key[i], err = cov.ValueFromRead(read, offset); err != nil {
			return key, err
		}
	}
	return key, nil
}

func parseIntValue(cov Covariate, field string) (int32, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformedRow, "invalid %v value %q", cov.Name(), field)
	}
	return int32(value), nil
}

func formatIntValue(value int32) string {
	return strconv.FormatInt(int64(value), 10)
}

func missingInput(cov Covariate, read *Read, offset int, reason string) error {
	return errors.Wrapf(ErrMissingCovariateInput, "%v of read %v at offset %v: %v", cov.Name(), read.Name, offset, reason)
}

type readGroupCovariate struct{}

func (readGroupCovariate) Name() string { return "ReadGroup" }

func (readGroupCovariate) Initialize(*Config) error { return nil }

func (cov readGroupCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	if !read.HasReadGroup {
		return 0, missingInput(cov, read, offset, "no read group and no default read group")
	}
	return read.ReadGroup, nil
}

func (cov readGroupCovariate) ValueFromText(field string) (int32, error) {
	if field == "" {
		return 0, errors.Wrap(ErrMalformedRow, "empty read group")
	}
	return readGroupCode(field), nil
}

func (readGroupCovariate) FormatValue(value int32) string {
	name, _ := readGroups.Name(value)
	return name
}

func (readGroupCovariate) Less(a, b int32) bool {
	nameA, _ := readGroups.Name(a)
	nameB, _ := readGroups.Name(b)
	return nameA < nameB
}

type qualityScoreCovariate struct{}

func (qualityScoreCovariate) Name() string { return "QualityScore" }

func (qualityScoreCovariate) Initialize(*Config) error { return nil }

func (qualityScoreCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	return int32(read.Quals[offset]), nil
}

func (cov qualityScoreCovariate) ValueFromText(field string) (int32, error) {
	value, err := parseIntValue(cov, field)
	if err != nil {
		return 0, err
	}
	if value < 0 || value > 255 {
		return 0, errors.Wrapf(ErrMalformedRow, "quality score %v out of range", value)
	}
	return value, nil
}

func (qualityScoreCovariate) FormatValue(value int32) string { return formatIntValue(value) }

/*
cycleCovariate is the machine cycle of a base. For Illumina and SOLiD
this is the 1-based offset in machine direction. For 454 it is the
flow cycle, which only advances when the nucleotide changes.
*/
type cycleCovariate struct{}

func (cycleCovariate) Name() string { return "Cycle" }

func (cycleCovariate) Initialize(cfg *Config) error {
	return checkPlatform("default platform", cfg.DefaultPlatform)
}

func (cov cycleCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	switch read.Platform {
	case Illumina, Solid:
		return int32(offset + 1), nil
	case LS454:
		return read.FlowCycles[offset], nil
	default:
		return 0, missingInput(cov, read, offset, "unknown platform and no default platform")
	}
}

func (cov cycleCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (cycleCovariate) FormatValue(value int32) string { return formatIntValue(value) }

// dinucCovariate codes the previous and current base in machine
// direction as 4*previous+current.
type dinucCovariate struct{}

const dinucBases = "ACGT"

func (dinucCovariate) Name() string { return "Dinuc" }

func (dinucCovariate) Initialize(*Config) error { return nil }

func (cov dinucCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	if offset == 0 {
		return 0, missingInput(cov, read, offset, "first base has no dinucleotide context")
	}
	prev, cur := baseIndex(read.Bases[offset-1]), baseIndex(read.Bases[offset])
	if prev < 0 || cur < 0 {
		return 0, missingInput(cov, read, offset, "non-ACGT base")
	}
	return int32(4*prev + cur), nil
}

func (cov dinucCovariate) ValueFromText(field string) (int32, error) {
	if len(field) != 2 {
		return 0, errors.Wrapf(ErrMalformedRow, "invalid dinucleotide %q", field)
	}
	prev, cur := baseIndex(field[0]), baseIndex(field[1])
	if prev < 0 || cur < 0 {
		return 0, errors.Wrapf(ErrMalformedRow, "invalid dinucleotide %q", field)
	}
	return int32(4*prev + cur), nil
}

func (dinucCovariate) FormatValue(value int32) string {
	if value < 0 || value > 15 {
		return "NN"
	}
	return string([]byte{dinucBases[value/4], dinucBases[value%4]})
}

type positionCovariate struct{}

func (positionCovariate) Name() string { return "Position" }

func (positionCovariate) Initialize(*Config) error { return nil }

func (positionCovariate) ValueFromRead(_ *Read, offset int) (int32, error) {
	return int32(offset), nil
}

func (cov positionCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (positionCovariate) FormatValue(value int32) string { return formatIntValue(value) }

// homopolymerCovariate counts the bases immediately preceding the
// current base in machine direction that are identical to it.
type homopolymerCovariate struct {
	lookback int
}

func (*homopolymerCovariate) Name() string { return "Homopolymer" }

func (cov *homopolymerCovariate) Initialize(cfg *Config) error {
	if cfg.HomopolymerLookback < 1 {
		return errors.Wrapf(ErrConfiguration, "homopolymer lookback %v must be positive", cfg.HomopolymerLookback)
	}
	cov.lookback = cfg.HomopolymerLookback
	return nil
}

func (cov *homopolymerCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	base := read.Bases[offset]
	var count int32
	for i := offset - 1; i >= 0 && offset-i <= cov.lookback && read.Bases[i] == base; i-- {
		count++
	}
	return count, nil
}

func (cov *homopolymerCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (*homopolymerCovariate) FormatValue(value int32) string { return formatIntValue(value) }

// minimumNQSCovariate is the minimum quality in a window around the
// current base.
type minimumNQSCovariate struct {
	halfWidth int
}

func (*minimumNQSCovariate) Name() string { return "MinimumNQS" }

func (cov *minimumNQSCovariate) Initialize(cfg *Config) error {
	if cfg.WindowHalfWidth < 0 {
		return errors.Wrapf(ErrConfiguration, "negative window half-width %v", cfg.WindowHalfWidth)
	}
	cov.halfWidth = cfg.WindowHalfWidth
	return nil
}

func (cov *minimumNQSCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	start, end := offset-cov.halfWidth, offset+cov.halfWidth
	if start < 0 {
		start = 0
	}
	if end >= len(read.Quals) {
		end = len(read.Quals) - 1
	}
	min := read.Quals[offset]
	for _, q := range read.Quals[start : end+1] {
		if q < min {
			min = q
		}
	}
	return int32(min), nil
}

func (cov *minimumNQSCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (*minimumNQSCovariate) FormatValue(value int32) string { return formatIntValue(value) }

// solidPrimerRounds is the number of ligation primer rounds in SOLiD
// color-space chemistry.
const solidPrimerRounds = 5

type primerRoundCovariate struct{}

func (primerRoundCovariate) Name() string { return "PrimerRound" }

func (primerRoundCovariate) Initialize(*Config) error { return nil }

func (primerRoundCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	if read.Platform == Solid {
		return int32(offset % solidPrimerRounds), nil
	}
	return -1, nil
}

func (cov primerRoundCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (primerRoundCovariate) FormatValue(value int32) string { return formatIntValue(value) }

type pairedReadOrderCovariate struct{}

func (pairedReadOrderCovariate) Name() string { return "PairedReadOrder" }

func (pairedReadOrderCovariate) Initialize(*Config) error { return nil }

func (pairedReadOrderCovariate) ValueFromRead(read *Read, _ int) (int32, error) {
	switch {
	case !read.Paired:
		return 0, nil
	case read.SecondOfPair:
		return 2, nil
	default:
		return 1, nil
	}
}

func (cov pairedReadOrderCovariate) ValueFromText(field string) (int32, error) {
	value, err := parseIntValue(cov, field)
	if err != nil {
		return 0, err
	}
	if value < 0 || value > 2 {
		return 0, errors.Wrapf(ErrMalformedRow, "paired read order %v out of range", value)
	}
	return value, nil
}

func (pairedReadOrderCovariate) FormatValue(value int32) string { return formatIntValue(value) }

type tileCovariate struct{}

func (tileCovariate) Name() string { return "Tile" }

func (tileCovariate) Initialize(*Config) error { return nil }

func (cov tileCovariate) ValueFromRead(read *Read, offset int) (int32, error) {
	if !read.HasTile {
		return 0, missingInput(cov, read, offset, "no tile in read name")
	}
	return read.Tile, nil
}

func (cov tileCovariate) ValueFromText(field string) (int32, error) {
	return parseIntValue(cov, field)
}

func (tileCovariate) FormatValue(value int32) string { return formatIntValue(value) }
