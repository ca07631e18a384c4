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
	"math/rand"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pileup builds loci for reads that are all aligned without gaps at
// the first position of ref.
func pileup(reads []*Read, contig, ref string, known map[int32]bool) []*Locus {
	loci := make([]*Locus, 0, len(ref))
	for j := range ref {
		pos := int32(j + 1)
		locus := &Locus{Contig: contig, Pos: pos, RefBase: ref[j], KnownVariant: known[pos]}
		for _, read := range reads {
			if j < read.Len() {
				locus.Pileup = append(locus.Pileup, PileupElement{Read: read, Offset: read.MachineOffset(j)})
			}
		}
		loci = append(loci, locus)
	}
	return loci
}

func count(t *testing.T, cfg *Config, loci []*Locus) *Counter {
	t.Helper()
	covs, err := NewCovariates(cfg)
	require.NoError(t, err)
	counter := NewCounter(cfg, covs)
	for _, locus := range loci {
		require.NoError(t, counter.AddLocus(locus))
	}
	return counter
}

func endToEndCounter(t *testing.T) *Counter {
	cfg := testConfig()
	reads := make([]*Read, 1000)
	for i := range reads {
		reads[i] = testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("ACGTACGA")})
	}
	counter := count(t, cfg, pileup(reads, "chr1", "ACGTACGT", nil))
	counter.Finalize()
	return counter
}

func TestEndToEnd(t *testing.T) {
	counter := endToEndCounter(t)
	covs := counter.Covariates()
	dinuc := covs[3]

	assert.Equal(t, uint64(8), counter.Counts.CountedSites)
	assert.Equal(t, uint64(7000), counter.Counts.CountedBases)
	assert.Equal(t, 7, counter.Full.Len())

	rg, err := covs[0].ValueFromText("rg1")
	require.NoError(t, err)
	ga, err := dinuc.ValueFromText("GA")
	require.NoError(t, err)
	mismatch := counter.Full.Get(Key{rg, 30, 8, ga})
	require.NotNil(t, mismatch)
	assert.Equal(t, uint64(1000), mismatch.Observations)
	assert.Equal(t, uint64(1000), mismatch.Mismatches)
	assert.Equal(t, byte(0), mismatch.QualityByte(1, 40))

	counter.Full.Range(func(key Key, datum *RecalDatum) bool {
		if key[3] != ga {
			assert.Equal(t, uint64(0), datum.Mismatches)
			q := datum.QualityByte(1, 40)
			assert.GreaterOrEqual(t, q, byte(30))
			assert.LessOrEqual(t, q, byte(40))
		}
		return true
	})

	dinucs := counter.Collapsed.ByCovariate[1]
	datum := dinucs.Get(Key{rg, 30, ga})
	require.NotNil(t, datum)
	assert.Equal(t, uint64(1000), datum.Mismatches)
	ac, _ := dinuc.ValueFromText("AC")
	datum = dinucs.Get(Key{rg, 30, ac})
	require.NotNil(t, datum)
	assert.Equal(t, uint64(2000), datum.Observations)
	assert.Equal(t, uint64(0), datum.Mismatches)
	assert.InDelta(t, 33.0, datum.EmpiricalQuality, 0.1)
}

func TestDinucBoundaryExclusion(t *testing.T) {
	counter := endToEndCounter(t)
	counter.Full.Range(func(key Key, _ *RecalDatum) bool {
		assert.NotEqual(t, int32(1), key[2], "cycle 1 has no dinucleotide")
		return true
	})

	cfg := testConfig("ReadGroup", "QualityScore", "Position")
	read := testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("ACGT"), Reversed: true})
	counter = count(t, cfg, pileup([]*Read{read}, "chr1", "ACGT", nil))
	counter.Full.Range(func(key Key, _ *RecalDatum) bool {
		assert.NotEqual(t, int32(0), key[2], "machine offset 0 is never counted")
		return true
	})
	assert.Equal(t, 3, counter.Full.Len())
}

func TestCounterSkips(t *testing.T) {
	cfg := testConfig()
	reads := []*Read{
		testRead(t, cfg, &ReadInfo{Name: "r1", Bases: []byte("ACGTAC")}),
		testRead(t, cfg, &ReadInfo{Name: "r2", Bases: []byte("ACNTAC")}),
		testRead(t, cfg, &ReadInfo{Name: "r3", Bases: []byte("ACGTAC"), Quals: []byte{30, 30, 30, 0, 30, 30}}),
	}
	loci := pileup(reads, "chr1", "ACGNAC", map[int32]bool{5: true})
	counter := count(t, cfg, loci)
	assert.Equal(t, uint64(4), counter.Counts.CountedSites)
	assert.Equal(t, uint64(2), counter.Counts.SkippedSites)
	// position 1: offset 0; position 2: 3 bases; position 3: r2 has N;
	// position 6: 3 bases
	assert.Equal(t, uint64(3+2+3), counter.Counts.CountedBases)
	assert.Equal(t, uint64(3), counter.Counts.VariantObservations)

	cfg = testConfig()
	cfg.KnownSitesSubsample = 2
	counter = count(t, cfg, loci)
	assert.Equal(t, uint64(2), counter.Counts.CountedSites)
	assert.Equal(t, uint64(2), counter.Counts.SubsampledSites)

	cfg = testConfig("ReadGroup", "QualityScore", "Tile")
	counter = count(t, cfg, loci)
	assert.Equal(t, uint64(0), counter.Counts.CountedBases)
	assert.Equal(t, uint64(8), counter.Counts.SkippedBases)
}

func TestCounterSolidInconsistency(t *testing.T) {
	cfg := testConfig("ReadGroup", "QualityScore")
	cfg.SolidRecalMode = SetQZero
	read := testRead(t, cfg, &ReadInfo{Name: "r", Bases: []byte("ACGT"), Platform: "SOLID", ColorSpace: []byte("T3101")})
	counter := count(t, cfg, pileup([]*Read{read}, "chr1", "ACGT", nil))
	assert.Equal(t, uint64(2), counter.Counts.CountedBases)

	cfg.SolidRecalMode = DoNothing
	counter = count(t, cfg, pileup([]*Read{read}, "chr1", "ACGT", nil))
	assert.Equal(t, uint64(3), counter.Counts.CountedBases)
}

func randomBases(rnd *rand.Rand, n int, alphabet string) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(alphabet[rnd.Intn(len(alphabet))])
	}
	return sb.String()
}

func randomLoci(t *testing.T, cfg *Config, seed int64) []*Locus {
	rnd := rand.New(rand.NewSource(seed))
	ref := randomBases(rnd, 60, "ACGT")
	var reads []*Read
	for i := 0; i < 40; i++ {
		n := 20 + rnd.Intn(40)
		quals := make([]byte, n)
		for j := range quals {
			quals[j] = byte(rnd.Intn(41))
		}
		reads = append(reads, testRead(t, cfg, &ReadInfo{
			Name:      "r",
			Bases:     []byte(randomBases(rnd, n, "ACGTACGTACGTN")),
			Quals:     quals,
			Reversed:  rnd.Intn(2) == 0,
			ReadGroup: []string{"rgA", "rgB"}[rnd.Intn(2)],
		}))
	}
	known := map[int32]bool{}
	for i := 0; i < 5; i++ {
		known[int32(1+rnd.Intn(len(ref)))] = true
	}
	return pileup(reads, "chr1", ref, known)
}

func TestCounterMergeCommutative(t *testing.T) {
	cfg := testConfig("ReadGroup", "QualityScore", "Cycle", "Dinuc", "Homopolymer")
	loci := randomLoci(t, cfg, 42)
	serial := count(t, cfg, loci)
	assert.True(t, Collapse(serial.Full).Equal(serial.Collapsed))

	for _, split := range []int{0, 1, 17, 30, len(loci)} {
		left := count(t, cfg, loci[:split]).Merge(count(t, cfg, loci[split:]))
		assert.True(t, serial.Full.Equal(left.Full), "split %v", split)
		assert.True(t, serial.Collapsed.Equal(left.Collapsed), "split %v", split)
		assert.Equal(t, serial.Counts, left.Counts)

		right := count(t, cfg, loci[split:]).Merge(count(t, cfg, loci[:split]))
		assert.True(t, serial.Full.Equal(right.Full), "split %v", split)
		assert.True(t, serial.Collapsed.Equal(right.Collapsed), "split %v", split)
	}

	reversed := make([]*Locus, len(loci))
	for i, locus := range loci {
		reversed[len(loci)-1-i] = locus
	}
	assert.True(t, serial.Full.Equal(count(t, cfg, reversed).Full))
}

func TestSingletonDiscard(t *testing.T) {
	tables := NewCollapsedTables(3)
	tables.Add(Key{0, 30, 5}, false)
	tables.Add(Key{0, 30, 5}, true)
	tables.Add(Key{0, 20, 5}, false)
	tables.Add(Key{0, 20, 6}, false)
	tables.Add(Key{1, 30, 7}, false)
	tables.GenerateEmpiricalQualities(1, 40)

	byCycle := tables.ByCovariate[0]
	assert.Nil(t, byCycle.Get(Key{0, 30, 5}))
	assert.Nil(t, byCycle.Get(Key{1, 30, 7}))
	assert.NotNil(t, byCycle.Get(Key{0, 20, 5}))
	assert.NotNil(t, byCycle.Get(Key{0, 20, 6}))
	assert.Equal(t, 2, byCycle.Len())

	datum := tables.ByQuality.Get(Key{0, 30})
	require.NotNil(t, datum)
	assert.Equal(t, uint64(2), datum.Observations)
	assert.InDelta(t, 1.761, datum.EmpiricalQuality, 0.001)
	assert.Equal(t, uint64(5), tables.ByReadGroup.Get(Key{0}).Observations+tables.ByReadGroup.Get(Key{1}).Observations)
}

func TestSanityCheck(t *testing.T) {
	failing := Counts{VariantObservations: 1000, VariantMismatches: 10, NovelObservations: 1000, NovelMismatches: 10}
	passing := Counts{VariantObservations: 1000, VariantMismatches: 500, NovelObservations: 100000, NovelMismatches: 100}
	assert.Less(t, chiSquareTest(passing), 1e-6)
	assert.InDelta(t, 1.0, chiSquareTest(failing), 1e-6)

	hook := logtest.NewGlobal()
	defer hook.Reset()
	warnings.Delete("known-sites-sanity")
	defer warnings.Delete("known-sites-sanity")

	counter := NewCounter(testConfig(), nil)
	counter.Counts = passing
	counter.checkSanity()
	assert.Empty(t, hook.AllEntries())

	counter.Counts = Counts{VariantObservations: 99, NovelObservations: 1000, NovelMismatches: 10}
	counter.checkSanity()
	assert.Empty(t, hook.AllEntries())

	counter.Counts = failing
	counter.checkSanity()
	counter.checkSanity()
	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, log.WarnLevel, entries[0].Level)
	assert.Contains(t, entries[0].Message, "known variant sites")
}
