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

package intervals

import (
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLargeIntervalsSlice() (result []Interval) {
	rnd := rand.New(rand.NewSource(42))
	result = make([]Interval, 0x30000)
	result[0].Start = 0
	result[0].End = 3
	for i := 1; i < len(result); i++ {
		if rnd.Intn(100) < 20 {
			result[i].Start = result[i-1].End - 1
		} else {
			result[i].Start = result[i-1].End + 1
		}
		result[i].End = result[i].Start + 3
	}
	return result
}

var flattenTests = []struct {
	in, out []Interval
}{
	{[]Interval{{2, 3}, {3, 4}}, []Interval{{2, 4}}},
	{[]Interval{{2, 3}, {4, 5}}, []Interval{{2, 3}, {4, 5}}},
	{[]Interval{{2, 4}, {3, 5}, {4, 6}}, []Interval{{2, 6}}},
	{[]Interval{{2, 4}, {3, 5}, {4, 6}, {7, 9}}, []Interval{{2, 6}, {7, 9}}},
	{[]Interval{{2, 3}, {3, 4}, {5, 6}, {6, 7}}, []Interval{{2, 4}, {5, 7}}},
	{[]Interval{{2, 3}, {2, 5}, {2, 4}, {2, 3}, {2, 6}, {2, 7}}, []Interval{{2, 7}}},
}

func checkFlattened(t *testing.T, intervals []Interval) {
	require.NotEmpty(t, intervals)
	assert.LessOrEqual(t, intervals[0].Start, intervals[0].End)
	for i := 1; i < len(intervals); i++ {
		interval := intervals[i]
		if interval.Start > interval.End || interval.Start <= intervals[i-1].End {
			t.Fatalf("interval %v at index %v overlaps %v", interval, i, intervals[i-1])
		}
	}
}

func TestFlatten(t *testing.T) {
	assert.Nil(t, Flatten(nil))
	for _, test := range flattenTests {
		in := append([]Interval(nil), test.in...)
		assert.Equal(t, test.out, Flatten(in), "%v", test.in)
	}
	checkFlattened(t, Flatten(makeLargeIntervalsSlice()))
}

func TestParallelFlatten(t *testing.T) {
	assert.Nil(t, ParallelFlatten(nil))
	for _, test := range flattenTests {
		in := append([]Interval(nil), test.in...)
		assert.Equal(t, test.out, ParallelFlatten(in), "%v", test.in)
	}
	large := makeLargeIntervalsSlice()
	checkFlattened(t, ParallelFlatten(large))
	assert.Equal(t, Flatten(makeLargeIntervalsSlice()), ParallelFlatten(makeLargeIntervalsSlice()))
}

func BenchmarkFlatten(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		intervals := makeLargeIntervalsSlice()
		b.StartTimer()
		_ = Flatten(intervals)
	}
}

func BenchmarkParallelFlatten(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		intervals := makeLargeIntervalsSlice()
		b.StartTimer()
		_ = ParallelFlatten(intervals)
	}
}

func writeFile(t *testing.T, name, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, ioutil.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestElsitesRoundTrip(t *testing.T) {
	intervals := map[string][]Interval{
		"chr1": {{0, 1}, {9, 12}},
		"chr2": {{4, 5}},
	}
	path := filepath.Join(t.TempDir(), "sites.elsites")
	require.NoError(t, ToElsitesFile(intervals, path))
	back, err := FromElsitesFile(path)
	require.NoError(t, err)
	assert.Equal(t, intervals, back)
}

func TestFromElsitesFileRejectsBadHeader(t *testing.T) {
	_, err := FromElsitesFile(writeFile(t, "bad.elsites", "chr1\t0\t1\n"))
	assert.Error(t, err)
	_, err = FromElsitesFile(writeFile(t, "bad2.elsites", ElsitesHeader+"chr1\tx\t1\n"))
	assert.Error(t, err)
}

func TestFromVcfFile(t *testing.T) {
	vcf := "##fileformat=VCFv4.2\n" +
		"#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
		"chr1\t10\trs1\tA\tG\t.\tPASS\t.\n" +
		"chr1\t20\trs2\tACG\tA\t.\tPASS\t.\n"
	intervals, err := FromFile(writeFile(t, "known.vcf", vcf))
	require.NoError(t, err)
	assert.Equal(t, map[string][]Interval{"chr1": {{9, 10}, {19, 22}}}, intervals)
}

func TestFromBedFile(t *testing.T) {
	bed := "track name=x\nchr2 5 8 a\nchr2\t10\t11\n"
	intervals, err := FromFile(writeFile(t, "known.bed", bed))
	require.NoError(t, err)
	assert.Equal(t, map[string][]Interval{"chr2": {{5, 8}, {10, 11}}}, intervals)
}

func TestFromFileUnknownFormat(t *testing.T) {
	_, err := FromFile("sites.txt")
	assert.Error(t, err)
}

func TestSiteMask(t *testing.T) {
	all := map[string][]Interval{}
	Merge(all, map[string][]Interval{"chr1": {{9, 10}, {2, 5}}})
	Merge(all, map[string][]Interval{"chr1": {{4, 6}}})
	assert.Equal(t, []Interval{{2, 6}, {9, 10}}, all["chr1"])

	mask := NewSiteMask(all)
	assert.Equal(t, uint(5), mask.Count())
	assert.False(t, mask.IsKnown("chr1", 2))
	for pos := int32(3); pos <= 6; pos++ {
		assert.True(t, mask.IsKnown("chr1", pos), "%v", pos)
	}
	assert.False(t, mask.IsKnown("chr1", 7))
	assert.True(t, mask.IsKnown("chr1", 10))
	assert.False(t, mask.IsKnown("chr1", 1000))
	assert.False(t, mask.IsKnown("chr2", 3))

	var empty *SiteMask
	assert.False(t, empty.IsKnown("chr1", 3))
}

func TestLoadSiteMask(t *testing.T) {
	path := writeFile(t, "known.bed", "chr1\t0\t2\n")
	mask, err := LoadSiteMask([]string{path})
	require.NoError(t, err)
	assert.True(t, mask.IsKnown("chr1", 1))
	assert.True(t, mask.IsKnown("chr1", 2))
	assert.False(t, mask.IsKnown("chr1", 3))
}
