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

package fasta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFasta = ">chr1 first contig\nACGTacgt\nNNryAC\n\n>chr2\r\nGGGG\r\n"

func TestReadFasta(t *testing.T) {
	fasta, err := ReadFasta(strings.NewReader(testFasta))
	require.NoError(t, err)
	assert.Equal(t, []byte("ACGTACGTNNNNAC"), fasta.Seq("chr1"))
	assert.Equal(t, []byte("GGGG"), fasta.Seq("chr2"))
	assert.Nil(t, fasta.Seq("chr3"))
}

func TestReadFastaErrors(t *testing.T) {
	for _, input := range []string{"", "ACGT\n>chr1\nA\n", ">chr1\nA\n>chr1\nC\n"} {
		_, err := ReadFasta(strings.NewReader(input))
		assert.Error(t, err, input)
	}
}

func TestParseGzippedFasta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.fa.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(testFasta))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	fasta, err := ParseFasta(path)
	require.NoError(t, err)
	assert.Len(t, fasta, 2)
	assert.Equal(t, []byte("GGGG"), fasta["chr2"])
}

func TestElfastaRoundTrip(t *testing.T) {
	fasta, err := ReadFasta(strings.NewReader(testFasta))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ref.elfasta")
	require.NoError(t, ToElfasta(fasta, path))

	ref, release, err := OpenReference(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("ACGTACGTNNNNAC"), ref.Seq("chr1"))
	assert.Equal(t, []byte("GGGG"), ref.Seq("chr2"))
	require.NoError(t, release())
}

func TestToUpperAndN(t *testing.T) {
	assert.Equal(t, byte('A'), ToUpperAndN('a'))
	assert.Equal(t, byte('N'), ToUpperAndN('y'))
	assert.Equal(t, byte('N'), ToUpperAndN('n'))
	assert.Equal(t, byte('T'), ToUpperAndN('T'))
}
