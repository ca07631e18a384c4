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
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// A Reference gives access to the sequences of a reference genome,
// indexed by contig name.
type Reference interface {
	Seq(contig string) []byte
}

// Fasta is a reference genome held in memory.
type Fasta map[string][]byte

// Seq implements the Reference interface.
func (fasta Fasta) Seq(contig string) []byte {
	return fasta[contig]
}

func contigFromHeader(b []byte) string {
	i := 1
	for ; i < len(b); i++ {
		if c := b[i]; c >= '!' && c <= '~' {
			break
		}
	}
	j := i + 1
	for ; j < len(b); j++ {
		if c := b[j]; c < '!' || c > '~' {
			break
		}
	}
	if j > len(b) {
		j = len(b)
	}
	return string(b[i:j])
}

var upperAndNTable [256]byte

func init() {
	for i := range upperAndNTable {
		upperAndNTable[i] = byte(i)
	}
	for _, c := range []byte("RYMKWSBDHVN") {
		upperAndNTable[c] = 'N'
		upperAndNTable[c+'a'-'A'] = 'N'
	}
	for _, c := range []byte("ACGT") {
		upperAndNTable[c+'a'-'A'] = c
	}
}

// ToUpperAndN converts a base to upper case, and normalizes IUPAC
// ambiguity codes to N.
func ToUpperAndN(base byte) byte {
	return upperAndNTable[base]
}

func openReader(filename string) (io.ReadCloser, io.Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}
	if filepath.Ext(filename) != ".gz" {
		return f, f, nil
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, errors.Wrapf(err, "while opening gzipped FASTA file %v", filename)
	}
	return f, gz, nil
}

// ParseFasta parses a FASTA file, optionally gzip-compressed. All
// bases are converted to upper case, and ambiguity codes to N.
func ParseFasta(filename string) (fasta Fasta, err error) {
	f, r, err := openReader(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := f.Close(); err == nil {
			err = nerr
		}
	}()
	fasta, err = ReadFasta(r)
	if err != nil {
		return nil, errors.Wrapf(err, "while parsing FASTA file %v", filename)
	}
	return fasta, nil
}

// ReadFasta parses FASTA records from r. See ParseFasta.
func ReadFasta(r io.Reader) (Fasta, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	fasta := make(Fasta)
	contig := ""
	var seq []byte
	seen := false
	for scanner.Scan() {
		b := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(b) == 0 {
			continue
		}
		if b[0] == '>' {
			if seen {
				fasta[contig] = seq
			}
			contig = contigFromHeader(b)
			if _, dup := fasta[contig]; dup {
				return nil, fmt.Errorf("duplicate contig %v", contig)
			}
			seq = nil
			seen = true
			continue
		}
		if !seen {
			return nil, errors.New("missing first header")
		}
		for _, c := range b {
			seq = append(seq, ToUpperAndN(c))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !seen {
		return nil, errors.New("empty FASTA input")
	}
	fasta[contig] = seq
	return fasta, nil
}

type offsetTableEntry struct {
	contig string
	offset int
}

// ElfastaMagic is the magic byte sequence that every .elfasta file starts with.
var ElfastaMagic = []byte{0x31, 0xFA, 0x57, 0xA1} // 31FA57A1 => ELFASTA1

// ToElfasta stores fasta data into a mmappable .elfasta file.
func ToElfasta(fasta Fasta, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := file.Close(); err == nil {
			err = nerr
		}
	}()
	out := append([]byte(nil), ElfastaMagic...)
	var offsetTable []offsetTableEntry
	for contig := range fasta {
		out = append(append(out, contig...), '\t')
		offsetTable = append(offsetTable, offsetTableEntry{contig: contig, offset: len(out)})
		out = append(out, make([]byte, 2*binary.MaxVarintLen64)...)
	}
	out = append(out, '\n')
	for _, entry := range offsetTable {
		ref := fasta[entry.contig]
		binary.PutVarint(out[entry.offset:], int64(len(out)))
		binary.PutVarint(out[entry.offset+binary.MaxVarintLen64:], int64(len(ref)))
		out = append(out, ref...)
	}
	_, err = file.Write(out)
	return err
}

// MappedFasta represents the contents of an .elfasta file.
type MappedFasta struct {
	fasta Fasta
	data  []byte
	file  *os.File
}

// OpenElfasta maps a .elfasta file into memory.
func OpenElfasta(filename string) (*MappedFasta, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "while mapping %v", filename)
	}
	fail := func(format string, args ...interface{}) (*MappedFasta, error) {
		_ = unix.Munmap(data)
		_ = file.Close()
		return nil, fmt.Errorf(format, args...)
	}
	if len(data) < len(ElfastaMagic) || !bytes.Equal(data[:len(ElfastaMagic)], ElfastaMagic) {
		return fail("%v is not a .elfasta file - invalid magic byte sequence", filename)
	}
	fasta := make(Fasta)
	index := len(ElfastaMagic)
	for index < len(data) && data[index] != '\n' {
		tab := bytes.IndexByte(data[index:], '\t')
		if tab < 0 || index+tab+1+2*binary.MaxVarintLen64 > len(data) {
			return fail("truncated offset table in elfasta file %v", filename)
		}
		contig := string(data[index : index+tab])
		index += tab + 1
		offset, n := binary.Varint(data[index : index+binary.MaxVarintLen64])
		if n <= 0 {
			return fail("bad number of bytes while parsing offset in elfasta file %v", filename)
		}
		size, n := binary.Varint(data[index+binary.MaxVarintLen64 : index+2*binary.MaxVarintLen64])
		if n <= 0 || offset+size > int64(len(data)) {
			return fail("bad number of bytes while parsing size in elfasta file %v", filename)
		}
		fasta[contig] = data[int(offset):int(offset+size)]
		index += 2 * binary.MaxVarintLen64
	}
	return &MappedFasta{fasta: fasta, data: data, file: file}, nil
}

// Close unmaps and closes the .elfasta file.
func (fasta *MappedFasta) Close() error {
	err := unix.Munmap(fasta.data)
	fasta.data = nil
	if nerr := fasta.file.Close(); err == nil {
		err = nerr
	}
	fasta.file = nil
	fasta.fasta = nil
	return err
}

// Seq implements the Reference interface.
func (fasta *MappedFasta) Seq(contig string) []byte {
	return fasta.fasta[contig]
}

// OpenReference loads a reference from a .elfasta file, or parses a
// FASTA file. The returned function releases the reference.
func OpenReference(filename string) (Reference, func() error, error) {
	if filepath.Ext(filename) == ".elfasta" {
		mapped, err := OpenElfasta(filename)
		if err != nil {
			return nil, nil, err
		}
		return mapped, mapped.Close, nil
	}
	fasta, err := ParseFasta(filename)
	if err != nil {
		return nil, nil, err
	}
	return fasta, func() error { return nil }, nil
}
