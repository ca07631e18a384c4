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

package sam

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/exascience/pargo/pipeline"
)

type (
	alignmentReader interface {
		ParseHeader() (*Header, error)
		SkipHeader() error
		ParseAlignment([]byte) (*Alignment, error)
		pipeline.Source
		io.Closer
	}

	// InputFile represents a SAM file for input.
	InputFile struct {
		reader alignmentReader
	}
)

// Close closes the SAM input file.
func (f *InputFile) Close() error {
	return f.reader.Close()
}

// ParseHeader fetches the header from a SAM file.
func (f *InputFile) ParseHeader() (*Header, error) {
	return f.reader.ParseHeader()
}

// SkipHeader skips the header section of a SAM file.
func (f *InputFile) SkipHeader() error {
	return f.reader.SkipHeader()
}

// ParseAlignment parses one line from the alignment section.
func (f *InputFile) ParseAlignment(block []byte) (*Alignment, error) {
	return f.reader.ParseAlignment(block)
}

// Err implements the method of the pipeline.Source interface.
func (f *InputFile) Err() error {
	return f.reader.Err()
}

// Prepare implements the method of the pipeline.Source interface.
func (f *InputFile) Prepare(ctx context.Context) int {
	return f.reader.Prepare(ctx)
}

// Fetch implements the method of the pipeline.Source interface.
func (f *InputFile) Fetch(size int) int {
	return f.reader.Fetch(size)
}

// Data implements the method of the pipeline.Source interface.
func (f *InputFile) Data() interface{} {
	return f.reader.Data()
}

type (
	alignmentWriter interface {
		FormatHeader(hdr *Header) error
		FormatAlignment(aln *Alignment, out []byte) ([]byte, error)
		io.WriteCloser
	}

	// OutputFile represents a SAM file for output.
	OutputFile struct {
		writer alignmentWriter
	}
)

// Close flushes and closes a SAM output file.
func (f *OutputFile) Close() error {
	return f.writer.Close()
}

// FormatHeader writes the header to a SAM file.
func (f *OutputFile) FormatHeader(hdr *Header) error {
	return f.writer.FormatHeader(hdr)
}

// FormatAlignment formats an alignment into a line for a SAM file.
func (f *OutputFile) FormatAlignment(aln *Alignment, out []byte) ([]byte, error) {
	return f.writer.FormatAlignment(aln, out)
}

// Write can be used to write the lines from FormatAlignment to the
// underlying SAM file.
func (f *OutputFile) Write(p []byte) (int, error) {
	return f.writer.Write(p)
}

// SAM file extensions.
const (
	SamExt  = ".sam"
	GzipExt = ".gz"
	bamExt  = ".bam"
	cramExt = ".cram"
)

func checkExtension(name string) error {
	switch filepath.Ext(strings.TrimSuffix(name, GzipExt)) {
	case bamExt, cramExt:
		return fmt.Errorf("only SAM text input and output is supported, not %v", name)
	}
	return nil
}

// Open a SAM file for input. Files ending in .gz are decompressed.
//
// If the name is "/dev/stdin", then the input is read from os.Stdin.
func Open(name string) (*InputFile, error) {
	if err := checkExtension(name); err != nil {
		return nil, err
	}
	file := os.Stdin
	if name != "/dev/stdin" {
		var err error
		if file, err = os.Open(name); err != nil {
			return nil, err
		}
	}
	reader, err := newSamReader(file, filepath.Ext(name) == GzipExt)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &InputFile{reader: reader}, nil
}

// Create a SAM file for output. Files ending in .gz are compressed.
//
// If the name is "/dev/stdout", then the output is written to
// os.Stdout.
func Create(name string) (*OutputFile, error) {
	if err := checkExtension(name); err != nil {
		return nil, err
	}
	if name == "/dev/stdout" {
		return &OutputFile{writer: newSamWriter(os.Stdout, false)}, nil
	}
	file, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &OutputFile{writer: newSamWriter(file, filepath.Ext(name) == GzipExt)}, nil
}

// ReadSam reads a complete SAM file into memory, keeping only the
// alignments that pass the given filters.
func ReadSam(name string, filters ...Filter) (sam *Sam, err error) {
	input, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := input.Close(); err == nil {
			err = nerr
		}
	}()
	sam = NewSam()
	err = input.RunPipeline(sam, filters, Keep)
	return sam, err
}
