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
	"fmt"
	"runtime"
	"sort"

	"github.com/exascience/pargo/pipeline"
	"github.com/pkg/errors"

	"github.com/exascience/elrecal/internal"
)

type (
	// An AlignmentFilter receives an Alignment which it can modify. It
	// returns true if the alignment should be kept, and false if the
	// alignment should be removed.
	AlignmentFilter func(*Alignment) bool

	// A Filter receives a Header and returns an AlignmentFilter or nil.
	Filter func(*Header) AlignmentFilter

	// A PipelineOutput can add nodes to the given pargo
	// pipeline. AddNodes also receives the header that should be added
	// to the output, and a sorting order it should respect. Errors are
	// reported to the pipeline with p.SetErr.
	PipelineOutput interface {
		AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder)
	}

	// A PipelineInput initializes a pargo pipeline, arranges for it to
	// run the given filters, calls output.AddNodes, and runs the
	// pipeline.
	PipelineInput interface {
		RunPipeline(output PipelineOutput, filters []Filter, sortingOrder SortingOrder) error
	}
)

// AlignmentToBytes returns a pargo pipeline.Filter that formats
// slices of Alignment pointers into SAM lines.
func AlignmentToBytes(writer *OutputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			alns := data.([]*Alignment)
			buf := internal.ReserveByteBuffer()
			for _, aln := range alns {
				var err error
				if buf, err = writer.FormatAlignment(aln, buf); err != nil {
					p.SetErr(err)
					return buf
				}
			}
			return buf
		}
		return
	}
}

const (
	minBatchSize = 1024
	maxBatchSize = 65536
)

// BytesToAlignment returns a pargo pipeline.Filter that parses slices
// of SAM lines into slices of freshly allocated Alignment values.
func BytesToAlignment(reader *InputFile) pipeline.Filter {
	return func(p *pipeline.Pipeline, _ pipeline.NodeKind, _ *int) (receiver pipeline.Receiver, _ pipeline.Finalizer) {
		receiver = func(_ int, data interface{}) interface{} {
			records := data.([][]byte)
			alns := make([]*Alignment, 0, len(records))
			for _, record := range records {
				aln, err := reader.ParseAlignment(record)
				if err != nil {
					p.SetErr(err)
					return alns
				}
				alns = append(alns, aln)
			}
			return alns
		}
		return
	}
}

// AddNodes implements the PipelineOutput interface for Sam values to
// represent complete SAM files in memory.
func (sam *Sam) AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder) {
	sam.Header = header
	switch sortingOrder {
	case Keep, Unknown:
		p.Add(pipeline.StrictOrd(pipeline.Slice(&sam.Alignments)))
	case Coordinate:
		p.Add(pipeline.Seq(
			pipeline.Slice(&sam.Alignments),
			pipeline.Finalize(func() { By(CoordinateLess).ParallelStableSort(sam.Alignments) }),
		))
	case Queryname:
		p.Add(pipeline.Seq(
			pipeline.Slice(&sam.Alignments),
			pipeline.Finalize(func() { By(QNAMELess).ParallelStableSort(sam.Alignments) }),
		))
	case Unsorted:
		p.Add(pipeline.Seq(pipeline.Slice(&sam.Alignments)))
	default:
		p.SetErr(fmt.Errorf("unknown sorting order %v", sortingOrder))
	}
}

// AddNodes implements the PipelineOutput interface for SAM OutputFile values.
func (f *OutputFile) AddNodes(p *pipeline.Pipeline, header *Header, sortingOrder SortingOrder) {
	if err := f.FormatHeader(header); err != nil {
		p.SetErr(errors.Wrap(err, "while writing a SAM header to output"))
		return
	}
	var nodeCons func(...pipeline.Filter) pipeline.Node
	switch sortingOrder {
	case Keep, Unknown:
		nodeCons = pipeline.StrictOrd
	case Coordinate, Queryname:
		p.SetErr(errors.New("sorting on files not supported"))
		return
	case Unsorted:
		nodeCons = pipeline.Seq
	default:
		p.SetErr(fmt.Errorf("unknown sorting order %v", sortingOrder))
		return
	}
	p.Add(
		pipeline.LimitedPar(0, AlignmentToBytes(f)),
		nodeCons(pipeline.Receive(func(_ int, data interface{}) interface{} {
			buf := data.([]byte)
			if _, err := f.Write(buf); err != nil {
				p.SetErr(errors.Wrap(err, "while writing SAM alignment strings to output"))
			}
			internal.ReleaseByteBuffer(buf)
			return nil
		})),
	)
}

// ComposeFilters takes a Header and a slice of Filter functions, and
// successively calls these functions to generate the corresponding
// AlignmentFilter predicates. It then returns a pargo
// pipeline.Receiver that applies these predicates on the slices of
// Alignment pointers it receives, or nil if all AlignmentFilters are
// nil.
func ComposeFilters(header *Header, hdrFilters []Filter) (receiver pipeline.Receiver) {
	var alnFilters []AlignmentFilter
	for _, f := range hdrFilters {
		if f != nil {
			if alnFilter := f(header); alnFilter != nil {
				alnFilters = append(alnFilters, alnFilter)
			}
		}
	}
	if len(alnFilters) == 0 {
		return nil
	}
	return func(_ int, data interface{}) interface{} {
		alns := data.([]*Alignment)
		kept := alns[:0]
	alnLoop:
		for _, aln := range alns {
			for _, alnFilter := range alnFilters {
				if !alnFilter(aln) {
					continue alnLoop
				}
			}
			kept = append(kept, aln)
		}
		return kept
	}
}

// effectiveSortingOrder resolves Keep against the order recorded in
// the input, and avoids sorting when the header already records the
// requested order.
func effectiveSortingOrder(sortingOrder SortingOrder, header *Header, originalSortingOrder SortingOrder) SortingOrder {
	if sortingOrder == Keep {
		sortingOrder = originalSortingOrder
	}
	currentSortingOrder := header.HDSO()
	switch sortingOrder {
	case Coordinate, Queryname:
		if currentSortingOrder == sortingOrder {
			return Keep
		}
		header.SetHDSO(sortingOrder)
	case Unknown, Unsorted:
		if currentSortingOrder != sortingOrder {
			header.SetHDSO(sortingOrder)
		}
	}
	return sortingOrder
}

// NofBatches sets the number of batches that are created from this
// Sam value for the next call of RunPipeline. Values < 1 let the
// pipeline choose.
func (sam *Sam) NofBatches(n int) {
	sam.nofBatches = n
}

// RunPipeline implements the PipelineInput interface for Sam values
// that represent complete SAM files in memory.
func (sam *Sam) RunPipeline(output PipelineOutput, hdrFilters []Filter, sortingOrder SortingOrder) error {
	header := sam.Header
	alns := sam.Alignments
	sam.Header = NewHeader()
	sam.Alignments = nil
	originalSortingOrder := header.HDSO()
	alnFilter := ComposeFilters(header, hdrFilters)
	sortingOrder = effectiveSortingOrder(sortingOrder, header, originalSortingOrder)
	if out, ok := output.(*Sam); ok && (runtime.GOMAXPROCS(0) <= 3) {
		out.Header = header
		if alnFilter != nil {
			out.Alignments = alnFilter(0, alns).([]*Alignment)
		} else {
			out.Alignments = alns
		}
		result := out.Alignments
		switch sortingOrder {
		case Coordinate:
			sort.SliceStable(result, func(i, j int) bool { return CoordinateLess(result[i], result[j]) })
		case Queryname:
			sort.SliceStable(result, func(i, j int) bool { return QNAMELess(result[i], result[j]) })
		case Keep, Unknown, Unsorted:
		default:
			return fmt.Errorf("unknown sorting order %v", sortingOrder)
		}
		return nil
	}
	var p pipeline.Pipeline
	p.Source(alns)
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header, sortingOrder)
	p.NofBatches(sam.nofBatches)
	sam.nofBatches = 0
	p.Run()
	return p.Err()
}

// RunPipeline implements the PipelineInput interface for SAM InputFile values.
func (f *InputFile) RunPipeline(output PipelineOutput, hdrFilters []Filter, sortingOrder SortingOrder) error {
	header, err := f.ParseHeader()
	if err != nil {
		return err
	}
	originalSortingOrder := header.HDSO()
	alnFilter := ComposeFilters(header, hdrFilters)
	sortingOrder = effectiveSortingOrder(sortingOrder, header, originalSortingOrder)
	var p pipeline.Pipeline
	p.Source(f)
	p.SetVariableBatchSize(minBatchSize, maxBatchSize)
	p.Add(pipeline.LimitedPar(0, BytesToAlignment(f)))
	if alnFilter != nil {
		p.Add(pipeline.LimitedPar(0, pipeline.Receive(alnFilter)))
	}
	output.AddNodes(&p, header, sortingOrder)
	p.Run()
	return p.Err()
}
