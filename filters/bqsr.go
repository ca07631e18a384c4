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

package filters

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/exascience/pargo/parallel"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/exascience/elrecal/fasta"
	"github.com/exascience/elrecal/internal"
	"github.com/exascience/elrecal/intervals"
	"github.com/exascience/elrecal/recal"
	"github.com/exascience/elrecal/sam"
	"github.com/exascience/elrecal/utils"
)

// UsableForRecalibration reports whether an alignment can contribute
// evidence to the recalibration tables.
func UsableForRecalibration(aln *sam.Alignment) bool {
	return aln.MAPQ > 0 && aln.MAPQ < 255 &&
		aln.FlagNotAny(sam.Secondary|sam.Duplicate|sam.QCFailed|sam.Unmapped) &&
		aln.POS > 0 &&
		len(aln.SEQ) > 0 &&
		len(aln.SEQ) == len(aln.QUAL) &&
		len(aln.SEQ) == int(sam.ReadLengthFromCigar(aln.CIGAR))
}

// phredString decodes a Phred+33 string, or returns nil if it is not
// one.
func phredString(s string) []byte {
	quals := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < 33 || s[i] > 126 {
			return nil
		}
		quals[i] = s[i] - 33
	}
	return quals
}

// formatPhred encodes qualities as a Phred+33 string.
func formatPhred(quals []byte) string {
	buf := make([]byte, len(quals))
	for i, q := range quals {
		buf[i] = q + 33
	}
	return string(buf)
}

/*
ReadInfoFromAlignment collects what recalibration needs to know about
an alignment. Platforms maps read group ids to the PL fields of the
header. If ref is not nil, it is the sequence of the alignment's
contig, and the reference base of each aligned read base is recorded.
*/
func ReadInfoFromAlignment(aln *sam.Alignment, platforms map[string]string, ref []byte) *recal.ReadInfo {
	info := &recal.ReadInfo{
		Name:         aln.QNAME,
		Bases:        aln.SEQ,
		Quals:        aln.QUAL,
		Reversed:     aln.IsReversed(),
		Paired:       aln.IsMultiple(),
		SecondOfPair: aln.IsMultiple() && aln.IsLast(),
	}
	if rg, ok := aln.RG(); ok {
		info.ReadGroup = rg
		info.Platform = platforms[rg]
	}
	if oq, ok := aln.TAGS.GetString(sam.OQ); ok {
		info.OriginalQuals = phredString(oq)
	}
	if cs, ok := aln.TAGS.GetString(sam.CS); ok {
		info.ColorSpace = []byte(cs)
		if cq, ok := aln.TAGS.GetString(sam.CQ); ok {
			info.ColorQuals = phredString(cq)
		}
	}
	if ref != nil {
		info.RefBases = make([]byte, len(aln.SEQ))
		for i, pos := range aln.ReferencePositions() {
			if pos > 0 && int(pos) <= len(ref) {
				info.RefBases[i] = ref[pos-1]
			}
		}
	}
	return info
}

// A BaseRecalibrator computes recalibration tables from aligned reads.
type BaseRecalibrator struct {
	cfg        *recal.Config
	covs       []recal.Covariate
	reference  fasta.Reference
	knownSites *intervals.SiteMask

	// WindowSize is the number of reference positions per unit of
	// parallel work.
	WindowSize int32
}

// NewBaseRecalibrator returns a struct for the first pass of base
// recalibration. The known sites may be nil.
func NewBaseRecalibrator(cfg *recal.Config, reference fasta.Reference, knownSites *intervals.SiteMask) (*BaseRecalibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	covs, err := recal.NewCovariates(cfg)
	if err != nil {
		return nil, err
	}
	return &BaseRecalibrator{
		cfg:        cfg,
		covs:       covs,
		reference:  reference,
		knownSites: knownSites,
		WindowSize: DefaultWindowSize,
	}, nil
}

// Covariates returns the covariates of the recalibrator.
func (recalibrator *BaseRecalibrator) Covariates() []recal.Covariate {
	return recalibrator.covs
}

var warnedContigs sync.Map

func (recalibrator *BaseRecalibrator) enrich(aln *sam.Alignment, platforms map[string]string) (*alignedRead, error) {
	if !UsableForRecalibration(aln) {
		return nil, nil
	}
	ref := recalibrator.reference.Seq(aln.RNAME)
	if ref == nil {
		if _, loaded := warnedContigs.LoadOrStore(aln.RNAME, true); !loaded {
			log.Warnf("contig %v not found in reference, skipping its reads", aln.RNAME)
		}
		return nil, nil
	}
	var refBases []byte
	if recalibrator.cfg.SolidRecalMode == recal.RemoveRefBias {
		refBases = ref
	}
	read, err := recal.NewRead(ReadInfoFromAlignment(aln, platforms, refBases), recalibrator.cfg)
	if err != nil {
		if errors.Is(err, recal.ErrMissingCovariateInput) {
			log.Warnf("skipping read: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if recalibrator.cfg.SolidRecalMode == recal.RemoveRefBias && read.Platform == recal.Solid {
		recal.RemoveReferenceBias(read, internal.NewReadRand(recalibrator.cfg.Seed, read.Name))
	}
	return &alignedRead{
		read:      read,
		contig:    aln.RNAME,
		positions: aln.ReferencePositions(),
		start:     aln.POS,
		end:       aln.End(),
	}, nil
}

// checkReference verifies that the contigs of the header that occur in
// the reference have the lengths the header claims.
func checkReference(hdr *sam.Header, reference fasta.Reference) error {
	for _, sq := range hdr.SQ {
		seq := reference.Seq(sq["SN"])
		if seq == nil {
			continue
		}
		ln, err := sam.SQLN(sq)
		if err != nil {
			return errors.Wrapf(err, "in @SQ record for contig %v", sq["SN"])
		}
		if int(ln) != len(seq) {
			return errors.Errorf("contig %v has length %v in the SAM header, but %v in the reference", sq["SN"], ln, len(seq))
		}
	}
	return nil
}

func firstError(err1, err2 interface{}) interface{} {
	if err1 != nil {
		return err1
	}
	return err2
}

/*
Recalibrate implements the first pass of base recalibration. Reads are
enriched in parallel, distributed over reference windows, and each
range of windows is counted independently. The partial counts are
merged, finalized, and returned.
*/
func (recalibrator *BaseRecalibrator) Recalibrate(reads *sam.Sam) (*recal.Counter, error) {
	hdr := reads.Header
	if err := checkReference(hdr, recalibrator.reference); err != nil {
		return nil, err
	}
	alns := reads.Alignments
	platforms := hdr.ReadGroupPlatforms()
	enriched := make([]*alignedRead, len(alns))
	if err := parallel.RangeReduce(0, len(alns), 0, func(low, high int) interface{} {
		for i := low; i < high; i++ {
			read, err := recalibrator.enrich(alns[i], platforms)
			if err != nil {
				return err
			}
			enriched[i] = read
		}
		return nil
	}, firstError); err != nil {
		return nil, err.(error)
	}
	usable := enriched[:0]
	refs := make(map[string][]byte)
	for _, read := range enriched {
		if read != nil {
			usable = append(usable, read)
			if _, ok := refs[read.contig]; !ok {
				refs[read.contig] = recalibrator.reference.Seq(read.contig)
			}
		}
	}
	windows := makeWindows(usable, refs, recalibrator.WindowSize)
	type partial struct {
		counter *recal.Counter
		err     error
	}
	result := parallel.RangeReduce(0, len(windows), 0, func(low, high int) interface{} {
		counter := recal.NewCounter(recalibrator.cfg, recalibrator.covs)
		for _, win := range windows[low:high] {
			if err := win.count(counter, recalibrator.knownSites); err != nil {
				return partial{counter, err}
			}
		}
		return partial{counter, nil}
	}, func(x, y interface{}) interface{} {
		p1, p2 := x.(partial), y.(partial)
		if p1.err == nil {
			p1.err = p2.err
		}
		p1.counter = p1.counter.Merge(p2.counter)
		return p1
	}).(partial)
	if result.err != nil {
		return nil, result.err
	}
	result.counter.Finalize()
	return result.counter, nil
}

/*
ApplyRecalibration returns a filter that replaces the qualities of
each read with recalibrated ones, recording the previous qualities in
an OQ tag unless one is present. The reference is only needed for
SOLiD reference bias removal and may be nil otherwise.

After the first failure, the failing read and all reads after it are
dropped. The failure is reported by the returned function once the
pipeline has finished.
*/
func ApplyRecalibration(r *recal.Recalibrator, cfg *recal.Config, reference fasta.Reference) (sam.Filter, func() error) {
	var (
		once     sync.Once
		failed   int32
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			atomic.StoreInt32(&failed, 1)
		})
	}
	filter := func(hdr *sam.Header) sam.AlignmentFilter {
		platforms := hdr.ReadGroupPlatforms()
		removeRefBias := cfg.SolidRecalMode == recal.RemoveRefBias && reference != nil
		return func(aln *sam.Alignment) bool {
			if atomic.LoadInt32(&failed) != 0 {
				return false
			}
			if len(aln.QUAL) == 0 || len(aln.QUAL) != len(aln.SEQ) {
				return true
			}
			var refBases []byte
			if removeRefBias && !aln.IsUnmapped() {
				refBases = reference.Seq(aln.RNAME)
			}
			read, err := recal.NewRead(ReadInfoFromAlignment(aln, platforms, refBases), cfg)
			if err != nil {
				if !errors.Is(err, recal.ErrMissingCovariateInput) {
					fail(err)
					return false
				}
				return true
			}
			quals, err := r.RecalibrateRead(read)
			if err != nil {
				fail(err)
				return false
			}
			if quals == nil {
				return true
			}
			if _, found := aln.TAGS.Get(sam.OQ); !found {
				aln.TAGS.Set(sam.OQ, formatPhred(aln.QUAL))
			}
			aln.QUAL = quals
			if removeRefBias && read.Platform == recal.Solid {
				aln.SEQ = read.StoredBases()
			}
			return true
		}
	}
	return filter, func() error { return firstErr }
}

/*
ApplyRecalibrationFile recalibrates the reads of the SAM file input and
writes them to output, adding the given @PG line. When recalibration
fails, the incomplete output file is removed, unless output is
/dev/stdout.
*/
func ApplyRecalibrationFile(input, output string, r *recal.Recalibrator, cfg *recal.Config, reference fasta.Reference, pg utils.StringMap) (err error) {
	in, err := sam.Open(input)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := in.Close(); err == nil {
			err = nerr
		}
	}()
	out, err := sam.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := out.Close(); err == nil {
			err = nerr
		}
		if err != nil && output != "/dev/stdout" {
			if rerr := os.Remove(output); rerr != nil {
				log.Warnf("could not remove incomplete output file %v: %v", output, rerr)
			}
		}
	}()
	apply, applyErr := ApplyRecalibration(r, cfg, reference)
	if err = in.RunPipeline(out, []sam.Filter{apply, sam.AddPGLine(pg)}, sam.Keep); err != nil {
		return err
	}
	return applyErr()
}
