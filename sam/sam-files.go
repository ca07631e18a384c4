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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/exascience/elrecal/utils"
)

// ParseHeaderField parses one TAG:VALUE field of a header line.
func (sc *StringScanner) ParseHeaderField() (tag, value string) {
	if sc.err != nil {
		return
	}
	tag, ok := sc.readUntil(':')
	if !ok || (len(tag) != 2) {
		sc.setErr(fmt.Errorf("invalid field tag %v", tag))
		return "", ""
	}
	value, _ = sc.readUntil('\t')
	return tag, value
}

// ParseHeaderLine parses the fields of a header line.
func (sc *StringScanner) ParseHeaderLine() utils.StringMap {
	if sc.err != nil {
		return nil
	}
	record := make(utils.StringMap)
	for sc.Len() > 0 {
		tag, value := sc.ParseHeaderField()
		if !record.SetUniqueEntry(tag, value) {
			sc.setErr(fmt.Errorf("duplicate field tag %v in a SAM header line", tag))
			break
		}
	}
	return record
}

// ParseHeader parses the header section of a SAM file. It stops at
// the first line that does not start with '@'.
func ParseHeader(reader *bufio.Reader) (*Header, error) {
	hdr := NewHeader()
	var sc StringScanner
	for first := true; ; first = false {
		switch data, err := reader.Peek(1); {
		case err == io.EOF:
			return hdr, nil
		case err != nil:
			return hdr, err
		case data[0] != '@':
			return hdr, nil
		}
		bytes, err := reader.ReadBytes('\n')
		length := len(bytes)
		switch {
		case err == nil:
			length--
		case err != io.EOF:
			return hdr, err
		}
		if length < 4 {
			return hdr, fmt.Errorf("header line %q too short", bytes)
		}
		line := string(bytes[4:length])
		sc.Reset(line)
		switch code := string(bytes[0:3]); code {
		case "@HD":
			if !first {
				return hdr, errors.New("@HD line not in first line when parsing a SAM header")
			}
			hdr.HD = sc.ParseHeaderLine()
		case "@SQ":
			hdr.SQ = append(hdr.SQ, sc.ParseHeaderLine())
		case "@RG":
			hdr.RG = append(hdr.RG, sc.ParseHeaderLine())
		case "@PG":
			hdr.PG = append(hdr.PG, sc.ParseHeaderLine())
		case "@CO":
			hdr.CO = append(hdr.CO, line)
		default:
			if !IsHeaderUserTag(code) {
				return hdr, fmt.Errorf("unknown SAM record type code %v", code)
			}
			hdr.AddUserRecord(code, sc.ParseHeaderLine())
		}
		if err := sc.Err(); err != nil {
			return hdr, errors.Wrapf(err, "while parsing SAM header line %v", headerCode(bytes))
		}
	}
}

func headerCode(bytes []byte) string {
	if len(bytes) < 3 {
		return string(bytes)
	}
	return string(bytes[:3])
}

// ByteArray represents an optional field of type H.
type ByteArray []byte

// ParseChar parses an optional field of type A.
func (sc *StringScanner) ParseChar() interface{} {
	value, _ := sc.readByteUntil('\t')
	return value
}

// ParseInteger parses an optional field of type i.
func (sc *StringScanner) ParseInteger() interface{} {
	value, _ := sc.readUntil('\t')
	if sc.err != nil {
		return nil
	}
	val, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		sc.setErr(err)
	}
	return int32(val)
}

// ParseFloat parses an optional field of type f.
func (sc *StringScanner) ParseFloat() interface{} {
	value, _ := sc.readUntil('\t')
	if sc.err != nil {
		return nil
	}
	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		sc.setErr(err)
	}
	return float32(val)
}

// ParseString parses an optional field of type Z.
func (sc *StringScanner) ParseString() interface{} {
	value, _ := sc.readUntil('\t')
	return value
}

// ParseByteArray parses an optional field of type H.
func (sc *StringScanner) ParseByteArray() interface{} {
	value, _ := sc.readUntil('\t')
	if sc.err != nil {
		return nil
	}
	result := make(ByteArray, 0, len(value)>>1)
	for i := 0; i+1 < len(value); i += 2 {
		val, err := strconv.ParseUint(value[i:i+2], 16, 8)
		if err != nil {
			sc.setErr(err)
			return nil
		}
		result = append(result, byte(val))
	}
	return result
}

func (sc *StringScanner) parseNumbers(signed bool, bitSize int, convert func(int64)) {
	for {
		entry, sep := sc.readUntil2(',', '\t')
		if sc.err != nil {
			return
		}
		var val int64
		var err error
		if signed {
			val, err = strconv.ParseInt(entry, 10, bitSize)
		} else {
			var uval uint64
			uval, err = strconv.ParseUint(entry, 10, bitSize)
			val = int64(uval)
		}
		if err != nil {
			sc.setErr(err)
			return
		}
		convert(val)
		if sep != ',' {
			return
		}
	}
}

// ParseNumericArray parses an optional field of type B.
func (sc *StringScanner) ParseNumericArray() interface{} {
	ntype, ok := sc.readByteUntil(',')
	if !ok {
		sc.setErr(errors.New("missing entry in numeric array"))
		return nil
	}
	switch ntype {
	case 'c':
		var result []int8
		sc.parseNumbers(true, 8, func(v int64) { result = append(result, int8(v)) })
		return result
	case 'C':
		var result []uint8
		sc.parseNumbers(false, 8, func(v int64) { result = append(result, uint8(v)) })
		return result
	case 's':
		var result []int16
		sc.parseNumbers(true, 16, func(v int64) { result = append(result, int16(v)) })
		return result
	case 'S':
		var result []uint16
		sc.parseNumbers(false, 16, func(v int64) { result = append(result, uint16(v)) })
		return result
	case 'i':
		var result []int32
		sc.parseNumbers(true, 32, func(v int64) { result = append(result, int32(v)) })
		return result
	case 'I':
		var result []uint32
		sc.parseNumbers(false, 32, func(v int64) { result = append(result, uint32(v)) })
		return result
	case 'f':
		var result []float32
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseFloat(entry, 32)
			if err != nil {
				sc.setErr(err)
				return nil
			}
			result = append(result, float32(val))
			if sep != ',' {
				break
			}
		}
		return result
	default:
		sc.setErr(fmt.Errorf("invalid numeric array type %v", ntype))
		return nil
	}
}

var optionalFieldParseTable = map[byte]func(*StringScanner) interface{}{
	'A': (*StringScanner).ParseChar,
	'i': (*StringScanner).ParseInteger,
	'f': (*StringScanner).ParseFloat,
	'Z': (*StringScanner).ParseString,
	'H': (*StringScanner).ParseByteArray,
	'B': (*StringScanner).ParseNumericArray,
}

// ParseOptionalField parses one TAG:TYPE:VALUE field of an alignment.
func (sc *StringScanner) ParseOptionalField() (tag utils.Symbol, value interface{}) {
	tagname, ok := sc.readUntil(':')
	if !ok || (len(tagname) != 2) {
		sc.setErr(fmt.Errorf("invalid field tag %v in SAM alignment line", tagname))
		return nil, nil
	}
	tag = utils.Intern(tagname)
	typebyte, ok := sc.readByteUntil(':')
	parse := optionalFieldParseTable[typebyte]
	if !ok || parse == nil {
		sc.setErr(fmt.Errorf("invalid field type %q in SAM alignment line", typebyte))
		return nil, nil
	}
	return tag, parse(sc)
}

func (sc *StringScanner) doString() string {
	value, ok := sc.readUntil('\t')
	if !ok {
		sc.setErr(errors.New("missing tabulator in SAM alignment line"))
		return ""
	}
	return value
}

func (sc *StringScanner) doInt32() int32 {
	s := sc.doString()
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		sc.setErr(err)
	}
	return int32(value)
}

func (sc *StringScanner) doUint(bitSize int) uint64 {
	s := sc.doString()
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseUint(s, 10, bitSize)
	if err != nil {
		sc.setErr(err)
	}
	return value
}

// ParseAlignment parses one line of the alignment section.
func (sc *StringScanner) ParseAlignment() *Alignment {
	aln := NewAlignment()

	aln.QNAME = sc.doString()
	aln.FLAG = uint16(sc.doUint(16))
	aln.RNAME = sc.doString()
	aln.POS = sc.doInt32()
	aln.MAPQ = byte(sc.doUint(8))
	if cigar := sc.doString(); sc.err == nil {
		var err error
		if aln.CIGAR, err = ScanCigarString(cigar); err != nil {
			sc.setErr(err)
		}
	}
	aln.RNEXT = sc.doString()
	aln.PNEXT = sc.doInt32()
	aln.TLEN = sc.doInt32()
	if seq := sc.doString(); seq != "*" {
		aln.SEQ = []byte(seq)
	}
	if qual, _ := sc.readUntil('\t'); qual != "*" {
		aln.QUAL = make([]byte, len(qual))
		for i := 0; i < len(qual); i++ {
			if qual[i] < 33 {
				sc.setErr(fmt.Errorf("invalid quality character %q", qual[i]))
				break
			}
			aln.QUAL[i] = qual[i] - 33
		}
	}

	for sc.Len() > 0 {
		aln.TAGS.Set(sc.ParseOptionalField())
	}

	return aln
}

// ParseAlignment parses one line of the alignment section. The line
// must not include the terminating newline.
func ParseAlignment(line []byte) (*Alignment, error) {
	var sc StringScanner
	sc.Reset(string(line))
	aln := sc.ParseAlignment()
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "while parsing SAM alignment %v", aln.QNAME)
	}
	return aln, nil
}

func formatHeaderLine(out []byte, code string, record utils.StringMap) []byte {
	out = append(out, code...)
	// ID, SN first so that header lines read naturally
	for _, key := range []string{"ID", "SN", "VN"} {
		if value, ok := record[key]; ok {
			out = append(append(append(append(out, '\t'), key...), ':'), value...)
		}
	}
	for key, value := range record {
		if key != "ID" && key != "SN" && key != "VN" {
			out = append(append(append(append(out, '\t'), key...), ':'), value...)
		}
	}
	return append(out, '\n')
}

// Format appends the header in SAM format.
func (hdr *Header) Format(out []byte) []byte {
	if hdr.HD != nil {
		out = formatHeaderLine(out, "@HD", hdr.HD)
	}
	for _, record := range hdr.SQ {
		out = formatHeaderLine(out, "@SQ", record)
	}
	for _, record := range hdr.RG {
		out = formatHeaderLine(out, "@RG", record)
	}
	for _, record := range hdr.PG {
		out = formatHeaderLine(out, "@PG", record)
	}
	for _, comment := range hdr.CO {
		out = append(append(append(out, "@CO\t"...), comment...), '\n')
	}
	for code, records := range hdr.UserRecords {
		for _, record := range records {
			out = formatHeaderLine(out, code, record)
		}
	}
	return out
}

// FormatTag appends an optional field in SAM format.
func FormatTag(out []byte, tag utils.Symbol, value interface{}) ([]byte, error) {
	out = append(out, '\t')
	out = append(out, *tag...)

	switch val := value.(type) {
	case byte:
		out = append(append(out, ":A:"...), val)
	case int32:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case float32:
		out = strconv.AppendFloat(append(out, ":f:"...), float64(val), 'g', -1, 32)
	case string:
		out = append(append(out, ":Z:"...), val...)
	case utils.Symbol:
		out = append(append(out, ":Z:"...), *val...)
	case ByteArray:
		out = append(out, ":H:"...)
		for _, b := range val {
			if b < 16 {
				out = append(out, '0')
			}
			out = strconv.AppendUint(out, uint64(b), 16)
		}
	case []int8:
		out = append(out, ":B:c"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint8:
		out = append(out, ":B:C"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []int16:
		out = append(out, ":B:s"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint16:
		out = append(out, ":B:S"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []int32:
		out = append(out, ":B:i"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint32:
		out = append(out, ":B:I"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []float32:
		out = append(out, ":B:f"...)
		for _, v := range val {
			out = strconv.AppendFloat(append(out, ','), float64(v), 'g', -1, 32)
		}
	default:
		return nil, fmt.Errorf("unknown SAM alignment TAG type %T", value)
	}

	return out, nil
}

// AppendQual appends Phred values as a SAM quality string.
func AppendQual(out []byte, qual []byte) []byte {
	if len(qual) == 0 {
		return append(out, '*')
	}
	for _, q := range qual {
		out = append(out, q+33)
	}
	return out
}

// Format appends the alignment in SAM format, including the newline.
func (aln *Alignment) Format(out []byte) ([]byte, error) {
	out = append(append(out, aln.QNAME...), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.FLAG), 10), '\t')
	out = append(append(out, aln.RNAME...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.POS), 10), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.MAPQ), 10), '\t')
	out = append(AppendCigar(out, aln.CIGAR), '\t')
	out = append(append(out, aln.RNEXT...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.PNEXT), 10), '\t')
	out = append(strconv.AppendInt(out, int64(aln.TLEN), 10), '\t')
	if len(aln.SEQ) == 0 {
		out = append(out, '*', '\t')
	} else {
		out = append(append(out, aln.SEQ...), '\t')
	}
	out = AppendQual(out, aln.QUAL)

	var err error
	for _, entry := range aln.TAGS {
		if out, err = FormatTag(out, entry.Key, entry.Value); err != nil {
			return nil, errors.Wrapf(err, "while formatting SAM alignment %v", aln.QNAME)
		}
	}

	return append(out, '\n'), nil
}

// samReader reads SAM text, optionally gzip-compressed, for an InputFile.
type samReader struct {
	rc   io.Closer
	gz   *pgzip.Reader
	buf  *bufio.Reader
	data [][]byte
	err  error
}

func newSamReader(file *os.File, compressed bool) (*samReader, error) {
	if !compressed {
		return &samReader{rc: file, buf: bufio.NewReader(file)}, nil
	}
	gz, err := pgzip.NewReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "while opening gzip stream %v", file.Name())
	}
	return &samReader{rc: file, gz: gz, buf: bufio.NewReader(gz)}, nil
}

func (reader *samReader) Close() error {
	if reader.gz != nil {
		if err := reader.gz.Close(); err != nil {
			return err
		}
	}
	if reader.rc != os.Stdin {
		return reader.rc.Close()
	}
	return nil
}

func (reader *samReader) ParseHeader() (*Header, error) {
	return ParseHeader(reader.buf)
}

func (reader *samReader) SkipHeader() error {
	for {
		data, err := reader.buf.Peek(1)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if data[0] != '@' {
			return nil
		}
		if _, err := reader.buf.ReadBytes('\n'); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}

func (reader *samReader) ParseAlignment(line []byte) (*Alignment, error) {
	return ParseAlignment(line)
}

func (reader *samReader) Err() error {
	return reader.err
}

func (*samReader) Prepare(_ context.Context) (size int) {
	return -1
}

func (reader *samReader) Fetch(size int) (fetched int) {
	if reader.err != nil {
		return 0
	}
	records := make([][]byte, 0, size)
	for fetched < size {
		line, err := reader.buf.ReadBytes('\n')
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
		}
		if len(line) > 0 {
			records = append(records, line)
			fetched++
		}
		if err != nil {
			if err != io.EOF {
				reader.err = err
			}
			break
		}
	}
	reader.data = records
	return fetched
}

func (reader *samReader) Data() interface{} {
	return reader.data
}

// samWriter writes SAM text, optionally gzip-compressed, for an OutputFile.
type samWriter struct {
	wc  io.WriteCloser
	gz  *pgzip.Writer
	buf *bufio.Writer
}

func newSamWriter(wc io.WriteCloser, compressed bool) *samWriter {
	if !compressed {
		return &samWriter{wc: wc, buf: bufio.NewWriter(wc)}
	}
	gz := pgzip.NewWriter(wc)
	return &samWriter{wc: wc, gz: gz, buf: bufio.NewWriter(gz)}
}

func (writer *samWriter) FormatHeader(hdr *Header) error {
	_, err := writer.buf.Write(hdr.Format(nil))
	return err
}

func (writer *samWriter) FormatAlignment(aln *Alignment, out []byte) ([]byte, error) {
	return aln.Format(out)
}

func (writer *samWriter) Write(p []byte) (int, error) {
	return writer.buf.Write(p)
}

func (writer *samWriter) Close() error {
	if err := writer.buf.Flush(); err != nil {
		return err
	}
	if writer.gz != nil {
		if err := writer.gz.Close(); err != nil {
			return err
		}
	}
	if writer.wc != os.Stdout {
		return writer.wc.Close()
	}
	return nil
}

// Format writes a complete SAM representation.
func (sam *Sam) Format(out io.Writer) error {
	buf := sam.Header.Format(nil)
	for _, aln := range sam.Alignments {
		var err error
		if buf, err = aln.Format(buf); err != nil {
			return err
		}
		if len(buf) > 1<<16 {
			if _, err = out.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	_, err := out.Write(buf)
	return err
}
