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

// OperatorConsumesReadBases checks whether a CIGAR operation advances
// through the read.
func OperatorConsumesReadBases(operator byte) bool {
	switch operator {
	case 'M', 'I', 'S', '=', 'X':
		return true
	default:
		return false
	}
}

// OperatorConsumesReferenceBases checks whether a CIGAR operation
// advances through the reference.
func OperatorConsumesReferenceBases(operator byte) bool {
	switch operator {
	case 'M', 'D', 'N', '=', 'X':
		return true
	default:
		return false
	}
}

// ReadLengthFromCigar sums the lengths of all CIGAR operations that
// consume read bases.
func ReadLengthFromCigar(cigar []CigarOperation) int32 {
	var length int32
	for _, op := range cigar {
		if OperatorConsumesReadBases(op.Operation) {
			length += op.Length
		}
	}
	return length
}

// End returns the 1-based position of the last reference base
// covered by the alignment.
func (aln *Alignment) End() int32 {
	var length int32
	for _, op := range aln.CIGAR {
		if OperatorConsumesReferenceBases(op.Operation) {
			length += op.Length
		}
	}
	return aln.POS + length - 1
}

/*
ReferencePositions maps each read offset to the 1-based reference
position it is aligned to, or to -1 for inserted and soft-clipped
bases.
*/
func (aln *Alignment) ReferencePositions() []int32 {
	positions := make([]int32, 0, len(aln.SEQ))
	refPos := aln.POS
	for _, op := range aln.CIGAR {
		switch {
		case OperatorConsumesReadBases(op.Operation) && OperatorConsumesReferenceBases(op.Operation):
			for i := int32(0); i < op.Length; i++ {
				positions = append(positions, refPos)
				refPos++
			}
		case OperatorConsumesReadBases(op.Operation):
			for i := int32(0); i < op.Length; i++ {
				positions = append(positions, -1)
			}
		case OperatorConsumesReferenceBases(op.Operation):
			refPos += op.Length
		}
	}
	return positions
}
