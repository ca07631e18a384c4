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

import "github.com/pkg/errors"

// Kinds of errors reported by this package. Errors returned by the
// package wrap one of these, and can be tested with errors.Is.
var (
	// ErrConfiguration signals an invalid configuration, such as an
	// unknown covariate name or platform.
	ErrConfiguration = errors.New("invalid recalibration configuration")

	// ErrMissingCovariateInput signals that a covariate cannot be
	// computed for a base. The base is skipped.
	ErrMissingCovariateInput = errors.New("missing covariate input")

	// ErrTruncatedFile signals a recalibration table without EOF marker.
	ErrTruncatedFile = errors.New("truncated recalibration table")

	// ErrMalformedRow signals a recalibration table line that cannot be parsed.
	ErrMalformedRow = errors.New("malformed recalibration table row")

	// ErrDuplicateKey signals a covariate tuple that occurs twice in a
	// recalibration table.
	ErrDuplicateKey = errors.New("duplicate key in recalibration table")

	// ErrUnknownReadGroup signals a read whose read group does not
	// occur in the recalibration table.
	ErrUnknownReadGroup = errors.New("read group not present in recalibration table")

	// ErrUnrecognizedColorSpaceSymbol signals a SOLiD color that is
	// not one of 0, 1, 2, or 3.
	ErrUnrecognizedColorSpaceSymbol = errors.New("unrecognized color space symbol")
)
