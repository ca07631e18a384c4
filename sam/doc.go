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

// Package sam is a library for parsing and representing SAM files,
// and for executing pipelines of filters over their alignments,
// taking advantage of modern multi-core processors.
//
// Modifications to headers and alignments are expressed as
// filters. A pipeline can be executed with the RunPipeline method of
// the PipelineInput interface, which accepts SAM files (optionally
// gzip-compressed) as input and output, but can also operate on an
// in-memory representation of such files.
//
// The package uses the pargo library for expressing pipelines of
// such filters for efficient parallel execution. See
// https://godoc.org/github.com/ExaScience/pargo/pipeline for details
// of pargo pipelines if necessary.
package sam
