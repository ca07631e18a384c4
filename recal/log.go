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

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var warnings sync.Map

// warnOnce logs a warning the first time it is called with a given key.
func warnOnce(key string, format string, args ...interface{}) {
	if _, loaded := warnings.LoadOrStore(key, struct{}{}); !loaded {
		log.Warnf(format, args...)
	}
}

const (
	missingInputWarningBurst    = 10
	missingInputWarningInterval = 100000
)

var missingInputWarnings uint64

// warnMissingInput logs the first few skipped bases, and then only
// every missingInputWarningInterval-th one.
func warnMissingInput(err error, read *Read, offset int) {
	n := atomic.AddUint64(&missingInputWarnings, 1)
	if n <= missingInputWarningBurst || n%missingInputWarningInterval == 0 {
		log.WithFields(log.Fields{
			"read":   read.Name,
			"offset": offset,
			"count":  n,
		}).Warnf("skipping base: %v", err)
	}
}
