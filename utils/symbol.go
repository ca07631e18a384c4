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

package utils

import (
	"sync"

	psync "github.com/exascience/pargo/sync"

	"github.com/exascience/elrecal/internal"
)

type symbolName string

// Symbol is an interned string, see Intern.
type Symbol *string

func (s symbolName) Hash() uint64 {
	return internal.StringHash(string(s))
}

var symbolTable = psync.NewMap(0)

/*
Intern returns a Symbol for the given string.

It always returns the same pointer for strings that are equal, and
different pointers for strings that are not equal. Dereferencing the
pointer always yields a string that is equal to the original string:
*Intern(s) == s always holds.

It is safe for multiple goroutines to call Intern concurrently.
*/
func Intern(s string) Symbol {
	entry, _ := symbolTable.LoadOrStore(symbolName(s), Symbol(&s))
	return entry.(Symbol)
}

/*
A Dictionary assigns small dense integer codes to strings, in order of
first appearance, and can map codes back to their strings.

Codes are stable for the lifetime of a Dictionary, so values coded by
the same Dictionary can be compared and combined freely, even when
they were produced by different goroutines.

The zero Dictionary is empty and ready to use. It is safe for
multiple goroutines to use a Dictionary concurrently.
*/
type Dictionary struct {
	mutex sync.RWMutex
	codes map[string]int32
	names []string
}

// Code returns the code for the given string, assigning a fresh code
// if the string has not been seen before.
func (d *Dictionary) Code(s string) int32 {
	d.mutex.RLock()
	code, ok := d.codes[s]
	d.mutex.RUnlock()
	if ok {
		return code
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if code, ok := d.codes[s]; ok {
		return code
	}
	if d.codes == nil {
		d.codes = make(map[string]int32)
	}
	code = int32(len(d.names))
	d.codes[s] = code
	d.names = append(d.names, s)
	return code
}

// Name returns the string for the given code.
func (d *Dictionary) Name(code int32) (string, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	if code < 0 || int(code) >= len(d.names) {
		return "", false
	}
	return d.names[code], true
}
