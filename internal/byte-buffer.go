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

package internal

import "sync"

var bufPool = sync.Pool{New: func() interface{} {
	return make([]byte, 0, 256)
}}

// ReserveByteBuffer fetches an empty byte slice from an internal pool.
// Its capacity may be larger than 0. Return it with ReleaseByteBuffer
// once done.
func ReserveByteBuffer() []byte {
	return bufPool.Get().([]byte)[:0]
}

// ReleaseByteBuffer returns buf to the pool used by ReserveByteBuffer.
// Very large buffers are dropped so that the pool does not pin memory.
func ReleaseByteBuffer(buf []byte) {
	if cap(buf) > 1<<20 {
		return
	}
	bufPool.Put(buf[:0])
}
