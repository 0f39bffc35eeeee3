// elPolish: a high-performance tool for polishing long-read consensus sequences.
// Copyright (c) 2022 imec vzw.

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
// <https://github.com/ExaScience/elpolish/blob/master/LICENSE.txt>.

package utils

import (
	"bufio"
	"compress/gzip"
	"io"
	"log"

	"github.com/biogo/hts/bgzf"
)

// a BGZF member is a gzip member with FEXTRA set and a "BC" extra
// subfield in the first 16 header bytes
func isBgzfHeader(header []byte) bool {
	if len(header) < 14 {
		return false
	}
	if header[0] != 0x1f || header[1] != 0x8b {
		return false
	}
	if header[3]&0x04 == 0 { // FLG.FEXTRA
		return false
	}
	return header[12] == 'B' && header[13] == 'C'
}

// HandleGzip checks if the given reader produces a gzip file by
// looking at the initial bytes. It then returns a bgzf.Reader for
// BGZF-blocked input, a gzip.Reader for plain gzip input, or the
// given reader unchanged.
// HandleGzip uses Peek on the given reader.
func HandleGzip(buf *bufio.Reader) io.Reader {
	header, err := buf.Peek(14)
	if err != nil && err != io.EOF {
		log.Panic(err)
	}
	if len(header) < 2 || header[0] != 0x1f || header[1] != 0x8b {
		return buf
	}
	if isBgzfHeader(header) {
		r, err := bgzf.NewReader(buf, 0)
		if err != nil {
			log.Panic(err)
		}
		return r
	}
	r, err := gzip.NewReader(buf)
	if err != nil {
		log.Panic(err)
	}
	return r
}
