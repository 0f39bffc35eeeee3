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

package data

import (
	"fmt"
	"strconv"
)

/*
A scanner to scan/parse ASCII strings representing lines in .elreads
files.

The zero StringScanner is valid and empty.
*/
type StringScanner struct {
	index int
	data  string
	err   error
}

/*
Err returns the error that occurred during scanning/parsing.
*/
func (sc *StringScanner) Err() error {
	return sc.err
}

/*
Reset resets the scanner, and initializes it with the given string.
*/
func (sc *StringScanner) Reset(s string) {
	sc.index = 0
	sc.data = s
	sc.err = nil
}

/*
Len returns the number of ASCII characters that still need to be
scanned/parsed. Returns 0 if Err() would return a non-nil value.
*/
func (sc *StringScanner) Len() int {
	if sc.err != nil {
		return 0
	}
	return len(sc.data) - sc.index
}

func (sc *StringScanner) readUntil(c byte) (s string, found bool) {
	if sc.err != nil {
		return "", false
	}
	start := sc.index
	for end := sc.index; end < len(sc.data); end++ {
		if sc.data[end] == c {
			sc.index = end + 1
			return sc.data[start:end], true
		}
	}
	sc.index = len(sc.data)
	return sc.data[start:], false
}

// ReadString scans the next tab-separated field as a string.
func (sc *StringScanner) ReadString() string {
	s, _ := sc.readUntil('\t')
	return s
}

// ReadInt scans the next tab-separated field as a decimal integer.
func (sc *StringScanner) ReadInt() int {
	s, _ := sc.readUntil('\t')
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		sc.err = err
		return 0
	}
	return int(value)
}

// ReadQVs scans the next tab-separated field as a phred+33 encoded
// quality value track. A "*" field yields a nil track.
func (sc *StringScanner) ReadQVs() []byte {
	s, _ := sc.readUntil('\t')
	if sc.err != nil || s == "*" {
		return nil
	}
	qvs := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] < '!' || s[i] > '~' {
			sc.err = fmt.Errorf("invalid phred+33 quality character %q", s[i])
			return nil
		}
		qvs[i] = s[i] - '!'
	}
	return qvs
}
