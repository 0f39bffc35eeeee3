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

package consensus

import (
	"log"

	"gonum.org/v1/gonum/stat/distuv"
)

// 4-bit mask per base; ambiguity codes are the union of their
// constituents
var baseMasks = map[byte]uint8{
	'A': 1 << 0,
	'C': 1 << 1,
	'G': 1 << 2,
	'T': 1 << 3,
	'M': 1<<0 | 1<<1,
	'R': 1<<0 | 1<<2,
	'W': 1<<0 | 1<<3,
	'S': 1<<1 | 1<<2,
	'Y': 1<<1 | 1<<3,
	'K': 1<<2 | 1<<3,
}

var maskBases = func() map[uint8]byte {
	m := make(map[uint8]byte, len(baseMasks))
	for base, mask := range baseMasks {
		m[mask] = base
	}
	return m
}()

// AmbiguousBase composes the IUPAC ambiguity code covering the two
// given bases. Passing anything but two distinct bases from ACGT is a
// programming error.
func AmbiguousBase(a, b byte) byte {
	maskA, okA := baseMasks[a]
	maskB, okB := baseMasks[b]
	if !okA || !okB || a == b || maskA&maskB != 0 {
		log.Panicf("cannot compose an ambiguity code for %q and %q", a, b)
	}
	code, ok := maskBases[maskA|maskB]
	if !ok {
		log.Panicf("cannot compose an ambiguity code for %q and %q", a, b)
	}
	return code
}

// IsAmbiguousBase tells whether the given base is a two-allele IUPAC
// ambiguity code.
func IsAmbiguousBase(base byte) bool {
	switch base {
	case 'M', 'R', 'W', 'S', 'Y', 'K':
		return true
	default:
		return false
	}
}

// AmbiguousBaseAlleles decomposes a two-allele IUPAC ambiguity code
// into its constituent bases, in base order.
func AmbiguousBaseAlleles(code byte) (a, b byte) {
	mask, ok := baseMasks[code]
	if !ok || !IsAmbiguousBase(code) {
		log.Panicf("%q is not an ambiguity code", code)
	}
	bases := [4]byte{'A', 'C', 'G', 'T'}
	found := make([]byte, 0, 2)
	for i, base := range bases {
		if mask&(1<<uint(i)) != 0 {
			found = append(found, base)
		}
	}
	return found[0], found[1]
}

// binomialCDF returns the probability of observing at most successes
// out of trials, when each trial succeeds with probability p.
func binomialCDF(successes, trials int, p float64) float64 {
	binomial := distuv.Binomial{N: float64(trials), P: p}
	return binomial.CDF(float64(successes))
}
