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
	"testing"
)

func TestAmbiguousBase(t *testing.T) {
	cases := []struct {
		a, b, code byte
	}{
		{'A', 'C', 'M'},
		{'A', 'G', 'R'},
		{'A', 'T', 'W'},
		{'C', 'G', 'S'},
		{'C', 'T', 'Y'},
		{'G', 'T', 'K'},
	}
	for _, c := range cases {
		if AmbiguousBase(c.a, c.b) != c.code {
			t.Errorf("AmbiguousBase(%c, %c) failed", c.a, c.b)
		}
		// composition is symmetric
		if AmbiguousBase(c.b, c.a) != c.code {
			t.Errorf("AmbiguousBase(%c, %c) failed", c.b, c.a)
		}
		a, b := AmbiguousBaseAlleles(c.code)
		if a != c.a || b != c.b {
			t.Errorf("AmbiguousBaseAlleles(%c) failed", c.code)
		}
		if !IsAmbiguousBase(c.code) {
			t.Errorf("IsAmbiguousBase(%c) failed", c.code)
		}
	}
	for _, base := range []byte{'A', 'C', 'G', 'T', 'N'} {
		if IsAmbiguousBase(base) {
			t.Errorf("IsAmbiguousBase(%c) misclassified", base)
		}
	}
	expectPanic(t, "equal bases", func() { AmbiguousBase('A', 'A') })
	expectPanic(t, "invalid base", func() { AmbiguousBase('A', 'N') })
}

func TestBinomialCDF(t *testing.T) {
	if cdf := binomialCDF(20, 20, 0.92); cdf < 0.999 {
		t.Errorf("full success CDF %v not 1", cdf)
	}
	// observing only half the expected successes is highly unlikely
	if cdf := binomialCDF(10, 20, 0.92); cdf > significanceLevel {
		t.Errorf("balanced alleles not significant: %v", cdf)
	}
	// a mild deficit is not significant
	if cdf := binomialCDF(18, 20, 0.92); cdf < significanceLevel {
		t.Errorf("mild deficit spuriously significant: %v", cdf)
	}
	// the CDF is monotone in the number of successes
	last := 0.0
	for successes := 0; successes <= 20; successes++ {
		cdf := binomialCDF(successes, 20, 0.92)
		if cdf < last {
			t.Errorf("CDF not monotone at %v successes", successes)
		}
		last = cdf
	}
}
