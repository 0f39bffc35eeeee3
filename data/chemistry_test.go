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
	"sort"
	"testing"
)

func TestChemistryTripleLess(t *testing.T) {
	a := ChemistryTriple{BindingKit: 1, SequencingKit: 9, MajorVersion: 9, MinorVersion: 9}
	b := ChemistryTriple{BindingKit: 2, SequencingKit: 0, MajorVersion: 0, MinorVersion: 0}
	if !a.Less(b) || b.Less(a) {
		t.Error("binding kit must dominate the ordering")
	}
	c := ChemistryTriple{BindingKit: 1, SequencingKit: 9, MajorVersion: 9, MinorVersion: 8}
	if !c.Less(a) || a.Less(c) {
		t.Error("minor version must break remaining ties")
	}
	if a.Less(a) {
		t.Error("Less is not irreflexive")
	}

	// Less must be a strict weak ordering; a field-wise or of <
	// comparisons is not, and breaks sorting
	triples := []ChemistryTriple{
		{2, 0, 0, 0}, {1, 9, 9, 9}, {1, 0, 5, 0}, {1, 0, 0, 7}, {3, 3, 3, 3},
	}
	sort.Slice(triples, func(i, j int) bool { return triples[i].Less(triples[j]) })
	for i := 1; i < len(triples); i++ {
		if triples[i].Less(triples[i-1]) {
			t.Error("sorted triples out of order")
		}
	}
}

func TestChemistryMapping(t *testing.T) {
	mapping := NewChemistryMapping(
		[]ChemistryTriple{
			{1, 1, 1, 0},
			{1, 1, 2, 0},
			{2, 1, 1, 0},
		},
		[]string{"P6-C4", "S/P1-C1", "S/P2-C2"},
	)
	if model := mapping.MapTriple(ChemistryTriple{1, 1, 2, 0}, "unknown"); model != "S/P1-C1" {
		t.Errorf("MapTriple failed: %v", model)
	}
	if model := mapping.MapTriple(ChemistryTriple{9, 9, 9, 9}, "unknown"); model != "unknown" {
		t.Errorf("MapTriple fallback failed: %v", model)
	}
}
