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

func TestTrackerFollowsApplyMutations(t *testing.T) {
	original := "ACGTACGTACGT"
	tracker := NewMutationTracker(original)

	batch1 := []Mutation{NewSubstitution(2, "T"), NewDeletion(6, 2)}
	SortBySite(batch1)
	tracker.AddSortedMutations(batch1)
	expected := ApplyMutations(original, batch1)
	if tracker.CurrentTpl() != expected {
		t.Fatalf("tracker template %v does not match applied template %v", tracker.CurrentTpl(), expected)
	}

	batch2 := []Mutation{NewInsertion(1, "GG"), NewSubstitution(8, "A")}
	SortBySite(batch2)
	tracker.AddSortedMutations(batch2)
	expected = ApplyMutations(expected, batch2)
	if tracker.CurrentTpl() != expected {
		t.Fatalf("tracker template %v does not match applied template %v", tracker.CurrentTpl(), expected)
	}
}

func TestTrackerUnsortedBatchPanics(t *testing.T) {
	tracker := NewMutationTracker("ACGT")
	expectPanic(t, "unsorted batch", func() {
		tracker.AddSortedMutations([]Mutation{NewSubstitution(2, "A"), NewSubstitution(0, "T")})
	})
}

func TestTrackerDiploidSiteInOriginalCoordinates(t *testing.T) {
	original := "ACGTACGT"
	tracker := NewMutationTracker(original)

	// round 1: a deletion before the eventual diploid site shifts
	// its current coordinate relative to the draft
	tracker.AddSortedMutations([]Mutation{NewDeletion(0, 1)})
	// round 2: the heterozygous substitution lands at current
	// position 3, which is draft position 4
	tracker.AddSortedMutations([]Mutation{NewSubstitution(3, "R")})

	sites := tracker.MappingToOriginalTpl()
	if len(sites) != 1 {
		t.Fatalf("expected 1 diploid site, got %v", len(sites))
	}
	site := sites[0]
	if site.Position != 4 || site.OriginalBase != 'A' || site.AmbiguousBase != 'R' {
		t.Errorf("unexpected diploid site %+v", site)
	}
}

func TestTrackerDiploidSiteAfterInsertion(t *testing.T) {
	original := "ACGT"
	tracker := NewMutationTracker(original)

	tracker.AddSortedMutations([]Mutation{NewInsertion(2, "AA")})
	tracker.AddSortedMutations([]Mutation{NewSubstitution(5, "W")})

	sites := tracker.MappingToOriginalTpl()
	if len(sites) != 1 {
		t.Fatalf("expected 1 diploid site, got %v", len(sites))
	}
	// current position 5 is draft position 3, shifted by the two
	// inserted bases
	if sites[0].Position != 3 || sites[0].OriginalBase != 'T' || sites[0].AmbiguousBase != 'W' {
		t.Errorf("unexpected diploid site %+v", sites[0])
	}
}

func TestTrackerInsertedDiploidSite(t *testing.T) {
	tracker := NewMutationTracker("ACGT")
	tracker.AddSortedMutations([]Mutation{NewInsertion(2, "M")})

	sites := tracker.MappingToOriginalTpl()
	if len(sites) != 1 {
		t.Fatalf("expected 1 diploid site, got %v", len(sites))
	}
	// an inserted ambiguous base has no draft base; it reports the
	// draft position it was inserted before
	if sites[0].Position != 2 || sites[0].OriginalBase != '-' || sites[0].AmbiguousBase != 'M' {
		t.Errorf("unexpected diploid site %+v", sites[0])
	}
}

// across batches of substitutions, deletions and insertions the tracker
// stays in step with ApplyMutations and still reports the diploid site
func TestTrackerRoundTrip(t *testing.T) {
	original := "ACGTACGTACGT"
	tracker := NewMutationTracker(original)
	batches := [][]Mutation{
		{NewSubstitution(2, "T")},
		{NewDeletion(0, 2), NewInsertion(6, "CC")},
		{NewSubstitution(7, "R")},
	}
	current := original
	for _, batch := range batches {
		SortBySite(batch)
		tracker.AddSortedMutations(batch)
		current = ApplyMutations(current, batch)
	}
	if tracker.CurrentTpl() != current {
		t.Fatalf("tracker diverged: %v != %v", tracker.CurrentTpl(), current)
	}
	// the one ambiguity code in the current template is reported
	sites := tracker.MappingToOriginalTpl()
	if len(sites) != 1 {
		t.Fatalf("expected 1 diploid site, got %v", len(sites))
	}
	if sites[0].AmbiguousBase != 'R' {
		t.Errorf("unexpected ambiguity code %c", sites[0].AmbiguousBase)
	}
}
