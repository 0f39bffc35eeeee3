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
	"math/rand"
	"testing"
)

func TestMutationAccessors(t *testing.T) {
	del := NewDeletion(3, 2)
	if !del.IsDeletion() || del.Start() != 3 || del.End() != 5 || del.Length() != 2 || del.Bases() != "" {
		t.Error("deletion accessors failed")
	}
	if del.LengthDiff() != -2 {
		t.Error("deletion LengthDiff failed")
	}
	ins := NewInsertion(4, "AC")
	if !ins.IsInsertion() || ins.Start() != 4 || ins.End() != 4 || ins.Length() != 0 {
		t.Error("insertion accessors failed")
	}
	if ins.LengthDiff() != 2 {
		t.Error("insertion LengthDiff failed")
	}
	sub := NewSubstitution(1, "GT")
	if !sub.IsSubstitution() || sub.Start() != 1 || sub.End() != 3 || sub.Length() != 2 {
		t.Error("substitution accessors failed")
	}
	if sub.LengthDiff() != 0 {
		t.Error("substitution LengthDiff failed")
	}
}

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%v did not panic", name)
		}
	}()
	f()
}

func TestMutationConstructorChecks(t *testing.T) {
	expectPanic(t, "zero-length deletion", func() { NewDeletion(0, 0) })
	expectPanic(t, "empty insertion", func() { NewInsertion(0, "") })
	expectPanic(t, "empty substitution", func() { NewSubstitution(0, "") })
}

func TestTranslateIdentity(t *testing.T) {
	muts := []Mutation{
		NewDeletion(0, 1),
		NewDeletion(2, 2),
		NewInsertion(0, "A"),
		NewInsertion(4, "CT"),
		NewSubstitution(1, "GG"),
	}
	for _, mut := range muts {
		translated, ok := mut.Translate(0, 4)
		if !ok || translated != mut {
			t.Errorf("Translate identity failed for %v", mut)
		}
	}
}

func TestTranslateWindows(t *testing.T) {
	sub := NewSubstitution(2, "ACGT")
	if translated, ok := sub.Translate(4, 4); !ok || translated != NewSubstitution(0, "GT") {
		t.Error("Translate clip left failed")
	}
	if translated, ok := sub.Translate(0, 4); !ok || translated != NewSubstitution(2, "AC") {
		t.Error("Translate clip right failed")
	}
	if translated, ok := sub.Translate(3, 2); !ok || translated != NewSubstitution(0, "CG") {
		t.Error("Translate clip both failed")
	}
	if _, ok := sub.Translate(6, 4); ok {
		t.Error("Translate disjoint right failed")
	}
	if _, ok := sub.Translate(0, 2); ok {
		t.Error("Translate disjoint left failed")
	}

	del := NewDeletion(2, 4)
	if translated, ok := del.Translate(4, 10); !ok || translated != NewDeletion(0, 2) {
		t.Error("Translate deletion clip failed")
	}

	// an insertion at the window end still touches the window
	ins := NewInsertion(4, "T")
	if translated, ok := ins.Translate(0, 4); !ok || translated != NewInsertion(4, "T") {
		t.Error("Translate insertion at window end failed")
	}
	if translated, ok := ins.Translate(4, 4); !ok || translated != NewInsertion(0, "T") {
		t.Error("Translate insertion at window start failed")
	}
	if _, ok := ins.Translate(6, 4); ok {
		t.Error("Translate insertion disjoint failed")
	}
}

func TestSiteLess(t *testing.T) {
	ins := NewInsertion(2, "A")
	sub := NewSubstitution(2, "A")
	del := NewDeletion(2, 1)
	if !SiteLess(ins, sub) || !SiteLess(ins, del) || !SiteLess(sub, del) {
		t.Error("type priority ordering failed")
	}
	if SiteLess(sub, ins) || SiteLess(del, sub) {
		t.Error("type priority ordering not antisymmetric")
	}
	if !SiteLess(NewDeletion(1, 1), NewInsertion(2, "A")) {
		t.Error("start ordering failed")
	}
	if !SiteLess(NewSubstitution(2, "A"), NewSubstitution(2, "AC")) {
		t.Error("end ordering failed")
	}
}

func TestApplyMutations(t *testing.T) {
	if ApplyMutations("ACGT", nil) != "ACGT" {
		t.Error("empty ApplyMutations failed")
	}
	if ApplyMutations("ACGT", []Mutation{NewSubstitution(2, "A")}) != "ACAT" {
		t.Error("ApplyMutations substitution failed")
	}
	if ApplyMutations("ACGT", []Mutation{NewDeletion(1, 2)}) != "AT" {
		t.Error("ApplyMutations deletion failed")
	}
	if ApplyMutations("ACGT", []Mutation{NewInsertion(0, "TT")}) != "TTACGT" {
		t.Error("ApplyMutations leading insertion failed")
	}
	if ApplyMutations("ACGT", []Mutation{NewInsertion(4, "TT")}) != "ACGTTT" {
		t.Error("ApplyMutations trailing insertion failed")
	}
	if ApplyMutations("ACGTACGT", []Mutation{
		NewSubstitution(0, "T"),
		NewDeletion(2, 1),
		NewInsertion(6, "CC"),
	}) != "TCTACCCGT" {
		t.Error("ApplyMutations batch failed")
	}
}

// applying a set of pairwise non-overlapping mutations is independent
// of the order they were discovered in
func TestApplyMutationsOrderIndependent(t *testing.T) {
	tpl := "ACGTACGTACGTACGT"
	muts := []Mutation{
		NewInsertion(0, "G"),
		NewSubstitution(2, "T"),
		NewDeletion(5, 2),
		NewInsertion(9, "AA"),
		NewSubstitution(12, "CC"),
	}
	expected := ApplyMutations(tpl, muts)
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]Mutation, len(muts))
		copy(shuffled, muts)
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		if ApplyMutations(tpl, shuffled) != expected {
			t.Fatalf("ApplyMutations depends on discovery order for %v", shuffled)
		}
	}
}

func TestOverlapRule(t *testing.T) {
	if Overlap(NewSubstitution(0, "A"), NewSubstitution(1, "A")) {
		t.Error("adjacent substitutions must not overlap")
	}
	if !Overlap(NewSubstitution(0, "AC"), NewSubstitution(1, "A")) {
		t.Error("overlapping substitutions not detected")
	}
	if !Overlap(NewInsertion(1, "A"), NewSubstitution(1, "A")) {
		t.Error("insertion touching following base not detected")
	}
	if Overlap(NewInsertion(1, "A"), NewSubstitution(2, "A")) {
		t.Error("insertion and distant substitution must not overlap")
	}
	if !Overlap(NewDeletion(0, 2), NewDeletion(1, 2)) {
		t.Error("overlapping deletions not detected")
	}
}

func TestParallelSortBySite(t *testing.T) {
	muts := make([]Mutation, 0, 3000)
	for i := 0; i < 1000; i++ {
		start := rand.Intn(500)
		muts = append(muts, NewInsertion(start, "A"), NewSubstitution(start, "C"), NewDeletion(start, 1))
	}
	rand.Shuffle(len(muts), func(i, j int) { muts[i], muts[j] = muts[j], muts[i] })
	ParallelSortBySite(muts)
	for i := 1; i < len(muts); i++ {
		if SiteLess(muts[i], muts[i-1]) {
			t.Fatal("ParallelSortBySite produced an unsorted result")
		}
	}
}
