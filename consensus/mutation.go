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

// Package consensus implements the consensus polishing core of
// elpolish: the mutation algebra, the per-read pair-HMM evaluators,
// the integrator that fans mutation queries out over evaluators, the
// mutation tracker that maps polished coordinates back to the draft,
// the iterative polish drivers, and the per-base quality scorer.
package consensus

import (
	"fmt"
	"log"
	"math"
	"sort"

	psort "github.com/exascience/pargo/sort"
)

// MutationType distinguishes the three single-site edits.
type MutationType uint8

// Mutation types, in candidate-site priority order: insertions at a
// site come before substitutions, which come before deletions.
const (
	InsertionType MutationType = iota
	SubstitutionType
	DeletionType
)

func (t MutationType) String() string {
	switch t {
	case InsertionType:
		return "INSERTION"
	case SubstitutionType:
		return "SUBSTITUTION"
	case DeletionType:
		return "DELETION"
	default:
		log.Panicf("invalid MutationType %d", uint8(t))
		return ""
	}
}

// A Mutation is a single-site candidate edit to a template:
// a substitution of Length() bases, an insertion of Bases() before
// Start(), or a deletion of Length() bases. Construct mutations with
// NewDeletion, NewInsertion, and NewSubstitution.
type Mutation struct {
	bases  string
	typ    MutationType
	start  int
	length int
}

// NewDeletion returns a deletion of length bases starting at start.
// A deletion of length 0 is a programming error.
func NewDeletion(start, length int) Mutation {
	if length <= 0 {
		log.Panicf("deletion of length %v at %v", length, start)
	}
	return Mutation{typ: DeletionType, start: start, length: length}
}

// NewInsertion returns an insertion of bases before position start.
// An insertion of no bases is a programming error.
func NewInsertion(start int, bases string) Mutation {
	if len(bases) == 0 {
		log.Panicf("insertion of no bases at %v", start)
	}
	return Mutation{bases: bases, typ: InsertionType, start: start}
}

// NewSubstitution returns a substitution of len(bases) bases starting
// at start. A substitution of no bases is a programming error.
func NewSubstitution(start int, bases string) Mutation {
	if len(bases) == 0 {
		log.Panicf("substitution of no bases at %v", start)
	}
	return Mutation{bases: bases, typ: SubstitutionType, start: start, length: len(bases)}
}

// Type returns the mutation type.
func (m Mutation) Type() MutationType { return m.typ }

// Start returns the first template position the mutation applies to.
func (m Mutation) Start() int { return m.start }

// End returns Start() + Length(). Insertions have End() == Start().
func (m Mutation) End() int { return m.start + m.length }

// Length returns the number of template bases the mutation covers.
func (m Mutation) Length() int { return m.length }

// Bases returns the replacement or inserted bases; empty for deletions.
func (m Mutation) Bases() string { return m.bases }

// IsDeletion tells whether the mutation is a deletion.
func (m Mutation) IsDeletion() bool { return m.typ == DeletionType }

// IsInsertion tells whether the mutation is an insertion.
func (m Mutation) IsInsertion() bool { return m.typ == InsertionType }

// IsSubstitution tells whether the mutation is a substitution.
func (m Mutation) IsSubstitution() bool { return m.typ == SubstitutionType }

// LengthDiff returns the change in template length the mutation
// causes when applied.
func (m Mutation) LengthDiff() int {
	switch m.typ {
	case InsertionType:
		return len(m.bases)
	case DeletionType:
		return -m.length
	default:
		return 0
	}
}

// Translate restricts the mutation to the window [start, start+length)
// and shifts it so the window origin becomes 0. The second return
// value is false if the mutation is disjoint from the window. For
// insertions the window is extended by one position on the right, as
// an insertion at the window end still touches the window's last base.
func (m Mutation) Translate(start, length int) (Mutation, bool) {
	ins := 0
	if m.IsInsertion() {
		ins = 1
	}
	// if the mutation end is before the window start, or the window
	// end is before the mutation start, the two are disjoint
	if m.End() < start || start+length+ins <= m.start {
		return Mutation{}, false
	}
	newStart := maxInt(m.start, start)
	newLen := minInt(m.End(), start+length) - newStart
	if m.IsInsertion() {
		return NewInsertion(newStart-start, m.bases), true
	}
	if newLen == 0 {
		return Mutation{}, false
	}
	if m.IsDeletion() {
		return NewDeletion(newStart-start, newLen), true
	}
	return NewSubstitution(newStart-start, m.bases[newStart-m.start:newStart-m.start+newLen]), true
}

func (m Mutation) String() string {
	switch m.typ {
	case DeletionType:
		return fmt.Sprintf("Deletion(%v, %v)", m.start, m.length)
	case InsertionType:
		return fmt.Sprintf("Insertion(%v, %q)", m.start, m.bases)
	default:
		return fmt.Sprintf("Substitution(%v, %q)", m.start, m.bases)
	}
}

// WithScore attaches a score to the mutation.
func (m Mutation) WithScore(score float64) ScoredMutation {
	return ScoredMutation{Mutation: m, Score: score, PValue: math.NaN()}
}

// A ScoredMutation is a mutation together with the aggregate
// log-likelihood the template would have with the mutation applied,
// and, for heterozygous candidates, the binomial test p-value.
type ScoredMutation struct {
	Mutation
	Score  float64
	PValue float64
}

// WithPValue attaches a binomial test p-value to the scored mutation.
func (m ScoredMutation) WithPValue(pValue float64) ScoredMutation {
	m.PValue = pValue
	return m
}

func (m ScoredMutation) String() string {
	return fmt.Sprintf("ScoredMutation(%v, %v)", m.Mutation, m.Score)
}

// SiteLess is a strict weak ordering of mutations by (Start, End,
// type priority). Insertions at a site order before substitutions,
// which order before deletions.
func SiteLess(a, b Mutation) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	if a.End() != b.End() {
		return a.End() < b.End()
	}
	return a.typ < b.typ
}

// SortBySite sorts mutations by site, the order ApplyMutations and
// the polish drivers rely on.
func SortBySite(muts []Mutation) {
	sort.SliceStable(muts, func(i, j int) bool {
		return SiteLess(muts[i], muts[j])
	})
}

type stableMutationSorter []Mutation

func (s stableMutationSorter) SequentialSort(i, j int) {
	SortBySite(s[i:j])
}

func (s stableMutationSorter) NewTemp() psort.StableSorter {
	return stableMutationSorter(make([]Mutation, len(s)))
}

func (s stableMutationSorter) Len() int {
	return len(s)
}

func (s stableMutationSorter) Less(i, j int) bool {
	return SiteLess(s[i], s[j])
}

func (s stableMutationSorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s, source.(stableMutationSorter)
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// ParallelSortBySite sorts mutations by site using a parallel stable
// sort; for the genome-wide candidate lists of the first polishing
// round, this is noticeably faster than SortBySite.
func ParallelSortBySite(muts []Mutation) {
	psort.StableSort(stableMutationSorter(muts))
}

// Overlap tells whether two mutations overlap under the End()
// convention, with insertions treated as touching the position they
// insert before.
func Overlap(a, b Mutation) bool {
	aIns, bIns := 0, 0
	if a.IsInsertion() {
		aIns = 1
	}
	if b.IsInsertion() {
		bIns = 1
	}
	return a.start < b.End()+bIns && b.start < a.End()+aIns
}

// ApplyMutations applies the given mutations to the template and
// returns the result. The mutations are sorted by site and applied
// right to left, so that the coordinates of earlier-site mutations
// remain valid. No two mutations may overlap.
func ApplyMutations(tpl string, muts []Mutation) string {
	if len(muts) == 0 || len(tpl) == 0 {
		return tpl
	}
	sorted := make([]Mutation, len(muts))
	copy(sorted, muts)
	SortBySite(sorted)

	result := []byte(tpl)
	for i := len(sorted) - 1; i >= 0; i-- {
		mut := sorted[i]
		if mut.Start() < 0 || mut.End() > len(tpl) {
			log.Panicf("mutation %v outside template of length %v", mut, len(tpl))
		}
		tail := result[mut.End():]
		result = append(append(append([]byte{}, result[:mut.Start()]...), mut.Bases()...), tail...)
	}
	return string(result)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
