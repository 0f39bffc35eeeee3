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
)

// A DiploidSite is a heterozygous call reported in the coordinates of
// the original draft template. OriginalBase is '-' for sites that
// arose from an insertion.
type DiploidSite struct {
	Position      int
	OriginalBase  byte
	AmbiguousBase byte
}

/*
A MutationTracker maintains, across many rounds of accepted edits, a
mapping from positions in the current template back to positions in
the original draft template. The polish driver feeds it every
accepted batch; at convergence the tracker reports heterozygous
(ambiguous-base) sites in original draft coordinates.
*/
type MutationTracker struct {
	originalTpl string
	currentTpl  []byte
	// origPos[i] is the original draft position that current template
	// position i descends from; inserted positions carry -(p+1) where
	// p is the original position they were inserted before
	origPos []int
}

// NewMutationTracker initializes a tracker for the given draft
// template.
func NewMutationTracker(originalTpl string) *MutationTracker {
	tracker := &MutationTracker{
		originalTpl: originalTpl,
		currentTpl:  []byte(originalTpl),
		origPos:     make([]int, len(originalTpl)),
	}
	for i := range tracker.origPos {
		tracker.origPos[i] = i
	}
	return tracker
}

// OriginalTpl returns the original draft template.
func (mt *MutationTracker) OriginalTpl() string { return mt.originalTpl }

// CurrentTpl returns the template with all tracked batches applied.
func (mt *MutationTracker) CurrentTpl() string { return string(mt.currentTpl) }

// insertedBefore encodes the original position an inserted base was
// inserted before.
func insertedBefore(originalPos int) int { return -(originalPos + 1) }

// originalPosition decodes an origPos entry; the second return value
// is false for inserted positions.
func originalPosition(entry int) (int, bool) {
	if entry < 0 {
		return -entry - 1, false
	}
	return entry, true
}

// AddSortedMutations appends an accepted batch. The mutations must be
// sorted by site, pairwise non-overlapping, and given in the
// coordinates of the current template as of the previous batch; they
// are applied right to left so that the coordinate corrections for
// later batches remain O(template length).
func (mt *MutationTracker) AddSortedMutations(muts []Mutation) {
	for i := 1; i < len(muts); i++ {
		if SiteLess(muts[i], muts[i-1]) {
			log.Panicf("mutation batch not sorted by site: %v before %v", muts[i-1], muts[i])
		}
	}
	for i := len(muts) - 1; i >= 0; i-- {
		mut := muts[i]
		if mut.Start() < 0 || mut.End() > len(mt.currentTpl) {
			log.Panicf("mutation %v outside tracked template of length %v", mut, len(mt.currentTpl))
		}
		switch mut.Type() {
		case SubstitutionType:
			copy(mt.currentTpl[mut.Start():mut.End()], mut.Bases())
		case DeletionType:
			mt.currentTpl = append(mt.currentTpl[:mut.Start()], mt.currentTpl[mut.End():]...)
			mt.origPos = append(mt.origPos[:mut.Start()], mt.origPos[mut.End():]...)
		case InsertionType:
			// the inserted bases remember the original position they
			// were inserted before, so diploid insertions can still be
			// reported against the draft
			before := len(mt.originalTpl)
			for j := mut.Start(); j < len(mt.origPos); j++ {
				if pos, ok := originalPosition(mt.origPos[j]); ok {
					before = pos
					break
				}
			}
			insTpl := make([]byte, 0, len(mt.currentTpl)+len(mut.Bases()))
			insTpl = append(insTpl, mt.currentTpl[:mut.Start()]...)
			insTpl = append(insTpl, mut.Bases()...)
			insTpl = append(insTpl, mt.currentTpl[mut.Start():]...)
			mt.currentTpl = insTpl
			insPos := make([]int, 0, len(mt.origPos)+len(mut.Bases()))
			insPos = append(insPos, mt.origPos[:mut.Start()]...)
			for range mut.Bases() {
				insPos = append(insPos, insertedBefore(before))
			}
			insPos = append(insPos, mt.origPos[mut.Start():]...)
			mt.origPos = insPos
		}
	}
}

// MappingToOriginalTpl returns, for each ambiguous-base site in the
// current template, its position and base in the original draft
// together with the ambiguity code, ordered by original position.
// Sites that arose from insertions report '-' as the original base.
func (mt *MutationTracker) MappingToOriginalTpl() []DiploidSite {
	var sites []DiploidSite
	for i, base := range mt.currentTpl {
		if !IsAmbiguousBase(base) {
			continue
		}
		pos, substituted := originalPosition(mt.origPos[i])
		site := DiploidSite{Position: pos, AmbiguousBase: base, OriginalBase: '-'}
		if substituted {
			site.OriginalBase = mt.originalTpl[pos]
		}
		sites = append(sites, site)
	}
	return sites
}
