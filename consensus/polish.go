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
	"strings"

	"github.com/exascience/elpolish/internal"
	"github.com/exascience/elpolish/intervals"
)

// PolishConfig parameterizes the iterative polishing search.
type PolishConfig struct {
	// cap on the number of outer iterations
	MaximumIterations int
	// minimum distance in template bases between two mutations
	// accepted in the same round
	MutationSeparation int
	// radius around the previous round's accepted edits used to
	// reseed candidates
	MutationNeighborhood int
	// call heterozygous sites via the binomial test
	Diploid bool
	// average per-site error rate assumed by the binomial test; the
	// complement is the probability of reproducing the major allele
	DiploidErrorRate float64
}

// NewPolishConfig returns a PolishConfig with the given knobs and the
// default diploid error rate.
func NewPolishConfig(iterations, separation, neighborhood int, diploid bool) PolishConfig {
	return PolishConfig{
		MaximumIterations:    iterations,
		MutationSeparation:   separation,
		MutationNeighborhood: neighborhood,
		Diploid:              diploid,
		DiploidErrorRate:     diploidErrorRate,
	}
}

// RepeatConfig parameterizes tandem-repeat polishing.
type RepeatConfig struct {
	MaximumRepeatSize   int
	MinimumElementCount int
	MaximumIterations   int
}

// PolishResult accumulates the outcome and diagnostics of a polishing
// run.
type PolishResult struct {
	HasConverged     bool
	MutationsTested  int
	MutationsApplied int

	// heterozygous sites in original draft coordinates, filled at
	// convergence of a diploid run
	DiploidSites []DiploidSite

	// per-round diagnostics
	MaxAlphaPopulated []float64
	MaxBetaPopulated  []float64
	MaxNumFlipFlops   []int
}

func (result *PolishResult) recordDiagnostics(ai *Integrator) {
	result.MaxAlphaPopulated = append(result.MaxAlphaPopulated, ai.MaxAlphaPopulated())
	result.MaxBetaPopulated = append(result.MaxBetaPopulated, ai.MaxBetaPopulated())
	result.MaxNumFlipFlops = append(result.MaxNumFlipFlops, ai.MaxNumFlipFlops())
}

// diploidSentinel marks a nascent diploid site; the scorer expands it
// by running the histogram test on the real bases
const diploidSentinel = "Z"

// Constants of the heterozygous-site test.
const (
	// minimum coverage to even consider diploid polishing
	minCoverage = 10

	// the major and minor allele together have to cover at least this
	// fraction of all evaluators
	majorityFraction = 0.75

	// default average error rate; 1-diploidErrorRate is the assumed
	// probability of recovering the major allele
	diploidErrorRate = 0.08

	// binomial significance level for rejecting the null hypothesis
	// of a purely haploid site
	significanceLevel = 0.005

	// the minor allele has to rise above this fraction of the
	// coverage to be realistically considered
	minFractionMinor = 0.25
)

// AppendMutations appends all candidate single-site edits over
// [start, end) of the current template to muts. Insertions that would
// extend a homopolymer anywhere but at its first base are skipped, as
// are deletions anywhere but at a homopolymer's first base. In
// diploid mode the base set collapses to the sentinel; the scorer
// expands it later.
func AppendMutations(muts []Mutation, ai *Integrator, start, end int, diploid bool) []Mutation {
	bases := "ACGT"
	if diploid {
		bases = diploidSentinel
	}

	if start == end {
		return muts
	}

	var last byte
	if start > 0 {
		last = ai.BaseAt(start - 1)
	}

	for i := start; i < end; i++ {
		curr := ai.BaseAt(i)

		// insertions come before deletion/substitutions at site i,
		// their End() is i < i + 1
		for k := 0; k < len(bases); k++ {
			if bases[k] != last {
				muts = append(muts, NewInsertion(i, bases[k:k+1]))
			}
		}

		// only the first base of a homopolymer can be deleted
		if curr != last {
			muts = append(muts, NewDeletion(i, 1))
		}

		for k := 0; k < len(bases); k++ {
			if bases[k] != curr {
				muts = append(muts, NewSubstitution(i, bases[k:k+1]))
			}
		}

		last = curr
	}

	// no terminal homopolymer insertion at the very end either
	for k := 0; k < len(bases); k++ {
		if bases[k] != last {
			muts = append(muts, NewInsertion(end, bases[k:k+1]))
		}
	}

	return muts
}

// Mutations returns all candidate single-site edits over [start, end).
func Mutations(ai *Integrator, start, end int, diploid bool) []Mutation {
	return AppendMutations(nil, ai, start, end, diploid)
}

// AllMutations returns all candidate single-site edits over the whole
// template.
func AllMutations(ai *Integrator, diploid bool) []Mutation {
	return Mutations(ai, 0, ai.TemplateLength(), diploid)
}

// AppendRepeatMutations appends, for every run of at least
// cfg.MinimumElementCount exact k-mer repeats with k up to
// cfg.MaximumRepeatSize in [start, end), a one-more-copy insertion
// and a one-fewer-copy deletion at the run's start.
func AppendRepeatMutations(muts []Mutation, ai *Integrator, cfg RepeatConfig, start, end int) []Mutation {
	if cfg.MaximumRepeatSize < 2 || cfg.MinimumElementCount <= 0 {
		return muts
	}

	tpl := ai.String()

	for repeatSize := 2; repeatSize <= cfg.MaximumRepeatSize; repeatSize++ {
		for i := start; i+repeatSize <= end; {
			nElem := 1

			for j := i + repeatSize; j+repeatSize <= end; j += repeatSize {
				if tpl[j:j+repeatSize] == tpl[i:i+repeatSize] {
					nElem++
				} else {
					break
				}
			}

			if nElem >= cfg.MinimumElementCount {
				muts = append(muts, NewInsertion(i, tpl[i:i+repeatSize]))
				muts = append(muts, NewDeletion(i, repeatSize))
			}

			if nElem > 1 {
				i += repeatSize*(nElem-1) + 1
			} else {
				i++
			}
		}
	}

	SortBySite(muts)
	return muts
}

// RepeatMutations returns the tandem-repeat candidates over the whole
// template.
func RepeatMutations(ai *Integrator, cfg RepeatConfig) []Mutation {
	return AppendRepeatMutations(nil, ai, cfg, 0, ai.TemplateLength())
}

// BestMutations greedily selects a maximal set of top-scoring
// mutations whose sites are pairwise at least separation template
// bases apart. A separation of 0 is invalid.
func BestMutations(scoredMuts []ScoredMutation, separation int) []Mutation {
	var result []Mutation

	if separation == 0 {
		log.Panic("nonzero separation required")
	}

	remaining := make([]ScoredMutation, len(scoredMuts))
	copy(remaining, scoredMuts)

	for len(remaining) > 0 {
		best := 0
		for i := 1; i < len(remaining); i++ {
			if remaining[i].Score > remaining[best].Score {
				best = i
			}
		}
		mut := remaining[best]
		result = append(result, mut.Mutation)

		start := 0
		if separation < mut.Start() {
			start = mut.Start() - separation
		}
		end := mut.End() + separation

		filtered := remaining[:0]
		for _, m := range remaining {
			if !(start <= m.End() && m.Start() < end) {
				filtered = append(filtered, m)
			}
		}
		remaining = filtered
	}

	return result
}

// NearbyMutations generates the candidates for the next round: the
// single-site edits inside the neighborhood radius around the given
// centers, with the centers' coordinates corrected for the length
// changes of the mutations applied this round.
func NearbyMutations(applied, centers []Mutation, ai *Integrator, neighborhood int, diploid bool) []Mutation {
	length := ai.TemplateLength()
	clamp := func(i int) int { return maxInt(0, minInt(length, i)) }

	var result []Mutation

	if len(centers) == 0 {
		return result
	}

	appliedSorted := make([]Mutation, len(applied))
	copy(appliedSorted, applied)
	SortBySite(appliedSorted)
	centersSorted := make([]Mutation, len(centers))
	copy(centersSorted, centers)
	SortBySite(centersSorted)

	// walk applied mutations and centers in lockstep, accumulating
	// the length changes of applied mutations strictly before each
	// center
	ranges := make([]intervals.Interval, 0, len(centersSorted))
	ait := 0
	lengthDiff := 0
	for _, center := range centersSorted {
		for ; ait < len(appliedSorted) && appliedSorted[ait].End() <= center.Start(); ait++ {
			lengthDiff += appliedSorted[ait].LengthDiff()
		}
		ranges = append(ranges, intervals.Interval{
			Start: clamp(lengthDiff + center.Start() - neighborhood),
			End:   clamp(lengthDiff + center.End() + neighborhood),
		})
	}

	intervals.SortByStart(ranges)
	for _, r := range intervals.Flatten(ranges) {
		result = AppendMutations(result, ai, r.Start, r.End, diploid)
	}

	return result
}

// scoreMutations runs one scoring pass over the candidates, retrying
// whenever an evaluator is invalidated mid-pass. It converges because
// the number of active evaluators is monotonically non-increasing.
func scoreMutations(ai *Integrator, muts []Mutation, cfg PolishConfig) (scoredMuts []ScoredMutation, mutationsTested int) {
	for {
		baseline := ai.LL()
		scoredMuts = scoredMuts[:0]
		mutationsTested = 0
		invalidated := false

		for _, mut := range muts {
			mutationsTested++
			if cfg.Diploid && !mut.IsDeletion() && mut.Bases() == diploidSentinel {
				// the sentinel marks a nascent diploid site: run the
				// binomial test over the per-read best-base histogram
				histogram := ai.BestMutationHistogram(mut.Start(), mut.Type())

				coverage := 0
				for _, entry := range histogram {
					coverage += entry.Count
				}

				// 1. enough absolute coverage to contemplate a
				//    diploid call?
				if coverage < minCoverage {
					continue
				}

				// 2. do the two most frequent alleles cover enough?
				if float64(histogram[0].Count+histogram[1].Count) < float64(coverage)*majorityFraction {
					continue
				}

				// 3. the binomial test proper
				pValue := binomialCDF(histogram[0].Count, coverage, 1-cfg.DiploidErrorRate)
				if pValue > significanceLevel {
					continue
				}

				// 4. is the minor allele above a minimum frequency?
				if float64(histogram[1].Count) < float64(coverage)*minFractionMinor {
					continue
				}

				ambiguous := AmbiguousBase(histogram[0].Base, histogram[1].Base)

				// a site whose ambiguity code is already in place has
				// been called in an earlier round; re-applying the
				// identity edit would keep the driver from converging
				if mut.Type() == SubstitutionType && ai.BaseAt(mut.Start()) == ambiguous {
					continue
				}
				if mut.Type() == InsertionType &&
					((mut.Start() > 0 && ai.BaseAt(mut.Start()-1) == ambiguous) ||
						(mut.Start() < ai.TemplateLength() && ai.BaseAt(mut.Start()) == ambiguous)) {
					continue
				}

				var newMutation Mutation
				if mut.Type() == InsertionType {
					newMutation = NewInsertion(mut.Start(), string(ambiguous))
				} else {
					newMutation = NewSubstitution(mut.Start(), string(ambiguous))
				}

				ll, err := ai.LLMutation(newMutation)
				if err != nil {
					invalidated = true
					break
				}
				scoredMuts = append(scoredMuts, newMutation.WithScore(ll).WithPValue(pValue))
			} else {
				if strings.Contains(mut.Bases(), diploidSentinel) {
					log.Panicf("diploid sentinel reappeared in %v", mut)
				}
				ll, err := ai.LLMutation(mut)
				if err != nil {
					invalidated = true
					break
				}
				if ll > baseline {
					scoredMuts = append(scoredMuts, mut.WithScore(ll))
				}
			}
		}

		if !invalidated {
			return scoredMuts, mutationsTested
		}
		// an evaluator dropped out mid-pass; all scores are relative
		// to a stale baseline, so start the pass over
	}
}

// Polish iteratively refines the template of the given integrator:
// propose candidate edits, score them against all reads, apply a
// non-overlapping best set, and repeat until no edit improves the
// likelihood or the iteration cap is reached.
func Polish(ai *Integrator, cfg PolishConfig) PolishResult {
	muts := AllMutations(ai, cfg.Diploid)
	oldTpl := internal.StringHash(ai.String())
	history := map[uint64]bool{oldTpl: true}

	var result PolishResult
	// keep track of the changes to the original template over many rounds
	mutTracker := NewMutationTracker(ai.String())

	for i := 0; i < cfg.MaximumIterations; i++ {
		scoredMuts, mutationsTested := scoreMutations(ai, muts, cfg)
		result.MutationsTested += mutationsTested

		// take the best mutations in the separation window
		muts = BestMutations(scoredMuts, cfg.MutationSeparation)

		if len(muts) == 0 {
			result.HasConverged = true

			if cfg.Diploid {
				result.DiploidSites = mutTracker.MappingToOriginalTpl()
			}

			return result
		}

		newTpl := internal.StringHash(ApplyMutations(ai.String(), muts))

		if history[newTpl] {
			/* Cyclic behavior guard: with some inputs the template
			   mutates back to an earlier version, because accepting
			   mutations X and Y together makes removing X and Y
			   beneficial again. Applying only the single best mutation
			   removes the interaction between them and breaks the
			   cycle. BestMutations emits mutations best-first, so the
			   front of the list is the single best one. */
			first := muts[:1]
			ai.ApplyMutation(first[0])
			mutTracker.AddSortedMutations(first)
			oldTpl = internal.StringHash(ai.String())
			result.MutationsApplied++

			result.recordDiagnostics(ai)

			// reseed candidates around the single applied mutation
			muts = NearbyMutations(first, first, ai, cfg.MutationNeighborhood, cfg.Diploid)
		} else {
			batch := make([]Mutation, len(muts))
			copy(batch, muts)
			SortBySite(batch)
			ai.ApplyMutations(batch)
			mutTracker.AddSortedMutations(batch)
			oldTpl = newTpl
			result.MutationsApplied += len(muts)

			result.recordDiagnostics(ai)

			muts = NearbyMutations(muts, muts, ai, cfg.MutationNeighborhood, cfg.Diploid)
		}

		history[oldTpl] = true
	}

	return result
}

// PolishRepeats refines the template with tandem-repeat expansions
// and contractions only, accepting the single best improvement per
// round.
func PolishRepeats(ai *Integrator, cfg RepeatConfig) PolishResult {
	var result PolishResult

	for i := 0; i < cfg.MaximumIterations; i++ {
		muts := RepeatMutations(ai, cfg)

		var bestMut *ScoredMutation
		mutationsTested := 0

		// if an evaluator is invalidated, restart the pass
		for {
			baseline := ai.LL()
			bestMut = nil
			mutationsTested = 0
			invalidated := false
			for _, mut := range muts {
				mutationsTested++
				ll, err := ai.LLMutation(mut)
				if err != nil {
					invalidated = true
					break
				}
				if ll > baseline && (bestMut == nil || bestMut.Score < ll) {
					scored := mut.WithScore(ll)
					bestMut = &scored
				}
			}
			if !invalidated {
				break
			}
		}

		result.MutationsTested += mutationsTested

		if bestMut == nil {
			result.HasConverged = true
			break
		}

		ai.ApplyMutation(bestMut.Mutation)
		result.MutationsApplied++
		result.recordDiagnostics(ai)
	}

	return result
}
