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
	"math"
	"sort"

	"github.com/exascience/elpolish/data"
)

// IntegratorConfig contains user-provided filtering information for
// the evaluators.
type IntegratorConfig struct {
	// evaluators whose z-score falls below MinZScore are disabled
	MinZScore float64
	// ScoreDiff is the likelihood window within which an evaluator
	// trusts its banded matrices; shifts beyond it force a retry
	ScoreDiff float64
}

// NewIntegratorConfig returns the default integrator configuration.
func NewIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{MinZScore: -3.4, ScoreDiff: 25.0}
}

/*
An Integrator holds the evaluators of all reads mapped to the same
template, typically one genomic region or amplicon. It maintains the
forward template and its reverse complement in sync, fans hypothetical
mutation queries out over the evaluators, and aggregates their
log-likelihoods and diagnostics.

An Integrator is not safe for concurrent use; run independent
integrators on separate goroutines instead.
*/
type Integrator struct {
	cfg    IntegratorConfig
	evals  []*Evaluator
	fwdTpl []byte
	revTpl []byte
}

// NewIntegrator initializes an Integrator for the given draft
// template. An empty template is a programming error.
func NewIntegrator(tpl string, cfg IntegratorConfig) *Integrator {
	if len(tpl) == 0 {
		log.Panic("cannot polish an empty template")
	}
	return &Integrator{
		cfg:    cfg,
		fwdTpl: []byte(tpl),
		revTpl: []byte(data.ReverseComplement(tpl)),
	}
}

// TemplateLength returns the current template length.
func (ai *Integrator) TemplateLength() int { return len(ai.fwdTpl) }

// BaseAt returns base i of the current template.
func (ai *Integrator) BaseAt(i int) byte { return ai.fwdTpl[i] }

func (ai *Integrator) String() string { return string(ai.fwdTpl) }

// AddRead encapsulates the read in an evaluator and stores it. The
// evaluator receives the template view matching the read's strand and
// mapped interval. Returns the resulting evaluator state.
func (ai *Integrator) AddRead(read *data.MappedRead) data.State {
	if err := read.Validate(len(ai.fwdTpl)); err != nil {
		log.Panic(err)
	}
	var window []byte
	var windowStart int
	if read.Strand == data.ForwardStrand {
		windowStart = read.TemplateStart
		window = ai.fwdTpl[read.TemplateStart:read.TemplateEnd]
	} else {
		windowStart = len(ai.revTpl) - read.TemplateEnd
		window = ai.revTpl[windowStart : len(ai.revTpl)-read.TemplateStart]
	}
	tpl := make([]byte, len(window))
	copy(tpl, window)
	eval := newEvaluator(read, tpl, windowStart, ai.cfg)
	ai.evals = append(ai.evals, eval)
	return eval.State()
}

// LL returns the sum of log-likelihoods over the active evaluators
// for the current template.
func (ai *Integrator) LL() float64 {
	var sum float64
	for _, eval := range ai.evals {
		if eval.State().IsActive() {
			sum += eval.LL()
		}
	}
	return sum
}

// strandMutation translates a forward-coordinate mutation into the
// coordinate system of the given strand.
func (ai *Integrator) strandMutation(mut Mutation, strand data.StrandType) Mutation {
	if strand == data.ForwardStrand {
		return mut
	}
	length := len(ai.fwdTpl)
	switch mut.Type() {
	case InsertionType:
		return NewInsertion(length-mut.Start(), data.ReverseComplement(mut.Bases()))
	case DeletionType:
		return NewDeletion(length-mut.End(), mut.Length())
	default:
		return NewSubstitution(length-mut.End(), data.ReverseComplement(mut.Bases()))
	}
}

// LLMutation returns the sum of log-likelihoods over the active
// evaluators, assuming the mutation were applied. When any evaluator
// fails to score the mutation it is invalidated and the whole call
// fails with ErrInvalidEvaluator; the caller must rescore all
// mutations of interest, as the number of active evaluators changed.
func (ai *Integrator) LLMutation(mut Mutation) (float64, error) {
	lls, err := ai.LLs(mut)
	if err != nil {
		return math.Inf(-1), err
	}
	var sum float64
	for _, ll := range lls {
		sum += ll
	}
	return sum, nil
}

// LLs returns one log-likelihood per active evaluator for the given
// mutation; invalid evaluators are omitted. The same invalidation
// protocol as for LLMutation applies.
func (ai *Integrator) LLs(mut Mutation) ([]float64, error) {
	lls := make([]float64, 0, len(ai.evals))
	for _, eval := range ai.evals {
		if !eval.State().IsActive() {
			continue
		}
		ll, err := eval.LLMutation(ai.strandMutation(mut, eval.Strand()))
		if err != nil {
			log.Printf("read %v invalidated with state %v while scoring %v", eval.ReadName(), eval.State(), mut)
			return nil, ErrInvalidEvaluator
		}
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			eval.invalidate(data.StateDisabled)
			log.Printf("read %v produced a non-finite likelihood for %v", eval.ReadName(), mut)
			return nil, ErrInvalidEvaluator
		}
		lls = append(lls, ll)
	}
	return lls, nil
}

// ApplyMutation commits a mutation to the current template,
// propagating it to every evaluator's template view.
func (ai *Integrator) ApplyMutation(mut Mutation) {
	if mut.Start() < 0 || mut.End() > len(ai.fwdTpl) {
		log.Panicf("mutation %v outside template of length %v", mut, len(ai.fwdTpl))
	}
	revMut := ai.strandMutation(mut, data.ReverseStrand)
	for _, eval := range ai.evals {
		if eval.Strand() == data.ForwardStrand {
			eval.ApplyMutation(mut)
		} else {
			eval.ApplyMutation(revMut)
		}
	}
	ai.fwdTpl = []byte(ApplyMutations(string(ai.fwdTpl), []Mutation{mut}))
	ai.revTpl = []byte(data.ReverseComplement(string(ai.fwdTpl)))
}

// ApplyMutations commits a batch of pairwise non-overlapping
// mutations, applying them right to left so earlier-site mutations
// keep their coordinates.
func (ai *Integrator) ApplyMutations(muts []Mutation) {
	sorted := make([]Mutation, len(muts))
	copy(sorted, muts)
	SortBySite(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		ai.ApplyMutation(sorted[i])
	}
}

// BaseCount pairs a base with the number of evaluators voting for it.
type BaseCount struct {
	Base  byte
	Count int
}

// BestMutationHistogram returns, for a locus and mutation type, how
// many active evaluators see their greatest likelihood improvement
// for each of the four bases. An evaluator whose likelihood decreases
// for every base votes for none, so the counts sum to at most the
// number of active evaluators. The result is sorted descending by
// count, with ties broken by base order.
func (ai *Integrator) BestMutationHistogram(start int, mutType MutationType) [4]BaseCount {
	histogram := [4]BaseCount{{Base: 'A'}, {Base: 'C'}, {Base: 'G'}, {Base: 'T'}}
	for _, eval := range ai.evals {
		if !eval.State().IsActive() {
			continue
		}
		best := -1
		bestDelta := math.Inf(-1)
		for b := 0; b < 4; b++ {
			var mut Mutation
			if mutType == InsertionType {
				mut = NewInsertion(start, string(histogram[b].Base))
			} else {
				mut = NewSubstitution(start, string(histogram[b].Base))
			}
			ll, err := eval.LLMutation(ai.strandMutation(mut, eval.Strand()))
			if err != nil {
				// the evaluator is invalidated and simply omitted here
				best = -1
				break
			}
			if delta := ll - eval.LL(); delta > bestDelta {
				best = b
				bestDelta = delta
			}
		}
		// an evaluator whose likelihood decreases for every base
		// votes for none
		if best >= 0 && bestDelta >= 0 {
			histogram[best].Count++
		}
	}
	sort.SliceStable(histogram[:], func(i, j int) bool {
		return histogram[i].Count > histogram[j].Count
	})
	return histogram
}

// MaskIntervals masks intervals of the template for each read where
// the observed error rate is greater than maxErrRate in 1+2*radius
// template bases.
func (ai *Integrator) MaskIntervals(radius int, maxErrRate float64) {
	for _, eval := range ai.evals {
		eval.maskWindows(eval.errorWindows(radius, maxErrRate))
	}
}

// ZScores returns the z-score of each evaluator.
func (ai *Integrator) ZScores() []float64 {
	zs := make([]float64, len(ai.evals))
	for i, eval := range ai.evals {
		zs[i] = eval.ZScore()
	}
	return zs
}

// AvgZScore returns the mean z-score over all evaluators.
func (ai *Integrator) AvgZScore() float64 {
	if len(ai.evals) == 0 {
		return 0
	}
	var sum float64
	for _, eval := range ai.evals {
		sum += eval.ZScore()
	}
	return sum / float64(len(ai.evals))
}

// NumFlipFlops returns the number of flip flop events for each
// evaluator.
func (ai *Integrator) NumFlipFlops() []int {
	ns := make([]int, len(ai.evals))
	for i, eval := range ai.evals {
		ns[i] = eval.NumFlipFlops()
	}
	return ns
}

// MaxNumFlipFlops returns the maximal number of flip flop events of
// all evaluators.
func (ai *Integrator) MaxNumFlipFlops() int {
	var max int
	for _, eval := range ai.evals {
		if n := eval.NumFlipFlops(); n > max {
			max = n
		}
	}
	return max
}

// MaxAlphaPopulated returns the maximal ratio of populated alpha
// matrix cells over all evaluators.
func (ai *Integrator) MaxAlphaPopulated() float64 {
	var max float64
	for _, eval := range ai.evals {
		if r := eval.AlphaPopulatedRatio(); r > max {
			max = r
		}
	}
	return max
}

// MaxBetaPopulated returns the maximal ratio of populated beta
// matrix cells over all evaluators.
func (ai *Integrator) MaxBetaPopulated() float64 {
	var max float64
	for _, eval := range ai.evals {
		if r := eval.BetaPopulatedRatio(); r > max {
			max = r
		}
	}
	return max
}

// States returns the state of each evaluator.
func (ai *Integrator) States() []data.State {
	states := make([]data.State, len(ai.evals))
	for i, eval := range ai.evals {
		states[i] = eval.State()
	}
	return states
}

// StrandTypes returns the strand of each evaluator.
func (ai *Integrator) StrandTypes() []data.StrandType {
	strands := make([]data.StrandType, len(ai.evals))
	for i, eval := range ai.evals {
		strands[i] = eval.Strand()
	}
	return strands
}

// ReadNames returns the read name of each evaluator.
func (ai *Integrator) ReadNames() []string {
	names := make([]string, len(ai.evals))
	for i, eval := range ai.evals {
		names[i] = eval.ReadName()
	}
	return names
}

// GetEvaluator returns read-only access to evaluator idx.
func (ai *Integrator) GetEvaluator(idx int) *Evaluator {
	return ai.evals[idx]
}
