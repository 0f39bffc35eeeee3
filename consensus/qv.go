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
)

// QualityValues holds the per-base quality value tracks of a
// polished template: the overall QV plus the deletion, insertion, and
// substitution components. All tracks have one entry per template
// base; the trailing insertion position is not represented.
type QualityValues struct {
	Qualities       []int
	DeletionQVs     []int
	InsertionQVs    []int
	SubstitutionQVs []int
}

// ProbabilityToQV converts an error probability into a phred-scaled
// quality value. Probabilities outside [0, 1] are a programming
// error; a probability of 0 clamps to the smallest positive double
// rather than producing an infinite QV.
func ProbabilityToQV(probability float64) int {
	if probability < 0.0 || probability > 1.0 || math.IsNaN(probability) {
		log.Panicf("invalid value: probability %v not in [0,1]", probability)
	}
	if probability == 0.0 {
		probability = math.SmallestNonzeroFloat64
	}
	return int(math.Round(-10.0 * math.Log10(probability)))
}

// ScoreSumToQV converts an accumulated sum of exp(delta) mutation
// scores into a quality value.
func ScoreSumToQV(scoreSum float64) int {
	return ProbabilityToQV(1.0 - 1.0/(1.0+scoreSum))
}

// ConsensusQualities computes the overall per-base quality values of
// the current template. Individual mutations the evaluators cannot
// score are logged and skipped, so a position's QV reflects only the
// scorable alternatives.
func ConsensusQualities(ai *Integrator) []int {
	quals := make([]int, 0, ai.TemplateLength())
	baseline := ai.LL()
	for i := 0; i < ai.TemplateLength(); i++ {
		scoreSum := 0.0
		for _, m := range Mutations(ai, i, i+1, false) {
			// skip mutations that start beyond the current site
			// (e.g. trailing insertions)
			if m.Start() > i {
				continue
			}
			ll, err := ai.LLMutation(m)
			if err != nil {
				log.Printf("in ConsensusQualities: skipping %v: %v", m, err)
				continue
			}
			if score := ll - baseline; score < 0 {
				scoreSum += math.Exp(score)
			}
		}
		quals = append(quals, ScoreSumToQV(scoreSum))
	}
	return quals
}

// ConsensusQVs computes the per-base quality values of the current
// template, partitioned into overall, deletion, insertion, and
// substitution components. Individual mutations the evaluators
// cannot score are logged and skipped.
func ConsensusQVs(ai *Integrator) QualityValues {
	length := ai.TemplateLength()
	quals := make([]int, 0, length)
	delQVs := make([]int, 0, length)
	insQVs := make([]int, 0, length)
	subQVs := make([]int, 0, length)
	baseline := ai.LL()
	for i := 0; i < length; i++ {
		var qualScoreSum, delScoreSum, insScoreSum, subScoreSum float64
		for _, m := range Mutations(ai, i, i+1, false) {
			// skip mutations that start beyond the current site
			// (e.g. trailing insertions)
			if m.Start() > i {
				continue
			}
			ll, err := ai.LLMutation(m)
			if err != nil {
				log.Printf("in ConsensusQVs: skipping %v: %v", m, err)
				continue
			}
			score := ll - baseline
			// an alternative that scores at least as well as the
			// current template would have been accepted by polishing
			if score >= 0.0 {
				continue
			}
			expScore := math.Exp(score)
			qualScoreSum += expScore
			if m.IsDeletion() {
				delScoreSum += expScore
			} else if m.Start() == m.End() {
				insScoreSum += expScore
			} else {
				subScoreSum += expScore
			}
		}
		quals = append(quals, ScoreSumToQV(qualScoreSum))
		delQVs = append(delQVs, ScoreSumToQV(delScoreSum))
		insQVs = append(insQVs, ScoreSumToQV(insScoreSum))
		subQVs = append(subQVs, ScoreSumToQV(subScoreSum))
	}
	return QualityValues{
		Qualities:       quals,
		DeletionQVs:     delQVs,
		InsertionQVs:    insQVs,
		SubstitutionQVs: subQVs,
	}
}
