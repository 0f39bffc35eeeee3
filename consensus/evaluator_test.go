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
	"fmt"
	"math"
	"testing"

	"github.com/exascience/elpolish/data"
	"github.com/exascience/elpolish/intervals"
	"github.com/exascience/elpolish/utils"
)

var testChemistry = utils.Intern("S/P2-C2/5.0")

func testRead(name string, strand data.StrandType, start, end int, seq string) *data.MappedRead {
	return &data.MappedRead{
		Name:          name,
		Strand:        strand,
		TemplateStart: start,
		TemplateEnd:   end,
		Seq:           seq,
		Chemistry:     testChemistry,
	}
}

func testEvaluator(tpl string, read *data.MappedRead) *Evaluator {
	window := []byte(tpl)[read.TemplateStart:read.TemplateEnd]
	local := make([]byte, len(window))
	copy(local, window)
	return newEvaluator(read, local, read.TemplateStart, NewIntegratorConfig())
}

func TestEvaluatorLLFinite(t *testing.T) {
	tpl := "ACGTACGTACGT"
	eval := testEvaluator(tpl, testRead("read1", data.ForwardStrand, 0, len(tpl), tpl))
	if eval.State() != data.StateValid {
		t.Fatalf("evaluator state %v for a perfect read", eval.State())
	}
	ll := eval.LL()
	if math.IsNaN(ll) || math.IsInf(ll, 0) || ll >= 0 {
		t.Errorf("implausible log-likelihood %v", ll)
	}
}

func TestEvaluatorPrefersMatchingTemplate(t *testing.T) {
	matching := testEvaluator("ACGTACGT", testRead("read1", data.ForwardStrand, 0, 8, "ACGTACGT"))
	mismatching := testEvaluator("ACGTTCGT", testRead("read2", data.ForwardStrand, 0, 8, "ACGTACGT"))
	if matching.LL() <= mismatching.LL() {
		t.Errorf("matching template %v not preferred over mismatching %v", matching.LL(), mismatching.LL())
	}
}

func TestEvaluatorLLMutationImprovement(t *testing.T) {
	// the template carries an error at position 4; the correcting
	// substitution must improve the likelihood, others must not
	eval := testEvaluator("ACGTTCGT", testRead("read1", data.ForwardStrand, 0, 8, "ACGTACGT"))
	baseline := eval.LL()
	correcting, err := eval.LLMutation(NewSubstitution(4, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if correcting <= baseline {
		t.Errorf("correcting substitution did not improve: %v <= %v", correcting, baseline)
	}
	wrong, err := eval.LLMutation(NewSubstitution(0, "G"))
	if err != nil {
		t.Fatal(err)
	}
	if wrong >= baseline {
		t.Errorf("damaging substitution improved: %v >= %v", wrong, baseline)
	}
}

func TestEvaluatorLLMutationDisjoint(t *testing.T) {
	// a mutation outside the read's mapped window leaves its
	// likelihood unchanged
	tpl := "ACGTACGTACGTACGT"
	eval := testEvaluator(tpl, testRead("read1", data.ForwardStrand, 8, 16, "ACGTACGT"))
	baseline := eval.LL()
	ll, err := eval.LLMutation(NewSubstitution(2, "T"))
	if err != nil {
		t.Fatal(err)
	}
	if ll != baseline {
		t.Errorf("disjoint mutation changed the likelihood: %v != %v", ll, baseline)
	}
}

func TestEvaluatorApplyMutation(t *testing.T) {
	eval := testEvaluator("ACGTTCGT", testRead("read1", data.ForwardStrand, 0, 8, "ACGTACGT"))
	predicted, err := eval.LLMutation(NewSubstitution(4, "A"))
	if err != nil {
		t.Fatal(err)
	}
	eval.ApplyMutation(NewSubstitution(4, "A"))
	if math.Abs(eval.LL()-predicted) > 1e-6 {
		t.Errorf("applied likelihood %v does not match prediction %v", eval.LL(), predicted)
	}
	if string(eval.tpl) != "ACGTACGT" {
		t.Errorf("template view not updated: %v", string(eval.tpl))
	}
}

func TestEvaluatorApplyMutationBeforeWindow(t *testing.T) {
	tpl := "ACGTACGTACGTACGT"
	eval := testEvaluator(tpl, testRead("read1", data.ForwardStrand, 8, 16, "ACGTACGT"))
	baseline := eval.LL()
	eval.ApplyMutation(NewDeletion(2, 1))
	if eval.tplStart != 7 {
		t.Errorf("window start not shifted: %v", eval.tplStart)
	}
	if eval.LL() != baseline {
		t.Error("likelihood changed by a mutation before the window")
	}
}

func TestEvaluatorMaskedIntervalNeutral(t *testing.T) {
	eval := testEvaluator("ACGTTCGT", testRead("read1", data.ForwardStrand, 0, 8, "ACGTACGT"))
	baseline := eval.LL()
	eval.maskWindows([]intervals.Interval{{Start: 3, End: 6}})
	ll, err := eval.LLMutation(NewSubstitution(4, "A"))
	if err != nil {
		t.Fatal(err)
	}
	if ll != baseline {
		t.Errorf("masked mutation was scored: %v != %v", ll, baseline)
	}
	// outside the mask, scoring proceeds as usual
	if _, err := eval.LLMutation(NewSubstitution(0, "G")); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluatorTemplateTooSmall(t *testing.T) {
	eval := testEvaluator("ACGT", testRead("read1", data.ForwardStrand, 0, 1, "A"))
	if eval.State() != data.StateTemplateTooSmall {
		t.Errorf("expected TEMPLATE_TOO_SMALL, got %v", eval.State())
	}
	if _, err := eval.LLMutation(NewSubstitution(0, "C")); err != ErrInvalidEvaluator {
		t.Error("invalid evaluator accepted a mutation query")
	}
}

func TestEvaluatorAmbiguousTemplate(t *testing.T) {
	// an ambiguity code explains a mixed read population better than
	// either haploid base explains the opposite allele
	pure := testEvaluator("ACGT", testRead("read1", data.ForwardStrand, 0, 4, "ACAT"))
	mixed := testEvaluator("ACRT", testRead("read2", data.ForwardStrand, 0, 4, "ACAT"))
	if mixed.LL() <= pure.LL() {
		t.Errorf("ambiguous template did not help the minor allele: %v <= %v", mixed.LL(), pure.LL())
	}
}

func TestEvaluatorDiagnostics(t *testing.T) {
	eval := testEvaluator("ACGTACGT", testRead("read1", data.ForwardStrand, 0, 8, "ACGTACGT"))
	if r := eval.AlphaPopulatedRatio(); r <= 0 || r > 1 {
		t.Errorf("implausible alpha populated ratio %v", r)
	}
	if r := eval.BetaPopulatedRatio(); r <= 0 || r > 1 {
		t.Errorf("implausible beta populated ratio %v", r)
	}
	if eval.Alpha().Rows() != 9 || eval.Alpha().Cols() != 9 {
		t.Errorf("unexpected alpha dimensions %vx%v", eval.Alpha().Rows(), eval.Alpha().Cols())
	}
	if eval.ReadName() != "read1" || eval.Strand() != data.ForwardStrand {
		t.Error("read diagnostics failed")
	}
	mean, variance := eval.NormalParameters()
	if variance <= 0 {
		t.Errorf("implausible normal parameters %v, %v", mean, variance)
	}
}

func TestEvaluatorZScoreSane(t *testing.T) {
	for _, n := range []int{8, 16, 32} {
		tpl := ""
		for i := 0; i < n; i++ {
			tpl += string("ACGT"[i%4])
		}
		eval := testEvaluator(tpl, testRead(fmt.Sprint("read", n), data.ForwardStrand, 0, n, tpl))
		if z := eval.ZScore(); math.Abs(z) > 3.4 {
			t.Errorf("perfect read of length %v has extreme z-score %v", n, z)
		}
	}
}
