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

// Package data contains the input data model of elpolish: mapped
// reads with their per-base quality feature tracks, evaluator states,
// strands, and sequencing chemistry identification.
package data

import (
	"fmt"

	"github.com/exascience/elpolish/utils"
)

// StrandType tells whether a read maps to the forward or the reverse
// strand of its template.
type StrandType uint8

// Strand types of mapped reads.
const (
	ForwardStrand StrandType = iota
	ReverseStrand
)

func (s StrandType) String() string {
	switch s {
	case ForwardStrand:
		return "FORWARD"
	case ReverseStrand:
		return "REVERSE"
	default:
		return fmt.Sprintf("StrandType(%d)", uint8(s))
	}
}

// State describes the scoring state of an evaluator. Only valid
// evaluators contribute to aggregate likelihoods. An evaluator that
// leaves the valid state never returns to it.
type State uint8

// Evaluator states.
const (
	StateValid State = iota
	StateTemplateTooSmall
	StateAlphaBetaMismatch
	StatePoorZScore
	StateDisabled
)

// IsActive tells whether an evaluator in this state contributes to
// aggregate likelihoods.
func (s State) IsActive() bool {
	return s == StateValid
}

func (s State) String() string {
	switch s {
	case StateValid:
		return "VALID"
	case StateTemplateTooSmall:
		return "TEMPLATE_TOO_SMALL"
	case StateAlphaBetaMismatch:
		return "ALPHA_BETA_MISMATCH"
	case StatePoorZScore:
		return "POOR_ZSCORE"
	case StateDisabled:
		return "DISABLED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// A MappedRead is a base-called read mapped against a draft template,
// together with the per-base quality feature tracks the pair-HMM
// consumes. All feature tracks have the same length as Seq. The
// mapped interval [TemplateStart, TemplateEnd) is given in forward
// template coordinates regardless of strand.
type MappedRead struct {
	Name          string
	Strand        StrandType
	TemplateStart int
	TemplateEnd   int
	Seq           string
	InsQV         []byte
	DelQV         []byte
	SubQV         []byte
	MergeQV       []byte
	DelTag        string
	Chemistry     utils.Symbol
}

// Validate checks the structural invariants of a mapped read.
func (read *MappedRead) Validate(templateLength int) error {
	if read.Name == "" {
		return fmt.Errorf("mapped read without a name")
	}
	if len(read.Seq) == 0 {
		return fmt.Errorf("mapped read %v without base calls", read.Name)
	}
	if read.TemplateStart < 0 || read.TemplateEnd > templateLength || read.TemplateStart >= read.TemplateEnd {
		return fmt.Errorf("mapped read %v has an invalid mapped interval [%v, %v)", read.Name, read.TemplateStart, read.TemplateEnd)
	}
	for _, track := range [][]byte{read.InsQV, read.DelQV, read.SubQV, read.MergeQV} {
		if track != nil && len(track) != len(read.Seq) {
			return fmt.Errorf("mapped read %v has a quality feature track of length %v for %v base calls", read.Name, len(track), len(read.Seq))
		}
	}
	if read.DelTag != "" && len(read.DelTag) != len(read.Seq) {
		return fmt.Errorf("mapped read %v has a deletion tag track of length %v for %v base calls", read.Name, len(read.DelTag), len(read.Seq))
	}
	for i := 0; i < len(read.Seq); i++ {
		switch read.Seq[i] {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return fmt.Errorf("mapped read %v contains invalid base %q", read.Name, read.Seq[i])
		}
	}
	return nil
}
