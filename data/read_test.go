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
	"testing"

	"github.com/exascience/elpolish/utils"
)

func validRead() *MappedRead {
	return &MappedRead{
		Name:          "movie/0/0_4",
		Strand:        ForwardStrand,
		TemplateStart: 0,
		TemplateEnd:   4,
		Seq:           "ACGT",
		Chemistry:     utils.Intern("S/P2-C2/5.0"),
	}
}

func TestMappedReadValidate(t *testing.T) {
	if err := validRead().Validate(4); err != nil {
		t.Errorf("valid read rejected: %v", err)
	}
	read := validRead()
	read.Name = ""
	if read.Validate(4) == nil {
		t.Error("read without a name accepted")
	}
	read = validRead()
	read.Seq = ""
	if read.Validate(4) == nil {
		t.Error("read without base calls accepted")
	}
	read = validRead()
	read.TemplateEnd = 5
	if read.Validate(4) == nil {
		t.Error("read beyond the template accepted")
	}
	read = validRead()
	read.TemplateStart = 4
	if read.Validate(4) == nil {
		t.Error("read with an empty mapped interval accepted")
	}
	read = validRead()
	read.InsQV = []byte{10, 10}
	if read.Validate(4) == nil {
		t.Error("read with a short quality track accepted")
	}
	read = validRead()
	read.DelTag = "NNN"
	if read.Validate(4) == nil {
		t.Error("read with a short deletion tag track accepted")
	}
	read = validRead()
	read.Seq = "ACXT"
	if read.Validate(4) == nil {
		t.Error("read with an invalid base accepted")
	}
}

func TestReverseComplement(t *testing.T) {
	if ReverseComplement("ACGT") != "ACGT" {
		t.Error("palindrome reverse complement failed")
	}
	if ReverseComplement("AACG") != "CGTT" {
		t.Error("reverse complement failed")
	}
	if ReverseComplement(ReverseComplement("GATTACA")) != "GATTACA" {
		t.Error("reverse complement is not an involution")
	}
	// ambiguity codes complement onto their counterpart codes
	if ReverseComplement("MRWSYK") != "MRSWYK" {
		t.Error("ambiguity code reverse complement failed")
	}
	if ReverseComplement("AM") != "KT" {
		t.Error("mixed ambiguity reverse complement failed")
	}
}

func TestParseReadLine(t *testing.T) {
	var sc StringScanner
	sc.Reset("amplicon1\tmovie/1/0_4\t+\t0\t4\tACGT\t!+5?\t!+5?\t!+5?\t!+5?\tNNNN\tS/P2-C2/5.0")
	template, read := sc.ParseRead()
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if template != "amplicon1" || read.Name != "movie/1/0_4" {
		t.Error("names not parsed")
	}
	if read.Strand != ForwardStrand || read.TemplateStart != 0 || read.TemplateEnd != 4 {
		t.Error("mapping not parsed")
	}
	if read.Seq != "ACGT" || read.DelTag != "NNNN" {
		t.Error("sequence tracks not parsed")
	}
	if len(read.InsQV) != 4 || read.InsQV[0] != 0 || read.InsQV[1] != 10 || read.InsQV[2] != 20 || read.InsQV[3] != 30 {
		t.Errorf("quality track not decoded: %v", read.InsQV)
	}
	if *read.Chemistry != "S/P2-C2/5.0" {
		t.Error("chemistry not interned")
	}

	sc.Reset("amplicon1\tmovie/2/0_4\t-\t0\t4\tACGT\t*\t*\t*\t*\t*\tS/P2-C2/5.0")
	_, read = sc.ParseRead()
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	if read.Strand != ReverseStrand || read.InsQV != nil || read.DelTag != "" {
		t.Error("missing tracks not handled")
	}

	sc.Reset("amplicon1\tmovie/3/0_4\t?\t0\t4\tACGT\t*\t*\t*\t*\t*\tchem")
	if _, read := sc.ParseRead(); read != nil || sc.Err() == nil {
		t.Error("invalid strand accepted")
	}
}
