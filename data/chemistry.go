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
	"bufio"
	"bytes"
	"log"
	"sort"

	"github.com/exascience/elpolish/internal"
)

// A ChemistryTriple identifies the sequencing chemistry a read was
// produced with: the binding kit, the sequencing kit, and the
// major/minor version of the base caller.
type ChemistryTriple struct {
	BindingKit    uint32
	SequencingKit uint32
	MajorVersion  uint32
	MinorVersion  uint32
}

// Less imposes a lexicographic ordering on chemistry triples, field
// by field. A plain or of field-wise < comparisons is not a strict
// weak ordering and breaks sorted lookups.
func (t ChemistryTriple) Less(other ChemistryTriple) bool {
	if t.BindingKit != other.BindingKit {
		return t.BindingKit < other.BindingKit
	}
	if t.SequencingKit != other.SequencingKit {
		return t.SequencingKit < other.SequencingKit
	}
	if t.MajorVersion != other.MajorVersion {
		return t.MajorVersion < other.MajorVersion
	}
	return t.MinorVersion < other.MinorVersion
}

type chemistryEntry struct {
	triple ChemistryTriple
	model  string
}

// A ChemistryMapping maps chemistry triples to pair-HMM model names.
type ChemistryMapping struct {
	entries []chemistryEntry
}

// NewChemistryMapping creates a mapping from parallel slices of
// triples and model names.
func NewChemistryMapping(triples []ChemistryTriple, models []string) *ChemistryMapping {
	if len(triples) != len(models) {
		log.Panicf("chemistry mapping with %v triples for %v models", len(triples), len(models))
	}
	mapping := &ChemistryMapping{entries: make([]chemistryEntry, len(triples))}
	for i, triple := range triples {
		mapping.entries[i] = chemistryEntry{triple: triple, model: models[i]}
	}
	sort.SliceStable(mapping.entries, func(i, j int) bool {
		return mapping.entries[i].triple.Less(mapping.entries[j].triple)
	})
	return mapping
}

// MapTriple returns the model name for the given chemistry triple,
// or the fallback if the triple is unknown.
func (mapping *ChemistryMapping) MapTriple(triple ChemistryTriple, fallback string) string {
	entries := mapping.entries
	index := sort.Search(len(entries), func(i int) bool {
		return !entries[i].triple.Less(triple)
	})
	if index < len(entries) && entries[index].triple == triple {
		return entries[index].model
	}
	return fallback
}

// ParseChemistryMapping parses a tab-separated chemistry mapping file
// with one binding-kit/sequencing-kit/major/minor/model line per
// chemistry.
func ParseChemistryMapping(filename string) *ChemistryMapping {
	f := internal.FileOpen(filename)
	defer internal.Close(f)

	var triples []ChemistryTriple
	var models []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		fields := bytes.Split(b, []byte("\t"))
		if len(fields) != 5 {
			log.Panicf("badly formatted chemistry mapping file %v - invalid number of entries", filename)
		}
		triples = append(triples, ChemistryTriple{
			BindingKit:    uint32(internal.ParseInt(string(fields[0]), 10, 32)),
			SequencingKit: uint32(internal.ParseInt(string(fields[1]), 10, 32)),
			MajorVersion:  uint32(internal.ParseInt(string(fields[2]), 10, 32)),
			MinorVersion:  uint32(internal.ParseInt(string(fields[3]), 10, 32)),
		})
		models = append(models, string(fields[4]))
	}
	if err := scanner.Err(); err != nil {
		log.Panic(err)
	}

	return NewChemistryMapping(triples, models)
}
