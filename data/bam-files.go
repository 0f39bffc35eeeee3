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
	"fmt"
	"io"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"

	"github.com/exascience/elpolish/utils"
)

// PacBio-style per-base feature tags carried in BAM optional fields.
var (
	insQVTag   = sam.NewTag("iq")
	delQVTag   = sam.NewTag("dq")
	subQVTag   = sam.NewTag("sq")
	mergeQVTag = sam.NewTag("mq")
	delTagTag  = sam.NewTag("dt")
	readGroup  = sam.NewTag("RG")
)

func auxString(record *sam.Record, tag sam.Tag) string {
	if aux := record.AuxFields.Get(tag); aux != nil {
		if s, ok := aux.Value().(string); ok {
			return s
		}
	}
	return ""
}

func phred33Track(s string) []byte {
	if s == "" {
		return nil
	}
	track := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		track[i] = s[i] - '!'
	}
	return track
}

var complementTable = [256]byte{
	'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A', 'N': 'N',
	'M': 'K', 'K': 'M', 'R': 'Y', 'Y': 'R', 'W': 'W', 'S': 'S',
}

// ReverseComplement returns the reverse complement of the given
// sequence, preserving IUPAC ambiguity codes.
func ReverseComplement(seq string) string {
	result := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c := complementTable[seq[len(seq)-1-i]]
		if c == 0 {
			c = 'N'
		}
		result[i] = c
	}
	return string(result)
}

func reverseBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	result := make([]byte, len(b))
	for i := range b {
		result[i] = b[len(b)-1-i]
	}
	return result
}

func reverseString(s string) string {
	if s == "" {
		return ""
	}
	return string(reverseBytes([]byte(s)))
}

// recordToMappedRead converts a BAM record to a MappedRead. BAM
// stores base calls in forward-reference orientation; reverse-strand
// reads are flipped back to their native orientation, which is what
// the evaluators score.
func recordToMappedRead(record *sam.Record) *MappedRead {
	read := &MappedRead{
		Name:          record.Name,
		TemplateStart: record.Pos,
		TemplateEnd:   record.End(),
		Seq:           string(record.Seq.Expand()),
		InsQV:         phred33Track(auxString(record, insQVTag)),
		DelQV:         phred33Track(auxString(record, delQVTag)),
		SubQV:         phred33Track(auxString(record, subQVTag)),
		MergeQV:       phred33Track(auxString(record, mergeQVTag)),
		DelTag:        auxString(record, delTagTag),
		Chemistry:     utils.Intern(auxString(record, readGroup)),
	}
	if record.Flags&sam.Reverse != 0 {
		read.Strand = ReverseStrand
		read.Seq = ReverseComplement(read.Seq)
		read.InsQV = reverseBytes(read.InsQV)
		read.DelQV = reverseBytes(read.DelQV)
		read.SubQV = reverseBytes(read.SubQV)
		read.MergeQV = reverseBytes(read.MergeQV)
		read.DelTag = ReverseComplement(read.DelTag)
	}
	return read
}

// FromBamFile loads mapped reads from a BAM file, grouped by
// reference name. Unmapped and secondary records are skipped.
func FromBamFile(filename string) (reads map[string][]*MappedRead, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if nerr := f.Close(); err == nil {
			err = nerr
		}
	}()
	reader, err := bam.NewReader(f, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create BAM reader for %v: %w", filename, err)
	}
	defer func() {
		if nerr := reader.Close(); err == nil {
			err = nerr
		}
	}()
	reads = make(map[string][]*MappedRead)
	for {
		record, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("failed to read BAM record in %v: %w", filename, rerr)
		}
		if record.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary) != 0 {
			continue
		}
		if record.Ref == nil {
			continue
		}
		reads[record.Ref.Name()] = append(reads[record.Ref.Name()], recordToMappedRead(record))
	}
	return reads, nil
}
