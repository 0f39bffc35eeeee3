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
	"fmt"

	"github.com/exascience/elpolish/internal"
	"github.com/exascience/elpolish/utils"
	"github.com/exascience/pargo/pipeline"
)

// ElreadsHeader is the header line that every .elreads file starts with.
const ElreadsHeader = "# elreads format version 1.0\n"

// ParseRead parses one tab-separated .elreads line: template name,
// read name, strand, mapped start, mapped end, base calls, insertion
// QVs, deletion QVs, substitution QVs, merge QVs, deletion tags, and
// chemistry. Quality tracks and deletion tags may be "*".
func (sc *StringScanner) ParseRead() (template string, read *MappedRead) {
	template = sc.ReadString()
	read = &MappedRead{}
	read.Name = sc.ReadString()
	switch strand := sc.ReadString(); strand {
	case "+":
		read.Strand = ForwardStrand
	case "-":
		read.Strand = ReverseStrand
	default:
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid strand %v in read %v", strand, read.Name)
		}
		return "", nil
	}
	read.TemplateStart = sc.ReadInt()
	read.TemplateEnd = sc.ReadInt()
	read.Seq = sc.ReadString()
	read.InsQV = sc.ReadQVs()
	read.DelQV = sc.ReadQVs()
	read.SubQV = sc.ReadQVs()
	read.MergeQV = sc.ReadQVs()
	if delTag := sc.ReadString(); delTag != "*" {
		read.DelTag = delTag
	}
	read.Chemistry = utils.Intern(sc.ReadString())
	if sc.err != nil {
		return "", nil
	}
	return template, read
}

// FromElreadsFile loads mapped reads from an .elreads file, grouped
// by template name.
func FromElreadsFile(filename string) (reads map[string][]*MappedRead, err error) {
	in := internal.FileOpen(filename)
	defer internal.Close(in)
	input := bufio.NewReader(in)
	header, err := input.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if header != ElreadsHeader {
		return nil, fmt.Errorf("%v is not a .elreads file - invalid header", filename)
	}
	var p pipeline.Pipeline
	p.Source(pipeline.NewScanner(input))
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		strs := data.([]string)
		reads := make(map[string][]*MappedRead)
		var sc StringScanner
		for _, str := range strs {
			sc.Reset(str)
			template, read := sc.ParseRead()
			if err := sc.Err(); err != nil {
				p.SetErr(fmt.Errorf("%v, while parsing read line %v", err, str))
				return reads
			}
			reads[template] = append(reads[template], read)
		}
		return reads
	})))
	reads = make(map[string][]*MappedRead)
	p.Add(pipeline.Ord(pipeline.Receive(func(_ int, data interface{}) interface{} {
		for template, templateReads := range data.(map[string][]*MappedRead) {
			reads[template] = append(reads[template], templateReads...)
		}
		return data
	})))
	p.Run()
	if err = p.Err(); err != nil {
		return nil, err
	}
	return
}
