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

// Package fasta reads draft templates from FASTA and mmappable
// .elfasta files, and writes polished templates as FASTA or FASTQ.
package fasta

import (
	"bufio"
	"encoding/binary"
	"log"
	"os"
	"sync"
	"unicode"

	"github.com/exascience/elpolish/internal"
	"github.com/exascience/elpolish/utils"

	"golang.org/x/sys/unix"
)

func contigFromHeader(b []byte) string {
	i := 1
	for ; i < len(b); i++ {
		if c := b[i]; c >= '!' && c <= '~' {
			break
		}
	}
	j := i + 1
	for ; j < len(b); j++ {
		if c := b[j]; c < '!' || c > '~' {
			break
		}
	}
	return string(b[i:j])
}

// valid draft template bases: the four nucleotides, N, and the
// two-allele ambiguity codes a previous diploid polish may have left
// in place
var templateBases = map[byte]bool{
	'A': true, 'C': true, 'G': true, 'T': true, 'N': true,
	'M': true, 'R': true, 'W': true, 'S': true, 'Y': true, 'K': true,
}

// ParseFasta sequentially parses a FASTA file. Lower-case bases are
// converted to upper case; bases that are not template bases cause a
// panic.
func ParseFasta(filename string) (fasta map[string][]byte) {
	f := internal.FileOpen(filename)
	defer internal.Close(f)

	scanner := bufio.NewScanner(utils.HandleGzip(bufio.NewReader(f)))

	if !scanner.Scan() {
		log.Panicf("empty fasta file %v", filename)
	}
	b := scanner.Bytes()
	for len(b) == 0 {
		if !scanner.Scan() {
			log.Panicf("empty fasta file %v", filename)
		}
		b = scanner.Bytes()
	}
	if b[0] != '>' {
		log.Panicf("invalid fasta file %v - missing first header", filename)
	}

	contig := contigFromHeader(b)
	var seq []byte
	fasta = make(map[string][]byte)

scanLoop:
	for scanner.Scan() {
		b := scanner.Bytes()
		if len(b) == 0 {
			if !scanner.Scan() {
				break scanLoop
			}
			b = scanner.Bytes()
			for len(b) == 0 {
				if !scanner.Scan() {
					break scanLoop
				}
				b = scanner.Bytes()
			}
			if b[0] != '>' {
				log.Panicf("invalid fasta file %v - empty line", filename)
			}
		}
		if b[0] == '>' {
			fasta[contig] = seq
			contig = contigFromHeader(b)
			seq = nil
		} else {
			for _, c := range b {
				base := byte(unicode.ToUpper(rune(c)))
				if !templateBases[base] {
					log.Panicf("invalid template base %q in fasta file %v", c, filename)
				}
				seq = append(seq, base)
			}
		}
	}

	fasta[contig] = seq

	if err := scanner.Err(); err != nil {
		log.Panic(err)
	}

	return fasta
}

type offsetTableEntry struct {
	contig string
	offset int
}

// ElfastaMagic is the magic byte sequence that every .elfasta file starts with.
var ElfastaMagic = []byte{0x31, 0xFA, 0x57, 0xA1} // 31FA57A1 => ELFASTA1

// ToElfasta stores fasta data into an mmappable .elfasta file.
func ToElfasta(fasta map[string][]byte, filename string) {
	file := internal.FileCreate(filename)
	defer internal.Close(file)
	offset := internal.Write(file, ElfastaMagic)
	var offsetTable []offsetTableEntry
	for contig := range fasta {
		n := internal.WriteString(file, contig)
		t := internal.WriteString(file, "\t")
		offset += n + t
		offsetTable = append(offsetTable, offsetTableEntry{contig: contig, offset: offset})
		offset += 2 * binary.MaxVarintLen64
		if _, err := file.Seek(int64(offset), 0); err != nil {
			log.Panic(err)
		}
	}
	n := internal.WriteString(file, "\n")
	offset += n
	offsetMap := make(map[string]int)
	for contig, ref := range fasta {
		offsetMap[contig] = offset
		offset += internal.Write(file, ref)
	}
	data, err := unix.Mmap(int(file.Fd()), 0, offset, unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		log.Panic(err)
	}
	defer func() {
		if err := unix.Munmap(data); err != nil {
			log.Panic(err)
		}
	}()
	for _, entry := range offsetTable {
		binary.PutVarint(data[entry.offset:entry.offset+binary.MaxVarintLen64], int64(offsetMap[entry.contig]))
		binary.PutVarint(data[entry.offset+binary.MaxVarintLen64:entry.offset+2*binary.MaxVarintLen64], int64(len(fasta[entry.contig])))
	}
}

// MappedFasta represents the contents of an .elfasta file.
type MappedFasta struct {
	wait  sync.WaitGroup
	fasta map[string][]byte
	data  []byte
	file  *os.File
}

// OpenElfasta opens a .elfasta file.
func OpenElfasta(filename string) (result *MappedFasta) {
	result = new(MappedFasta)
	result.wait.Add(1)
	go func() {
		defer result.wait.Done()
		file := internal.FileOpen(filename)
		stat, err := file.Stat()
		if err != nil {
			_ = file.Close()
			log.Panic(err)
		}
		data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			_ = file.Close()
			log.Panic(err)
		}
		for i, b := range ElfastaMagic {
			if data[i] != b {
				_ = file.Close()
				log.Panicf("%v is not a .elfasta file - invalid magic byte sequence", filename)
			}
		}
		fasta := make(map[string][]byte)
		index := len(ElfastaMagic)
		for data[index] != '\n' {
			start := index
			for ; data[index] != '\t'; index++ {
			}
			contig := string(data[start:index])
			index++
			offset, n := binary.Varint(data[index : index+binary.MaxVarintLen64])
			if n <= 0 {
				_ = unix.Munmap(data)
				_ = file.Close()
				log.Panicf("bad number of bytes while parsing offset in elfasta file %v", filename)
			}
			size, n := binary.Varint(data[index+binary.MaxVarintLen64 : index+2*binary.MaxVarintLen64])
			if n <= 0 {
				_ = unix.Munmap(data)
				_ = file.Close()
				log.Panicf("bad number of bytes while parsing size in elfasta file %v", filename)
			}
			fasta[contig] = data[int(offset):int(offset+size)]
			index += 2 * binary.MaxVarintLen64
		}
		result.fasta = fasta
		result.data = data
		result.file = file
	}()
	return result
}

// Close closes the .elfasta file.
func (fasta *MappedFasta) Close() {
	fasta.wait.Wait()
	err := unix.Munmap(fasta.data)
	fasta.data = nil
	if nerr := fasta.file.Close(); err == nil {
		err = nerr
	}
	fasta.file = nil
	fasta.fasta = nil
	if err != nil {
		log.Panic(err)
	}
}

// Seq fetches a sequence for the given contig from the .elfasta file.
func (fasta *MappedFasta) Seq(contig string) []byte {
	fasta.wait.Wait()
	return fasta.fasta[contig]
}

// Contigs returns the contig names in the .elfasta file.
func (fasta *MappedFasta) Contigs() []string {
	fasta.wait.Wait()
	contigs := make([]string, 0, len(fasta.fasta))
	for contig := range fasta.fasta {
		contigs = append(contigs, contig)
	}
	return contigs
}

const fastaLineWidth = 70

// WriteFasta writes sequences to a FASTA file.
func WriteFasta(fasta map[string][]byte, contigs []string, filename string) {
	file := internal.FileCreate(filename)
	defer internal.Close(file)
	out := bufio.NewWriter(file)
	for _, contig := range contigs {
		seq := fasta[contig]
		if _, err := out.WriteString(">" + contig + "\n"); err != nil {
			log.Panic(err)
		}
		for start := 0; start < len(seq); start += fastaLineWidth {
			end := start + fastaLineWidth
			if end > len(seq) {
				end = len(seq)
			}
			if _, err := out.Write(seq[start:end]); err != nil {
				log.Panic(err)
			}
			if err := out.WriteByte('\n'); err != nil {
				log.Panic(err)
			}
		}
	}
	if err := out.Flush(); err != nil {
		log.Panic(err)
	}
}

// the sanger encoding saturates at phred 93
const maxPhred = 93

// FastqRecord is one polished template with its per-base quality
// values and an optional comment.
type FastqRecord struct {
	Name    string
	Comment string
	Seq     []byte
	Quals   []int
}

// WriteFastq writes records to a FASTQ file, with quality values in
// phred+33 encoding.
func WriteFastq(records []FastqRecord, filename string) {
	file := internal.FileCreate(filename)
	defer internal.Close(file)
	out := bufio.NewWriter(file)
	for _, record := range records {
		if len(record.Seq) != len(record.Quals) {
			log.Panicf("fastq record %v has %v quality values for %v bases", record.Name, len(record.Quals), len(record.Seq))
		}
		header := "@" + record.Name
		if record.Comment != "" {
			header += " " + record.Comment
		}
		buf := internal.ReserveByteBuffer()
		buf = append(buf, header...)
		buf = append(buf, '\n')
		buf = append(buf, record.Seq...)
		buf = append(buf, "\n+\n"...)
		for _, qual := range record.Quals {
			if qual > maxPhred {
				qual = maxPhred
			}
			if qual < 0 {
				qual = 0
			}
			buf = append(buf, byte(qual)+'!')
		}
		buf = append(buf, '\n')
		if _, err := out.Write(buf); err != nil {
			log.Panic(err)
		}
		internal.ReleaseByteBuffer(buf)
	}
	if err := out.Flush(); err != nil {
		log.Panic(err)
	}
}
