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

package cmd

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/exascience/pargo/parallel"
	"github.com/google/uuid"

	"github.com/exascience/elpolish/consensus"
	"github.com/exascience/elpolish/data"
	"github.com/exascience/elpolish/fasta"
	"github.com/exascience/elpolish/internal"
)

// PolishHelp is the help string for this command.
const PolishHelp = "\npolish parameters:\n" +
	"elpolish polish reads-file template-file fastq-output-file\n" +
	"[--iterations nr]\n" +
	"[--separation nr]\n" +
	"[--neighborhood nr]\n" +
	"[--diploid]\n" +
	"[--diploid-sites file]\n" +
	"[--diploid-error-rate rate]\n" +
	"[--repeat-size nr]\n" +
	"[--repeat-elements nr]\n" +
	"[--repeat-iterations nr]\n" +
	"[--mask-radius nr]\n" +
	"[--mask-max-err rate]\n" +
	"[--min-z-score nr]\n" +
	"[--score-diff nr]\n" +
	"[--nr-of-threads nr]\n" +
	"[--timed]\n" +
	"[--log-path path]\n"

type polishedContig struct {
	record       fasta.FastqRecord
	diploidSites []consensus.DiploidSite
}

// Polish implements the elpolish polish command.
func Polish() error {
	var (
		iterations, separation, neighborhood    int
		diploid                                 bool
		diploidSitesFile                        string
		diploidErrorRate                        float64
		repeatSize, repeatElements, repeatIters int
		maskRadius                              int
		maskMaxErr, minZScore, scoreDiff        float64
		nrOfThreads                             int
		timed                                   bool
		logPath                                 string
	)

	var flags flag.FlagSet

	flags.IntVar(&iterations, "iterations", 40, "maximum number of polishing iterations")
	flags.IntVar(&separation, "separation", 10, "minimum distance between mutations accepted in one round")
	flags.IntVar(&neighborhood, "neighborhood", 20, "radius around accepted mutations for reseeding candidates")
	flags.BoolVar(&diploid, "diploid", false, "call heterozygous sites")
	flags.StringVar(&diploidSitesFile, "diploid-sites", "", "output file for heterozygous sites in draft coordinates")
	flags.Float64Var(&diploidErrorRate, "diploid-error-rate", 0.08, "average per-site error rate assumed by the binomial test")
	flags.IntVar(&repeatSize, "repeat-size", 0, "polish tandem repeats up to this repeat unit size first")
	flags.IntVar(&repeatElements, "repeat-elements", 3, "minimum number of repeat elements to consider a repeat run")
	flags.IntVar(&repeatIters, "repeat-iterations", 9, "maximum number of tandem repeat polishing iterations")
	flags.IntVar(&maskRadius, "mask-radius", 0, "mask high-error windows of this radius before polishing")
	flags.Float64Var(&maskMaxErr, "mask-max-err", 0.5, "maximum tolerated error rate in a masking window")
	flags.Float64Var(&minZScore, "min-z-score", -3.4, "disable reads whose likelihood z-score falls below this value")
	flags.Float64Var(&scoreDiff, "score-diff", 25.0, "likelihood window within which evaluators trust their banded matrices")
	flags.IntVar(&nrOfThreads, "nr-of-threads", 0, "number of worker threads")
	flags.BoolVar(&timed, "timed", false, "measure the runtime")
	flags.StringVar(&logPath, "log-path", "", "write log files to this directory")

	if len(os.Args) < 5 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, PolishHelp)
		os.Exit(1)
	}

	readsFile := getFilename(os.Args[2], PolishHelp)
	templateFile := getFilename(os.Args[3], PolishHelp)
	output := getFilename(os.Args[4], PolishHelp)

	if err := flags.Parse(os.Args[5:]); err != nil {
		x := 0
		if err != flag.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, PolishHelp)
		os.Exit(x)
	}

	setLogOutput(logPath)

	// sanity checks

	var sanityChecksFailed bool

	if !checkExist("", readsFile) {
		sanityChecksFailed = true
	}
	if !checkExist("", templateFile) {
		sanityChecksFailed = true
	}
	if separation <= 0 {
		log.Printf("Error: Invalid separation %v, must be positive.\n", separation)
		sanityChecksFailed = true
	}
	if iterations <= 0 {
		log.Printf("Error: Invalid number of iterations %v.\n", iterations)
		sanityChecksFailed = true
	}
	if diploidErrorRate <= 0 || diploidErrorRate >= 1 {
		log.Printf("Error: Invalid diploid error rate %v.\n", diploidErrorRate)
		sanityChecksFailed = true
	}
	if nrOfThreads < 0 {
		log.Printf("Error: Invalid nr-of-threads %v.\n", nrOfThreads)
		sanityChecksFailed = true
	}
	if sanityChecksFailed {
		fmt.Fprint(os.Stderr, PolishHelp)
		os.Exit(1)
	}

	if nrOfThreads > 0 {
		runtime.GOMAXPROCS(nrOfThreads)
	}

	runID := uuid.New()
	log.Println("Polishing run", runID)

	var templates map[string][]byte
	if filepath.Ext(templateFile) == ".elfasta" {
		mapped := fasta.OpenElfasta(templateFile)
		defer mapped.Close()
		templates = make(map[string][]byte)
		for _, contig := range mapped.Contigs() {
			templates[contig] = mapped.Seq(contig)
		}
	} else {
		templates = fasta.ParseFasta(templateFile)
	}

	var reads map[string][]*data.MappedRead
	var err error
	if filepath.Ext(readsFile) == ".bam" {
		reads, err = data.FromBamFile(readsFile)
	} else {
		reads, err = data.FromElreadsFile(readsFile)
	}
	if err != nil {
		return err
	}

	contigs := make([]string, 0, len(templates))
	for contig := range templates {
		if len(reads[contig]) == 0 {
			log.Printf("Warning: No reads mapped to template %v; emitting the draft unpolished.\n", contig)
		}
		contigs = append(contigs, contig)
	}
	sort.Strings(contigs)

	integratorConfig := consensus.IntegratorConfig{MinZScore: minZScore, ScoreDiff: scoreDiff}
	polishConfig := consensus.NewPolishConfig(iterations, separation, neighborhood, diploid)
	polishConfig.DiploidErrorRate = diploidErrorRate
	repeatConfig := consensus.RepeatConfig{
		MaximumRepeatSize:   repeatSize,
		MinimumElementCount: repeatElements,
		MaximumIterations:   repeatIters,
	}

	polished := make([]polishedContig, len(contigs))

	timedRun(timed, "Polishing templates.", func() {
		// each template gets its own integrator, so templates polish
		// independently in parallel
		parallel.Range(0, len(contigs), 0, func(low, high int) {
			for c := low; c < high; c++ {
				contig := contigs[c]
				polished[c] = polishContig(
					runID.String(), contig, string(templates[contig]), reads[contig],
					integratorConfig, polishConfig, repeatConfig, maskRadius, maskMaxErr)
			}
		})
	})

	records := make([]fasta.FastqRecord, len(polished))
	for i := range polished {
		records[i] = polished[i].record
	}
	fasta.WriteFastq(records, output)

	if diploid && diploidSitesFile != "" {
		writeDiploidSites(polished, contigs, diploidSitesFile)
	}

	return nil
}

func polishContig(runID, contig, template string, reads []*data.MappedRead,
	integratorConfig consensus.IntegratorConfig, polishConfig consensus.PolishConfig,
	repeatConfig consensus.RepeatConfig, maskRadius int, maskMaxErr float64) polishedContig {

	ai := consensus.NewIntegrator(template, integratorConfig)

	added := 0
	for _, read := range reads {
		if state := ai.AddRead(read); state.IsActive() {
			added++
		} else {
			log.Printf("Read %v on template %v filtered with state %v.\n", read.Name, contig, state)
		}
	}
	log.Printf("Template %v: %v of %v reads active.\n", contig, added, len(reads))

	if maskRadius > 0 {
		ai.MaskIntervals(maskRadius, maskMaxErr)
	}

	if repeatConfig.MaximumRepeatSize >= 2 {
		repeatResult := consensus.PolishRepeats(ai, repeatConfig)
		log.Printf("Template %v: repeat polishing applied %v of %v tested mutations.\n",
			contig, repeatResult.MutationsApplied, repeatResult.MutationsTested)
	}

	result := consensus.Polish(ai, polishConfig)
	if result.HasConverged {
		log.Printf("Template %v: converged after applying %v of %v tested mutations.\n",
			contig, result.MutationsApplied, result.MutationsTested)
	} else {
		log.Printf("Warning: Template %v did not converge within the iteration limit.\n", contig)
	}

	qvs := consensus.ConsensusQVs(ai)

	return polishedContig{
		record: fasta.FastqRecord{
			Name:    contig,
			Comment: fmt.Sprintf("run=%v converged=%v avgZScore=%.3f", runID, result.HasConverged, ai.AvgZScore()),
			Seq:     []byte(ai.String()),
			Quals:   qvs.Qualities,
		},
		diploidSites: result.DiploidSites,
	}
}

func writeDiploidSites(polished []polishedContig, contigs []string, filename string) {
	file := internal.FileCreate(filename)
	defer internal.Close(file)
	out := bufio.NewWriter(file)
	for i, p := range polished {
		for _, site := range p.diploidSites {
			fmt.Fprintf(out, "%v\t%v\t%c\t%c\n", contigs[i], site.Position, site.OriginalBase, site.AmbiguousBase)
		}
	}
	if err := out.Flush(); err != nil {
		log.Panic(err)
	}
}
