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
	"errors"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/exascience/pargo/parallel"

	"github.com/exascience/elpolish/data"
	"github.com/exascience/elpolish/intervals"
)

// ErrInvalidEvaluator is returned when an evaluator cannot score a
// mutation and has been invalidated. The caller must recompute the
// likelihoods for all mutations of interest, as the number of active
// evaluators changed.
var ErrInvalidEvaluator = errors.New("evaluator invalidated during likelihood computation")

const (
	defaultQV        = 15
	indelExtendQV    = 10
	minWindowLength  = 2
	initialBandWidth = 16

	// alpha and beta recursions over the same band must agree on the
	// total likelihood up to this tolerance; a disagreement is a flip-flop
	// and triggers recomputation with a wider band
	alphaBetaTolerance = 1e-3

	maxFlipFlops = 5
)

var qualToErrorProb = func() (table [94]float64) {
	for i := range table {
		table[i] = math.Pow(10, float64(i)/-10)
	}
	return table
}()

func qualityToErrorProbability(phred byte) float64 {
	if int(phred) >= len(qualToErrorProb) {
		phred = byte(len(qualToErrorProb) - 1)
	}
	return qualToErrorProb[phred]
}

// Matrix is a dense row-major float64 matrix, sized for one pair-HMM
// state over read rows and template columns.
type Matrix struct {
	cols  int
	array []float64
}

func (m *Matrix) ensureSize(rows, cols int) {
	m.cols = cols
	totalSize := rows * cols
	if totalSize <= cap(m.array) {
		m.array = m.array[:totalSize]
		for i := range m.array {
			m.array[i] = 0
		}
	} else {
		m.array = make([]float64, totalSize)
	}
}

func (m *Matrix) rowView(row int) []float64 {
	offset := row * m.cols
	return m.array[offset : offset+m.cols]
}

// Rows returns the number of rows of the matrix.
func (m *Matrix) Rows() int {
	if m.cols == 0 {
		return 0
	}
	return len(m.array) / m.cols
}

// Cols returns the number of columns of the matrix.
func (m *Matrix) Cols() int { return m.cols }

// At returns the matrix cell at the given row and column.
func (m *Matrix) At(row, col int) float64 { return m.array[row*m.cols+col] }

type pairHMMMatrices struct {
	match, insertion, deletion Matrix
	populated                  int
	logScale                   float64
}

func (p *pairHMMMatrices) ensureSize(readBases, tplBases int) {
	parallel.Do(
		func() { p.match.ensureSize(readBases, tplBases) },
		func() { p.insertion.ensureSize(readBases, tplBases) },
		func() { p.deletion.ensureSize(readBases, tplBases) },
	)
	p.populated = 0
	p.logScale = 0
}

var pairHMMMatricesPool = sync.Pool{New: func() interface{} { return new(pairHMMMatrices) }}

func getPairHMMMatrices() *pairHMMMatrices {
	return pairHMMMatricesPool.Get().(*pairHMMMatrices)
}

func putPairHMMMatrices(p *pairHMMMatrices) {
	pairHMMMatricesPool.Put(p)
}

// per-read-base transition and emission parameters, derived from the
// read's quality feature tracks
type baseParams struct {
	matchPrior    float64
	nonMatchPrior float64
	matchToMatch  float64
	matchToIns    float64
	matchToDel    float64
}

var (
	indelToIndel = qualityToErrorProbability(indelExtendQV)
	indelToMatch = 1 - indelToIndel
)

func trackQV(track []byte, i int) byte {
	if track == nil {
		return defaultQV
	}
	return track[i]
}

// emissionPrior is the probability of observing read base x at a
// template position holding y. A two-allele ambiguity code represents
// a diploid mixture, so each constituent allele is reproduced half of
// the time.
func emissionPrior(param baseParams, x, y byte) float64 {
	if x == y || x == 'N' || y == 'N' {
		return param.matchPrior
	}
	if baseMasks[x]&baseMasks[y] != 0 {
		return 0.5*param.matchPrior + 0.5*param.nonMatchPrior
	}
	return param.nonMatchPrior
}

func readBaseParams(read *data.MappedRead) []baseParams {
	params := make([]baseParams, len(read.Seq))
	for i := range params {
		subErr := qualityToErrorProbability(trackQV(read.SubQV, i))
		insErr := qualityToErrorProbability(trackQV(read.InsQV, i))
		delErr := qualityToErrorProbability(trackQV(read.DelQV, i))
		if insErr+delErr > 0.5 {
			scale := 0.5 / (insErr + delErr)
			insErr *= scale
			delErr *= scale
		}
		params[i] = baseParams{
			matchPrior:    1 - subErr,
			nonMatchPrior: subErr / 3,
			matchToMatch:  1 - insErr - delErr,
			matchToIns:    insErr,
			matchToDel:    delErr,
		}
	}
	return params
}

/*
An Evaluator scores one mapped read against the current template with
a banded three-state pair-HMM. It owns its forward (alpha) and
backward (beta) matrices and a strand-local view of the template
restricted to the read's mapped interval.

Evaluators are owned by an Integrator and addressed by stable index;
an invalidated evaluator stays in place so diagnostics indices remain
stable, but no longer contributes to aggregate likelihoods.
*/
type Evaluator struct {
	read   *data.MappedRead
	params []baseParams
	state  data.State

	tpl      []byte // strand-local template window
	tplStart int    // window start in strand-local template coordinates

	masked *bitset.BitSet // strand-local positions where scoring is disabled

	scoreDiff float64
	bandWidth int

	alpha, beta pairHMMMatrices
	ll          float64
	llMean      float64
	llVariance  float64

	numFlipFlops int
}

func newEvaluator(read *data.MappedRead, tpl []byte, tplStart int, cfg IntegratorConfig) *Evaluator {
	e := &Evaluator{
		read:      read,
		params:    readBaseParams(read),
		state:     data.StateValid,
		tpl:       tpl,
		tplStart:  tplStart,
		scoreDiff: cfg.ScoreDiff,
		bandWidth: initialBandWidth,
	}
	if len(tpl) < minWindowLength {
		e.state = data.StateTemplateTooSmall
		e.ll = math.Inf(-1)
		return e
	}
	e.llMean, e.llVariance = e.normalParameters()
	if !e.recompute() {
		return e
	}
	if z := e.ZScore(); z < cfg.MinZScore {
		e.state = data.StatePoorZScore
	}
	return e
}

// normalParameters returns the mean and variance of the expected
// read log-likelihood under the read's own error model, used to
// standardize LLs into z-scores.
func (e *Evaluator) normalParameters() (mean, variance float64) {
	for i := range e.params {
		p := e.params[i]
		match := p.matchPrior * p.matchToMatch
		miss := 1 - match
		if match <= 0 {
			continue
		}
		logMatch := math.Log(match)
		logMiss := math.Log(miss / 3)
		mu := match*logMatch + miss*logMiss
		m2 := match*logMatch*logMatch + miss*logMiss*logMiss
		mean += mu
		variance += m2 - mu*mu
	}
	return mean, variance
}

// band returns the column interval [lo, hi) populated for the given
// read row. The band follows the main diagonal of the read × template
// window, widened by the current band width.
func (e *Evaluator) band(row, rows, cols, width int) (lo, hi int) {
	center := 0
	if rows > 1 {
		center = row * (cols - 1) / (rows - 1)
	}
	lo = maxInt(0, center-width)
	hi = minInt(cols, center+width+1)
	return lo, hi
}

// forward fills the alpha matrices for the given template and
// returns the log-likelihood, or NaN when the banded recursion
// loses all probability mass.
func (e *Evaluator) forward(p *pairHMMMatrices, tpl []byte, width int) float64 {
	rows := len(e.read.Seq) + 1
	cols := len(tpl) + 1
	p.ensureSize(rows, cols)

	initialValue := 1.0 / float64(len(tpl))
	deletion0 := p.deletion.rowView(0)
	lo0, hi0 := e.band(0, rows, cols, width)
	for j := lo0; j < hi0; j++ {
		deletion0[j] = initialValue
	}
	p.populated += hi0 - lo0

	for i := 1; i < rows; i++ {
		param := e.params[i-1]
		x := e.read.Seq[i-1]

		matchI := p.match.rowView(i)
		matchI1 := p.match.rowView(i - 1)
		insertionI := p.insertion.rowView(i)
		insertionI1 := p.insertion.rowView(i - 1)
		deletionI := p.deletion.rowView(i)
		deletionI1 := p.deletion.rowView(i - 1)

		lo, hi := e.band(i, rows, cols, width)
		p.populated += hi - lo
		rowMax := 0.0
		for j := lo; j < hi; j++ {
			if j == 0 {
				continue
			}
			prior := emissionPrior(param, x, tpl[j-1])
			matchI[j] = prior * (matchI1[j-1]*param.matchToMatch +
				insertionI1[j-1]*indelToMatch +
				deletionI1[j-1]*indelToMatch)
			insertionI[j] = matchI1[j]*param.matchToIns + insertionI1[j]*indelToIndel
			deletionI[j] = matchI[j-1]*param.matchToDel + deletionI[j-1]*indelToIndel
			if v := matchI[j] + insertionI[j] + deletionI[j]; v > rowMax {
				rowMax = v
			}
		}
		if rowMax == 0 {
			return math.NaN()
		}
		// rescale rows that drift towards the denormal range, so long
		// reads do not underflow the recursion
		if rowMax < 1e-200 {
			factor := 1 / rowMax
			for j := lo; j < hi; j++ {
				matchI[j] *= factor
				insertionI[j] *= factor
				deletionI[j] *= factor
			}
			p.logScale += math.Log(rowMax)
		}
	}

	var sum float64
	matchEnd := p.match.rowView(rows - 1)
	insertionEnd := p.insertion.rowView(rows - 1)
	lo, hi := e.band(rows-1, rows, cols, width)
	for j := maxInt(lo, 1); j < hi; j++ {
		sum += matchEnd[j] + insertionEnd[j]
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return math.NaN()
	}
	return math.Log(sum) + p.logScale
}

// backward fills the beta matrices and returns the log-likelihood
// computed from the backward recursion. It must agree with forward up
// to the alpha/beta tolerance.
func (e *Evaluator) backward(p *pairHMMMatrices, tpl []byte, width int) float64 {
	rows := len(e.read.Seq) + 1
	cols := len(tpl) + 1
	p.ensureSize(rows, cols)

	matchEnd := p.match.rowView(rows - 1)
	insertionEnd := p.insertion.rowView(rows - 1)
	loEnd, hiEnd := e.band(rows-1, rows, cols, width)
	for j := maxInt(loEnd, 1); j < hiEnd; j++ {
		matchEnd[j] = 1
		insertionEnd[j] = 1
	}
	p.populated += hiEnd - loEnd

	for i := rows - 2; i >= 0; i-- {
		// transitions out of row i consume read base i; the deletion
		// chain within row i carries the transition weight of the row's
		// own read base, which is base i-1
		param := e.params[i]
		x := e.read.Seq[i]

		matchI := p.match.rowView(i)
		matchI1 := p.match.rowView(i + 1)
		insertionI := p.insertion.rowView(i)
		insertionI1 := p.insertion.rowView(i + 1)
		deletionI := p.deletion.rowView(i)

		lo, hi := e.band(i, rows, cols, width)
		p.populated += hi - lo
		rowMax := 0.0
		for j := hi - 1; j >= lo; j-- {
			var intoMatch float64
			if j+1 < cols {
				intoMatch = emissionPrior(param, x, tpl[j]) * matchI1[j+1]
			}
			insertionI[j] = indelToMatch*intoMatch + indelToIndel*insertionI1[j]
			if i == 0 {
				// row 0 deletion states carry the initial mass and only
				// hand it over to the first match row
				deletionI[j] = indelToMatch * intoMatch
				matchI[j] = 0
			} else {
				deletionI[j] = indelToMatch * intoMatch
				if j+1 < cols {
					deletionI[j] += indelToIndel * deletionI[j+1]
				}
				matchI[j] = param.matchToMatch*intoMatch + param.matchToIns*insertionI1[j]
				if j+1 < cols {
					matchI[j] += e.params[i-1].matchToDel * deletionI[j+1]
				}
			}
			if v := matchI[j] + insertionI[j] + deletionI[j]; v > rowMax {
				rowMax = v
			}
		}
		if rowMax == 0 {
			return math.NaN()
		}
		if rowMax < 1e-200 {
			factor := 1 / rowMax
			for j := lo; j < hi; j++ {
				matchI[j] *= factor
				insertionI[j] *= factor
				deletionI[j] *= factor
			}
			p.logScale += math.Log(rowMax)
		}
	}

	initialValue := 1.0 / float64(len(tpl))
	deletion0 := p.deletion.rowView(0)
	lo0, hi0 := e.band(0, rows, cols, width)
	var sum float64
	for j := lo0; j < hi0; j++ {
		sum += initialValue * deletion0[j]
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return math.NaN()
	}
	return math.Log(sum) + p.logScale
}

// recompute fills alpha and beta for the current template window,
// widening the band until the two recursions agree. Returns false if
// the evaluator had to be invalidated.
func (e *Evaluator) recompute() bool {
	cols := len(e.tpl) + 1
	for {
		llAlpha := e.forward(&e.alpha, e.tpl, e.bandWidth)
		llBeta := e.backward(&e.beta, e.tpl, e.bandWidth)
		if !math.IsNaN(llAlpha) && !math.IsNaN(llBeta) &&
			math.Abs(llAlpha-llBeta) <= alphaBetaTolerance*(1+math.Abs(llAlpha)) {
			e.ll = llAlpha
			return true
		}
		if e.bandWidth >= cols || e.numFlipFlops >= maxFlipFlops {
			e.state = data.StateAlphaBetaMismatch
			e.ll = math.Inf(-1)
			return false
		}
		e.numFlipFlops++
		e.bandWidth *= 2
	}
}

// State returns the scoring state of the evaluator.
func (e *Evaluator) State() data.State { return e.state }

// Strand returns the strand of the underlying read.
func (e *Evaluator) Strand() data.StrandType { return e.read.Strand }

// ReadName returns the name of the underlying read.
func (e *Evaluator) ReadName() string { return e.read.Name }

// NumFlipFlops returns how often the alpha/beta recursions disagreed
// and forced a banded recomputation.
func (e *Evaluator) NumFlipFlops() int { return e.numFlipFlops }

// ZScore standardizes the current log-likelihood against the
// expectation derived from the read's quality feature tracks.
func (e *Evaluator) ZScore() float64 {
	if e.llVariance <= 0 {
		return 0
	}
	return (e.ll - e.llMean) / math.Sqrt(e.llVariance)
}

// NormalParameters returns the mean and variance used by ZScore.
func (e *Evaluator) NormalParameters() (mean, variance float64) {
	return e.llMean, e.llVariance
}

// AlphaPopulatedRatio returns the fraction of alpha matrix cells the
// banded recursion populated.
func (e *Evaluator) AlphaPopulatedRatio() float64 {
	total := len(e.alpha.match.array)
	if total == 0 {
		return 0
	}
	return float64(e.alpha.populated) / float64(total)
}

// BetaPopulatedRatio returns the fraction of beta matrix cells the
// banded recursion populated.
func (e *Evaluator) BetaPopulatedRatio() float64 {
	total := len(e.beta.match.array)
	if total == 0 {
		return 0
	}
	return float64(e.beta.populated) / float64(total)
}

// Alpha returns read-only access to the forward match matrix for
// diagnostic dumps.
func (e *Evaluator) Alpha() *Matrix { return &e.alpha.match }

// Beta returns read-only access to the backward match matrix for
// diagnostic dumps.
func (e *Evaluator) Beta() *Matrix { return &e.beta.match }

// LL returns the current template log-likelihood for this read.
func (e *Evaluator) LL() float64 {
	if !e.state.IsActive() {
		return math.Inf(-1)
	}
	return e.ll
}

// invalidate takes the evaluator out of the active set for the
// remainder of polishing.
func (e *Evaluator) invalidate(state data.State) {
	if e.state == data.StateValid {
		e.state = state
	}
}

// isMasked tells whether the strand-local interval [start, end]
// touches a masked template position.
func (e *Evaluator) isMasked(start, end int) bool {
	if e.masked == nil {
		return false
	}
	for pos := maxInt(start, 0); pos <= end; pos++ {
		if e.masked.Test(uint(pos)) {
			return true
		}
	}
	return false
}

// LLMutation returns the log-likelihood of the read under the
// hypothetical mutation, given in strand-local template coordinates.
// Mutations disjoint from the read's window, and mutations inside
// masked intervals, leave the likelihood unchanged. On a scoring
// failure the evaluator is invalidated and ErrInvalidEvaluator is
// returned.
func (e *Evaluator) LLMutation(mut Mutation) (float64, error) {
	if !e.state.IsActive() {
		return math.Inf(-1), ErrInvalidEvaluator
	}
	if e.isMasked(mut.Start(), mut.End()) {
		return e.ll, nil
	}
	local, ok := mut.Translate(e.tplStart, len(e.tpl))
	if !ok {
		return e.ll, nil
	}
	mutated := ApplyMutations(string(e.tpl), []Mutation{local})
	if len(mutated) < minWindowLength {
		e.invalidate(data.StateTemplateTooSmall)
		return math.Inf(-1), ErrInvalidEvaluator
	}
	p := getPairHMMMatrices()
	defer putPairHMMMatrices(p)
	ll := e.forward(p, []byte(mutated), e.bandWidth)
	if !math.IsNaN(ll) && math.Abs(ll-e.ll) > e.scoreDiff && e.bandWidth < len(mutated)+1 {
		// a shift beyond the score window may be a band artifact;
		// retry once with the full matrix
		e.numFlipFlops++
		ll = e.forward(p, []byte(mutated), len(mutated)+1)
	}
	if math.IsNaN(ll) {
		e.invalidate(data.StateAlphaBetaMismatch)
		return math.Inf(-1), ErrInvalidEvaluator
	}
	return ll, nil
}

// ApplyMutation commits a mutation, given in strand-local template
// coordinates, to the evaluator's template view and rebuilds its
// matrices.
func (e *Evaluator) ApplyMutation(mut Mutation) {
	if local, ok := mut.Translate(e.tplStart, len(e.tpl)); ok {
		if mut.IsDeletion() && mut.Start() < e.tplStart {
			// the part of the deletion before the window shifts the
			// window start
			e.tplStart = mut.Start()
		}
		e.tpl = []byte(ApplyMutations(string(e.tpl), []Mutation{local}))
		if !e.state.IsActive() {
			return
		}
		if len(e.tpl) < minWindowLength {
			e.invalidate(data.StateTemplateTooSmall)
			e.ll = math.Inf(-1)
			return
		}
		e.recompute()
	} else if mut.End() <= e.tplStart {
		e.tplStart += mut.LengthDiff()
	}
}

// ApplyMutations commits a batch of pairwise non-overlapping
// mutations in strand-local coordinates, applying them right to left
// so earlier-site mutations keep their coordinates.
func (e *Evaluator) ApplyMutations(muts []Mutation) {
	sorted := make([]Mutation, len(muts))
	copy(sorted, muts)
	SortBySite(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		e.ApplyMutation(sorted[i])
	}
}

// maskWindows disables scoring inside the given strand-local
// half-open windows. The windows must be sorted by start and
// non-overlapping.
func (e *Evaluator) maskWindows(windows []intervals.Interval) {
	if len(windows) == 0 {
		return
	}
	if e.masked == nil {
		e.masked = bitset.New(uint(e.tplStart + len(e.tpl)))
	}
	for _, window := range windows {
		for pos := window.Start; pos < window.End; pos++ {
			e.masked.Set(uint(pos))
		}
	}
}

// errorWindows returns the flattened strand-local windows of
// 1+2*radius template bases whose empirical error rate against the
// read exceeds maxErrRate. The per-position error estimate compares
// read and template base-by-base across the mapped window.
func (e *Evaluator) errorWindows(radius int, maxErrRate float64) []intervals.Interval {
	n := minInt(len(e.tpl), len(e.read.Seq))
	if n == 0 {
		return nil
	}
	mismatch := make([]int, n+1)
	for i := 0; i < n; i++ {
		mismatch[i+1] = mismatch[i]
		if e.read.Seq[i] != e.tpl[i] {
			mismatch[i+1]++
		}
	}
	var windows []intervals.Interval
	for center := 0; center < n; center++ {
		lo := maxInt(0, center-radius)
		hi := minInt(n, center+radius+1)
		if float64(mismatch[hi]-mismatch[lo])/float64(hi-lo) > maxErrRate {
			windows = append(windows, intervals.Interval{Start: e.tplStart + lo, End: e.tplStart + hi})
		}
	}
	return intervals.Flatten(windows)
}
