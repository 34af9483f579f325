// Package miniem implements the mini-EM kernel (C3, spec §4.3): given
// a candidate taxon subset, it computes the penalized marginal
// log-likelihood of the data augmented by an "unknown" bin, point
// abundance estimates over the subset, and an adaptively updated
// unknown-bin probability floor. It is invoked per proposed move by
// the sampler (C5) and per Bayes-factor holdout by the reporting glue
// (C7).
package miniem

import (
	"math"
	"sort"

	"github.com/nishad/metamix/internal/sparsematrix"
)

const (
	// unkFloorMin and unkFloorMax bound the learned unknown
	// probability floor (spec §3, §4.3).
	unkFloorMin = 1e-300
	unkFloorMax = 1e-5
)

// Context holds the immutable, shared data mini-EM operates on: the
// linear-space (exp of log-probability) matrix, per-read weights, and
// the model-complexity penalty. It is created once and shared by
// reference across chains and worker goroutines (spec §5).
type Context struct {
	Linear       *sparsematrix.Matrix // P_ij = exp(M_log), columns = T_reduced
	ReadWeights  []float64            // length R; defaults to 1.0 per read
	TaxonWeights []float64            // post-EM abundances from C2, indexed by reduced column; not read by Run (C4's Add proposal reads move.Proposer.TaxonWeights)
	LPenalty     float64
}

// PenaltyParams are the inputs to the one-time L_penalty computation
// (spec §4.3).
type PenaltyParams struct {
	TotalReadWeight float64 // N
	ReadSupport     float64 // s, default 30
	MedianGenomeLen float64 // g
	ReferenceFloor  float64 // p_ref, fixed at 1e-20 per spec's open question
}

// ComputeLPenalty derives the per-species log-prior penalty from a
// null-vs-one-species marginal likelihood comparison (spec §4.3). The
// result is always <= 0 for valid inputs (N >= s >= 0, g > 0, 0 < p_ref < 1).
func ComputeLPenalty(p PenaltyParams) float64 {
	n, s, g, pRef := p.TotalReadWeight, p.ReadSupport, p.MedianGenomeLen, p.ReferenceFloor

	lNull := n * math.Log(pRef)
	lOne := s*math.Log(pRef*(1-s/n)+(1/g)*(s/n)) + (n-s)*math.Log(pRef*(1-s/n))
	return lNull - lOne
}

// NewContext builds a mini-EM context and computes L_penalty once.
func NewContext(linear *sparsematrix.Matrix, readWeights, taxonWeights []float64, penalty PenaltyParams) *Context {
	return &Context{
		Linear:       linear,
		ReadWeights:  readWeights,
		TaxonWeights: taxonWeights,
		LPenalty:     ComputeLPenalty(penalty),
	}
}

// Result is the outcome of one mini-EM Run: the final iteration's
// penalized-free marginal log-likelihood, point abundances over the
// subset, and the updated unknown-bin floor.
type Result struct {
	LogL       float64
	Abundances map[int]float64 // keyed by reduced-space column index
	UnkProb    float64
}

// Penalized returns LogL + |S|*lpenalty, the objective the sampler's
// acceptance rule actually compares (spec §4.3).
func (r Result) Penalized(speciesCount int, lpenalty float64) float64 {
	return r.LogL + float64(speciesCount)*lpenalty
}

// Run executes em_iterations of the mini-EM loop over species (a
// subset of matrix columns), starting abundances from init (uniform
// if init is nil or empty; a species absent from a non-empty init
// starts at 0) and the unknown floor from startUnkProb.
func (ctx *Context) Run(species []int, init map[int]float64, startUnkProb float64, emIterations int) Result {
	sorted := append([]int(nil), species...)
	sort.Ints(sorted)

	n := len(sorted)
	activeIdx := make(map[int]int, n)
	for pos, col := range sorted {
		activeIdx[col] = pos
	}

	pi := make([]float64, n)
	piUnk := 0.0
	if len(init) > 0 {
		var total float64
		for pos, col := range sorted {
			v := init[col]
			pi[pos] = v
			total += v
		}
		// Callers (C4/C5's symmetric Dirichlet draw, C7's Bayes-factor
		// holdout) normalize only over species, so their weights sum
		// to 1. The unknown bin gets weight 1 unless the caller
		// supplies an explicit unknown weight via the -1 key; with
		// such callers it therefore starts with half of the mass.
		uv, hasUnk := init[-1]
		if !hasUnk {
			uv = 1.0
		}
		piUnk = uv
		total += uv
		if total > 0 {
			for i := range pi {
				pi[i] /= total
			}
			piUnk /= total
		} else {
			resetUniform(pi, &piUnk)
		}
	} else {
		resetUniform(pi, &piUnk)
	}

	pUnk := clampUnk(startUnkProb)

	var logL float64
	next := make([]float64, n)

	for iter := 1; iter <= emIterations; iter++ {
		for i := range next {
			next[i] = 0
		}
		var nextUnk float64
		logL = 0

		var denKnownSamples []float64

		ctx.Linear.RowIter(func(row int, r sparsematrix.Row) {
			var denKnown float64
			for k, c := range r.Cols {
				if pos, ok := activeIdx[c]; ok {
					denKnown += r.Vals[k] * pi[pos]
				}
			}
			denUnk := pUnk * piUnk
			den := denKnown + denUnk + 1e-300

			w := 1.0
			if ctx.ReadWeights != nil && row < len(ctx.ReadWeights) {
				w = ctx.ReadWeights[row]
			}
			logL += w * math.Log(den)

			for k, c := range r.Cols {
				if pos, ok := activeIdx[c]; ok {
					next[pos] += w * r.Vals[k] * pi[pos] / den
				}
			}
			nextUnk += w * denUnk / den

			if iter >= 2 && denKnown > 1e-300 {
				denKnownSamples = append(denKnownSamples, denKnown)
			}
		})

		if len(denKnownSamples) > 0 {
			m := median(denKnownSamples)
			proposed := m * 1e-12
			pUnk = clampUnk(0.8*pUnk + 0.2*proposed)
		}

		total := nextUnk
		for _, v := range next {
			total += v
		}
		if total <= 0 {
			resetUniform(pi, &piUnk)
			continue
		}
		for i := range pi {
			pi[i] = next[i] / total
		}
		piUnk = nextUnk / total
	}

	abund := make(map[int]float64, n)
	for pos, col := range sorted {
		abund[col] = pi[pos]
	}

	return Result{LogL: logL, Abundances: abund, UnkProb: pUnk}
}

func resetUniform(pi []float64, piUnk *float64) {
	u := 1.0 / float64(len(pi)+1)
	for i := range pi {
		pi[i] = u
	}
	*piUnk = u
}

func clampUnk(v float64) float64 {
	if v < unkFloorMin {
		return unkFloorMin
	}
	if v > unkFloorMax {
		return unkFloorMax
	}
	return v
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
