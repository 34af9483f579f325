// Package gibbs implements the final Dirichlet-Multinomial Gibbs
// sampler (C6, spec §4.6): given the cold chain's species set and a
// fixed unknown-bin floor, it alternates a stochastic per-read
// assignment E-step with a Dirichlet M-step, then summarizes the
// posterior and produces a plug-in final read assignment.
package gibbs

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nishad/metamix/internal/errors"
	"github.com/nishad/metamix/internal/sparsematrix"
	"github.com/nishad/metamix/internal/workerpool"
)

const underflowGuard = 1e-300

// Config controls the sampler's iteration budget and parallelism.
type Config struct {
	Iterations int
	Burnin     int
	Workers    int
	Seed       int64
}

// ReadAssignment is the final plug-in assignment for one read, using
// posterior mean abundances (spec §4.6, "Final per-read assignment").
type ReadAssignment struct {
	TaxonColumn int // index into species, or -1 for the unknown bin
	Probability float64
}

// Summary holds one species' (or the unknown bin's) posterior summary
// statistics over the post-burn-in history.
type Summary struct {
	Mean    float64
	CILow   float64
	CIHigh  float64
}

// Result is the complete output of Run.
type Result struct {
	Species         []int // sorted S*, matching column order of the subsetted matrix
	SpeciesSummary  []Summary
	UnknownSummary  Summary
	ReadAssignments []ReadAssignment

	// Samples holds the post-burn-in count history when requested,
	// species-major then unknown, one row per retained iteration; used
	// for the optional _posterior_samples.tsv export.
	Samples [][]float64
}

// Run executes gibbs_burnin+gibbs_iter rounds of E-step/M-step
// sampling on sub, a matrix already restricted to S*'s columns in
// sorted order (spec §4.6). unkProb is the unknown-bin floor used
// unchanged by every E-step; cmd/metamix passes the median of all
// chains' learned floors (mcmc.MedianUnkProb).
func Run(sub *sparsematrix.Matrix, species []int, unkProb float64, readWeights []float64, cfg Config, keepSamples bool) Result {
	k := sub.Cols()
	rng := rand.New(rand.NewSource(cfg.Seed))

	pi := make([]float64, k+1)
	for i := range pi {
		pi[i] = 1.0 / float64(k+1)
	}

	retained := cfg.Iterations
	if retained < 0 {
		retained = 0
	}
	history := make([][]float64, 0, retained)
	var samples [][]float64
	if keepSamples {
		samples = make([][]float64, 0, retained)
	}

	rows := make([]sparsematrix.Row, sub.Rows())
	for i := range rows {
		rows[i] = sub.Row(i)
	}

	total := cfg.Burnin + cfg.Iterations
	for iter := 1; iter <= total; iter++ {
		counts := eStep(rows, pi, unkProb, readWeights, cfg.Workers, rng)
		pi = mStep(counts, rng)

		if iter > cfg.Burnin {
			history = append(history, append([]float64(nil), pi...))
			if keepSamples {
				samples = append(samples, append([]float64(nil), counts...))
			}
		}
	}

	summaries := summarize(history, k)
	assignments := assignReads(rows, summaries, unkProb)

	return Result{
		Species:         species,
		SpeciesSummary:  summaries[:k],
		UnknownSummary:  summaries[k],
		ReadAssignments: assignments,
		Samples:         samples,
	}
}

// eStep draws one stochastic read assignment per row and accumulates
// per-category read-weight counts, parallelized across a worker pool
// with per-task-range partial sums reduced by the caller (spec §5).
func eStep(rows []sparsematrix.Row, pi []float64, unkProb float64, readWeights []float64, workers int, rng *rand.Rand) []float64 {
	k1 := len(pi)
	n := len(rows)

	partials := make([][]float64, 0, workers+1)
	var mu sync.Mutex
	workerpool.Run(n, workers, func(start, end int) {
		local := make([]float64, k1)
		localRNG := rand.New(rand.NewSource(rng.Int63() + int64(start)))
		for i := start; i < end; i++ {
			w := 1.0
			if readWeights != nil && i < len(readWeights) {
				w = readWeights[i]
			}
			idx, ok := sampleCategory(rows[i], pi, unkProb, localRNG)
			if !ok {
				errors.LogAndContinue("gibbs E-step", errors.E(errors.Op("gibbs.eStep"), errors.KindNumeric, "zero total weight for read; defaulting to unknown bin"))
				idx = k1 - 1
			}
			local[idx] += w
		}
		mu.Lock()
		partials = append(partials, local)
		mu.Unlock()
	})

	counts := make([]float64, k1)
	for _, p := range partials {
		for i, v := range p {
			counts[i] += v
		}
	}
	return counts
}

func sampleCategory(row sparsematrix.Row, pi []float64, unkProb float64, rng *rand.Rand) (int, bool) {
	k := len(pi) - 1
	weights := make([]float64, k+1)
	for idx, c := range row.Cols {
		weights[c] = row.Vals[idx] * pi[c]
	}
	weights[k] = unkProb * pi[k]

	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, false
	}

	target := rng.Float64() * total
	var cum float64
	for idx, w := range weights {
		cum += w
		if target < cum {
			return idx, true
		}
	}
	return k, true
}

// mStep draws pi ~ Dirichlet(counts+1) via independent Gamma(c+1, 1)
// deviates normalized by their sum (spec §4.6).
func mStep(counts []float64, rng *rand.Rand) []float64 {
	pi := make([]float64, len(counts))
	var total float64
	for i, c := range counts {
		g := distuv.Gamma{Alpha: c + 1, Beta: 1, Src: rng}
		v := g.Rand()
		pi[i] = v
		total += v
	}
	if total <= 0 {
		u := 1.0 / float64(len(pi))
		for i := range pi {
			pi[i] = u
		}
		return pi
	}
	for i := range pi {
		pi[i] /= total
	}
	return pi
}

// summarize computes mean/2.5th/97.5th percentile per category from
// the post-burn-in history (spec §4.6). Percentile indices are
// clamped to [0, len(history)-1] to stay well-defined for short runs.
func summarize(history [][]float64, k int) []Summary {
	n := len(history)
	summaries := make([]Summary, k+1)
	if n == 0 {
		return summaries
	}

	for col := 0; col <= k; col++ {
		vals := make([]float64, n)
		var sum float64
		for i, row := range history {
			vals[i] = row[col]
			sum += row[col]
		}
		sort.Float64s(vals)

		lowIdx := clampIndex(int(math.Round(0.025*float64(n))), n)
		highIdx := clampIndex(int(math.Round(0.975*float64(n))), n)

		summaries[col] = Summary{
			Mean:   sum / float64(n),
			CILow:  vals[lowIdx],
			CIHigh: vals[highIdx],
		}
	}
	return summaries
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// assignReads produces the final plug-in assignment using posterior
// mean abundances: arg-max of P_i,k*mean_k among known species, or the
// unknown bin if p_unk*mean_unk dominates (spec §4.6).
func assignReads(rows []sparsematrix.Row, summaries []Summary, unkProb float64) []ReadAssignment {
	k := len(summaries) - 1
	assignments := make([]ReadAssignment, len(rows))

	for i, row := range rows {
		terms := make([]float64, k+1)
		for idx, c := range row.Cols {
			terms[c] = row.Vals[idx] * summaries[c].Mean
		}
		terms[k] = unkProb * summaries[k].Mean

		var total float64
		best := k
		bestVal := terms[k]
		for idx, v := range terms {
			total += v
			if v > bestVal {
				bestVal = v
				best = idx
			}
		}

		prob := 0.0
		if total > underflowGuard {
			prob = bestVal / total
		}
		assignments[i] = ReadAssignment{TaxonColumn: assignmentColumn(best, k), Probability: prob}
	}
	return assignments
}

func assignmentColumn(best, k int) int {
	if best == k {
		return -1
	}
	return best
}

