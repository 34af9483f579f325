// Package inference implements the inference glue (C7, spec §4.7):
// per-taxon Bayes factors computed via holdout mini-EM runs, combined
// with the final Gibbs posterior (C6) into the data the report writers
// consume.
package inference

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nishad/metamix/internal/gibbs"
	"github.com/nishad/metamix/internal/mcmc"
	"github.com/nishad/metamix/internal/miniem"
	"github.com/nishad/metamix/internal/workerpool"
)

// BayesFactor is the holdout evidence for one taxon's presence in S*.
type BayesFactor struct {
	Taxon   int
	Log10BF float64
}

// Config bundles the Gibbs and worker-pool parameters C7 needs.
type Config struct {
	Gibbs   gibbs.Config
	Workers int
	Seed    int64
}

// Result is the complete output of Run: the Gibbs posterior plus one
// Bayes factor per species in S*.
type Result struct {
	Gibbs        gibbs.Result
	BayesFactors []BayesFactor
}

// Run executes C6 (final Gibbs sampling) and C7 (per-taxon Bayes
// factors) against the cold chain's converged species set. miniCtx's
// Linear matrix is the full reduced-space linear matrix shared with
// the sampler; speciesStar indexes its columns directly.
func Run(miniCtx *miniem.Context, speciesStar []int, logLStar, unkProb float64, readWeights []float64, cfg Config) Result {
	sorted := mcmc.SortedSpecies(speciesStar)
	sub := miniCtx.Linear.SubsetColumns(sorted)

	gibbsCfg := cfg.Gibbs
	gibbsRes := gibbs.Run(sub, sorted, unkProb, readWeights, gibbsCfg, gibbsCfg.Iterations > 0)

	bfs := ComputeBayesFactors(miniCtx, sorted, logLStar, unkProb, cfg.Workers, cfg.Seed)

	return Result{Gibbs: gibbsRes, BayesFactors: bfs}
}

// ComputeBayesFactors runs one holdout mini-EM per taxon in speciesStar
// concurrently across a worker pool (spec §5, scope 2), following the
// formula of spec §4.7:
//
//	log10_BF(j) = (L(S*) - L(S* \ {j}) + L_penalty) / ln(10)
func ComputeBayesFactors(ctx *miniem.Context, speciesStar []int, logLStar, unkProb float64, workers int, seed int64) []BayesFactor {
	n := len(speciesStar)
	results := make([]BayesFactor, n)

	workerpool.RunIndexed(n, workers, func(i int) {
		j := speciesStar[i]
		holdout := without(speciesStar, j)

		rng := rand.New(rand.NewSource(seed + 1 + int64(i)))
		init := gammaDirichletInit(rng, holdout)

		res := ctx.Run(holdout, init, unkProb, 10)
		log10bf := (logLStar - res.LogL + ctx.LPenalty) / math.Ln10

		results[i] = BayesFactor{Taxon: j, Log10BF: log10bf}
	})

	return results
}

func without(species []int, j int) []int {
	out := make([]int, 0, len(species)-1)
	for _, s := range species {
		if s != j {
			out = append(out, s)
		}
	}
	return out
}

// gammaDirichletInit draws a fresh symmetric Dirichlet initialization
// via independent Gamma(1,1) deviates, matching the sampler's move
// proposal initialization (spec §4.5 step 2, reused here per §4.7's
// "fresh Gamma-Dirichlet initialization").
func gammaDirichletInit(rng *rand.Rand, species []int) map[int]float64 {
	init := make(map[int]float64, len(species))
	if len(species) == 0 {
		return init
	}
	draws := make([]float64, len(species))
	var total float64
	for i := range species {
		g := distuv.Gamma{Alpha: 1, Beta: 1, Src: rng}
		draws[i] = g.Rand()
		total += draws[i]
	}
	if total <= 0 {
		u := 1.0 / float64(len(species))
		for _, col := range species {
			init[col] = u
		}
		return init
	}
	for i, col := range species {
		init[col] = draws[i] / total
	}
	return init
}
