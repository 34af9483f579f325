// Package mcmc implements the parallel-tempered Metropolis-Hastings
// sampler (C5, spec §4.5): one chain per temperature, independent
// Add/Remove/Swap steps between barrier-synchronized even/odd
// neighbor-swap exchange phases. The cold chain (temperature 1.0) is
// authoritative for the final inference stage (C6/C7).
package mcmc

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/nishad/metamix/internal/errors"
	"github.com/nishad/metamix/internal/miniem"
	"github.com/nishad/metamix/internal/move"
)

const exchangeCoolStep = 0.001
const exchangeCoolExponent = 1.5

// Temperatures computes the per-chain temperature ladder: chain 0 is
// always 1.0, and chain i>0 is max(0, T_{i-1}-0.001)^1.5 (spec §4.5).
func Temperatures(n int) []float64 {
	temps := make([]float64, n)
	if n == 0 {
		return temps
	}
	temps[0] = 1.0
	for i := 1; i < n; i++ {
		base := math.Max(0, temps[i-1]-exchangeCoolStep)
		temps[i] = math.Pow(base, exchangeCoolExponent)
	}
	return temps
}

// MoveRecord is one entry in a chain's history, written out verbatim
// as the `_mcmc_trace.tsv` report for the cold chain (spec §6.4).
type MoveRecord struct {
	Iteration     int
	LogLikelihood float64 // tempered: current_log_likelihood * T
	MoveType      string
}

// ChainState is the mutable state owned by one sampler thread. It is
// written only by its owning goroutine between barriers, and by the
// coordinator goroutine during the swap phase (spec §5).
type ChainState struct {
	ID          int
	Temperature float64

	Species     []int // sorted
	Abundances  map[int]float64
	UnkProb     float64
	LogL        float64 // untempered penalized marginal log-likelihood

	MovesAttempted, MovesAccepted uint64
	SwapsAttempted, SwapsAccepted uint64

	History []MoveRecord
}

// NewChainState starts a chain with an empty species set, matching the
// empty-S boundary behavior described in spec §8 (pi_unk = 1).
func NewChainState(id int, temperature, startUnkProb float64) *ChainState {
	return &ChainState{
		ID:          id,
		Temperature: temperature,
		Species:     nil,
		Abundances:  map[int]float64{},
		UnkProb:     startUnkProb,
	}
}

// Step draws one MH proposal and accepts or rejects it per spec §4.5
// steps 1-7, appending a history record tagged with the given absolute
// iteration number.
func (cs *ChainState) Step(rng *rand.Rand, proposer *move.Proposer, miniCtx *miniem.Context, iteration int) {
	cs.MovesAttempted++

	prop, ok := proposer.Propose(rng, cs.Species, cs.Abundances)
	if !ok {
		cs.History = append(cs.History, MoveRecord{
			Iteration:     iteration,
			LogLikelihood: cs.LogL * cs.Temperature,
			MoveType:      move.KindNone.String(),
		})
		return
	}

	result := miniCtx.Run(prop.NextSpecies, prop.Init, cs.UnkProb, 10)
	newPenalized := result.Penalized(len(prop.NextSpecies), miniCtx.LPenalty)
	currentPenalized := cs.LogL + float64(len(cs.Species))*miniCtx.LPenalty

	logQReverse, err := proposer.ReverseLogDensity(prop, result.Abundances)
	if err != nil {
		errors.LogAndContinue(fmt.Sprintf("chain %d reverse density", cs.ID), err)
		cs.recordRejection(iteration, prop.Kind)
		return
	}

	alpha := cs.Temperature*(newPenalized-currentPenalized) + logQReverse - prop.LogQForward

	accept := alpha >= 0 || rng.Float64() < math.Exp(alpha)
	if !accept {
		cs.recordRejection(iteration, prop.Kind)
		return
	}

	cs.MovesAccepted++
	cs.Species = prop.NextSpecies
	cs.Abundances = result.Abundances
	cs.UnkProb = result.UnkProb
	cs.LogL = result.LogL

	cs.History = append(cs.History, MoveRecord{
		Iteration:     iteration,
		LogLikelihood: cs.LogL * cs.Temperature,
		MoveType:      prop.Kind.String(),
	})
}

func (cs *ChainState) recordRejection(iteration int, kind move.Kind) {
	cs.History = append(cs.History, MoveRecord{
		Iteration:     iteration,
		LogLikelihood: cs.LogL * cs.Temperature,
		MoveType:      kind.String(),
	})
}

// SwapPass performs one even/odd neighbor-swap exchange pass across
// chains, per spec §4.5: pairs are (start, start+1), (start+2,
// start+3), ... with start = block mod 2.
func SwapPass(chains []*ChainState, block int, rng *rand.Rand, exchangeInterval int) {
	n := len(chains)
	start := block % 2
	iter := (block + 1) * exchangeInterval

	for a := start; a+1 < n; a += 2 {
		c := a + 1
		ca, cb := chains[a], chains[c]

		ca.SwapsAttempted++
		cb.SwapsAttempted++

		logRatio := (cb.LogL - ca.LogL) * (ca.Temperature - cb.Temperature)
		accept := logRatio >= 0 || rng.Float64() < math.Exp(logRatio)
		if !accept {
			continue
		}

		ca.Species, cb.Species = cb.Species, ca.Species
		ca.Abundances, cb.Abundances = cb.Abundances, ca.Abundances
		ca.UnkProb, cb.UnkProb = cb.UnkProb, ca.UnkProb
		ca.LogL, cb.LogL = cb.LogL, ca.LogL

		ca.SwapsAccepted++
		cb.SwapsAccepted++

		ca.History = append(ca.History, MoveRecord{
			Iteration:     iter,
			LogLikelihood: ca.LogL * ca.Temperature,
			MoveType:      fmt.Sprintf("Swapped from Chain %d", cb.ID),
		})
		cb.History = append(cb.History, MoveRecord{
			Iteration:     iter,
			LogLikelihood: cb.LogL * cb.Temperature,
			MoveType:      fmt.Sprintf("Swapped from Chain %d", ca.ID),
		})
	}
}

// Config holds the sampler's iteration budget.
type Config struct {
	Chains           int
	TotalIterations  int
	ExchangeInterval int
	Seed             int64
}

// Sampler orchestrates the per-chain goroutines and the barrier-
// synchronized swap coordinator (spec §5, scope 1).
type Sampler struct {
	Proposer *move.Proposer
	MiniEM   *miniem.Context
	Chains   []*ChainState
	Config   Config
}

// NewSampler builds a sampler with chains/Config.Chains chains at the
// standard temperature ladder, each starting from an empty species set
// whose LogL is the unknown-bin-only marginal log-likelihood mini-EM
// reports for S = {}.
func NewSampler(proposer *move.Proposer, miniCtx *miniem.Context, cfg Config, startUnkProb float64) *Sampler {
	temps := Temperatures(cfg.Chains)
	emptyLogL := miniCtx.Run(nil, nil, startUnkProb, 10).LogL
	chains := make([]*ChainState, cfg.Chains)
	for i := range chains {
		chains[i] = NewChainState(i, temps[i], startUnkProb)
		chains[i].LogL = emptyLogL
	}
	return &Sampler{Proposer: proposer, MiniEM: miniCtx, Chains: chains, Config: cfg}
}

// ColdChain returns the temperature-1.0 chain, authoritative for C6/C7.
func (s *Sampler) ColdChain() *ChainState {
	return s.Chains[0]
}

// Run executes the full iteration budget: per-chain MH steps between
// two barriers per block, with chain 0's goroutine acting as the swap
// coordinator. It blocks until every chain has completed its budget.
func (s *Sampler) Run() {
	n := len(s.Chains)
	if n == 0 || s.Config.ExchangeInterval <= 0 {
		return
	}
	totalBlocks := s.Config.TotalIterations / s.Config.ExchangeInterval

	stepBarrier := NewBarrier(n)
	releaseBarrier := NewBarrier(n)
	swapRNG := rand.New(rand.NewSource(s.Config.Seed))

	var wg sync.WaitGroup
	wg.Add(n)
	for _, cs := range s.Chains {
		go func(cs *ChainState) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(s.Config.Seed + 1 + int64(cs.ID)))

			for block := 0; block < totalBlocks; block++ {
				for step := 0; step < s.Config.ExchangeInterval; step++ {
					iteration := block*s.Config.ExchangeInterval + step + 1
					cs.Step(rng, s.Proposer, s.MiniEM, iteration)
				}

				stepBarrier.Wait()
				if cs.ID == 0 {
					SwapPass(s.Chains, block, swapRNG, s.Config.ExchangeInterval)
				}
				releaseBarrier.Wait()
			}
		}(cs)
	}
	wg.Wait()
}

// SortedSpecies returns a defensive sorted copy, used by report
// writers that need a deterministic species ordering (spec §5,
// "taxon and species orderings are always deterministic").
func SortedSpecies(species []int) []int {
	out := append([]int(nil), species...)
	sort.Ints(out)
	return out
}

// MedianUnkProb folds every chain's learned unknown-bin floor into a
// single value for the final inference stage, by taking the median
// across chains rather than trusting any single chain's estimate.
func MedianUnkProb(chains []*ChainState) float64 {
	floors := make([]float64, len(chains))
	for i, c := range chains {
		floors[i] = c.UnkProb
	}
	sort.Float64s(floors)
	return floors[len(floors)/2]
}
