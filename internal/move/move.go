// Package move implements the move proposer (C4, spec §4.4): Add,
// Remove, and Swap proposals over the set of present taxa, with the
// forward and reverse proposal densities the sampler (C5) needs for
// Metropolis-Hastings acceptance.
package move

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nishad/metamix/internal/errors"
)

// Kind identifies which move was drawn.
type Kind int

const (
	KindNone Kind = iota
	KindAdd
	KindRemove
	KindSwap
)

func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "Add"
	case KindRemove:
		return "Remove"
	case KindSwap:
		return "Swap"
	default:
		return "None"
	}
}

const unkAbundanceGuard = 1e-300

// Probabilities returns (pAdd, pRemove, pSwap) for a current set of
// size sSize out of total reduced taxa (spec §4.4).
func Probabilities(sSize, total int) (pAdd, pRemove, pSwap float64) {
	switch {
	case sSize == 0:
		return 1, 0, 0
	case sSize == total:
		return 0, 1, 0
	default:
		return 0.4, 0.4, 0.2
	}
}

// Proposer draws moves against a fixed, immutable taxon-weight vector
// (the post-EM abundances supplied by C2) shared across all chains.
type Proposer struct {
	TaxonWeights []float64
	Total        int
}

// Proposal is a fully-formed candidate next state plus the forward
// proposal log-density and enough bookkeeping to later compute the
// reverse density once mini-EM has produced the proposed state's
// abundances.
type Proposal struct {
	Kind        Kind
	NextSpecies []int // sorted
	Init        map[int]float64
	LogQForward float64
	Added       int // -1 if not applicable
	Removed     int // -1 if not applicable
}

// Propose draws a move for the current (sorted) species set using rng,
// following spec §4.4/§4.5 step 1-2. It returns ok=false when no move
// could be formed (e.g. the Add pool's weights all sum to zero), which
// the caller records as a None move per spec §7.
func (p *Proposer) Propose(rng *rand.Rand, current []int, currentAbundances map[int]float64) (Proposal, bool) {
	sSize := len(current)
	pAdd, pRemove, pSwap := Probabilities(sSize, p.Total)

	r := rng.Float64()
	switch {
	case r < pAdd:
		return p.proposeAdd(rng, current, pAdd)
	case r < pAdd+pRemove:
		return p.proposeRemove(rng, current, currentAbundances, pRemove)
	default:
		_ = pSwap
		return p.proposeSwap(rng, current, currentAbundances)
	}
}

func (p *Proposer) proposeAdd(rng *rand.Rand, current []int, pAdd float64) (Proposal, bool) {
	excluded := toSet(current)
	j, logPick, ok := weightedPick(rng, p.TaxonWeights, excluded)
	if !ok {
		return Proposal{}, false
	}
	next := insertSorted(current, j)
	return Proposal{
		Kind:        KindAdd,
		NextSpecies: next,
		Init:        gammaDirichletInit(rng, next),
		LogQForward: math.Log(pAdd) + logPick,
		Added:       j,
		Removed:     -1,
	}, true
}

func (p *Proposer) proposeRemove(rng *rand.Rand, current []int, abundances map[int]float64, pRemove float64) (Proposal, bool) {
	j, logPick, ok := clampedInversePick(rng, current, abundances)
	if !ok {
		return Proposal{}, false
	}
	next := removeSorted(current, j)
	return Proposal{
		Kind:        KindRemove,
		NextSpecies: next,
		Init:        gammaDirichletInit(rng, next),
		LogQForward: math.Log(pRemove) + logPick,
		Added:       -1,
		Removed:     j,
	}, true
}

func (p *Proposer) proposeSwap(rng *rand.Rand, current []int, abundances map[int]float64) (Proposal, bool) {
	_, _, pSwap := Probabilities(len(current), p.Total)

	jRem, logRemovePick, ok := clampedInversePick(rng, current, abundances)
	if !ok {
		return Proposal{}, false
	}
	mid := removeSorted(current, jRem)

	jAdd, logAddPick, ok := weightedPick(rng, p.TaxonWeights, toSet(mid))
	if !ok {
		return Proposal{}, false
	}
	next := insertSorted(mid, jAdd)

	return Proposal{
		Kind:        KindSwap,
		NextSpecies: next,
		Init:        gammaDirichletInit(rng, next),
		LogQForward: math.Log(pSwap) + logRemovePick + logAddPick,
		Added:       jAdd,
		Removed:     jRem,
	}, true
}

// ReverseLogDensity computes the log-density of proposing current from
// prop.NextSpecies, using the proposed state's mini-EM abundances, as
// required by spec §4.4 ("reverse under the proposed set").
func (p *Proposer) ReverseLogDensity(prop Proposal, proposedAbundances map[int]float64) (float64, error) {
	const op = errors.Op("move.ReverseLogDensity")
	nextSize := len(prop.NextSpecies)

	switch prop.Kind {
	case KindAdd:
		pAddN, pRemoveN, _ := Probabilities(nextSize, p.Total)
		_ = pAddN
		logPick, ok := clampedInverseLogProb(prop.NextSpecies, proposedAbundances, prop.Added)
		if !ok {
			return 0, errors.E(op, errors.KindInvariant, "reverse remove density undefined: added taxon absent from proposed abundances")
		}
		return math.Log(pRemoveN) + logPick, nil

	case KindRemove:
		pAddN, _, _ := Probabilities(nextSize, p.Total)
		logPick, ok := weightedLogProb(p.TaxonWeights, toSet(prop.NextSpecies), prop.Removed)
		if !ok {
			return 0, errors.E(op, errors.KindInvariant, "reverse add density undefined: zero-weight candidate pool")
		}
		return math.Log(pAddN) + logPick, nil

	case KindSwap:
		_, _, pSwapN := Probabilities(nextSize, p.Total)
		logRemovePick, ok := clampedInverseLogProb(prop.NextSpecies, proposedAbundances, prop.Added)
		if !ok {
			return 0, errors.E(op, errors.KindInvariant, "reverse swap-remove density undefined")
		}
		mid := removeSorted(prop.NextSpecies, prop.Added)
		logAddPick, ok := weightedLogProb(p.TaxonWeights, toSet(mid), prop.Removed)
		if !ok {
			return 0, errors.E(op, errors.KindInvariant, "reverse swap-add density undefined")
		}
		return math.Log(pSwapN) + logRemovePick + logAddPick, nil

	default:
		return 0, errors.E(op, errors.KindInvariant, "reverse density requested for a None move")
	}
}

// weightedPick draws an index j not in excluded with probability
// proportional to weights[j], enumerating candidates in ascending
// order for cross-implementation reproducibility (spec §4.4 note in
// §9). ok is false when the candidate pool's weights sum to zero.
func weightedPick(rng *rand.Rand, weights []float64, excluded map[int]bool) (int, float64, bool) {
	var total float64
	for j, w := range weights {
		if !excluded[j] {
			total += w
		}
	}
	if total <= 0 {
		return 0, 0, false
	}
	target := rng.Float64() * total
	var cum float64
	for j, w := range weights {
		if excluded[j] {
			continue
		}
		cum += w
		if target < cum {
			return j, math.Log(w / total), true
		}
	}
	// Floating-point rounding: fall back to the last eligible candidate.
	for j := len(weights) - 1; j >= 0; j-- {
		if !excluded[j] {
			return j, math.Log(weights[j] / total), true
		}
	}
	return 0, 0, false
}

func weightedLogProb(weights []float64, excluded map[int]bool, j int) (float64, bool) {
	if j < 0 || j >= len(weights) {
		return 0, false
	}
	var total float64
	for k, w := range weights {
		if !excluded[k] {
			total += w
		}
	}
	if total <= 0 || weights[j] <= 0 {
		return 0, false
	}
	return math.Log(weights[j] / total), true
}

// clampedInversePick implements the Remove proposal of spec §4.4:
// inverse-abundance weights clamped to the [p20, p80] percentile band
// before the categorical draw, guarding against any single rare or
// dominant taxon monopolizing removal probability.
func clampedInversePick(rng *rand.Rand, species []int, abundances map[int]float64) (int, float64, bool) {
	if len(species) == 0 {
		return 0, 0, false
	}
	clamped, total := clampedInverseWeights(species, abundances)
	if total <= 0 {
		return 0, 0, false
	}
	target := rng.Float64() * total
	var cum float64
	for i, w := range clamped {
		cum += w
		if target < cum {
			return species[i], math.Log(w / total), true
		}
	}
	last := len(species) - 1
	return species[last], math.Log(clamped[last] / total), true
}

func clampedInverseLogProb(species []int, abundances map[int]float64, j int) (float64, bool) {
	clamped, total := clampedInverseWeights(species, abundances)
	if total <= 0 {
		return 0, false
	}
	for i, col := range species {
		if col == j {
			return math.Log(clamped[i] / total), true
		}
	}
	return 0, false
}

func clampedInverseWeights(species []int, abundances map[int]float64) ([]float64, float64) {
	n := len(species)
	raw := make([]float64, n)
	for i, col := range species {
		raw[i] = 1.0 / (abundances[col] + unkAbundanceGuard)
	}

	sorted := append([]float64(nil), raw...)
	sort.Float64s(sorted)
	p20 := sorted[percentileIndex(n, 0.2)]
	p80 := sorted[percentileIndex(n, 0.8)]

	clamped := make([]float64, n)
	var total float64
	for i, w := range raw {
		clamped[i] = clamp(w, p20, p80)
		total += clamped[i]
	}
	return clamped, total
}

func percentileIndex(n int, q float64) int {
	idx := int(math.Floor(q * float64(n)))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func gammaDirichletInit(rng *rand.Rand, species []int) map[int]float64 {
	init := make(map[int]float64, len(species))
	var total float64
	draws := make([]float64, len(species))
	for i := range species {
		g := sampleStandardGamma(rng)
		draws[i] = g
		total += g
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

// sampleStandardGamma draws a Gamma(1,1) deviate, matching the
// symmetric Dirichlet draw of spec §4.5.
func sampleStandardGamma(rng *rand.Rand) float64 {
	g := distuv.Gamma{Alpha: 1, Beta: 1, Src: rng}
	return g.Rand()
}

func toSet(species []int) map[int]bool {
	set := make(map[int]bool, len(species))
	for _, s := range species {
		set[s] = true
	}
	return set
}

func insertSorted(species []int, j int) []int {
	next := make([]int, 0, len(species)+1)
	inserted := false
	for _, s := range species {
		if !inserted && j < s {
			next = append(next, j)
			inserted = true
		}
		next = append(next, s)
	}
	if !inserted {
		next = append(next, j)
	}
	return next
}

func removeSorted(species []int, j int) []int {
	next := make([]int, 0, len(species)-1)
	for _, s := range species {
		if s != j {
			next = append(next, s)
		}
	}
	return next
}
