package move

import (
	"math"
	"math/rand"
	"testing"
)

func TestProbabilitiesBoundaries(t *testing.T) {
	if a, r, s := Probabilities(0, 5); a != 1 || r != 0 || s != 0 {
		t.Errorf("empty set: got (%v,%v,%v)", a, r, s)
	}
	if a, r, s := Probabilities(5, 5); a != 0 || r != 1 || s != 0 {
		t.Errorf("full set: got (%v,%v,%v)", a, r, s)
	}
	if a, r, s := Probabilities(2, 5); a != 0.4 || r != 0.4 || s != 0.2 {
		t.Errorf("interior: got (%v,%v,%v)", a, r, s)
	}
}

func TestProposeAddFromEmptySet(t *testing.T) {
	p := &Proposer{TaxonWeights: []float64{1, 2, 3}, Total: 3}
	rng := rand.New(rand.NewSource(1))

	prop, ok := p.Propose(rng, nil, nil)
	if !ok {
		t.Fatal("expected a proposal from an empty set")
	}
	if prop.Kind != KindAdd {
		t.Fatalf("expected Add from empty set, got %v", prop.Kind)
	}
	if len(prop.NextSpecies) != 1 {
		t.Fatalf("expected one species added, got %v", prop.NextSpecies)
	}
}

func TestProposeRemoveFromFullSet(t *testing.T) {
	p := &Proposer{TaxonWeights: []float64{1, 2, 3}, Total: 3}
	rng := rand.New(rand.NewSource(2))
	current := []int{0, 1, 2}
	abundances := map[int]float64{0: 0.2, 1: 0.3, 2: 0.5}

	prop, ok := p.Propose(rng, current, abundances)
	if !ok {
		t.Fatal("expected a proposal from a full set")
	}
	if prop.Kind != KindRemove {
		t.Fatalf("expected Remove from full set, got %v", prop.Kind)
	}
	if len(prop.NextSpecies) != 2 {
		t.Fatalf("expected one species removed, got %v", prop.NextSpecies)
	}
}

func TestAddProposalFailsWhenWeightsAreZero(t *testing.T) {
	p := &Proposer{TaxonWeights: []float64{0, 0, 0}, Total: 3}
	rng := rand.New(rand.NewSource(3))
	if _, ok := p.proposeAdd(rng, nil, 1.0); ok {
		t.Fatal("expected Add proposal to fail with all-zero weights")
	}
}

func TestReverseDensityOfAddIsPositiveRemoveProbability(t *testing.T) {
	p := &Proposer{TaxonWeights: []float64{1, 1, 1, 1}, Total: 4}
	current := []int{0, 1}
	prop := Proposal{Kind: KindAdd, NextSpecies: []int{0, 1, 2}, Added: 2, Removed: -1}
	proposedAbundances := map[int]float64{0: 0.4, 1: 0.4, 2: 0.2}

	logQ, err := p.ReverseLogDensity(prop, proposedAbundances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsInf(logQ, -1) || math.IsNaN(logQ) {
		t.Fatalf("expected finite reverse density, got %v", logQ)
	}
	_ = current
}

func TestGammaDirichletInitSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	init := gammaDirichletInit(rng, []int{5, 9, 12})
	var total float64
	for _, v := range init {
		total += v
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("expected Dirichlet draw to sum to 1, got %v", total)
	}
}

func TestClampedInverseWeightsFavorsLowAbundance(t *testing.T) {
	species := []int{0, 1, 2, 3, 4}
	abundances := map[int]float64{0: 0.01, 1: 0.2, 2: 0.2, 3: 0.2, 4: 0.39}
	clamped, total := clampedInverseWeights(species, abundances)
	if total <= 0 {
		t.Fatal("expected positive total weight")
	}
	// The rarest taxon (0) should not dominate the distribution once
	// clamped to the 20th-80th percentile band.
	if clamped[0]/total > 0.9 {
		t.Errorf("expected clamping to temper the rarest taxon's weight, got share %v", clamped[0]/total)
	}
}
