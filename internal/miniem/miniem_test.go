package miniem

import (
	"math"
	"testing"

	"github.com/nishad/metamix/internal/sparsematrix"
)

func TestComputeLPenaltyIsNegativeAndFinite(t *testing.T) {
	p := PenaltyParams{TotalReadWeight: 1000, ReadSupport: 30, MedianGenomeLen: 284332, ReferenceFloor: 1e-20}
	l := ComputeLPenalty(p)
	if math.IsNaN(l) || math.IsInf(l, 0) {
		t.Fatalf("L_penalty not finite: %v", l)
	}
	if l > 0 {
		t.Errorf("expected L_penalty <= 0, got %v", l)
	}
}

func TestEmptySpeciesSetDegeneratesToUnknownOnly(t *testing.T) {
	// One read, zero nonzero entries.
	m, err := sparsematrix.New(nil, 1, 0)
	if err != nil {
		t.Fatalf("sparsematrix.New: %v", err)
	}
	ctx := &Context{Linear: m, ReadWeights: []float64{1.0}}

	res := ctx.Run(nil, nil, 1e-300, 10)
	want := math.Log(1e-300 + 1e-300)
	if math.Abs(res.LogL-want) > 1e-9 {
		t.Errorf("expected logL %v, got %v", want, res.LogL)
	}
	if len(res.Abundances) != 0 {
		t.Errorf("expected empty abundances map, got %v", res.Abundances)
	}
	if res.UnkProb != unkFloorMin {
		t.Errorf("expected unk prob pinned at floor, got %v", res.UnkProb)
	}
}

func TestRunRespectsUnkProbBounds(t *testing.T) {
	entries := []sparsematrix.Entry{
		{Read: 0, Taxon: 0, Value: 0.5},
		{Read: 1, Taxon: 0, Value: 0.9},
	}
	m, err := sparsematrix.New(entries, 2, 1)
	if err != nil {
		t.Fatalf("sparsematrix.New: %v", err)
	}
	ctx := &Context{Linear: m, ReadWeights: []float64{1, 1}, TaxonWeights: []float64{1}}

	res := ctx.Run([]int{0}, nil, 1e-10, 10)
	if res.UnkProb < unkFloorMin || res.UnkProb > unkFloorMax {
		t.Errorf("unk prob out of bounds: %v", res.UnkProb)
	}
	sum := 0.0
	for _, v := range res.Abundances {
		sum += v
	}
	// abundances + an implicit unknown share should not exceed 1 by more
	// than rounding.
	if sum > 1.0+1e-6 {
		t.Errorf("species abundances exceed 1: %v", sum)
	}
}

func TestSingleColumnMatrixMeanAbundanceConvergesNearOne(t *testing.T) {
	entries := []sparsematrix.Entry{
		{Read: 0, Taxon: 0, Value: 0.99},
		{Read: 1, Taxon: 0, Value: 0.99},
		{Read: 2, Taxon: 0, Value: 0.99},
	}
	m, err := sparsematrix.New(entries, 3, 1)
	if err != nil {
		t.Fatalf("sparsematrix.New: %v", err)
	}
	ctx := &Context{Linear: m, ReadWeights: []float64{1, 1, 1}, TaxonWeights: []float64{1}}

	res := ctx.Run([]int{0}, nil, 1e-300, 20)
	if res.Abundances[0] < 0.9 {
		t.Errorf("expected column 0 to dominate abundance, got %v", res.Abundances[0])
	}
}
