package sparsematrix

import (
	"math"
	"testing"
)

func TestNewResolvesDuplicatesByMax(t *testing.T) {
	entries := []Entry{
		{Read: 0, Taxon: 1, Value: -5.0},
		{Read: 0, Taxon: 1, Value: -1.0},
		{Read: 0, Taxon: 2, Value: -3.0},
	}
	m, err := New(entries, 1, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.NNZ() != 2 {
		t.Fatalf("expected 2 nnz after dedup, got %d", m.NNZ())
	}
	row := m.Row(0)
	for k, c := range row.Cols {
		if c == 1 && row.Vals[k] != -1.0 {
			t.Errorf("expected max value -1.0 for taxon 1, got %v", row.Vals[k])
		}
	}
}

func TestRowIterStableAcrossCalls(t *testing.T) {
	entries := []Entry{
		{Read: 0, Taxon: 0, Value: -1},
		{Read: 0, Taxon: 2, Value: -2},
		{Read: 1, Taxon: 1, Value: -3},
	}
	m, err := New(entries, 2, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := m.Row(0)
	second := m.Row(0)
	if len(first.Cols) != len(second.Cols) {
		t.Fatal("row iteration not stable")
	}
	for i := range first.Cols {
		if first.Cols[i] != second.Cols[i] || first.Vals[i] != second.Vals[i] {
			t.Fatal("row iteration not stable across calls")
		}
	}
}

func TestSubsetColumnsPreservesRowsAndRenumbers(t *testing.T) {
	entries := []Entry{
		{Read: 0, Taxon: 0, Value: -1},
		{Read: 0, Taxon: 1, Value: -2},
		{Read: 1, Taxon: 1, Value: -4},
		{Read: 1, Taxon: 2, Value: -5},
	}
	m, err := New(entries, 2, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub := m.SubsetColumns([]int{1, 2})
	if sub.Rows() != 2 {
		t.Fatalf("expected 2 rows preserved, got %d", sub.Rows())
	}
	if sub.Cols() != 2 {
		t.Fatalf("expected 2 cols, got %d", sub.Cols())
	}

	row0 := sub.Row(0)
	if len(row0.Cols) != 1 || row0.Cols[0] != 0 || row0.Vals[0] != -2 {
		t.Errorf("row 0 not renumbered correctly: %+v", row0)
	}
	row1 := sub.Row(1)
	found0, found1 := false, false
	for k, c := range row1.Cols {
		if c == 0 && row1.Vals[k] == -4 {
			found0 = true
		}
		if c == 1 && row1.Vals[k] == -5 {
			found1 = true
		}
	}
	if !found0 || !found1 {
		t.Errorf("row 1 not renumbered correctly: %+v", row1)
	}
}

func TestSubsetColumnsIdempotentWhenAllKept(t *testing.T) {
	entries := []Entry{
		{Read: 0, Taxon: 0, Value: -1},
		{Read: 1, Taxon: 1, Value: -2},
	}
	m, err := New(entries, 2, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sub := m.SubsetColumns([]int{0, 1})
	if sub.NNZ() != m.NNZ() {
		t.Fatalf("expected same nnz, got %d vs %d", sub.NNZ(), m.NNZ())
	}
}

func TestExpLinear(t *testing.T) {
	entries := []Entry{{Read: 0, Taxon: 0, Value: math.Log(0.5)}}
	m, err := New(entries, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lin := m.ExpLinear()
	row := lin.Row(0)
	if math.Abs(row.Vals[0]-0.5) > 1e-12 {
		t.Errorf("expected 0.5, got %v", row.Vals[0])
	}
}

func TestOutOfBoundsEntryRejected(t *testing.T) {
	_, err := New([]Entry{{Read: 5, Taxon: 0, Value: -1}}, 1, 1)
	if err == nil {
		t.Fatal("expected error for out-of-bounds read index")
	}
}
