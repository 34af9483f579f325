// Package sparsematrix implements the read×taxon compressed sparse
// container described in spec §3/§4.1. Rows are reads, columns are
// taxa; a row's entries are stored contiguously so iteration is
// O(nnz_row) and column order is stable across repeated iterations.
package sparsematrix

import (
	"math"
	"sort"

	"github.com/nishad/metamix/internal/errors"
)

// Entry is one (read, taxon, log-probability) triple as produced by
// the external alignment parser (spec §3, "Matrix entry").
type Entry struct {
	Read  int
	Taxon int
	Value float64 // log_probability <= 0
}

// Matrix is an immutable row-major compressed sparse matrix. Rows are
// reads (R), columns are taxa (T). Values are stored exactly as given
// at construction time: callers pick log-space or linear-space.
type Matrix struct {
	rows int
	cols int

	// rowStart[i]:rowStart[i+1] indexes into cols/vals for row i.
	rowStart []int
	colIdx   []int
	vals     []float64
}

// Row is a parallel-array view over one row's (column, value) pairs.
// It aliases the matrix's backing storage and must not be mutated.
type Row struct {
	Cols []int
	Vals []float64
}

// New builds an immutable matrix from entries, resolving duplicate
// (read,taxon) keys by keeping the maximum value, per spec §3.
func New(entries []Entry, rows, cols int) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, errors.E(errors.Op("sparsematrix.New"), errors.KindInvariant, "rows and cols must be non-negative")
	}

	// Resolve duplicates by (read,taxon), keeping the max value, before
	// bucketing into rows so row order is deterministic regardless of
	// input order.
	type key struct{ r, c int }
	best := make(map[key]float64, len(entries))
	order := make([]key, 0, len(entries))
	for _, e := range entries {
		if e.Read < 0 || e.Read >= rows || e.Taxon < 0 || e.Taxon >= cols {
			return nil, errors.E(errors.Op("sparsematrix.New"), errors.KindSchema, "entry index out of bounds")
		}
		k := key{e.Read, e.Taxon}
		if cur, ok := best[k]; !ok {
			best[k] = e.Value
			order = append(order, k)
		} else if e.Value > cur {
			best[k] = e.Value
		}
	}

	perRow := make([][]int, rows)
	for _, k := range order {
		perRow[k.r] = append(perRow[k.r], k.c)
	}

	m := &Matrix{rows: rows, cols: cols, rowStart: make([]int, rows+1)}
	nnz := 0
	for i := 0; i < rows; i++ {
		nnz += len(perRow[i])
	}
	m.colIdx = make([]int, 0, nnz)
	m.vals = make([]float64, 0, nnz)

	for i := 0; i < rows; i++ {
		m.rowStart[i] = len(m.colIdx)
		for _, c := range perRow[i] {
			m.colIdx = append(m.colIdx, c)
			m.vals = append(m.vals, best[key{i, c}])
		}
	}
	m.rowStart[rows] = len(m.colIdx)

	return m, nil
}

// Rows returns the number of reads.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of taxa.
func (m *Matrix) Cols() int { return m.cols }

// NNZ returns the total number of stored entries.
func (m *Matrix) NNZ() int { return len(m.vals) }

// Row returns a view over row i's (column, value) pairs. Column order
// within the row is stable across calls but unspecified otherwise.
func (m *Matrix) Row(i int) Row {
	s, e := m.rowStart[i], m.rowStart[i+1]
	return Row{Cols: m.colIdx[s:e], Vals: m.vals[s:e]}
}

// RowIter calls fn once per row in increasing row order.
func (m *Matrix) RowIter(fn func(row int, r Row)) {
	for i := 0; i < m.rows; i++ {
		fn(i, m.Row(i))
	}
}

// SubsetColumns returns a new matrix keeping only the given columns,
// renumbered 0..len(keep)-1 in the order given. Row indices and count
// are preserved (spec §4.1).
func (m *Matrix) SubsetColumns(keep []int) *Matrix {
	colMap := make(map[int]int, len(keep))
	for newIdx, oldIdx := range keep {
		colMap[oldIdx] = newIdx
	}

	out := &Matrix{rows: m.rows, cols: len(keep), rowStart: make([]int, m.rows+1)}
	for i := 0; i < m.rows; i++ {
		row := m.Row(i)
		out.rowStart[i] = len(out.colIdx)
		for k, c := range row.Cols {
			if nc, ok := colMap[c]; ok {
				out.colIdx = append(out.colIdx, nc)
				out.vals = append(out.vals, row.Vals[k])
			}
		}
	}
	out.rowStart[m.rows] = len(out.colIdx)
	return out
}

// ExpLinear returns a parallel matrix with every value replaced by
// math.Exp(value), for use where mini-EM/Gibbs need linear-space
// probabilities (spec §3). Values of -Inf map to 0.
func (m *Matrix) ExpLinear() *Matrix {
	out := &Matrix{
		rows:     m.rows,
		cols:     m.cols,
		rowStart: append([]int(nil), m.rowStart...),
		colIdx:   append([]int(nil), m.colIdx...),
		vals:     make([]float64, len(m.vals)),
	}
	for i, v := range m.vals {
		out.vals[i] = math.Exp(v)
	}
	return out
}

// SortedCols returns a copy of row i's column indices sorted ascending,
// alongside matching values, for callers that need merge-join access
// (spec §9, "avoid the O(|S|*nnz_row) linear search").
func (m *Matrix) SortedCols(i int) ([]int, []float64) {
	row := m.Row(i)
	cols := append([]int(nil), row.Cols...)
	vals := append([]float64(nil), row.Vals...)
	idx := make([]int, len(cols))
	for k := range idx {
		idx[k] = k
	}
	sort.Slice(idx, func(a, b int) bool { return cols[idx[a]] < cols[idx[b]] })
	sc := make([]int, len(cols))
	sv := make([]float64, len(cols))
	for k, j := range idx {
		sc[k] = cols[j]
		sv[k] = vals[j]
	}
	return sc, sv
}
