// Package emreduce implements the full-universe EM dimension reducer
// (C2, spec §4.2): a standard mixture EM over a categorical model with
// uniform prior, used to filter candidate taxa down to those with
// sufficient effective read support before the MCMC stage runs.
package emreduce

import (
	"math"

	"github.com/nishad/metamix/internal/sparsematrix"
)

// Result is the output of Reduce: a column-subset matrix plus the
// retained taxon column indices (in original-id order) and their
// converged abundances.
type Result struct {
	Matrix          *sparsematrix.Matrix
	RetainedColumns []int
	Abundances      []float64
	Iterations      int
}

// Reduce runs EM to convergence (or to the iteration cap) over the
// full log-probability matrix, then keeps only the columns whose
// effective read count (round(pi_j * R)) is at least readCutoff.
func Reduce(logMatrix *sparsematrix.Matrix, readCutoff, maxIter int) Result {
	pi, iters := runEM(logMatrix, maxIter)

	r := float64(logMatrix.Rows())
	var keep []int
	for j, p := range pi {
		effective := math.Round(p * r)
		if effective >= float64(readCutoff) {
			keep = append(keep, j)
		}
	}

	abund := make([]float64, len(keep))
	for i, j := range keep {
		abund[i] = pi[j]
	}

	return Result{
		Matrix:          logMatrix.SubsetColumns(keep),
		RetainedColumns: keep,
		Abundances:      abund,
		Iterations:      iters,
	}
}

// runEM performs the per-iteration log-sum-exp responsibility
// accumulation described in spec §4.2, terminating when the L1 change
// in abundances drops below 1e-6 or the iteration cap is reached.
func runEM(m *sparsematrix.Matrix, maxIter int) ([]float64, int) {
	cols := m.Cols()
	if cols == 0 {
		return nil, 0
	}

	pi := make([]float64, cols)
	for j := range pi {
		pi[j] = 1.0 / float64(cols)
	}

	logPi := make([]float64, cols)
	next := make([]float64, cols)

	for iter := 0; iter < maxIter; iter++ {
		for j := range logPi {
			logPi[j] = math.Log(pi[j])
		}
		for j := range next {
			next[j] = 0
		}

		m.RowIter(func(_ int, row sparsematrix.Row) {
			if len(row.Cols) == 0 {
				return
			}
			maxVal := math.Inf(-1)
			for k, c := range row.Cols {
				term := row.Vals[k] + logPi[c]
				if term > maxVal {
					maxVal = term
				}
			}
			var sumExp float64
			for k, c := range row.Cols {
				term := row.Vals[k] + logPi[c]
				sumExp += math.Exp(term - maxVal)
			}
			logLi := maxVal + math.Log(sumExp)

			for k, c := range row.Cols {
				logNumerator := row.Vals[k] + logPi[c]
				z := math.Exp(logNumerator - logLi)
				next[c] += z
			}
		})

		var total float64
		for _, v := range next {
			total += v
		}
		if total <= 0 {
			// No row carried any finite probability mass; reset to
			// uniform rather than dividing by zero.
			for j := range pi {
				pi[j] = 1.0 / float64(cols)
			}
			return pi, iter + 1
		}

		var diff float64
		for j := range next {
			v := next[j] / total
			diff += math.Abs(v - pi[j])
			pi[j] = v
		}

		if diff < 1e-6 {
			return pi, iter + 1
		}
	}

	return pi, maxIter
}
