// Package alignment implements the alignment scoring contract of
// spec §6.2: converting a read's mismatch count and per-base quality
// scores into the log-probability that feeds the sparse matrix (C1).
// This is "informative" per the core spec — the matrix itself is the
// external collaborator's output. The package is a standalone scorer:
// cmd/metamix and internal/ingest do not call it, and the run command
// reads pre-scored log-probabilities only.
package alignment

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

const (
	// logClip is the floor applied to any computed log-probability
	// (spec §6.2, "clipped above -700").
	logClip = -700.0
	// defaultErrorRate is used when per-base quality scores are
	// unavailable (spec §6.2, "falling back to 0.03*L").
	defaultErrorRate = 0.03
	// minErrorRate is the lower bound applied after computing lambda
	// from quality scores (spec §6.2, "0.01*L as a lower bound").
	minErrorRate = 0.01
)

// TotalErrorRate computes λ = Σ 10^(-Q_b/10) over a read's per-base
// Phred quality scores.
func TotalErrorRate(quals []byte) float64 {
	var lambda float64
	for _, q := range quals {
		lambda += math.Pow(10, -float64(q)/10.0)
	}
	return lambda
}

// EffectiveLambda resolves the λ used for scoring: the sum of per-base
// error probabilities when quality scores are present, a length-scaled
// fallback otherwise, clamped to a minimum of 0.01*readLen.
func EffectiveLambda(quals []byte, readLen int) float64 {
	var lambda float64
	if len(quals) > 0 {
		lambda = TotalErrorRate(quals)
	} else {
		lambda = defaultErrorRate * float64(readLen)
	}
	if floor := minErrorRate * float64(readLen); lambda < floor {
		lambda = floor
	}
	return lambda
}

// LogProbability computes the log-probability that a read with k
// mismatches and error-rate λ originated from a reference of length
// genomeLen (spec §6.2). For k=0 this is exactly -ln(genomeLen); for
// k>0 it uses the regularized lower incomplete gamma function when
// positive, falling back to a log-space Poisson tail otherwise.
func LogProbability(k int, lambda float64, genomeLen float64) float64 {
	if genomeLen <= 0 {
		return logClip
	}
	if k == 0 {
		return -math.Log(genomeLen)
	}

	safeLambda := lambda
	if safeLambda < 1e-100 {
		safeLambda = 1e-100
	}
	kf := float64(k)

	probTail := mathext.GammaIncReg(kf, safeLambda)

	var logP float64
	if probTail > 0 {
		logP = math.Log(probTail / genomeLen)
	} else {
		lgamma, _ := math.Lgamma(kf + 1)
		logPoisson := -safeLambda + kf*math.Log(safeLambda) - lgamma
		logP = logPoisson - math.Log(genomeLen)
	}

	if logP < logClip {
		return logClip
	}
	return logP
}
