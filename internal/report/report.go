// Package report writes the four tab-separated outputs of the
// pipeline (spec §6.4): the main results table, the cold chain's MCMC
// trace, per-read taxon assignments, and the optional posterior
// sample history. All writers use encoding/csv with a tab delimiter,
// matching the teacher's TSV export convention.
package report

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/nishad/metamix/internal/errors"
	"github.com/nishad/metamix/internal/mcmc"
)

// SpeciesRow is one row of the `_results.tsv` output.
type SpeciesRow struct {
	TaxonID        string
	ScientificName string
	MeanAbundance  float64
	CILow          float64
	CIHigh         float64
	EstimatedReads float64
	Log10BF        float64
}

func newTabWriter(path string) (*os.File, *csv.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.WrapMsg(errors.Op("report.newTabWriter"), "create output file", err)
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	return f, w, nil
}

// WriteResults writes `<prefix>_results.tsv`: one row per species in
// S*, plus a trailing comment line recording the learned unknown-bin
// probability floor (spec §6.4). The reported "Posterior" column is a
// fixed presence confidence, matching the reference pipeline's export.
func WriteResults(path string, rows []SpeciesRow, unkProbFloor float64) error {
	f, w, err := newTabWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.Write([]string{"TaxonID", "ScientificName", "MeanAbundance", "CI_Lower", "CI_Upper", "EstimatedReads", "Log10BF", "Posterior"}); err != nil {
		return errors.Wrap(errors.Op("report.WriteResults"), err)
	}
	for _, r := range rows {
		record := []string{
			r.TaxonID,
			r.ScientificName,
			fmt.Sprintf("%.6f", r.MeanAbundance),
			fmt.Sprintf("%.6f", r.CILow),
			fmt.Sprintf("%.6f", r.CIHigh),
			fmt.Sprintf("%.2f", r.EstimatedReads),
			fmt.Sprintf("%.2f", r.Log10BF),
			"1.00",
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(errors.Op("report.WriteResults"), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(errors.Op("report.WriteResults"), err)
	}

	if _, err := fmt.Fprintf(f, "# Unknown_Bin_Probability_Floor: %.4e\n", unkProbFloor); err != nil {
		return errors.Wrap(errors.Op("report.WriteResults"), err)
	}
	return nil
}

// WriteMCMCTrace writes `<prefix>_mcmc_trace.tsv`: the cold chain's
// history after skipping the first burninRatio fraction of records
// (spec §6.4, default ratio 0.1).
func WriteMCMCTrace(path string, history []mcmc.MoveRecord, burninRatio float64) error {
	f, w, err := newTabWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.Write([]string{"Iteration", "LogLikelihood", "MoveType"}); err != nil {
		return errors.Wrap(errors.Op("report.WriteMCMCTrace"), err)
	}

	start := int(float64(len(history)) * burninRatio)
	if start > len(history) {
		start = len(history)
	}
	for _, rec := range history[start:] {
		record := []string{
			fmt.Sprintf("%d", rec.Iteration),
			fmt.Sprintf("%.4f", rec.LogLikelihood),
			rec.MoveType,
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(errors.Op("report.WriteMCMCTrace"), err)
		}
	}
	w.Flush()
	return errors.Wrap(errors.Op("report.WriteMCMCTrace"), w.Error())
}

// ReadAssignmentRow is one row of `_read_assignments.tsv`.
type ReadAssignmentRow struct {
	ReadName        string
	AssignedTaxonID string // "Unknown" for the unknown bin
	AssignedName    string // "Unknown" for the unknown bin
	Probability     float64
}

// WriteReadAssignments writes `<prefix>_read_assignments.tsv`: one row
// per read (spec §6.4).
func WriteReadAssignments(path string, rows []ReadAssignmentRow) error {
	f, w, err := newTabWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.Write([]string{"ReadName", "AssignedTaxonID", "AssignedName", "Probability"}); err != nil {
		return errors.Wrap(errors.Op("report.WriteReadAssignments"), err)
	}
	for _, r := range rows {
		record := []string{r.ReadName, r.AssignedTaxonID, r.AssignedName, fmt.Sprintf("%.4f", r.Probability)}
		if err := w.Write(record); err != nil {
			return errors.Wrap(errors.Op("report.WriteReadAssignments"), err)
		}
	}
	w.Flush()
	return errors.Wrap(errors.Op("report.WriteReadAssignments"), w.Error())
}

// WritePosteriorSamples writes the optional `<prefix>_posterior_samples.tsv`:
// one row per post-burn-in Gibbs iteration, columns are taxonHeaders
// followed by "Unknown" (spec §6.4).
func WritePosteriorSamples(path string, taxonHeaders []string, samples [][]float64) error {
	f, w, err := newTabWriter(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := append([]string{"Iteration"}, taxonHeaders...)
	header = append(header, "Unknown")
	if err := w.Write(header); err != nil {
		return errors.Wrap(errors.Op("report.WritePosteriorSamples"), err)
	}

	for i, row := range samples {
		record := make([]string, 0, len(row)+1)
		record = append(record, fmt.Sprintf("%d", i))
		for _, v := range row {
			record = append(record, fmt.Sprintf("%.2f", v))
		}
		if err := w.Write(record); err != nil {
			return errors.Wrap(errors.Op("report.WritePosteriorSamples"), err)
		}
	}
	w.Flush()
	return errors.Wrap(errors.Op("report.WritePosteriorSamples"), w.Error())
}
