package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nishad/metamix/internal/config"
	"github.com/nishad/metamix/internal/emreduce"
	"github.com/nishad/metamix/internal/gibbs"
	"github.com/nishad/metamix/internal/ingest"
	"github.com/nishad/metamix/internal/inference"
	"github.com/nishad/metamix/internal/mcmc"
	"github.com/nishad/metamix/internal/miniem"
	"github.com/nishad/metamix/internal/move"
	"github.com/nishad/metamix/internal/report"
	"github.com/nishad/metamix/internal/sparsematrix"
	"github.com/nishad/metamix/internal/taxonomy"
)

// fallbackGenomeLen is used when the configuration leaves
// penalty.median_genome_len at 0. The alignment stream carries no
// reference lengths, so no median is detected from the input (spec
// §6.1's "detected median genome length" is an external-parser output;
// a name-sorted BAM header is unavailable to this entrypoint).
const fallbackGenomeLen = 284332.0

// initialUnkProb is the unknown-bin floor every chain starts from,
// before adaptive updates move it within [1e-300, 1e-5] (spec §3,
// §4.3). The Gibbs stage does not start from it: it uses the median
// of the chains' learned floors.
const initialUnkProb = 1e-300

var (
	runAlignments string
	runNames      string
	runConfig     string
	runOutPrefix  string
	runSeed       int64
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full inference pipeline on a scored alignment stream",
		Long: `run consumes a tab-separated stream of (read_name, taxon_ref, log_prob)
alignment entries and executes the EM reduction, parallel-tempered MCMC,
and final Gibbs sampling stages, writing the four standard report files.`,
		RunE: runPipeline,
	}

	cmd.Flags().StringVar(&runAlignments, "alignments", "", "Path to the scored alignment stream (required)")
	cmd.Flags().StringVar(&runNames, "names", "", "Path to a pipe-delimited scientific-name lookup file")
	cmd.Flags().StringVar(&runConfig, "config", "", "Path to a YAML configuration file")
	cmd.Flags().StringVar(&runOutPrefix, "output-prefix", "", "Override the configured output file prefix")
	cmd.Flags().Int64Var(&runSeed, "seed", 0, "RNG seed (0 selects a time-derived seed)")
	cmd.MarkFlagRequired("alignments")

	return cmd
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfig)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if runOutPrefix != "" {
		cfg.Output.Prefix = runOutPrefix
	}

	seed := runSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	taxa := taxonomy.NewMap()
	aligns, err := ingest.LoadAlignments(runAlignments, taxa)
	if err != nil {
		return err
	}

	var names taxonomy.Names
	if runNames != "" {
		names, err = taxonomy.LoadNames(runNames)
		if err != nil {
			return err
		}
	}

	logMatrix, err := sparsematrix.New(aligns.Entries, aligns.Reads, taxa.Len())
	if err != nil {
		return err
	}

	fmt.Printf("Loaded %d reads, %d taxa, %d entries\n", logMatrix.Rows(), logMatrix.Cols(), logMatrix.NNZ())

	emResult := emreduce.Reduce(logMatrix, cfg.EM.ReadCutoff, cfg.EM.Iterations)
	fmt.Printf("EM reduced to %d taxa after %d iterations\n", len(emResult.RetainedColumns), emResult.Iterations)

	readWeights := make([]float64, aligns.Reads)
	for i := range readWeights {
		readWeights[i] = 1.0
	}

	medianGenomeLen := cfg.Penalty.MedianGenomeLen
	if medianGenomeLen <= 0 {
		medianGenomeLen = fallbackGenomeLen
	}

	penaltyParams := miniem.PenaltyParams{
		TotalReadWeight: float64(aligns.Reads),
		ReadSupport:     cfg.Penalty.ReadSupport,
		MedianGenomeLen: medianGenomeLen,
		ReferenceFloor:  cfg.Penalty.ReferenceFloor,
	}

	linear := emResult.Matrix.ExpLinear()
	miniCtx := miniem.NewContext(linear, readWeights, emResult.Abundances, penaltyParams)

	proposer := &move.Proposer{TaxonWeights: emResult.Abundances, Total: linear.Cols()}

	mcmcCfg := mcmc.Config{
		Chains:           cfg.MCMC.Chains,
		TotalIterations:  cfg.MCMC.Iterations,
		ExchangeInterval: cfg.MCMC.ExchangeInterval,
		Seed:             seed,
	}
	sampler := mcmc.NewSampler(proposer, miniCtx, mcmcCfg, initialUnkProb)
	sampler.Run()

	cold := sampler.ColdChain()
	unkProb := mcmc.MedianUnkProb(sampler.Chains)
	sortedSpecies := mcmc.SortedSpecies(cold.Species)
	fmt.Printf("Cold chain converged on %d species (accepted %d/%d moves)\n",
		len(sortedSpecies), cold.MovesAccepted, cold.MovesAttempted)

	threads := cfg.ResolvedThreads()
	infCfg := inference.Config{
		Gibbs: gibbs.Config{
			Iterations: cfg.Gibbs.Iterations,
			Burnin:     cfg.Gibbs.Burnin,
			Workers:    threads,
			Seed:       seed,
		},
		Workers: threads,
		Seed:    seed,
	}
	infResult := inference.Run(miniCtx, sortedSpecies, cold.LogL, unkProb, readWeights, infCfg)

	return writeReports(cfg, taxa, names, emResult, cold, sortedSpecies, infResult, unkProb, aligns.ReadNames)
}

func writeReports(
	cfg *config.Config,
	taxa *taxonomy.Map,
	names taxonomy.Names,
	emResult emreduce.Result,
	cold *mcmc.ChainState,
	sortedSpecies []int,
	infResult inference.Result,
	unkProb float64,
	readNames []string,
) error {
	prefix := cfg.Output.Prefix

	bfByTaxon := make(map[int]float64, len(infResult.BayesFactors))
	for _, bf := range infResult.BayesFactors {
		bfByTaxon[bf.Taxon] = bf.Log10BF
	}

	totalReadWeight := float64(len(readNames))
	taxonIDs := make([]string, len(sortedSpecies))
	rows := make([]report.SpeciesRow, len(sortedSpecies))
	for k, reducedCol := range sortedSpecies {
		originalCol := emResult.RetainedColumns[reducedCol]
		taxonID := taxa.ID(originalCol)
		taxonIDs[k] = taxonID
		summary := infResult.Gibbs.SpeciesSummary[k]
		rows[k] = report.SpeciesRow{
			TaxonID:        taxonID,
			ScientificName: names.Lookup(taxonID),
			MeanAbundance:  summary.Mean,
			CILow:          summary.CILow,
			CIHigh:         summary.CIHigh,
			EstimatedReads: summary.Mean * totalReadWeight,
			Log10BF:        bfByTaxon[reducedCol],
		}
	}

	if err := report.WriteResults(prefix+"_results.tsv", rows, unkProb); err != nil {
		return err
	}
	if err := report.WriteMCMCTrace(prefix+"_mcmc_trace.tsv", cold.History, cfg.Output.TraceBurninRatio); err != nil {
		return err
	}

	readRows := make([]report.ReadAssignmentRow, len(infResult.Gibbs.ReadAssignments))
	for i, a := range infResult.Gibbs.ReadAssignments {
		name := "read"
		if i < len(readNames) {
			name = readNames[i]
		}
		if a.TaxonColumn < 0 {
			readRows[i] = report.ReadAssignmentRow{ReadName: name, AssignedTaxonID: "Unknown", AssignedName: "Unknown", Probability: a.Probability}
			continue
		}
		taxonID := taxonIDs[a.TaxonColumn]
		readRows[i] = report.ReadAssignmentRow{
			ReadName:        name,
			AssignedTaxonID: taxonID,
			AssignedName:    names.Lookup(taxonID),
			Probability:     a.Probability,
		}
	}
	if err := report.WriteReadAssignments(prefix+"_read_assignments.tsv", readRows); err != nil {
		return err
	}

	if cfg.Output.WritePosterior && len(infResult.Gibbs.Samples) > 0 {
		if err := report.WritePosteriorSamples(prefix+"_posterior_samples.tsv", taxonIDs, infResult.Gibbs.Samples); err != nil {
			return err
		}
	}

	fmt.Printf("Wrote reports with prefix %q\n", prefix)
	return nil
}
