package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "metamix",
	Short: "Metagenomic taxonomic abundance estimator",
	Long: `metamix infers the microbial composition of a metagenomic sample from
pre-scored read-against-taxon alignment probabilities.

It runs a three-stage probabilistic pipeline: an EM dimension reducer
over the full read x taxon matrix, a parallel-tempered Metropolis-Hastings
sampler that proposes and evaluates candidate present-taxon sets via a
nested mini-EM marginal likelihood, and a final Gibbs sampler that reports
posterior abundances, credible intervals, Bayes factors, and per-read
taxon assignments.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
