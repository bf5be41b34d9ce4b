// Package main provides the synapsegraph CLI entry point: a thin
// wrapper over pkg/synapsegraph's library surface (spec.md §6, "the
// thin command-line wrapper defers to the library surface").
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orneryd/synapsegraph/pkg/config"
	"github.com/orneryd/synapsegraph/pkg/synapsegraph"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "synapsegraph",
		Short: "synapsegraph - a self-adapting associative byte-level graph engine",
		Long: `synapsegraph learns byte-level sequential patterns by example and
produces plausible continuations for novel prefixes. It is neither a
neural network nor a fixed n-gram model: every threshold and learning
rate is derived from running statistics rather than hardcoded constants.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("synapsegraph v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newProduceCmd())
	rootCmd.AddCommand(newFeedbackCmd())
	rootCmd.AddCommand(newStatsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sharedFlags(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "./data/graph.db", "Persistent graph location")
	cmd.Flags().Uint8("port", 0, "Port id tagged onto freshly created nodes")
	cmd.Flags().Int64("seed", 0, "Decoder PRNG seed; 0 uses the current time")
}

func openFromFlags(cmd *cobra.Command) (*synapsegraph.Engine, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	seed, _ := cmd.Flags().GetInt64("seed")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if dataDir != "" {
		cfg.PersistencePath = dataDir
	}
	for _, verr := range cfg.Validate() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", verr)
	}

	if seed != 0 {
		return synapsegraph.OpenWithSeed(cfg, seed)
	}
	return synapsegraph.Open(cfg)
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train [bytes]",
		Short: "Ingest bytes into the graph without producing output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetUint8("port")

			eng, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Ingest(port, []byte(args[0])); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Printf("ingested %s bytes\n", humanize.Comma(int64(len(args[0]))))
			return nil
		},
	}
	sharedFlags(cmd)
	return cmd
}

func newProduceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "produce [bytes]",
		Short: "Ingest bytes, then decode and print a continuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := cmd.Flags().GetUint8("port")

			eng, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			out, err := eng.Produce(port, []byte(args[0]))
			if err != nil {
				return fmt.Errorf("produce: %w", err)
			}
			fmt.Printf("%s\n", out)
			return nil
		},
	}
	sharedFlags(cmd)
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback [signal]",
		Short: "Send an error_signal in [0,1] for the most recent produce call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var signal float64
			if _, err := fmt.Sscanf(args[0], "%f", &signal); err != nil {
				return fmt.Errorf("parsing signal %q: %w", args[0], err)
			}

			eng, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Feedback(signal); err != nil {
				return fmt.Errorf("feedback: %w", err)
			}
			fmt.Println("feedback recorded")
			return nil
		},
	}
	sharedFlags(cmd)
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print node/edge counts and running statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openFromFlags(cmd)
			if err != nil {
				return err
			}
			defer eng.Close()

			s := eng.Stats()
			fmt.Printf("nodes:    %s\n", humanize.Comma(int64(s.NodeCount)))
			fmt.Printf("edges:    %s\n", humanize.Comma(int64(s.EdgeCount)))
			fmt.Printf("ingests:  %s\n", humanize.Comma(s.Ingests))
			fmt.Printf("activation: mean=%.4f stddev=%.4f\n", s.ActivationMean, s.ActivationStdDev)
			fmt.Printf("confidence: mean=%.4f stddev=%.4f\n", s.ConfidenceMean, s.ConfidenceStdDev)
			fmt.Printf("error:      mean=%.4f stddev=%.4f\n", s.ErrorMean, s.ErrorStdDev)
			fmt.Printf("path:       mean=%.4f stddev=%.4f\n", s.PathMean, s.PathStdDev)
			fmt.Printf("graph_maturity:            %.4f\n", s.GraphMaturity)
			fmt.Printf("graph_connectivity_factor: %.4f\n", s.GraphConnectivityFactor)
			fmt.Printf("diagnostics: nan_resets=%d contract_normalisations=%d structural_rejections=%d\n",
				s.Diagnostics.NaNResets, s.Diagnostics.ContractNormalisations, s.Diagnostics.StructuralRejections)
			return nil
		},
	}
	sharedFlags(cmd)
	return cmd
}
