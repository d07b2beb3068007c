// Package cmd defines and implements the CLI commands for the citenet executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citenet",
		Short: "Builds bounded citation networks around seed papers.",
		Long: `citenet expands each seed DOI of a chunk into a bounded citation subgraph
using the OpenAlex API, derives per-seed network features and writes them to
a resumable feature table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// addChunkFlags registers the flags shared by commands that address a chunk.
func addChunkFlags(flags *pflag.FlagSet) {
	flags.Int("chunk-id", -1, "chunk to process (reads chunk_NN.csv)")
	flags.String("input-dir", "data/chunks", "directory holding chunk seed files")
	flags.String("output-dir", "data", "directory for raw networks and feature tables")
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
