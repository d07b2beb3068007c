package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/citenet/internal/config"
	"github.com/JakeFAU/citenet/internal/seeds"
	"github.com/JakeFAU/citenet/internal/storage/featuretable"
	"github.com/JakeFAU/citenet/internal/storage/local"
)

// newStatusCmd creates the 'status' subcommand. It reads local output only.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Reports completed and pending seeds for a chunk",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	addChunkFlags(cmd.Flags())
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadOffline(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	chunkSeeds, err := seeds.NewCSVSource(cfg.Chunk.InputDir, zap.NewNop()).Seeds(cmd.Context(), cfg.Chunk.ID)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	networks, err := local.Open(local.Config{BaseDir: cfg.NetworkDir()})
	if err != nil {
		return fmt.Errorf("open network store: %w", err)
	}
	rows, err := featuretable.ReadDOIs(cfg.FeatureTablePath())
	if err != nil {
		return fmt.Errorf("read feature table: %w", err)
	}

	completed, missingRows := 0, 0
	for _, seed := range chunkSeeds {
		ok, err := networks.Exists(seed.DOI)
		if err != nil {
			return fmt.Errorf("check %s: %w", seed.DOI, err)
		}
		if !ok {
			continue
		}
		completed++
		if _, has := rows[seed.DOI]; !has {
			missingRows++
		}
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "chunk:        %s\n", cfg.ChunkName())
	_, _ = fmt.Fprintf(out, "seeds:        %d\n", len(chunkSeeds))
	_, _ = fmt.Fprintf(out, "completed:    %d\n", completed)
	_, _ = fmt.Fprintf(out, "pending:      %d\n", len(chunkSeeds)-completed)
	_, _ = fmt.Fprintf(out, "feature rows: %d\n", len(rows))
	if missingRows > 0 {
		_, _ = fmt.Fprintf(out, "unreconciled: %d (restored on the next run)\n", missingRows)
	}
	return nil
}
