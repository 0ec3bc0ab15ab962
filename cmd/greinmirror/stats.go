package main

import (
	"fmt"

	"github.com/ethpandaops/greinmirror/pkg/datasetstore"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of mirrored datasets per status",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	store := datasetstore.NewStore(log, &cfg.Database)
	if err := store.Start(cmd.Context()); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() { _ = store.Stop() }()

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Available:    %d\n", counts[datasetstore.StatusAvailable])
	fmt.Fprintf(out, "Unavailable:  %d\n", counts[datasetstore.StatusUnavailable])

	return nil
}
