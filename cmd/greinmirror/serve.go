package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/greinmirror/pkg/api"
	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve mirrored datasets over HTTP",
	Long:  `Start the read-only HTTP server exposing dataset status, metadata and raw counts.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "p", "",
		"listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = serveListen
	}

	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating server config: %w", err)
	}

	if err := checkDatabaseExists(&cfg.Database); err != nil {
		return err
	}

	ctx, stop := withSignals(cmd.Context())
	defer stop()

	srv := api.NewServer(log, &cfg.Server, &cfg.Database)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}

// checkDatabaseExists refuses to serve from a sqlite file that does not
// exist yet. Opening it would create an empty mirror.
func checkDatabaseExists(cfg *config.DatabaseConfig) error {
	if cfg.Driver != "sqlite" {
		return nil
	}

	info, err := os.Stat(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("database %q not found, run update first: %w", cfg.SQLite.Path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("database %q is a directory", cfg.SQLite.Path)
	}

	return nil
}
