package main

import (
	"fmt"

	"github.com/ethpandaops/greinmirror/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging config files, defaults and
GREINMIRROR_* environment overrides. Secrets are redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(redact(*cfg))
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	_, err = cmd.OutOrStdout().Write(out)

	return err
}

// redact returns a copy of cfg with credentials masked.
func redact(cfg config.Config) config.Config {
	if cfg.Database.Postgres.Password != "" {
		cfg.Database.Postgres.Password = redacted
	}

	if cfg.Publish.S3 != nil {
		s3 := *cfg.Publish.S3

		if s3.SecretAccessKey != "" {
			s3.SecretAccessKey = redacted
		}

		cfg.Publish.S3 = &s3
	}

	return cfg
}
