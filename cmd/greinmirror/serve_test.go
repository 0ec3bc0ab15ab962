package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/greinmirror/pkg/config"
)

func TestCheckDatabaseExists(t *testing.T) {
	dir := t.TempDir()

	existing := filepath.Join(dir, "grein.db")
	require.NoError(t, os.WriteFile(existing, nil, 0o644))

	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr bool
	}{
		{
			name: "existing sqlite file",
			cfg: config.DatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: existing},
			},
		},
		{
			name: "missing sqlite file",
			cfg: config.DatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: filepath.Join(dir, "typo.db")},
			},
			wantErr: true,
		},
		{
			name: "directory",
			cfg: config.DatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteDatabaseConfig{Path: dir},
			},
			wantErr: true,
		},
		{
			name: "postgres is not checked",
			cfg:  config.DatabaseConfig{Driver: "postgres"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDatabaseExists(&tt.cfg)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			assert.NoError(t, err)
		})
	}

	_, err := os.Stat(filepath.Join(dir, "typo.db"))
	assert.True(t, os.IsNotExist(err), "check must not create the file")
}
