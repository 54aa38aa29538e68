// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the ingest-engine CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neurostuff/ingest-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns fallback when set, otherwise the secret value for
// key if one was loaded.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the ingest-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "ingest-engine",
	Short: "Batch ingestion of neuroimaging studies into neurostore",
	Long: `ingest-engine moves published neuroimaging studies into neurostore through
a fixed pipeline: find candidate studies, download full text, extract results
tables, parse stereotactic coordinates into analyses, upload base studies,
and sync their identifiers with ns-pond.

Every stage records per-candidate state in a local SQLite tracker, so an
interrupted or partially failed run resumes where it left off. Use run to
execute the pipeline, status to inspect the tracker, reconcile to review
identifier conflicts, and requeue to retry terminally failed candidates.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./ingest-engine.yaml or ~/.config/ingest-engine/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ingest-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "ingest-engine"))
		}
	}

	viper.SetEnvPrefix("INGEST_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
