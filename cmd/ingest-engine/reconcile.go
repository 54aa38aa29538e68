// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/neurostuff/ingest-engine/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "List neurostore/ns-pond identifier conflicts",
	Long: `Reconcile lists identifier mappings the sync stage flagged as conflicted:
cases where ns-pond reported a different pond id than the one on record, or
where a pond id is claimed by more than one neurostore study. Conflicted
mappings keep their original pond id and are never changed automatically;
resolve them on the neurostore or ns-pond side, then re-run the sync stage.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Bool("yaml", false, "output conflicts as YAML")

	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	mappings, err := reconcile.NewStore(viper.GetString("mappings.db_path"))
	if err != nil {
		return err
	}
	defer mappings.Close()

	conflicts, err := mappings.Conflicts(cmd.Context())
	if err != nil {
		return err
	}

	asYAML, _ := cmd.Flags().GetBool("yaml")
	if asYAML {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(conflicts); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(conflicts) == 0 {
		fmt.Fprintln(os.Stdout, "No identifier conflicts.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-24s  %-24s  %s\n", "Neurostore ID", "Pond ID", "Last verified")
	for _, m := range conflicts {
		red.Fprintf(os.Stdout, "%-24s  %-24s  %s\n",
			m.NeurostoreID, m.PondID, m.LastVerified.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(os.Stdout, "\n%d conflict(s)\n", len(conflicts))
	return nil
}
