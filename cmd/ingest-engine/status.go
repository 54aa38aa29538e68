// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neurostuff/ingest-engine/internal/reconcile"
	"github.com/neurostuff/ingest-engine/internal/track"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracker totals and per-stage progress",
	Long: `Status summarizes the pipeline tracker: how many candidates completed,
how many are still in progress (grouped by their last completed stage), and
how many failed terminally. Use --failures to list the failed candidates.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Bool("failures", false, "list terminally failed candidates")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig()

	tracker, err := track.NewStore(cfg.Tracker)
	if err != nil {
		return err
	}
	defer tracker.Close()

	counts, err := tracker.Counts(cmd.Context())
	if err != nil {
		return err
	}

	total := counts.Completed + counts.InProgress + counts.Failed
	fmt.Fprintf(os.Stdout, "Candidates: %d\n", total)
	green.Fprintf(os.Stdout, "  completed:   %d\n", counts.Completed)
	yellow.Fprintf(os.Stdout, "  in progress: %d\n", counts.InProgress)
	red.Fprintf(os.Stdout, "  failed:      %d\n", counts.Failed)

	if counts.InProgress > 0 {
		fmt.Fprintln(os.Stdout, "\nIn progress by last completed stage:")
		for _, s := range append([]types.Stage{""}, types.Stages...) {
			if n := counts.ByStage[s]; n > 0 {
				name := string(s)
				if name == "" {
					name = "(registered)"
				}
				fmt.Fprintf(os.Stdout, "  %-12s %d\n", name, n)
			}
		}
	}

	if counts.Failed > 0 {
		fmt.Fprintln(os.Stdout, "\nFailed by stage:")
		for _, s := range types.Stages {
			if n := counts.FailedByStage[s]; n > 0 {
				fmt.Fprintf(os.Stdout, "  %-12s %d\n", s, n)
			}
		}
	}

	mappings, err := reconcile.NewStore(viper.GetString("mappings.db_path"))
	if err != nil {
		return err
	}
	defer mappings.Close()

	conflicts, err := mappings.Conflicts(cmd.Context())
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		red.Fprintf(os.Stdout, "\n%d identifier conflict(s); run 'ingest-engine reconcile' for details\n", len(conflicts))
	}

	listFailures, _ := cmd.Flags().GetBool("failures")
	if listFailures && counts.Failed > 0 {
		failures, err := tracker.Failures(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "\nFailed candidates:")
		for _, rec := range failures {
			fmt.Fprintf(os.Stdout, "  %s  at %s: %s\n", rec.CandidateID, rec.FailedStage, rec.FailureReason)
		}
	}

	return nil
}
