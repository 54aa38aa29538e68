// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neurostuff/ingest-engine/internal/track"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [candidate-ids...]",
	Short: "Put terminally failed candidates back in the pipeline",
	Long: `Requeue resets terminally failed candidates to in-progress with a fresh
retry budget. They resume from their last completed stage on the next run.
Candidate ids are the tracker hash ids shown by 'status --failures'; pass
--all to requeue every failed candidate.`,
	RunE: runRequeue,
}

func init() {
	requeueCmd.Flags().Bool("all", false, "requeue every terminally failed candidate")

	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if !all && len(args) == 0 {
		return fmt.Errorf("provide candidate ids or --all")
	}

	cfg := pipelineConfig()
	tracker, err := track.NewStore(cfg.Tracker)
	if err != nil {
		return err
	}
	defer tracker.Close()

	ids := args
	if all {
		failures, err := tracker.Failures(cmd.Context())
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, rec := range failures {
			ids = append(ids, rec.CandidateID)
		}
	}

	var failed int
	for _, id := range ids {
		if err := tracker.Requeue(cmd.Context(), id); err != nil {
			fmt.Fprintf(os.Stdout, "failed:  %s (%v)\n", id, err)
			failed++
			continue
		}
		fmt.Fprintf(os.Stdout, "requeued: %s\n", id)
	}

	fmt.Fprintf(os.Stdout, "\n%d requeued, %d failed\n", len(ids)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d candidate(s) could not be requeued", failed)
	}
	return nil
}
