// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neurostuff/ingest-engine/internal/analyze"
	"github.com/neurostuff/ingest-engine/internal/discover"
	"github.com/neurostuff/ingest-engine/internal/download"
	"github.com/neurostuff/ingest-engine/internal/extract"
	"github.com/neurostuff/ingest-engine/internal/neurostore"
	"github.com/neurostuff/ingest-engine/internal/payload"
	"github.com/neurostuff/ingest-engine/internal/pipeline"
	"github.com/neurostuff/ingest-engine/internal/pond"
	"github.com/neurostuff/ingest-engine/internal/reconcile"
	"github.com/neurostuff/ingest-engine/internal/track"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion pipeline",
	Long: `Run executes the selected pipeline stages over all eligible candidates.
With no --stages flag every stage runs: find, download, extract, analyze,
upload, sync. Candidates already past a stage are skipped; candidates that
previously failed at a stage are retried until their retry budget runs out.

When the find stage is skipped, candidates come from a YAML manifest
(--manifest) or from work left in the tracker by earlier runs.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringSlice("stages", nil, "comma-separated stage subset (find,download,extract,analyze,upload,sync)")
	runCmd.Flags().String("term", "", "discovery search term for the find stage")
	runCmd.Flags().String("from", "", "publication date window start (YYYY-MM-DD)")
	runCmd.Flags().String("to", "", "publication date window end (YYYY-MM-DD)")
	runCmd.Flags().String("manifest", "", "YAML manifest of identifiers (seeds the worklist when find is skipped)")
	runCmd.Flags().String("report", "", "write the run report as YAML to this file")

	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig()

	stages, _ := cmd.Flags().GetStringSlice("stages")
	manifest, _ := cmd.Flags().GetString("manifest")
	reportPath, _ := cmd.Flags().GetString("report")

	query, err := queryFromFlags(cmd)
	if err != nil {
		return err
	}

	tracker, err := track.NewStore(cfg.Tracker)
	if err != nil {
		return err
	}
	defer tracker.Close()

	mappings, err := reconcile.NewStore(viper.GetString("mappings.db_path"))
	if err != nil {
		return err
	}
	defer mappings.Close()

	downloader, err := download.NewService(cfg.Download)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Finder:     discover.NewClient(cfg.Discovery),
		Download:   downloader.Call,
		Extract:    extract.NewClient(cfg.Extraction).ExtractBatch,
		Analyze:    analyze.NewClient(cfg.Analysis).AnalyzeBatch,
		Upload:     neurostore.NewClient(cfg.Upload).UploadBatch,
		Tracker:    tracker,
		Cache:      payload.NewCache(cfg.CacheDir),
		Reconciler: reconcile.New(mappings, pond.NewClient(cfg.Sync), cfg.Sync.Batch),
	}

	engine := pipeline.New(cfg, deps, os.Stdout)
	report, err := engine.Run(cmd.Context(), pipeline.Options{
		Stages:       stages,
		Query:        query,
		ManifestPath: manifest,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout)
	report.Print(os.Stdout)

	if reportPath != "" {
		f, err := os.Create(reportPath)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		if err := report.WriteYAML(f); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "\nReport written to %s\n", reportPath)
	}

	if len(report.Failures) > 0 {
		return fmt.Errorf("%d candidate(s) failed during the run", len(report.Failures))
	}
	return nil
}

// queryFromFlags builds the discovery query from run flags.
func queryFromFlags(cmd *cobra.Command) (discover.Query, error) {
	term, _ := cmd.Flags().GetString("term")
	q := discover.Query{Term: strings.TrimSpace(term)}

	from, _ := cmd.Flags().GetString("from")
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return q, fmt.Errorf("bad --from date %q: use YYYY-MM-DD", from)
		}
		q.From = t
	}
	to, _ := cmd.Flags().GetString("to")
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return q, fmt.Errorf("bad --to date %q: use YYYY-MM-DD", to)
		}
		q.To = t
	}
	return q, nil
}
