// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

// StageReport counts one stage's outcomes for one run.
type StageReport struct {
	Stage     types.Stage `json:"stage" yaml:"stage"`
	Attempted int         `json:"attempted" yaml:"attempted"`
	Succeeded int         `json:"succeeded" yaml:"succeeded"`
	Failed    int         `json:"failed" yaml:"failed"`

	// misses holds payload-miss failures collected while building the
	// worklist, folded into the report once the stage has run.
	misses []ItemFailure
}

// ItemFailure is one recorded per-candidate stage failure.
type ItemFailure struct {
	CandidateID string      `json:"candidate_id" yaml:"candidate_id"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Stage       types.Stage `json:"stage" yaml:"stage"`
	Reason      string      `json:"reason" yaml:"reason"`
}

// Report summarizes one pipeline run.
type Report struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	// Stages lists per-stage counts in execution order.
	Stages []StageReport `json:"stages" yaml:"stages"`

	// Failures lists every per-candidate failure recorded during the run.
	Failures []ItemFailure `json:"failures,omitempty" yaml:"failures,omitempty"`

	// Conflicts lists identifier mappings the sync stage flagged.
	Conflicts []types.SyncOutcome `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

// WriteYAML exports the report as YAML.
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	return enc.Close()
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, sr := range r.Stages {
		fmt.Fprintf(w, "  %-8s %d attempted, %d succeeded, %d failed\n",
			sr.Stage+":", sr.Attempted, sr.Succeeded, sr.Failed)
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\nFailures:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s at %s: %s\n", f.CandidateID, f.Stage, f.Reason)
		}
	}
	if len(r.Conflicts) > 0 {
		fmt.Fprintf(w, "\nIdentifier conflicts (manual resolution required):\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(w, "  %s: %s\n", c.NeurostoreID, c.Detail)
		}
	}
}
