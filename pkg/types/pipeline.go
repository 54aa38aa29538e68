// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// Stage names one step of the fixed ingestion sequence.
type Stage string

const (
	StageFind     Stage = "find"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageAnalyze  Stage = "analyze"
	StageUpload   Stage = "upload"
	StageSync     Stage = "sync"
)

// Stages lists all stages in canonical pipeline order.
var Stages = []Stage{
	StageFind,
	StageDownload,
	StageExtract,
	StageAnalyze,
	StageUpload,
	StageSync,
}

// Index returns the position of s in the canonical order, or -1 if s is not
// a known stage.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Pred returns the stage immediately before s in the canonical order.
// The first stage has no predecessor and returns "".
func (s Stage) Pred() Stage {
	i := s.Index()
	if i <= 0 {
		return ""
	}
	return Stages[i-1]
}

// ParseStages validates and orders a stage selection. An empty selection
// means all stages. Unknown names are an error; the result always follows
// canonical pipeline order regardless of input order.
func ParseStages(names []string) ([]Stage, error) {
	if len(names) == 0 {
		return append([]Stage(nil), Stages...), nil
	}

	requested := make(map[Stage]bool, len(names))
	var invalid []string
	for _, name := range names {
		s := Stage(strings.ToLower(strings.TrimSpace(name)))
		if s == "" {
			continue
		}
		if s.Index() < 0 {
			invalid = append(invalid, string(s))
			continue
		}
		requested[s] = true
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("unknown stages requested: %s", strings.Join(invalid, ", "))
	}

	var selected []Stage
	for _, s := range Stages {
		if requested[s] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// Status is the terminal state of a candidate in the tracker.
type Status string

const (
	// StatusInProgress marks a candidate still moving through the pipeline.
	StatusInProgress Status = "in-progress"

	// StatusFailed marks a candidate that exhausted its retry budget at
	// some stage. Requires a manual requeue to retry further.
	StatusFailed Status = "failed-at-stage"

	// StatusCompleted marks a candidate that reached the synced state.
	StatusCompleted Status = "completed"
)

// Failure reasons recorded by the tracker. Stage-specific reasons are free
// text; these are the ones the engine itself produces.
const (
	// ReasonChunkCallError marks items whose chunk call failed wholesale
	// after exhausting retries.
	ReasonChunkCallError = "chunk-call-error"

	// ReasonRunCanceled marks items that were never dispatched because the
	// run was cancelled. Does not count toward the retry budget.
	ReasonRunCanceled = "run-canceled"

	// ReasonNoSource marks candidates no download backend supports.
	ReasonNoSource = "no-source"
)

// PipelineRecord is the persistent per-candidate state.
// HighestStage is monotonically non-decreasing across retries.
type PipelineRecord struct {
	// CandidateID is the candidate's hash id.
	CandidateID string `json:"candidate_id" yaml:"candidate_id"`

	// Candidate is the discovered candidate itself, kept so pending
	// worklists can be rebuilt across runs.
	Candidate StudyCandidate `json:"candidate" yaml:"candidate"`

	// Source identifies the discovery backend that produced the candidate.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Title is carried for reporting.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// HighestStage is the last stage the candidate completed ("" if none).
	HighestStage Stage `json:"highest_stage" yaml:"highest_stage"`

	// Status is the candidate's terminal status.
	Status Status `json:"status" yaml:"status"`

	// FailedStage is set when Status is failed-at-stage.
	FailedStage Stage `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`

	// FailureReason describes the last recorded failure.
	FailureReason string `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`

	// RetryCount is the number of failed attempts at the current stage.
	RetryCount int `json:"retry_count" yaml:"retry_count"`

	// LastAttempt is the timestamp of the most recent stage attempt.
	LastAttempt time.Time `json:"last_attempt" yaml:"last_attempt"`
}
