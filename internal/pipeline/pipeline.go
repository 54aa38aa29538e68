// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates the fixed ingestion sequence
// find, download, extract, analyze, upload, sync. Each stage pulls its
// worklist from the tracker, dispatches it through the batch executor, and
// records per-candidate outcomes before the next stage runs, so a candidate
// advanced in this run is immediately eligible for the next stage and a
// candidate that failed is not.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/internal/discover"
	"github.com/neurostuff/ingest-engine/internal/payload"
	"github.com/neurostuff/ingest-engine/internal/reconcile"
	"github.com/neurostuff/ingest-engine/internal/stage"
	"github.com/neurostuff/ingest-engine/internal/track"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// Finder is the discovery contract used by the find stage.
type Finder interface {
	Find(ctx context.Context, q discover.Query) ([]types.StudyCandidate, error)
}

// Deps wires the engine's collaborators. Stage calls carry the batch.Call
// signature so tests can substitute fakes without HTTP servers.
type Deps struct {
	Finder     Finder
	Download   batch.Call[types.StudyCandidate, types.RawDocument]
	Extract    batch.Call[types.RawDocument, types.TableSet]
	Analyze    batch.Call[types.TableSet, types.AnalysisSet]
	Upload     batch.Call[types.StudyUpload, types.NeurostoreStudyID]
	Tracker    *track.Store
	Cache      *payload.Cache
	Reconciler *reconcile.Reconciler
}

// Engine runs the ingestion pipeline.
type Engine struct {
	cfg  types.PipelineConfig
	deps Deps
	out  io.Writer

	download stage.Stage[types.StudyCandidate, types.RawDocument]
	extract  stage.Stage[types.RawDocument, types.TableSet]
	analyze  stage.Stage[types.TableSet, types.AnalysisSet]
	upload   stage.Stage[types.StudyUpload, types.NeurostoreStudyID]
}

// New builds an engine over the given dependencies. Progress lines go to w.
func New(cfg types.PipelineConfig, deps Deps, w io.Writer) *Engine {
	if w == nil {
		w = io.Discard
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		out:  w,

		download: stage.New(types.StageDownload, cfg.Download.Batch, deps.Download),
		extract:  stage.New(types.StageExtract, cfg.Extraction.Batch, deps.Extract),
		analyze:  stage.New(types.StageAnalyze, cfg.Analysis.Batch, deps.Analyze),
		upload:   stage.New(types.StageUpload, cfg.Upload.Batch, deps.Upload),
	}
}

// Options selects what one run does.
type Options struct {
	// Stages selects a subset of the pipeline; empty means all stages.
	// Selection is normalized to canonical order.
	Stages []string

	// Query drives the find stage.
	Query discover.Query

	// ManifestPath seeds candidates from a YAML manifest when the find
	// stage is not selected. Overrides the configured manifest path.
	ManifestPath string
}

// Run executes the selected stages once and returns the run report.
// Per-item failures are recorded and reported but never abort the run;
// only infrastructure errors (tracker, cache, seeding) do.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	selected, err := types.ParseStages(opts.Stages)
	if err != nil {
		return nil, err
	}
	run := make(map[types.Stage]bool, len(selected))
	for _, s := range selected {
		run[s] = true
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Stages:    make([]StageReport, 0, len(selected)),
	}
	fmt.Fprintf(e.out, "run %s: stages %v\n", report.RunID, selected)

	if err := e.seed(ctx, run, opts, report); err != nil {
		return nil, err
	}

	if run[types.StageDownload] {
		if err := e.runDownload(ctx, report); err != nil {
			return nil, err
		}
	}
	if run[types.StageExtract] {
		if err := e.runExtract(ctx, report); err != nil {
			return nil, err
		}
	}
	if run[types.StageAnalyze] {
		if err := e.runAnalyze(ctx, report); err != nil {
			return nil, err
		}
	}
	if run[types.StageUpload] {
		if err := e.runUpload(ctx, report); err != nil {
			return nil, err
		}
	}
	if run[types.StageSync] {
		if err := e.runSync(ctx, report); err != nil {
			return nil, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	fmt.Fprintf(e.out, "\nrun %s finished in %s\n", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

// seed establishes the run's worklist: discovery when the find stage is
// selected, a manifest when it is not. A run with neither falls back to
// whatever the tracker already holds; if that is empty too there is nothing
// to do and seeding fails.
func (e *Engine) seed(ctx context.Context, run map[types.Stage]bool, opts Options, report *Report) error {
	if run[types.StageFind] {
		candidates, err := e.deps.Finder.Find(ctx, opts.Query)
		if err != nil {
			return fmt.Errorf("find stage: %w", err)
		}
		fmt.Fprintf(e.out, "find: %d candidates\n", len(candidates))
		report.Stages = append(report.Stages, StageReport{
			Stage: types.StageFind, Attempted: len(candidates), Succeeded: len(candidates),
		})
		return e.register(ctx, candidates)
	}

	manifestPath := opts.ManifestPath
	if manifestPath == "" {
		manifestPath = e.cfg.ManifestPath
	}
	if manifestPath != "" {
		candidates, err := discover.LoadManifest(manifestPath)
		if err != nil {
			return fmt.Errorf("loading manifest: %w", err)
		}
		fmt.Fprintf(e.out, "manifest: %d candidates\n", len(candidates))
		return e.register(ctx, candidates)
	}

	counts, err := e.deps.Tracker.Counts(ctx)
	if err != nil {
		return fmt.Errorf("reading tracker: %w", err)
	}
	if counts.InProgress == 0 {
		return fmt.Errorf("no candidates: select the find stage or provide a manifest")
	}
	fmt.Fprintf(e.out, "resuming %d in-progress candidates\n", counts.InProgress)
	return nil
}

// register records candidates and stamps the find stage complete for each;
// candidates already on record are untouched.
func (e *Engine) register(ctx context.Context, candidates []types.StudyCandidate) error {
	valid := candidates[:0]
	for _, c := range candidates {
		if !c.HasIdentifier() {
			fmt.Fprintf(e.out, "  skipped: %q has no identifiers\n", c.Title)
			continue
		}
		valid = append(valid, c)
	}

	if err := e.deps.Tracker.Register(ctx, valid); err != nil {
		return fmt.Errorf("registering candidates: %w", err)
	}
	for _, c := range valid {
		err := e.deps.Tracker.RecordAttempt(ctx, c.HashID(), types.StageFind, track.Outcome{Succeeded: true})
		if err != nil {
			return fmt.Errorf("recording discovery of %s: %w", c.HashID(), err)
		}
	}
	return nil
}

func (e *Engine) runDownload(ctx context.Context, report *Report) error {
	pending, err := e.deps.Tracker.Pending(ctx, types.StageDownload)
	if err != nil {
		return fmt.Errorf("download worklist: %w", err)
	}
	candidates := make([]types.StudyCandidate, len(pending))
	for i, rec := range pending {
		candidates[i] = rec.Candidate
	}

	_, err = advance(ctx, e, e.download, candidates, report,
		func(c types.StudyCandidate) types.StudyCandidate { return c },
		func(c types.StudyCandidate, doc types.RawDocument) error {
			return payload.Put(e.deps.Cache, types.StageDownload, c.HashID(), doc)
		})
	return err
}

func (e *Engine) runExtract(ctx context.Context, report *Report) error {
	docs, sr, err := loadInputs[types.RawDocument](ctx, e, types.StageExtract, types.StageDownload)
	if err != nil {
		return err
	}

	_, err = advance(ctx, e, e.extract, docs, report,
		func(d types.RawDocument) types.StudyCandidate { return d.Candidate },
		func(c types.StudyCandidate, ts types.TableSet) error {
			return payload.Put(e.deps.Cache, types.StageExtract, c.HashID(), ts)
		})
	mergeMisses(report, sr)
	return err
}

func (e *Engine) runAnalyze(ctx context.Context, report *Report) error {
	sets, sr, err := loadInputs[types.TableSet](ctx, e, types.StageAnalyze, types.StageExtract)
	if err != nil {
		return err
	}

	_, err = advance(ctx, e, e.analyze, sets, report,
		func(ts types.TableSet) types.StudyCandidate { return ts.Candidate },
		func(c types.StudyCandidate, as types.AnalysisSet) error {
			return payload.Put(e.deps.Cache, types.StageAnalyze, c.HashID(), as)
		})
	mergeMisses(report, sr)
	return err
}

func (e *Engine) runUpload(ctx context.Context, report *Report) error {
	sets, sr, err := loadInputs[types.AnalysisSet](ctx, e, types.StageUpload, types.StageAnalyze)
	if err != nil {
		return err
	}
	uploads := make([]types.StudyUpload, len(sets))
	for i, as := range sets {
		uploads[i] = types.StudyUpload{Candidate: as.Candidate, Analyses: as.Analyses}
	}

	_, err = advance(ctx, e, e.upload, uploads, report,
		func(u types.StudyUpload) types.StudyCandidate { return u.Candidate },
		func(c types.StudyCandidate, id types.NeurostoreStudyID) error {
			return payload.Put(e.deps.Cache, types.StageUpload, c.HashID(),
				types.UploadedStudy{Candidate: c, StudyID: id})
		})
	mergeMisses(report, sr)
	return err
}

// runSync reconciles the neurostore ids of all uploaded-but-unsynced
// candidates against ns-pond. A verified or newly created mapping completes
// the candidate; a conflict or pond failure is a recorded stage failure.
func (e *Engine) runSync(ctx context.Context, report *Report) error {
	uploaded, sr, err := loadInputs[types.UploadedStudy](ctx, e, types.StageSync, types.StageUpload)
	if err != nil {
		return err
	}
	sr.Attempted += len(uploaded)

	ids := make([]types.NeurostoreStudyID, len(uploaded))
	byNSID := make(map[types.NeurostoreStudyID]types.StudyCandidate, len(uploaded))
	for i, u := range uploaded {
		ids[i] = u.StudyID
		byNSID[u.StudyID] = u.Candidate
	}

	outcomes, err := e.deps.Reconciler.Sync(ctx, ids)
	if err != nil {
		return fmt.Errorf("sync stage: %w", err)
	}

	for _, oc := range outcomes {
		cand := byNSID[oc.NeurostoreID]
		switch oc.Result {
		case types.SyncCreated, types.SyncVerified:
			err = e.deps.Tracker.RecordAttempt(ctx, cand.HashID(), types.StageSync, track.Outcome{Succeeded: true})
			if err != nil {
				return fmt.Errorf("recording sync of %s: %w", cand.HashID(), err)
			}
			sr.Succeeded++
		case types.SyncConflicted:
			report.Conflicts = append(report.Conflicts, oc)
			if err := e.recordFailure(ctx, report, sr, cand, types.StageSync, "identifier conflict: "+oc.Detail); err != nil {
				return err
			}
		default:
			if err := e.recordFailure(ctx, report, sr, cand, types.StageSync, oc.Detail); err != nil {
				return err
			}
		}
	}

	fmt.Fprintf(e.out, "sync: %d succeeded, %d failed (of %d)\n", sr.Succeeded, sr.Failed, sr.Attempted)
	report.Failures = append(report.Failures, sr.misses...)
	report.Stages = append(report.Stages, *sr)
	return nil
}

// advance dispatches one stage's worklist and records every outcome.
// Successes are persisted to the payload cache before their tracker record
// advances, so a recorded success always has a payload behind it. The
// outputs of the succeeded items are returned in input order.
func advance[I, O any](ctx context.Context, e *Engine, st stage.Stage[I, O], items []I, report *Report,
	candOf func(I) types.StudyCandidate, persist func(types.StudyCandidate, O) error) ([]O, error) {

	sr := StageReport{Stage: st.Name, Attempted: len(items)}
	if len(items) == 0 {
		fmt.Fprintf(e.out, "%s: nothing pending\n", st.Name)
		report.Stages = append(report.Stages, sr)
		return nil, nil
	}

	out := st.Apply(ctx, items)

	for _, f := range out.Failed {
		cand := candOf(f.Input)
		if err := e.recordFailure(ctx, report, &sr, cand, st.Name, f.Reason); err != nil {
			return nil, err
		}
	}

	outputs := make([]O, 0, len(out.Succeeded))
	for _, s := range out.Succeeded {
		cand := candOf(s.Input)
		if err := persist(cand, s.Output); err != nil {
			return nil, fmt.Errorf("caching %s payload for %s: %w", st.Name, cand.HashID(), err)
		}
		err := e.deps.Tracker.RecordAttempt(ctx, cand.HashID(), st.Name, track.Outcome{Succeeded: true})
		if err != nil {
			return nil, fmt.Errorf("recording %s success for %s: %w", st.Name, cand.HashID(), err)
		}
		sr.Succeeded++
		outputs = append(outputs, s.Output)
	}

	fmt.Fprintf(e.out, "%s: %d succeeded, %d failed (of %d, %d call attempts)\n",
		st.Name, sr.Succeeded, sr.Failed, sr.Attempted, out.Attempts)
	report.Stages = append(report.Stages, sr)
	return outputs, nil
}

// recordFailure books one per-item stage failure in the tracker and the
// report. Run-cancellation outcomes do not consume the retry budget.
func (e *Engine) recordFailure(ctx context.Context, report *Report, sr *StageReport, cand types.StudyCandidate, st types.Stage, reason string) error {
	err := e.deps.Tracker.RecordAttempt(ctx, cand.HashID(), st, track.Outcome{Reason: reason})
	if err != nil {
		return fmt.Errorf("recording %s failure for %s: %w", st, cand.HashID(), err)
	}
	sr.Failed++
	report.Failures = append(report.Failures, ItemFailure{
		CandidateID: cand.HashID(),
		Title:       cand.Title,
		Stage:       st,
		Reason:      reason,
	})
	return nil
}

// loadInputs builds a stage worklist from the tracker's pending records and
// the previous stage's cached payloads. A pending record whose payload is
// missing (cache cleared, partial crash) fails the stage attempt for that
// candidate; re-running the previous stage restores it.
func loadInputs[I any](ctx context.Context, e *Engine, st, prev types.Stage) ([]I, *StageReport, error) {
	pending, err := e.deps.Tracker.Pending(ctx, st)
	if err != nil {
		return nil, nil, fmt.Errorf("%s worklist: %w", st, err)
	}

	sr := &StageReport{Stage: st}
	var inputs []I
	for _, rec := range pending {
		var in I
		found, err := payload.Get(e.deps.Cache, prev, rec.CandidateID, &in)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s payload for %s: %w", prev, rec.CandidateID, err)
		}
		if !found {
			reason := fmt.Sprintf("missing cached %s payload", prev)
			sr.Attempted++
			err := e.deps.Tracker.RecordAttempt(ctx, rec.CandidateID, st, track.Outcome{Reason: reason})
			if err != nil {
				return nil, nil, fmt.Errorf("recording %s failure for %s: %w", st, rec.CandidateID, err)
			}
			sr.Failed++
			sr.misses = append(sr.misses, ItemFailure{
				CandidateID: rec.CandidateID,
				Title:       rec.Title,
				Stage:       st,
				Reason:      reason,
			})
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, sr, nil
}

// mergeMisses folds payload-miss failures into the stage report that
// advance appended for the same stage.
func mergeMisses(report *Report, sr *StageReport) {
	if sr == nil || sr.Attempted == 0 {
		return
	}
	for i := range report.Stages {
		if report.Stages[i].Stage == sr.Stage {
			report.Stages[i].Attempted += sr.Attempted
			report.Stages[i].Failed += sr.Failed
		}
	}
	report.Failures = append(report.Failures, sr.misses...)
}
