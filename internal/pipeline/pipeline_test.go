// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/internal/discover"
	"github.com/neurostuff/ingest-engine/internal/payload"
	"github.com/neurostuff/ingest-engine/internal/reconcile"
	"github.com/neurostuff/ingest-engine/internal/track"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// fakeServices implements every stage call against in-memory tables. Each
// call counter lets tests assert which stages actually dispatched work.
type fakeServices struct {
	candidates []types.StudyCandidate
	findErr    error

	downloadCalls int
	extractCalls  int
	analyzeCalls  int
	uploadCalls   int
	pondCalls     int

	// failAt maps candidate hash id to the stage whose call should fail
	// that item.
	failAt map[string]types.Stage

	// pondAnswers fixes the pond id per neurostore id; unlisted ids get a
	// derived one.
	pondAnswers map[types.NeurostoreStudyID]types.PondID
}

func (f *fakeServices) Find(_ context.Context, _ discover.Query) ([]types.StudyCandidate, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.candidates, nil
}

func (f *fakeServices) download(_ context.Context, chunk []types.StudyCandidate) ([]batch.Result[types.RawDocument], error) {
	f.downloadCalls++
	results := make([]batch.Result[types.RawDocument], len(chunk))
	for i, c := range chunk {
		if f.failAt[c.HashID()] == types.StageDownload {
			results[i] = batch.Fail[types.RawDocument](errors.New("document not available"))
			continue
		}
		results[i] = batch.Ok(types.RawDocument{
			Candidate: c, SourceName: "pmc", ContentType: "application/xml",
			Body: []byte("<article/>"),
		})
	}
	return results, nil
}

func (f *fakeServices) extract(_ context.Context, chunk []types.RawDocument) ([]batch.Result[types.TableSet], error) {
	f.extractCalls++
	results := make([]batch.Result[types.TableSet], len(chunk))
	for i, d := range chunk {
		if f.failAt[d.Candidate.HashID()] == types.StageExtract {
			results[i] = batch.Fail[types.TableSet](errors.New("no tables found"))
			continue
		}
		results[i] = batch.Ok(types.TableSet{
			Candidate: d.Candidate,
			Tables:    []types.ExtractedTable{{TableID: "Table 1", TableNumber: 1}},
		})
	}
	return results, nil
}

func (f *fakeServices) analyze(_ context.Context, chunk []types.TableSet) ([]batch.Result[types.AnalysisSet], error) {
	f.analyzeCalls++
	results := make([]batch.Result[types.AnalysisSet], len(chunk))
	for i, ts := range chunk {
		if f.failAt[ts.Candidate.HashID()] == types.StageAnalyze {
			results[i] = batch.Fail[types.AnalysisSet](errors.New("no analyses with valid coordinates"))
			continue
		}
		results[i] = batch.Ok(types.AnalysisSet{
			Candidate: ts.Candidate,
			Analyses: []types.Analysis{{
				Name:   "main effect",
				Points: []types.Point{{Coordinates: []float64{1, 2, 3}}},
			}},
		})
	}
	return results, nil
}

func (f *fakeServices) upload(_ context.Context, chunk []types.StudyUpload) ([]batch.Result[types.NeurostoreStudyID], error) {
	f.uploadCalls++
	results := make([]batch.Result[types.NeurostoreStudyID], len(chunk))
	for i, u := range chunk {
		if f.failAt[u.Candidate.HashID()] == types.StageUpload {
			results[i] = batch.Fail[types.NeurostoreStudyID](errors.New("title is required"))
			continue
		}
		results[i] = batch.Ok(types.NeurostoreStudyID("ns-" + u.Candidate.PMID))
	}
	return results, nil
}

func (f *fakeServices) LookupOrCreateBatch(_ context.Context, ids []types.NeurostoreStudyID) ([]batch.Result[types.PondID], error) {
	f.pondCalls++
	results := make([]batch.Result[types.PondID], len(ids))
	for i, id := range ids {
		if pid, ok := f.pondAnswers[id]; ok {
			results[i] = batch.Ok(pid)
			continue
		}
		results[i] = batch.Ok(types.PondID("pond-" + string(id)))
	}
	return results, nil
}

func testCandidates(n int) []types.StudyCandidate {
	candidates := make([]types.StudyCandidate, n)
	for i := range candidates {
		candidates[i] = types.StudyCandidate{
			PMID:   fmt.Sprintf("%d", 100+i),
			PMCID:  fmt.Sprintf("PMC%d", 100+i),
			Title:  fmt.Sprintf("Study %d", i),
			Source: "pubmed",
		}
	}
	return candidates
}

func newTestEngine(t *testing.T, svc *fakeServices) (*Engine, *track.Store, *reconcile.Store) {
	t.Helper()
	dir := t.TempDir()

	tracker, err := track.NewStore(types.TrackerConfig{
		DBPath:     filepath.Join(dir, "tracker.db"),
		RetryLimit: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })

	mappings, err := reconcile.NewStore(filepath.Join(dir, "mappings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mappings.Close() })

	cfg := types.PipelineConfig{CacheDir: filepath.Join(dir, "cache")}
	deps := Deps{
		Finder:     svc,
		Download:   svc.download,
		Extract:    svc.extract,
		Analyze:    svc.analyze,
		Upload:     svc.upload,
		Tracker:    tracker,
		Cache:      payload.NewCache(cfg.CacheDir),
		Reconciler: reconcile.New(mappings, svc, types.BatchConfig{BatchSize: 10, Concurrency: 1}),
	}
	return New(cfg, deps, &bytes.Buffer{}), tracker, mappings
}

func TestRunAllStagesCompletesCandidates(t *testing.T) {
	svc := &fakeServices{candidates: testCandidates(3)}
	engine, tracker, mappings := newTestEngine(t, svc)
	ctx := context.Background()

	report, err := engine.Run(ctx, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Failures)
	assert.Empty(t, report.Conflicts)

	require.Len(t, report.Stages, 6)
	for _, sr := range report.Stages {
		assert.Equal(t, 3, sr.Attempted, "stage %s", sr.Stage)
		assert.Equal(t, 3, sr.Succeeded, "stage %s", sr.Stage)
	}

	counts, err := tracker.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Completed)
	assert.Equal(t, 0, counts.InProgress)
	assert.Equal(t, 0, counts.Failed)

	m, found, err := mappings.Get(ctx, "ns-100")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.PondID("pond-ns-100"), m.PondID)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	svc := &fakeServices{candidates: testCandidates(2)}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	_, err := engine.Run(ctx, Options{})
	require.NoError(t, err)
	firstDownloads := svc.downloadCalls

	// Same discovery output again: everything is already synced, so no
	// stage should dispatch any work.
	report, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, firstDownloads, svc.downloadCalls)
	for _, sr := range report.Stages {
		if sr.Stage == types.StageFind {
			continue
		}
		assert.Equal(t, 0, sr.Attempted, "stage %s", sr.Stage)
	}

	counts, err := tracker.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Completed)
}

func TestRunIsolatesItemFailures(t *testing.T) {
	candidates := testCandidates(3)
	svc := &fakeServices{
		candidates: candidates,
		failAt:     map[string]types.Stage{candidates[1].HashID(): types.StageExtract},
	}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	report, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, candidates[1].HashID(), report.Failures[0].CandidateID)
	assert.Equal(t, types.StageExtract, report.Failures[0].Stage)
	assert.Equal(t, "no tables found", report.Failures[0].Reason)

	// The failed candidate stays at its last completed stage; the others
	// went all the way through.
	rec, err := tracker.Get(ctx, candidates[1].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StageDownload, rec.HighestStage)
	assert.Equal(t, 1, rec.RetryCount)

	counts, err := tracker.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Completed)
	assert.Equal(t, 1, counts.InProgress)
}

func TestRunRetriesFailedCandidateOnNextRun(t *testing.T) {
	candidates := testCandidates(1)
	svc := &fakeServices{
		candidates: candidates,
		failAt:     map[string]types.Stage{candidates[0].HashID(): types.StageExtract},
	}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	_, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	// The service recovers; the next run picks the candidate up from the
	// extract stage without re-downloading.
	svc.failAt = nil
	downloadsSoFar := svc.downloadCalls

	report, err := engine.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, downloadsSoFar, svc.downloadCalls)
	assert.Empty(t, report.Failures)

	rec, err := tracker.Get(ctx, candidates[0].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, rec.Status)
}

func TestRunExhaustedRetriesBecomeTerminal(t *testing.T) {
	candidates := testCandidates(1)
	svc := &fakeServices{
		candidates: candidates,
		failAt:     map[string]types.Stage{candidates[0].HashID(): types.StageAnalyze},
	}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	// Retry limit is 2 in the test harness.
	_, err := engine.Run(ctx, Options{})
	require.NoError(t, err)
	_, err = engine.Run(ctx, Options{})
	require.NoError(t, err)

	rec, err := tracker.Get(ctx, candidates[0].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, types.StageAnalyze, rec.FailedStage)

	// A terminal candidate is never dispatched again, even though the next
	// run re-seeds the same discovery output.
	analyzesSoFar := svc.analyzeCalls
	_, err = engine.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, analyzesSoFar, svc.analyzeCalls)

	rec, err = tracker.Get(ctx, candidates[0].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Equal(t, 1, svc.downloadCalls, "download ran once, in the first run only")
}

func TestRunStageSelectionWithManifest(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(
		"identifiers:\n  - pmid: \"100\"\n    pmcid: PMC100\n  - pmid: \"200\"\n    pmcid: PMC200\n"), 0o644))

	svc := &fakeServices{}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	report, err := engine.Run(ctx, Options{
		Stages:       []string{"download"},
		ManifestPath: manifest,
	})
	require.NoError(t, err)

	require.Len(t, report.Stages, 1)
	assert.Equal(t, types.StageDownload, report.Stages[0].Stage)
	assert.Equal(t, 2, report.Stages[0].Succeeded)
	assert.Equal(t, 0, svc.extractCalls)

	counts, err := tracker.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.ByStage[types.StageDownload])
}

func TestRunWithoutCandidatesIsAnError(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeServices{})

	_, err := engine.Run(context.Background(), Options{Stages: []string{"download"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestRunRejectsUnknownStages(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeServices{})

	_, err := engine.Run(context.Background(), Options{Stages: []string{"transmogrify"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stages")
}

func TestRunSurfacesIdentifierConflicts(t *testing.T) {
	candidates := testCandidates(1)
	svc := &fakeServices{candidates: candidates}
	engine, tracker, mappings := newTestEngine(t, svc)
	ctx := context.Background()

	// Run everything up to (not including) sync, then record a mapping
	// that disagrees with what ns-pond will answer.
	_, err := engine.Run(ctx, Options{Stages: []string{"find", "download", "extract", "analyze", "upload"}})
	require.NoError(t, err)
	require.NoError(t, mappings.Create(ctx, "ns-100", "pond-original"))

	report, err := engine.Run(ctx, Options{Stages: []string{"sync"}})
	require.NoError(t, err)

	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, types.NeurostoreStudyID("ns-100"), report.Conflicts[0].NeurostoreID)

	// The recorded mapping keeps its original pond id; the candidate does
	// not complete.
	m, found, err := mappings.Get(ctx, "ns-100")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.PondID("pond-original"), m.PondID)
	assert.Equal(t, types.SyncConflict, m.Status)

	rec, err := tracker.Get(ctx, candidates[0].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, rec.Status)
	assert.Equal(t, types.StageUpload, rec.HighestStage)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestRunMissingPayloadFailsItem(t *testing.T) {
	candidates := testCandidates(1)
	svc := &fakeServices{candidates: candidates}
	engine, tracker, _ := newTestEngine(t, svc)
	ctx := context.Background()

	_, err := engine.Run(ctx, Options{Stages: []string{"find", "download"}})
	require.NoError(t, err)

	// Simulate a cleared cache between runs.
	require.NoError(t, os.RemoveAll(engine.cfg.CacheDir))

	report, err := engine.Run(ctx, Options{Stages: []string{"extract"}})
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "missing cached download payload")
	assert.Equal(t, 0, svc.extractCalls)

	rec, err := tracker.Get(ctx, candidates[0].HashID())
	require.NoError(t, err)
	assert.Equal(t, types.StageDownload, rec.HighestStage)
	assert.Equal(t, 1, rec.RetryCount)
}

func TestReportYAMLRoundTrip(t *testing.T) {
	svc := &fakeServices{candidates: testCandidates(1)}
	engine, _, _ := newTestEngine(t, svc)

	report, err := engine.Run(context.Background(), Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "run_id: "+report.RunID)
	assert.Contains(t, buf.String(), "stage: sync")
}
