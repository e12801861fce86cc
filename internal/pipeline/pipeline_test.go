package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/ingest"
	"github.com/spigell/job-radar/internal/posting"
	"github.com/spigell/job-radar/internal/resume"
	"github.com/spigell/job-radar/internal/store"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	failOn  string
	abort   error
}

func (f *fakeExtractor) ExtractFields(_ context.Context, texts []string) ([]ai.FieldsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, texts)

	if f.abort != nil {
		return nil, f.abort
	}

	results := make([]ai.FieldsResult, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			results[i] = ai.FieldsResult{Err: ai.Parse("extract", errors.New("unparseable"))}
			continue
		}
		results[i] = ai.FieldsResult{Fields: &posting.Fields{Skills: []string{"go"}}}
	}
	return results, nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	model  string
	vector []float32
	calls  int
	failOn string
	abort  error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([]ai.VectorResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if f.abort != nil {
		return nil, f.abort
	}

	results := make([]ai.VectorResult, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			results[i] = ai.VectorResult{Err: ai.Transient("embed", errors.New("503"))}
			continue
		}
		results[i] = ai.VectorResult{Vector: f.vector}
	}
	return results, nil
}

func (f *fakeEmbedder) Model() string  { return f.model }
func (f *fakeEmbedder) Dimension() int { return len(f.vector) }

func newSeededStore(t *testing.T, titles ...string) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "postings.json"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	for _, title := range titles {
		p := &posting.Posting{
			Source:      "indeed",
			Title:       title,
			Company:     "acme",
			Location:    "berlin",
			Description: "description for " + title,
		}
		if _, err := st.Upsert(p); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	return st
}

func newTestPipeline(st *store.Store, extractor ai.Extractor, embedder ai.Embedder, opts Options) *Pipeline {
	resumes := resume.NewManager(extractor, embedder, "", nil)
	return New(st, extractor, embedder, resumes, opts, nil)
}

func TestRunEnrichesRawRecords(t *testing.T) {
	st := newSeededStore(t, "go engineer", "platform engineer", "sre")
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}
	pipe := newTestPipeline(st, extractor, embedder, Options{})

	summary, err := pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.RunID == "" {
		t.Fatal("expected a run id")
	}
	if summary.Extract.Succeeded != 3 || summary.Embed.Succeeded != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	for _, rec := range st.All() {
		if rec.Status != posting.StatusEmbedded {
			t.Fatalf("record %s has status %q", rec.ID, rec.Status)
		}
		if rec.Fields == nil || rec.Embedding == nil {
			t.Fatalf("record %s is missing artifacts", rec.ID)
		}
		if rec.EmbeddingModel != "embed-v1" {
			t.Fatalf("record %s has model %q", rec.ID, rec.EmbeddingModel)
		}
	}
}

func TestRunIsResumableAfterPartialFailure(t *testing.T) {
	st := newSeededStore(t, "go engineer", "cobol maintainer")
	extractor := &fakeExtractor{failOn: "cobol"}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}
	pipe := newTestPipeline(st, extractor, embedder, Options{})

	summary, err := pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Extract.Failed != 1 || summary.Extract.Succeeded != 1 {
		t.Fatalf("unexpected extract summary: %+v", summary.Extract)
	}

	failed := st.ListByStatus(posting.StatusFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed record, got %d", len(failed))
	}
	if failed[0].Fields != nil {
		t.Fatal("an extraction failure must not leave fields behind")
	}
	if failed[0].LastError == "" {
		t.Fatal("expected the failure reason to be recorded")
	}

	// The provider recovers; the next run picks the record up at the
	// extract stage without touching the already embedded one.
	extractor.failOn = ""
	embedCallsBefore := embedder.calls

	summary, err = pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Extract.Succeeded != 1 || summary.Embed.Succeeded != 1 {
		t.Fatalf("unexpected retry summary: %+v", summary)
	}
	if embedder.calls != embedCallsBefore+1 {
		t.Fatalf("expected one embed batch on retry, got %d more", embedder.calls-embedCallsBefore)
	}
	if len(st.ListByStatus(posting.StatusEmbedded)) != 2 {
		t.Fatal("expected both records embedded after retry")
	}
}

func TestRunRetriesEmbedFailureAtEmbedStage(t *testing.T) {
	st := newSeededStore(t, "go engineer")
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}, failOn: "go engineer"}
	pipe := newTestPipeline(st, extractor, embedder, Options{})

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := st.ListByStatus(posting.StatusFailed)
	if len(failed) != 1 || failed[0].Fields == nil {
		t.Fatalf("expected a failed record with fields, got %v", failed)
	}

	embedder.failOn = ""
	extractCallsBefore := extractor.calls

	summary, err := pipe.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extractor.calls != extractCallsBefore {
		t.Fatal("an embed-stage failure must not re-run extraction")
	}
	if summary.Embed.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunAbortsOnPermanentError(t *testing.T) {
	st := newSeededStore(t, "go engineer")
	extractor := &fakeExtractor{abort: ai.Permanent("extract", errors.New("401 unauthorized"))}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}
	pipe := newTestPipeline(st, extractor, embedder, Options{})

	_, err := pipe.Run(context.Background())
	if !ai.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if embedder.calls != 0 {
		t.Fatal("the embed stage must not start after an aborted extract stage")
	}
}

func TestRunForceRefreshReprocessesEmbeddedRecords(t *testing.T) {
	st := newSeededStore(t, "go engineer")
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}

	if _, err := newTestPipeline(st, extractor, embedder, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A plain second run has nothing to do.
	summary, err := newTestPipeline(st, extractor, embedder, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Extract.Processed != 0 || summary.Embed.Processed != 0 {
		t.Fatalf("expected an idle run, got %+v", summary)
	}

	summary, err = newTestPipeline(st, extractor, embedder, Options{ForceRefresh: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Extract.Succeeded != 1 || summary.Embed.Succeeded != 1 {
		t.Fatalf("expected a full reprocess, got %+v", summary)
	}
}

func TestRunBatchesWork(t *testing.T) {
	titles := make([]string, 5)
	for i := range titles {
		titles[i] = fmt.Sprintf("engineer %d", i)
	}
	st := newSeededStore(t, titles...)
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}
	pipe := newTestPipeline(st, extractor, embedder, Options{BatchSize: 2, Parallelism: 1})

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(extractor.batches) != 3 {
		t.Fatalf("expected 3 extract batches, got %d", len(extractor.batches))
	}
	for _, batch := range extractor.batches {
		if len(batch) > 2 {
			t.Fatalf("batch exceeds the configured size: %d", len(batch))
		}
	}
}

func TestRankAgainstResume(t *testing.T) {
	st := newSeededStore(t, "go engineer", "ruby engineer", "data analyst")
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v1", vector: []float32{1, 0}}

	vectors := map[string][]float32{
		"go engineer":   {1, 0},
		"ruby engineer": {0.7, 0.7},
		"data analyst":  {0, 1},
	}
	for _, rec := range st.All() {
		err := st.UpdateArtifacts(rec.ID, store.Artifacts{
			Status:         posting.StatusEmbedded,
			Fields:         &posting.Fields{Skills: []string{"go"}},
			Embedding:      vectors[rec.Posting.Title],
			EmbeddingModel: "embed-v1",
		})
		if err != nil {
			t.Fatalf("seed artifacts: %v", err)
		}
	}

	pipe := newTestPipeline(st, extractor, embedder, Options{})

	ranked, err := pipe.RankAgainstResume(context.Background(), "go developer resume", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ranked) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(ranked))
	}
	if ranked[0].Record.Posting.Title != "go engineer" {
		t.Fatalf("expected the aligned vector first, got %q", ranked[0].Record.Posting.Title)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("scores are not descending: %v, %v", ranked[0].Score, ranked[1].Score)
	}

	best, ok := st.Get(ranked[0].Record.ID)
	if !ok || best.Similarity == nil {
		t.Fatal("expected the similarity score to be persisted")
	}
}

// keyedEmbedder gives texts mentioning kubernetes a vector orthogonal to
// everything else, so ranking outcomes are predictable.
type keyedEmbedder struct{}

func (keyedEmbedder) EmbedTexts(_ context.Context, texts []string) ([]ai.VectorResult, error) {
	results := make([]ai.VectorResult, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "kubernetes") {
			results[i] = ai.VectorResult{Vector: []float32{0, 1}}
		} else {
			results[i] = ai.VectorResult{Vector: []float32{1, 0}}
		}
	}
	return results, nil
}

func (keyedEmbedder) Model() string  { return "embed-v1" }
func (keyedEmbedder) Dimension() int { return 2 }

func TestEndToEndIngestProcessQuery(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "postings.json"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	entry := func(title, description string) map[string]any {
		return map[string]any{
			"source":      "indeed",
			"title":       title,
			"company":     "acme",
			"location":    "berlin",
			"description": description,
		}
	}

	result, err := ingest.New(st, nil).FromRaw([]map[string]any{
		entry("go engineer", "golang services"),
		entry("kubernetes platform engineer", "kubernetes clusters"),
		entry("go engineer", "golang services"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Added != 2 || result.Unchanged != 1 {
		t.Fatalf("unexpected ingest result: %+v", result)
	}
	if st.Len() != 2 {
		t.Fatalf("expected the duplicate to collapse, got %d records", st.Len())
	}

	// The extractor fails on the resume text only, so its embedding falls
	// back to the raw text and picks up the kubernetes marker.
	extractor := &fakeExtractor{failOn: "resume"}
	pipe := newTestPipeline(st, extractor, keyedEmbedder{}, Options{})

	if _, err := pipe.Run(context.Background()); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}
	if len(st.ListByStatus(posting.StatusEmbedded)) != 2 {
		t.Fatal("expected both records embedded")
	}

	ranked, err := pipe.RankAgainstResume(context.Background(), "resume of a kubernetes platform engineer", 1)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("expected 1 match, got %d", len(ranked))
	}
	if ranked[0].Record.Posting.Title != "kubernetes platform engineer" {
		t.Fatalf("expected the kubernetes posting first, got %q", ranked[0].Record.Posting.Title)
	}
}

func TestRankAgainstResumeRejectsModelMismatch(t *testing.T) {
	st := newSeededStore(t, "go engineer")
	extractor := &fakeExtractor{}
	embedder := &fakeEmbedder{model: "embed-v2", vector: []float32{1, 0}}

	for _, rec := range st.All() {
		err := st.UpdateArtifacts(rec.ID, store.Artifacts{
			Status:         posting.StatusEmbedded,
			Embedding:      []float32{1, 0},
			EmbeddingModel: "embed-v1",
		})
		if err != nil {
			t.Fatalf("seed artifacts: %v", err)
		}
	}

	pipe := newTestPipeline(st, extractor, embedder, Options{})

	_, err := pipe.RankAgainstResume(context.Background(), "resume", 5)
	if err == nil || !strings.Contains(err.Error(), "embed-v1") {
		t.Fatalf("expected model mismatch error, got %v", err)
	}
}
