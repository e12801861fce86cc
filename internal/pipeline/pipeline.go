// Package pipeline drives posting enrichment and resume ranking. A run
// pulls every record that still needs work, pushes it through the extract
// stage and then the embed stage, and writes artifacts back after each
// batch, so an interrupted run never loses completed batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/matching"
	"github.com/spigell/job-radar/internal/posting"
	"github.com/spigell/job-radar/internal/resume"
	"github.com/spigell/job-radar/internal/store"
)

const (
	stageExtract = "extract"
	stageEmbed   = "embed"
)

// Options control batching and refresh behavior for one run.
type Options struct {
	// BatchSize is the number of records sent to the provider per request.
	BatchSize int
	// Parallelism bounds in-flight provider batches. The rate limit is a
	// separate knob enforced inside the provider client.
	Parallelism int
	// ForceRefresh re-derives fields and embeddings for every record,
	// including ones already embedded.
	ForceRefresh bool
}

func (o Options) normalized() Options {
	defaults := ai.DefaultPolicy()
	if o.BatchSize <= 0 {
		o.BatchSize = defaults.MaxBatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = defaults.Parallelism
	}
	return o
}

// StageSummary counts per-record outcomes of one stage.
type StageSummary struct {
	Processed int
	Succeeded int
	Failed    int
}

// Summary describes one pipeline run.
type Summary struct {
	RunID    string
	Extract  StageSummary
	Embed    StageSummary
	Duration time.Duration
}

// RankedPosting pairs a stored record with its similarity score.
type RankedPosting struct {
	Record *store.Record
	Score  float64
}

// Pipeline owns the enrichment stages over one store.
type Pipeline struct {
	store     *store.Store
	extractor ai.Extractor
	embedder  ai.Embedder
	resumes   *resume.Manager
	opts      Options
	logger    *zap.Logger
}

func New(st *store.Store, extractor ai.Extractor, embedder ai.Embedder, resumes *resume.Manager, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}

	return &Pipeline{
		store:     st,
		extractor: extractor,
		embedder:  embedder,
		resumes:   resumes,
		opts:      opts.normalized(),
		logger:    log,
	}
}

// Run processes every record that is not yet embedded, extract stage first,
// then embed stage, so records extracted in this run are embedded by it as
// well. Failed records are picked up again at the stage they failed in.
// Permanent provider errors abort the run; everything committed before the
// abort stays valid.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	started := time.Now()
	log := p.logger.With(zap.String("run_id", summary.RunID))

	log.Info("pipeline run started",
		zap.Int("batch_size", p.opts.BatchSize),
		zap.Int("parallelism", p.opts.Parallelism),
		zap.Bool("force_refresh", p.opts.ForceRefresh),
	)

	extractIDs, embedIDs := p.selectWork()

	extractStage, err := p.runStage(ctx, stageExtract, extractIDs, log)
	summary.Extract = extractStage
	if err != nil {
		summary.Duration = time.Since(started)
		return summary, fmt.Errorf("extract stage: %w", err)
	}

	// Records that just left the extract stage successfully join the embed
	// stage of the same run.
	embedIDs = append(embedIDs, p.newlyExtracted(extractIDs)...)

	embedStage, err := p.runStage(ctx, stageEmbed, embedIDs, log)
	summary.Embed = embedStage
	summary.Duration = time.Since(started)
	if err != nil {
		return summary, fmt.Errorf("embed stage: %w", err)
	}

	log.Info("pipeline run finished",
		zap.Int("extracted", summary.Extract.Succeeded),
		zap.Int("extract_failures", summary.Extract.Failed),
		zap.Int("embedded", summary.Embed.Succeeded),
		zap.Int("embed_failures", summary.Embed.Failed),
		zap.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// selectWork splits pending records between the two stages. A failed record
// resumes at the stage it failed in: without fields it never passed
// extraction, with fields its embedding is what is missing.
func (p *Pipeline) selectWork() (extractIDs, embedIDs []string) {
	for _, rec := range p.store.All() {
		if p.opts.ForceRefresh {
			extractIDs = append(extractIDs, rec.ID)
			continue
		}

		switch rec.Status {
		case posting.StatusRaw:
			extractIDs = append(extractIDs, rec.ID)
		case posting.StatusExtracted:
			embedIDs = append(embedIDs, rec.ID)
		case posting.StatusFailed:
			if rec.Fields == nil {
				extractIDs = append(extractIDs, rec.ID)
			} else {
				embedIDs = append(embedIDs, rec.ID)
			}
		case posting.StatusEmbedded:
			// Done. Re-ingestion resets the status if the text changed.
		}
	}

	return extractIDs, embedIDs
}

// newlyExtracted filters the extract-stage ids down to the ones now ready
// for embedding.
func (p *Pipeline) newlyExtracted(ids []string) []string {
	ready := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, ok := p.store.Get(id)
		if ok && rec.Status == posting.StatusExtracted {
			ready = append(ready, id)
		}
	}
	return ready
}

// runStage dispatches the ids in batches, at most Parallelism batches in
// flight. Batch outcomes are committed to the store as they arrive.
func (p *Pipeline) runStage(ctx context.Context, stage string, ids []string, log *zap.Logger) (StageSummary, error) {
	var (
		mu      sync.Mutex
		summary StageSummary
	)

	if len(ids) == 0 {
		return summary, nil
	}

	log.Info("stage started", zap.String(logger.FieldStage, stage), zap.Int("records", len(ids)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)

	for start := 0; start < len(ids); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(ids))
		batch := ids[start:end]

		g.Go(func() error {
			outcome, err := p.processBatch(ctx, stage, batch)
			if err != nil {
				return err
			}

			mu.Lock()
			summary.Processed += outcome.Processed
			summary.Succeeded += outcome.Succeeded
			summary.Failed += outcome.Failed
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return summary, err
}

func (p *Pipeline) processBatch(ctx context.Context, stage string, ids []string) (StageSummary, error) {
	records := make([]*store.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := p.store.Get(id)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return StageSummary{}, nil
	}

	if stage == stageExtract {
		return p.extractBatch(ctx, records)
	}
	return p.embedBatch(ctx, records)
}

func (p *Pipeline) extractBatch(ctx context.Context, records []*store.Record) (StageSummary, error) {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Posting.ExtractionInput()
	}

	results, err := p.extractor.ExtractFields(ctx, texts)
	if err != nil {
		return StageSummary{}, err
	}
	if len(results) != len(records) {
		return StageSummary{}, fmt.Errorf("expected %d extraction results, got %d", len(records), len(results))
	}

	var summary StageSummary
	for i, result := range results {
		summary.Processed++

		artifacts := store.Artifacts{Status: posting.StatusExtracted, Fields: result.Fields}
		if result.Err != nil {
			artifacts = store.Artifacts{Status: posting.StatusFailed, LastError: result.Err.Error()}
			summary.Failed++
		} else {
			summary.Succeeded++
		}

		if err := p.store.UpdateArtifacts(records[i].ID, artifacts); err != nil {
			return summary, fmt.Errorf("committing extraction for %s: %w", records[i].ID, err)
		}
	}

	return summary, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, records []*store.Record) (StageSummary, error) {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Posting.EmbeddingInput(rec.Fields)
	}

	results, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return StageSummary{}, err
	}
	if len(results) != len(records) {
		return StageSummary{}, fmt.Errorf("expected %d embedding results, got %d", len(records), len(results))
	}

	model := p.embedder.Model()

	var summary StageSummary
	for i, result := range results {
		summary.Processed++

		artifacts := store.Artifacts{
			Status:         posting.StatusEmbedded,
			Embedding:      result.Vector,
			EmbeddingModel: model,
		}
		if result.Err != nil {
			artifacts = store.Artifacts{Status: posting.StatusFailed, LastError: result.Err.Error()}
			summary.Failed++
		} else {
			summary.Succeeded++
		}

		if err := p.store.UpdateArtifacts(records[i].ID, artifacts); err != nil {
			return summary, fmt.Errorf("committing embedding for %s: %w", records[i].ID, err)
		}
	}

	return summary, nil
}

// RankAgainstResume derives the resume profile, ranks all embedded records
// against it and returns the top matches, best first. Records embedded with
// a different model than the resume profile make the ranking meaningless,
// so their presence is an error rather than a silent skew.
func (p *Pipeline) RankAgainstResume(ctx context.Context, resumeText string, topK int) ([]RankedPosting, error) {
	if p.resumes == nil {
		return nil, errors.New("resume manager is not configured")
	}

	profile, err := p.resumes.Ensure(ctx, resumeText)
	if err != nil {
		return nil, fmt.Errorf("resume profile: %w", err)
	}

	records := p.store.ListByStatus(posting.StatusEmbedded)
	byID := make(map[string]*store.Record, len(records))
	candidates := make([]matching.Candidate, 0, len(records))

	for _, rec := range records {
		if rec.EmbeddingModel != profile.Model {
			return nil, fmt.Errorf("record %s is embedded with model %q but the resume uses %q; re-run processing with --force-refresh",
				rec.ID, rec.EmbeddingModel, profile.Model)
		}
		byID[rec.ID] = rec
		candidates = append(candidates, matching.Candidate{ID: rec.ID, Vector: rec.Embedding})
	}

	matches := matching.Rank(profile.Embedding, candidates, topK)

	scores := make(map[string]float64, len(matches))
	ranked := make([]RankedPosting, 0, len(matches))
	for _, match := range matches {
		scores[match.ID] = match.Score
		ranked = append(ranked, RankedPosting{Record: byID[match.ID], Score: match.Score})
	}

	if len(scores) > 0 {
		if err := p.store.SetSimilarities(scores); err != nil {
			return nil, fmt.Errorf("persisting similarity scores: %w", err)
		}
	}

	p.logger.Info("ranking finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(ranked)),
	)

	return ranked, nil
}
