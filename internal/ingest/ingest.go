// Package ingest turns raw scraper output into store records. The scraper
// itself is an external collaborator; this package only consumes the posting
// maps it produces.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/posting"
	"github.com/spigell/job-radar/internal/store"
)

// Result summarizes one ingestion run.
type Result struct {
	Added     int
	Refreshed int
	Unchanged int
	Skipped   int
}

// Total counts the postings that reached the store.
func (r Result) Total() int { return r.Added + r.Refreshed + r.Unchanged }

// Ingestor validates and upserts raw postings into the store.
type Ingestor struct {
	store  *store.Store
	logger *zap.Logger
}

func New(st *store.Store, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}

	return &Ingestor{store: st, logger: log}
}

// FromFile reads a JSON array of raw posting objects and ingests it.
func (i *Ingestor) FromFile(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read postings file: %w", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("parse postings file %s: %w", path, err)
	}

	return i.FromRaw(raw)
}

// FromRaw decodes, validates and upserts the raw postings. Entries missing
// a required field are skipped and counted, not fatal: one malformed scrape
// must not block the rest of the batch.
func (i *Ingestor) FromRaw(raw []map[string]any) (Result, error) {
	var result Result
	accepted := make([]*posting.Posting, 0, len(raw))

	for idx, entry := range raw {
		p, err := decode(entry)
		if err != nil {
			result.Skipped++
			i.logger.Warn("skipping malformed posting",
				zap.Int("index", idx),
				zap.Error(err),
			)
			continue
		}
		accepted = append(accepted, p)
	}

	counts, err := i.store.UpsertMany(accepted)
	if err != nil {
		return Result{}, fmt.Errorf("upsert postings: %w", err)
	}

	result.Added = counts.Added
	result.Refreshed = counts.Refreshed
	result.Unchanged = counts.Unchanged

	i.logger.Info("ingestion finished",
		zap.Int("added", result.Added),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

// decode maps one raw scraper entry onto a Posting and validates it.
func decode(entry map[string]any) (*posting.Posting, error) {
	var p posting.Posting

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(entry); err != nil {
		return nil, fmt.Errorf("decode posting: %w", err)
	}

	p.Title = strings.TrimSpace(p.Title)
	p.Company = strings.TrimSpace(p.Company)
	p.Location = strings.TrimSpace(p.Location)
	p.Source = strings.TrimSpace(p.Source)
	p.URL = strings.TrimSpace(p.URL)
	p.Description = posting.Sanitize(p.Description)

	var missing []string
	for _, required := range []struct {
		name  string
		value string
	}{
		{"title", p.Title},
		{"company", p.Company},
		{"location", p.Location},
		{"description", p.Description},
	} {
		if required.value == "" {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	return &p, nil
}
