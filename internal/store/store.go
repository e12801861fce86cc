// Package store persists job posting records and their derived artifacts in a
// single JSON database file. The whole collection is loaded on open and
// flushed atomically (write to temp file, then rename) on mutation, so a
// crash mid-run never corrupts previously durable records.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/posting"
)

// ErrNotFound is returned when an update references an unknown record id.
var ErrNotFound = errors.New("record not found")

const formatVersion = 1

// Record is one posting plus everything derived from it.
type Record struct {
	ID          string          `json:"id"`
	Posting     posting.Posting `json:"posting"`
	Fingerprint string          `json:"fingerprint"`

	Fields         *posting.Fields `json:"fields,omitempty"`
	Embedding      []float32       `json:"embedding,omitempty"`
	EmbeddingModel string          `json:"embedding_model,omitempty"`
	Similarity     *float64        `json:"similarity,omitempty"`

	Status    posting.Status `json:"status"`
	LastError string         `json:"last_error,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Artifacts is a partial update produced by the enrichment pipeline.
type Artifacts struct {
	Fields         *posting.Fields
	Embedding      []float32
	EmbeddingModel string
	Status         posting.Status
	LastError      string
}

// UpsertOutcome reports what an upsert did to the collection.
type UpsertOutcome int

const (
	// Inserted means the posting was new.
	Inserted UpsertOutcome = iota
	// Refreshed means the posting existed but its description changed, so
	// derived artifacts were reset.
	Refreshed
	// Unchanged means the posting existed with an identical description and
	// its artifacts were preserved.
	Unchanged
)

// UpsertCounts aggregates outcomes over a bulk ingestion.
type UpsertCounts struct {
	Added     int
	Refreshed int
	Unchanged int
}

type document struct {
	Version int       `json:"version"`
	Records []*Record `json:"records"`
}

// Store is a keyed collection of posting records backed by one JSON file.
// It is safe for concurrent reads within a single process, but it is not
// designed for multi-process mutation; callers must serialize ingestion runs.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// Open loads the collection from the given path. A missing file yields an
// empty store; a present but unreadable file is an error.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		path:    path,
		logger:  logger,
		records: make(map[string]*Record),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("store file does not exist yet", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file %q: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing store file %q: %w", path, err)
	}

	for _, rec := range doc.Records {
		if rec == nil || rec.ID == "" {
			continue
		}
		if _, ok := s.records[rec.ID]; ok {
			continue
		}
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
	}

	logger.Debug("store loaded", zap.String("path", path), zap.Int("records", len(s.order)))

	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Len returns the number of records in the collection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Upsert inserts or refreshes a single posting and flushes the collection.
func (s *Store) Upsert(p *posting.Posting) (UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := s.upsertLocked(p, time.Now().UTC())
	if err := s.flushLocked(); err != nil {
		return outcome, err
	}

	return outcome, nil
}

// UpsertMany ingests a batch of postings with a single flush at the end.
func (s *Store) UpsertMany(postings []*posting.Posting) (UpsertCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var counts UpsertCounts
	for _, p := range postings {
		switch s.upsertLocked(p, now) {
		case Inserted:
			counts.Added++
		case Refreshed:
			counts.Refreshed++
		case Unchanged:
			counts.Unchanged++
		}
	}

	if err := s.flushLocked(); err != nil {
		return counts, err
	}

	return counts, nil
}

func (s *Store) upsertLocked(p *posting.Posting, now time.Time) UpsertOutcome {
	id := p.NaturalKey()
	fingerprint := p.Fingerprint()

	existing, ok := s.records[id]
	if !ok {
		s.records[id] = &Record{
			ID:          id,
			Posting:     *p,
			Fingerprint: fingerprint,
			Status:      posting.StatusRaw,
			ScrapedAt:   now,
			UpdatedAt:   now,
		}
		s.order = append(s.order, id)
		return Inserted
	}

	// The later scrape wins for raw fields either way.
	existing.Posting = *p
	existing.UpdatedAt = now

	if existing.Fingerprint == fingerprint {
		return Unchanged
	}

	// Description changed: previously derived artifacts no longer describe
	// this posting.
	existing.Fingerprint = fingerprint
	existing.Fields = nil
	existing.Embedding = nil
	existing.EmbeddingModel = ""
	existing.Similarity = nil
	existing.Status = posting.StatusRaw
	existing.LastError = ""

	return Refreshed
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}

	copied := *rec
	return &copied, true
}

// ListByStatus returns copies of records in any of the given statuses,
// in insertion order.
func (s *Store) ListByStatus(statuses ...posting.Status) []*Record {
	wanted := make(map[posting.Status]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Record
	for _, id := range s.order {
		rec := s.records[id]
		if !wanted[rec.Status] {
			continue
		}
		copied := *rec
		result = append(result, &copied)
	}

	return result
}

// All returns copies of every record in insertion order.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0, len(s.order))
	for _, id := range s.order {
		copied := *s.records[id]
		result = append(result, &copied)
	}

	return result
}

// UpdateArtifacts applies a partial update to one record and flushes. The
// update is atomic: either the record transitions and is durable, or the
// in-memory state change is reported alongside the flush error.
func (s *Store) UpdateArtifacts(id string, artifacts Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("updating artifacts for %q: %w", id, ErrNotFound)
	}

	if artifacts.Fields != nil {
		rec.Fields = artifacts.Fields
	}
	if artifacts.Embedding != nil {
		rec.Embedding = artifacts.Embedding
		rec.EmbeddingModel = artifacts.EmbeddingModel
	}
	if artifacts.Status != "" {
		rec.Status = artifacts.Status
	}
	rec.LastError = artifacts.LastError
	rec.UpdatedAt = time.Now().UTC()

	return s.flushLocked()
}

// SetSimilarities stores the latest ranking scores and flushes once.
// Unknown ids are ignored; scores are a presentation artifact, not pipeline
// state.
func (s *Store) SetSimilarities(scores map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, score := range scores {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		value := score
		rec.Similarity = &value
	}

	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	doc := document{Version: formatVersion, Records: make([]*Record, 0, len(s.order))}
	for _, id := range s.order {
		doc.Records = append(doc.Records, s.records[id])
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".job-radar-*.json")
	if err != nil {
		return fmt.Errorf("creating temp store file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing store: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing store file: %w", err)
	}

	s.logger.Debug("store flushed", zap.String("path", s.path), zap.Int("records", len(doc.Records)))

	return nil
}
