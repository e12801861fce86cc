// Package resume derives the candidate-side artifacts used for ranking:
// extracted fields and an embedding vector for a resume text. Profiles are
// cached in a sidecar file keyed by content hash, so repeated queries with
// the same resume do not re-pay provider calls.
package resume

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/ai"
	"github.com/spigell/job-radar/internal/posting"
)

const cacheFormatVersion = 1

// Profile holds the derived artifacts for one resume text. It mirrors the
// artifact shape of a stored posting: optional fields plus an embedding
// with its model identity.
type Profile struct {
	Hash      string          `json:"hash"`
	Fields    *posting.Fields `json:"fields,omitempty"`
	Embedding []float32       `json:"embedding"`
	Model     string          `json:"embedding_model"`
	CreatedAt time.Time       `json:"created_at"`
}

type cacheFile struct {
	Version  int       `json:"version"`
	Profiles []Profile `json:"profiles"`
}

// Manager computes profiles on demand and keeps them in the sidecar cache.
type Manager struct {
	extractor ai.Extractor
	embedder  ai.Embedder
	cachePath string
	logger    *zap.Logger

	mu       sync.Mutex
	profiles map[string]Profile
	loaded   bool
}

// NewManager wires a Manager over the given providers. cachePath may be
// empty to disable the sidecar file entirely.
func NewManager(extractor ai.Extractor, embedder ai.Embedder, cachePath string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		extractor: extractor,
		embedder:  embedder,
		cachePath: cachePath,
		logger:    log,
		profiles:  make(map[string]Profile),
	}
}

// HashText returns the cache key for a resume text: the sha256 of its
// sanitized form, so whitespace and casing differences hit the same entry.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(posting.Sanitize(text)))
	return hex.EncodeToString(sum[:])
}

// Ensure returns the profile for the resume text, computing and caching it
// on first use. A cached profile embedded with a different model than the
// current embedder is recomputed, never reused.
func (m *Manager) Ensure(ctx context.Context, text string) (Profile, error) {
	if strings.TrimSpace(text) == "" {
		return Profile{}, errors.New("resume text is empty")
	}

	hash := HashText(text)
	model := m.embedder.Model()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(); err != nil {
		return Profile{}, err
	}

	if cached, ok := m.profiles[hash]; ok {
		if cached.Model == model {
			m.logger.Debug("resume profile cache hit", zap.String("hash", hash))
			return cached, nil
		}
		m.logger.Info("resume profile embedded with a different model, recomputing",
			zap.String("cached_model", cached.Model),
			zap.String("current_model", model),
		)
	}

	profile, err := m.compute(ctx, hash, text)
	if err != nil {
		return Profile{}, err
	}

	m.profiles[hash] = profile
	if err := m.persistLocked(); err != nil {
		// The cache is an optimization. Losing it costs a recomputation
		// on the next query, not correctness.
		m.logger.Warn("could not persist resume profile cache", zap.Error(err))
	}

	return profile, nil
}

func (m *Manager) compute(ctx context.Context, hash, text string) (Profile, error) {
	sanitized := posting.Sanitize(text)

	var fields *posting.Fields
	results, err := m.extractor.ExtractFields(ctx, []string{posting.Truncate(sanitized, posting.MaxEmbeddingInputRunes)})
	if err != nil {
		return Profile{}, fmt.Errorf("extract resume fields: %w", err)
	}
	if len(results) == 1 && results[0].Err == nil {
		fields = results[0].Fields
	} else if len(results) == 1 {
		// Embedding falls back to the raw text when extraction fails, so
		// a parse failure does not block the query.
		m.logger.Warn("resume field extraction failed, embedding raw text", zap.Error(results[0].Err))
	}

	input := embeddingInput(sanitized, fields)
	vectors, err := m.embedder.EmbedTexts(ctx, []string{input})
	if err != nil {
		return Profile{}, fmt.Errorf("embed resume: %w", err)
	}
	if len(vectors) != 1 {
		return Profile{}, fmt.Errorf("expected one resume embedding, got %d", len(vectors))
	}
	if vectors[0].Err != nil {
		return Profile{}, fmt.Errorf("embed resume: %w", vectors[0].Err)
	}

	return Profile{
		Hash:      hash,
		Fields:    fields,
		Embedding: vectors[0].Vector,
		Model:     m.embedder.Model(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// embeddingInput prefers a focused summary of the extracted fields over the
// full resume text, matching how posting vectors are built. Mixed input
// styles on the two sides of the ranking would skew similarity scores.
func embeddingInput(sanitized string, fields *posting.Fields) string {
	if fields == nil || fields.Empty() {
		return posting.Truncate(sanitized, posting.MaxEmbeddingInputRunes)
	}

	var b strings.Builder
	if len(fields.Skills) > 0 {
		b.WriteString("skills: " + strings.Join(fields.Skills, ", "))
	}
	if fields.Seniority != posting.SeniorityUnknown {
		b.WriteString(" seniority: " + string(fields.Seniority))
	}
	if fields.ExperienceMax > 0 {
		b.WriteString(fmt.Sprintf(" experience: %g-%g years", fields.ExperienceMin, fields.ExperienceMax))
	}

	return posting.Truncate(b.String(), posting.MaxEmbeddingInputRunes)
}

func (m *Manager) loadLocked() error {
	if m.loaded || m.cachePath == "" {
		m.loaded = true
		return nil
	}
	m.loaded = true

	data, err := os.ReadFile(m.cachePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read resume profile cache: %w", err)
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse resume profile cache %s: %w", m.cachePath, err)
	}

	for _, profile := range file.Profiles {
		m.profiles[profile.Hash] = profile
	}

	return nil
}

func (m *Manager) persistLocked() error {
	if m.cachePath == "" {
		return nil
	}

	file := cacheFile{Version: cacheFormatVersion}
	for _, profile := range m.profiles {
		file.Profiles = append(file.Profiles, profile)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resume profile cache: %w", err)
	}

	dir := filepath.Dir(m.cachePath)
	tmp, err := os.CreateTemp(dir, ".job-radar-resume-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), m.cachePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace resume profile cache: %w", err)
	}

	return nil
}
