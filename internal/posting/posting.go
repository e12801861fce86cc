package posting

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode"
)

// Status tracks how far a posting has moved through the enrichment pipeline.
type Status string

const (
	StatusRaw       Status = "raw"
	StatusExtracted Status = "extracted"
	StatusEmbedded  Status = "embedded"
	StatusFailed    Status = "failed"
)

// MaxEmbeddingInputRunes bounds the text sent to the embedding provider.
// Longer descriptions are truncated to keep requests cheap and accepted.
const MaxEmbeddingInputRunes = 8000

// Posting is a single scraped job listing after sanitization.
type Posting struct {
	Source      string `json:"source,omitempty"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	PostedAt    string `json:"posted_at,omitempty"`
}

// NaturalKey derives the stable deduplication key for the posting. Two
// postings with the same source, title, company and location are considered
// the same job regardless of when they were scraped.
func (p *Posting) NaturalKey() string {
	parts := []string{p.Source, p.Title, p.Company, p.Location}
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(part), " "))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", sum[:8])
}

// Fingerprint hashes the description text. A changed fingerprint on
// re-ingestion invalidates previously derived artifacts.
func (p *Posting) Fingerprint() string {
	sum := sha256.Sum256([]byte(p.Description))
	return fmt.Sprintf("%x", sum[:])
}

// ExtractionInput returns the sanitized text sent to the extraction provider.
func (p *Posting) ExtractionInput() string {
	var b strings.Builder
	b.WriteString("title: " + p.Title + "\n")
	b.WriteString("company: " + p.Company + "\n")
	if p.Location != "" {
		b.WriteString("location: " + p.Location + "\n")
	}
	b.WriteString("description: " + p.Description)

	return Truncate(b.String(), MaxEmbeddingInputRunes)
}

// EmbeddingInput composes the text to embed. When extracted fields are
// available the focused summary is used instead of the full description,
// keeping vectors cheap and on-topic. Without fields it falls back to the
// truncated sanitized description, so embedding never requires a successful
// extraction.
func (p *Posting) EmbeddingInput(fields *Fields) string {
	if fields == nil || fields.Empty() {
		return Truncate(p.Title+" "+p.Description, MaxEmbeddingInputRunes)
	}

	var b strings.Builder
	b.WriteString(p.Title)
	if len(fields.Skills) > 0 {
		b.WriteString(" skills: " + strings.Join(fields.Skills, ", "))
	}
	if fields.Seniority != SeniorityUnknown {
		b.WriteString(" seniority: " + string(fields.Seniority))
	}
	if fields.ExperienceMax > 0 {
		b.WriteString(fmt.Sprintf(" experience: %g-%g years", fields.ExperienceMin, fields.ExperienceMax))
	}

	return Truncate(b.String(), MaxEmbeddingInputRunes)
}

// Sanitize normalizes scraped free text: control characters are dropped,
// whitespace runs are collapsed and the result is lowercased.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Truncate caps the string at the given rune budget.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
