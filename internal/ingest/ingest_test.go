package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spigell/job-radar/internal/posting"
	"github.com/spigell/job-radar/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "postings.json"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func rawPosting(title string) map[string]any {
	return map[string]any{
		"source":      "indeed",
		"title":       title,
		"company":     "Acme",
		"location":    "Berlin",
		"description": "Build and run Go services.",
		"url":         "https://example.com/jobs/1",
	}
}

func TestFromRawIngestsValidPostings(t *testing.T) {
	st := newTestStore(t)
	ingestor := New(st, nil)

	result, err := ingestor.FromRaw([]map[string]any{
		rawPosting("Go Engineer"),
		rawPosting("Platform Engineer"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Added != 2 || result.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if st.Len() != 2 {
		t.Fatalf("expected 2 records in store, got %d", st.Len())
	}

	records := st.All()
	if records[0].Posting.Description != "build and run go services." {
		t.Fatalf("expected sanitized description, got %q", records[0].Posting.Description)
	}
	if records[0].Status != posting.StatusRaw {
		t.Fatalf("expected raw status, got %q", records[0].Status)
	}
}

func TestFromRawSkipsMalformedEntries(t *testing.T) {
	st := newTestStore(t)
	ingestor := New(st, nil)

	broken := rawPosting("Go Engineer")
	delete(broken, "company")

	result, err := ingestor.FromRaw([]map[string]any{
		broken,
		rawPosting("Platform Engineer"),
		{"title": "   ", "company": "Acme", "location": "Berlin", "description": "x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Added != 1 || result.Skipped != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestFromRawRepeatedIngestionIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ingestor := New(st, nil)

	batch := []map[string]any{rawPosting("Go Engineer")}

	if _, err := ingestor.FromRaw(batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := ingestor.FromRaw(batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Added != 0 || result.Unchanged != 1 {
		t.Fatalf("expected unchanged record, got %+v", result)
	}

	changed := rawPosting("Go Engineer")
	changed["description"] = "A different description entirely."

	result, err = ingestor.FromRaw([]map[string]any{changed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Refreshed != 1 {
		t.Fatalf("expected refreshed record, got %+v", result)
	}
}

func TestFromRawToleratesNumericValues(t *testing.T) {
	st := newTestStore(t)
	ingestor := New(st, nil)

	entry := rawPosting("Go Engineer")
	entry["posted_at"] = 20260815

	result, err := ingestor.FromRaw([]map[string]any{entry})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Added != 1 {
		t.Fatalf("expected the entry to be accepted, got %+v", result)
	}
}

func TestFromFile(t *testing.T) {
	st := newTestStore(t)
	ingestor := New(st, nil)

	path := filepath.Join(t.TempDir(), "scraped.json")
	payload := `[
		{"source": "indeed", "title": "Go Engineer", "company": "Acme", "location": "Berlin", "description": "Go services."},
		{"title": "broken"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	result, err := ingestor.FromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Added != 1 || result.Skipped != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	if _, err := ingestor.FromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := ingestor.FromFile(bad); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
