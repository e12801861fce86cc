// Package export writes the posting collection to interchange formats for
// use outside the tool.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/job-radar/internal/store"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown export format %q, expected json or csv", s)
	}
}

// Records writes the records in the given format, in the order supplied.
func Records(w io.Writer, format Format, records []*store.Record) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeJSON(w io.Writer, records []*store.Record) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "title", "company", "location", "url", "status",
	"seniority", "skills", "experience_min", "experience_max",
	"similarity", "scraped_at", "updated_at",
}

func writeCSV(w io.Writer, records []*store.Record) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Posting.Title,
			rec.Posting.Company,
			rec.Posting.Location,
			rec.Posting.URL,
			string(rec.Status),
			"", "", "", "",
			"",
			formatTime(rec.ScrapedAt),
			formatTime(rec.UpdatedAt),
		}

		if rec.Fields != nil {
			row[6] = string(rec.Fields.Seniority)
			row[7] = strings.Join(rec.Fields.Skills, "; ")
			row[8] = strconv.FormatFloat(rec.Fields.ExperienceMin, 'f', -1, 64)
			row[9] = strconv.FormatFloat(rec.Fields.ExperienceMax, 'f', -1, 64)
		}
		if rec.Similarity != nil {
			row[10] = strconv.FormatFloat(*rec.Similarity, 'f', 4, 64)
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", rec.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
