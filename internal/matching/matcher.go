// Package matching ranks embedded candidates against a reference vector by
// cosine similarity. It is pure computation with no provider or store
// dependencies.
package matching

import (
	"math"
	"sort"
)

// Candidate pairs a record id with its embedding vector.
type Candidate struct {
	ID     string
	Vector []float32
}

// Match is a ranked candidate with its raw cosine score. No bucketing or
// normalization is applied beyond the cosine value itself.
type Match struct {
	ID    string
	Score float64
}

// Rank orders candidates by descending cosine similarity against the
// reference vector and returns at most topK matches.
//
// Candidates whose similarity is undefined (zero vector, dimensionality
// mismatch) are excluded rather than scored as NaN. Exact score ties keep
// the original candidate order. topK <= 0 yields an empty result; topK
// beyond the candidate count returns everything ranked.
func Rank(reference []float32, candidates []Candidate, topK int) []Match {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, candidate := range candidates {
		score, ok := Cosine(reference, candidate.Vector)
		if !ok {
			continue
		}
		matches = append(matches, Match{ID: candidate.ID, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if topK < len(matches) {
		matches = matches[:topK]
	}

	return matches
}

// Cosine computes dot(a,b) / (||a|| * ||b||) in float64. The second return
// is false when the similarity is undefined: mismatched lengths, empty
// inputs or a zero-magnitude vector on either side.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0, false
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
