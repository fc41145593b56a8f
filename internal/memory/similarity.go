package memory

import (
	"math"
	"sort"

	"autopilot/internal/domain"
)

// CosineSimilarity returns dot(a,b)/(|a||b|) over the shorter of the two
// vectors. It returns 0 when either input is empty, either norm is zero, or the
// result is not finite.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return score
}

// Scored pairs an entry with its similarity to a query vector.
type Scored struct {
	Entry domain.MemoryEntry
	Score float64
}

// TopK ranks every entry in pool that carries an embedding against query and
// returns at most k of them, best first. Entries with equal scores keep their
// pool order.
func TopK(pool []domain.MemoryEntry, query []float64, k int) []Scored {
	if k <= 0 || len(query) == 0 {
		return nil
	}
	results := make([]Scored, 0, len(pool))
	for _, e := range pool {
		if !e.HasEmbedding() {
			continue
		}
		results = append(results, Scored{Entry: e, Score: CosineSimilarity(query, e.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
