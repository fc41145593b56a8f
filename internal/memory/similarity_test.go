package memory

import (
	"math"
	"testing"

	"autopilot/internal/domain"
)

func TestCosineSimilarity_Identity(t *testing.T) {
	vectors := [][]float64{
		{1, 0, 0},
		{0.3, -2.5, 7},
		{1e-3, 1e-3},
	}
	for _, v := range vectors {
		if got := CosineSimilarity(v, v); math.Abs(got-1) > 1e-9 {
			t.Errorf("CosineSimilarity(%v, %v) = %f, want 1", v, v, got)
		}
	}
}

func TestCosineSimilarity_ZeroAndEmpty(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
	}{
		{"zero vector", []float64{1, 2, 3}, []float64{0, 0, 0}},
		{"both zero", []float64{0, 0}, []float64{0, 0}},
		{"empty", nil, []float64{1}},
		{"nan", []float64{math.NaN(), 1}, []float64{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("got %f, want 0", got)
			}
		})
	}
}

func TestCosineSimilarity_ShorterPrefix(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{1, 0, 5, 5}
	if got := CosineSimilarity(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected prefix comparison to score 1, got %f", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("expected -1 for opposite vectors, got %f", got)
	}
}

func TestTopK_SortedAndBounded(t *testing.T) {
	pool := []domain.MemoryEntry{
		{ID: "far", Embedding: []float64{0, 1}},
		{ID: "none"},
		{ID: "near", Embedding: []float64{1, 0.1}},
		{ID: "mid", Embedding: []float64{1, 1}},
	}
	got := TopK(pool, []float64{1, 0}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Entry.ID != "near" || got[1].Entry.ID != "mid" {
		t.Errorf("unexpected order: %s, %s", got[0].Entry.ID, got[1].Entry.ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("scores not descending: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestTopK_FewerThanK(t *testing.T) {
	pool := []domain.MemoryEntry{
		{ID: "a", Embedding: []float64{1, 0}},
		{ID: "b"},
	}
	got := TopK(pool, []float64{1, 0}, 5)
	if len(got) != 1 {
		t.Fatalf("expected only the embedded entry, got %d", len(got))
	}
	if TopK(pool, nil, 5) != nil {
		t.Error("expected nil for empty query")
	}
	if TopK(pool, []float64{1}, 0) != nil {
		t.Error("expected nil for k=0")
	}
}
