package vector_store

import "testing"

func TestRelevanceScoreBounds(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		expected float64
	}{
		{name: "Identical vectors", distance: 0, expected: 1},
		{name: "Orthogonal vectors", distance: 1, expected: 0},
		{name: "Midpoint", distance: 0.25, expected: 0.75},
		{name: "Cosine distance beyond 1 clamps to 0", distance: 1.7, expected: 0},
		{name: "Negative distance clamps to 1", distance: -0.1, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := relevanceScore(tt.distance)
			if score != tt.expected {
				t.Errorf("relevanceScore(%f) = %f, want %f", tt.distance, score, tt.expected)
			}
			if score < 0 || score > 1 {
				t.Errorf("score %f outside [0,1]", score)
			}
		})
	}
}

func TestOptimalListCount(t *testing.T) {
	if got := optimalListCount(0); got != 100 {
		t.Errorf("optimalListCount(0) = %d, want floor of 100", got)
	}
	if got := optimalListCount(1000000); got != 1000 {
		t.Errorf("optimalListCount(1000000) = %d, want 1000", got)
	}
}
