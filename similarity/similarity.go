// Package similarity compares face embeddings and finds the best matching
// name in a catalog of known people.
package similarity

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// UnknownName is returned by BestMatch when catalog holds nothing comparable
const UnknownName = "Unknown"

// Oracle compares embeddings. Implementations must be pure and safe for concurrent use.
type Oracle interface {
	// Similarity returns a score in [-1, 1], higher means more alike
	Similarity(a, b []float64) float64
	// BestMatch returns name and score of the most similar catalog entry
	BestMatch(embedding []float64, catalog *Catalog) (string, float64)
}

// Cosine is an Oracle based on cosine similarity.
type Cosine struct{}

// Similarity returns cosine similarity. Vectors of different length, empty or zero vectors give -1.
func (Cosine) Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return -1
	}
	sim := floats.Dot(a, b) / (normA * normB)
	// Clamp to [-1, 1] to handle floating point errors
	return math.Max(-1, math.Min(1, sim))
}

// BestMatch scans every catalog embedding; the first maximal score wins.
// Empty catalog gives (UnknownName, -1).
func (c Cosine) BestMatch(embedding []float64, catalog *Catalog) (string, float64) {
	bestName := UnknownName
	bestScore := -1.0
	if catalog == nil {
		return bestName, bestScore
	}
	for _, entry := range catalog.entries {
		score := c.Similarity(embedding, entry.Embedding)
		if score > bestScore {
			bestScore = score
			bestName = entry.Name
		}
	}
	return bestName, bestScore
}
