package search

import "math"

// CosineDistance returns 1 - cosine similarity of a and b, in [0, 2]. ok is
// false when the vectors differ in length or either has zero magnitude.
func CosineDistance(a, b []float32) (dist float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim, true
}
