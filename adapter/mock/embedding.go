package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// EmbeddingDimensions is the vector size produced by Embed.
const EmbeddingDimensions = 64

// Embed is a deterministic bag-of-trigrams embedding. Texts sharing character
// trigrams land close together, which is enough to exercise a vector index
// offline. Vectors are L2 normalized.
func Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbeddingDimensions)
	padded := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(runes[i : i+3])))
		vec[h.Sum32()%EmbeddingDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}
