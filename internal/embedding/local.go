package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Compile-time interface check
var _ Embedder = (*Local)(nil)

// Local is a deterministic, offline embedder used in dev mode and in
// tests. Each token is hashed into a handful of dimensions, so texts
// sharing vocabulary land near each other while unrelated texts do not.
// It is not a substitute for a real model, but it preserves the store's
// geometry well enough to exercise retrieval and dedup end to end.
type Local struct {
	dimensions int
}

// NewLocal creates a local embedder producing vectors of the given size.
func NewLocal(dimensions int) *Local {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Local{dimensions: dimensions}
}

// Embed produces a unit-norm bag-of-tokens vector.
func (l *Local) Embed(_ context.Context, content string) ([]float32, error) {
	vec := make([]float32, l.dimensions)
	for _, token := range strings.Fields(strings.ToLower(content)) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		// Spread each token over three dimensions with signed weights
		for i := 0; i < 3; i++ {
			idx := int((sum >> (i * 16)) % uint64(l.dimensions))
			sign := float32(1)
			if (sum>>(i*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (l *Local) EmbedBatch(ctx context.Context, contents []string) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i, c := range contents {
		vec, err := l.Embed(ctx, c)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// ModelName identifies the local embedder.
func (l *Local) ModelName() string {
	return "local-hash"
}
