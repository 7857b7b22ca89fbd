package embedding

import "context"

// Embedder turns text into vectors. Implementations must return vectors
// of a fixed dimensionality for the lifetime of a store; mixing models
// silently corrupts distance comparisons.
type Embedder interface {
	// Embed vectorizes one piece of content.
	Embed(ctx context.Context, content string) ([]float32, error)
	// EmbedBatch vectorizes contents in one round trip where the backing
	// service supports it.
	EmbedBatch(ctx context.Context, contents []string) ([][]float32, error)
	// ModelName identifies the model so stored vectors can be audited.
	ModelName() string
}
