// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// The memory store embeds every stored memory and every retrieval query, so
// all vectors in one database must come from the same model. Implementations
// wrap a remote API (OpenAI) or a local server (Ollama) and must be safe for
// concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector produced by one Provider instance has the same length,
// reported by Dimensions. Vectors from different instances are only
// comparable when model and space match; the memory store enforces this by
// holding exactly one Provider.
type Provider interface {
	// Embed returns the vector for a single text. The text is passed to the
	// backend verbatim; any model-specific prefixing is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, index-aligned, in a
	// single backend call. On error no partial results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the fixed vector length this provider produces.
	Dimensions() int

	// ModelID reports the backend model identifier, for logging and for
	// verifying that a database was built with the same model.
	ModelID() string
}
