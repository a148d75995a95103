package app

import (
	"context"
	"time"

	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/provider/embeddings"
)

// instrumentedEmbeddings decorates an embeddings backend with latency and
// error metrics attributed to the configured provider name. The memory store
// funnels every embedding call through here.
type instrumentedEmbeddings struct {
	inner embeddings.Provider
	name  string
}

var _ embeddings.Provider = (*instrumentedEmbeddings)(nil)

func newInstrumentedEmbeddings(inner embeddings.Provider, name string) *instrumentedEmbeddings {
	return &instrumentedEmbeddings{inner: inner, name: name}
}

func (e *instrumentedEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.inner.Embed(ctx, text)
	e.record(ctx, start, err)
	return vec, err
}

func (e *instrumentedEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := e.inner.EmbedBatch(ctx, texts)
	e.record(ctx, start, err)
	return vecs, err
}

func (e *instrumentedEmbeddings) Dimensions() int { return e.inner.Dimensions() }

func (e *instrumentedEmbeddings) ModelID() string { return e.inner.ModelID() }

func (e *instrumentedEmbeddings) record(ctx context.Context, start time.Time, err error) {
	m := observe.DefaultMetrics()
	m.EmbeddingDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.RecordProviderError(ctx, e.name, "embeddings")
		m.RecordProviderRequest(ctx, e.name, "embeddings", "error")
		return
	}
	m.RecordProviderRequest(ctx, e.name, "embeddings", "ok")
}
