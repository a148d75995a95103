package resilience

import (
	"context"

	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/pkg/provider/llm"
)

// LLMFailover implements [llm.Provider] with automatic failover across
// multiple chat backends. Each backend sits behind its own circuit breaker;
// when the primary fails or its breaker is open, the next healthy fallback
// serves the request.
type LLMFailover struct {
	group *FallbackGroup[namedLLM]
}

// namedLLM carries the provider name into the group entries so failures can
// be attributed per backend.
type namedLLM struct {
	name     string
	provider llm.Provider
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates a failover provider with primary as the preferred
// backend.
func NewLLMFailover(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFailover {
	return &LLMFailover{
		group: NewFallbackGroup(namedLLM{primaryName, primary}, primaryName, cfg),
	}
}

// AddFallback registers an additional backend, tried after all earlier ones.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, namedLLM{name, provider})
}

// Complete sends the request to the first healthy backend and returns its
// response.
func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(e namedLLM) (*llm.CompletionResponse, error) {
		resp, err := e.provider.Complete(ctx, req)
		if err != nil {
			observe.DefaultMetrics().RecordProviderError(ctx, e.name, "llm")
		}
		return resp, err
	})
}

// Capabilities reports the primary backend's capabilities. Static metadata
// does not participate in failover.
func (f *LLMFailover) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) == 0 {
		return llm.ModelCapabilities{}
	}
	return f.group.entries[0].value.provider.Capabilities()
}
