// Package app wires all Crosstalk subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears the rest down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithLLM). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/antiphonal/crosstalk/internal/config"
	"github.com/antiphonal/crosstalk/internal/extract"
	"github.com/antiphonal/crosstalk/internal/health"
	"github.com/antiphonal/crosstalk/internal/observe"
	"github.com/antiphonal/crosstalk/internal/resilience"
	"github.com/antiphonal/crosstalk/internal/session"
	"github.com/antiphonal/crosstalk/internal/telephony"
	"github.com/antiphonal/crosstalk/internal/text"
	"github.com/antiphonal/crosstalk/pkg/memory"
	"github.com/antiphonal/crosstalk/pkg/memory/postgres"
	"github.com/antiphonal/crosstalk/pkg/provider/embeddings"
	"github.com/antiphonal/crosstalk/pkg/provider/llm"
)

// shutdownTimeout bounds the HTTP stop and the call drain when Run's
// context is cancelled.
const shutdownTimeout = 15 * time.Second

// Providers holds the provider instances built from the config registry.
// Populated by main.go; New assembles the failover chain from them.
type Providers struct {
	// LLM is the primary chat backend. Required unless WithLLM injects a
	// provider.
	LLM llm.Provider

	// LLMName labels the primary backend in failover logs.
	LLMName string

	// Fallbacks are additional chat backends in failover order.
	Fallbacks []NamedLLM

	// Embeddings embeds memory content and search queries. Required unless
	// WithStore injects a store.
	Embeddings embeddings.Provider
}

// NamedLLM pairs a chat backend with its failover label.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// App owns all subsystem lifetimes and serves the carrier-facing HTTP
// surface of the gateway.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New, torn down in Shutdown.
	store     memory.Store
	llm       llm.Provider
	extractor *extract.Extractor
	voice     *session.Handler
	sms       *text.Handler
	calls     *CallRegistry
	handler   http.Handler
	server    *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a memory store instead of connecting to PostgreSQL.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLLM injects a chat provider instead of assembling the failover chain.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for the store or the chat provider.
//
// New performs all initialisation synchronously: memory store connection
// and migration, failover assembly, extractor and conversation handler
// construction, and HTTP route registration.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		calls:     NewCallRegistry(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Chat failover ─────────────────────────────────────────────────
	if err := a.initChat(); err != nil {
		return nil, fmt.Errorf("app: init chat: %w", err)
	}

	// ── 3. Extraction ────────────────────────────────────────────────────
	a.extractor = extract.New(a.llm, a.store)

	// ── 4. Call sessions ─────────────────────────────────────────────────
	voice, err := session.New(session.Config{
		Store:       a.store,
		Extractor:   a.extractor,
		AIBaseURL:   cfg.AI.BaseURL,
		VoicePrompt: cfg.AI.VoicePrompt,
		TextPrompt:  cfg.AI.TextPrompt,
		Model:       cfg.Providers.LLM.Model,
		MemoryTopK:  cfg.Memory.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}
	a.voice = voice

	// ── 5. SMS conversations ─────────────────────────────────────────────
	sms, err := text.New(text.Config{
		Store:           a.store,
		LLM:             a.llm,
		Extractor:       a.extractor,
		Model:           cfg.Providers.LLM.Model,
		IdleWindow:      cfg.Text.IdleWindow,
		MemoryTopK:      cfg.Memory.TopK,
		ContextMessages: cfg.Text.ContextMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init text: %w", err)
	}
	a.sms = sms

	// ── 6. Carrier front end + HTTP handler ──────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// initMemory connects the PostgreSQL memory store, or keeps an injected one.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("embeddings provider is not configured")
	}

	embedder := newInstrumentedEmbeddings(a.providers.Embeddings, a.cfg.Providers.Embeddings.Name)
	store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN, a.cfg.Memory.EmbeddingDimensions, embedder)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initChat assembles the failover chain over the configured chat backends,
// each behind its own circuit breaker.
func (a *App) initChat() error {
	if a.llm != nil {
		return nil
	}
	if a.providers.LLM == nil {
		return errors.New("llm provider is not configured")
	}

	name := a.providers.LLMName
	if name == "" {
		name = "primary"
	}
	failover := resilience.NewLLMFailover(a.providers.LLM, name, resilience.FallbackConfig{})
	for _, fb := range a.providers.Fallbacks {
		failover.AddFallback(fb.Name, fb.Provider)
		slog.Info("chat fallback registered", "name", fb.Name)
	}
	a.llm = failover
	return nil
}

// initHTTP assembles the route table and wraps it with the observability
// middleware.
func (a *App) initHTTP() error {
	carrier, err := telephony.New(telephony.Config{
		Voice:      a.voice,
		SMS:        a.sms,
		Calls:      a.calls,
		AuthToken:  a.cfg.Telephony.AuthToken,
		PublicHost: a.cfg.Server.PublicHost,
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()

	var checkers []health.Checker
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "database", Check: p.Ping})
	}
	health.New(checkers...).Register(mux)

	carrier.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /calls", a.handleCalls)

	a.handler = observe.Middleware(observe.DefaultMetrics())(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the fully assembled HTTP handler Run serves. Exposed so
// tests can drive the gateway through httptest.
func (a *App) Handler() http.Handler {
	return a.handler
}

// handleCalls reports the calls currently in flight.
func (a *App) handleCalls(w http.ResponseWriter, _ *http.Request) {
	type liveCall struct {
		Caller    string    `json:"caller"`
		StartedAt time.Time `json:"started_at"`
		Seconds   float64   `json:"seconds"`
	}

	snapshot := a.calls.Snapshot()
	body := struct {
		Active int        `json:"active"`
		Calls  []liveCall `json:"calls,omitempty"`
	}{Active: len(snapshot)}

	now := time.Now()
	for _, c := range snapshot {
		body.Calls = append(body.Calls, liveCall{
			Caller:    c.Caller,
			StartedAt: c.StartedAt,
			Seconds:   now.Sub(c.StartedAt).Seconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves the gateway until ctx is cancelled, then stops the HTTP server
// and waits for live calls to drain, both bounded by shutdownTimeout.
// A clean stop returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gateway listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(stopCtx); err != nil {
			slog.Warn("http server stop error", "err", err)
		}

		// Media streams are hijacked connections; Shutdown does not wait
		// for them.
		if n := a.calls.Len(); n > 0 {
			slog.Info("draining live calls", "calls", n)
		}
		if err := a.calls.Wait(stopCtx); err != nil {
			slog.Warn("shutdown with calls still live", "calls", a.calls.Len())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown tears down the remaining subsystems in reverse-init order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
