package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/antiphonal/crosstalk/internal/telephony"
)

// CallInfo holds metadata about one call in flight.
type CallInfo struct {
	// Caller is the number the call arrived from, or "unknown".
	Caller string

	// StartedAt is when the media stream connected.
	StartedAt time.Time
}

// CallRegistry tracks calls in flight. The telephony stream endpoint
// registers each accepted media stream; shutdown waits for the registry to
// drain before closing shared resources.
// All exported methods are safe for concurrent use.
type CallRegistry struct {
	mu     sync.Mutex
	seq    uint64
	active map[uint64]CallInfo

	// drained is closed when the last call ends; nil while the registry
	// is empty.
	drained chan struct{}
}

var _ telephony.CallRegistry = (*CallRegistry)(nil)

// NewCallRegistry returns an empty registry.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{active: make(map[uint64]CallInfo)}
}

// Register adds a call and returns the function that removes it. The
// returned function is safe to call more than once.
func (r *CallRegistry) Register(caller string) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	r.active[id] = CallInfo{Caller: caller, StartedAt: time.Now()}
	if len(r.active) == 1 {
		r.drained = make(chan struct{})
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.active, id)
			if len(r.active) == 0 && r.drained != nil {
				close(r.drained)
				r.drained = nil
			}
			r.mu.Unlock()
		})
	}
}

// Len returns the number of calls in flight.
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Snapshot returns the calls in flight, oldest first.
func (r *CallRegistry) Snapshot() []CallInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CallInfo, 0, len(r.active))
	for _, c := range r.active {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b CallInfo) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}

// Wait blocks until no calls remain or ctx is done.
func (r *CallRegistry) Wait(ctx context.Context) error {
	r.mu.Lock()
	if len(r.active) == 0 {
		r.mu.Unlock()
		return nil
	}
	drained := r.drained
	r.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
