// In-memory Store implementation.
package store

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// MemoryStore implements Store with in-memory maps. Traces and runs older
// than the TTL are evicted on write so neither map can grow without bound.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]*models.Trace
	runs   map[string]*models.WorkflowRun

	// Records older than this are evicted automatically. Defaults to 24h.
	// Set via INKSTONE_TRACE_TTL (Go duration string).
	ttl time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	ttl := 24 * time.Hour
	if ttlStr := os.Getenv("INKSTONE_TRACE_TTL"); ttlStr != "" {
		if parsed, err := time.ParseDuration(ttlStr); err == nil {
			ttl = parsed
		} else {
			log.Warn().Str("value", ttlStr).Msg("Invalid INKSTONE_TRACE_TTL, using default 24h")
		}
	}

	return &MemoryStore{
		traces: make(map[string]*models.Trace),
		runs:   make(map[string]*models.WorkflowRun),
		ttl:    ttl,
	}
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// ── Trace Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateTrace(ctx context.Context, trace *models.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *trace
	m.traces[cp.ID] = &cp
	m.evictExpiredLocked()
	return nil
}

func (m *MemoryStore) GetTrace(ctx context.Context, id string) (*models.Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.traces[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "trace", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTraces(ctx context.Context, filter TraceFilter) ([]models.Trace, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	out := make([]models.Trace, 0, len(m.traces))
	for _, t := range m.traces {
		if filter.Operation != "" && t.Operation != filter.Operation {
			continue
		}
		if filter.Provider != "" && t.Provider != filter.Provider {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	m.mu.RUnlock()

	// Newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// evictExpiredLocked drops traces past their TTL. Caller holds the lock.
func (m *MemoryStore) evictExpiredLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for id, t := range m.traces {
		if t.CreatedAt.Before(cutoff) {
			delete(m.traces, id)
		}
	}
}

// ── Workflow Run Store ──────────────────────────────────────

func (m *MemoryStore) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *run
	m.runs[cp.ID] = &cp
	m.evictExpiredRunsLocked()
	return nil
}

// evictExpiredRunsLocked drops runs past their TTL. Caller holds the lock.
func (m *MemoryStore) evictExpiredRunsLocked() {
	cutoff := time.Now().Add(-m.ttl)
	for id, r := range m.runs {
		if r.StartedAt.Before(cutoff) {
			delete(m.runs, id)
		}
	}
}

func (m *MemoryStore) GetRun(ctx context.Context, id string) (*models.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow run", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, kind string, limit int) ([]models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	out := make([]models.WorkflowRun, 0, len(m.runs))
	for _, r := range m.runs {
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, *r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
