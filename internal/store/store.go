// Package store provides the storage interface and implementations for the
// AI core's observability records. The core itself is stateless; traces and
// workflow runs exist for diagnostics and are held in memory.
package store

import (
	"context"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Store is the storage interface for observability records. Handler code
// depends on this interface so tests can swap implementations.
type Store interface {
	TraceStore
	RunStore

	// Ping checks if the store is usable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Trace Store ─────────────────────────────────────────────

// TraceFilter defines optional filters for listing traces.
type TraceFilter struct {
	Operation string // exact match on operation
	Provider  string // exact match on provider
	Status    string // exact match on status
	Limit     int    // max results (default 100)
}

type TraceStore interface {
	CreateTrace(ctx context.Context, trace *models.Trace) error
	GetTrace(ctx context.Context, id string) (*models.Trace, error)
	ListTraces(ctx context.Context, filter TraceFilter) ([]models.Trace, error)
}

// ── Workflow Run Store ──────────────────────────────────────

type RunStore interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, kind string, limit int) ([]models.WorkflowRun, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
