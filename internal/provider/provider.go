// Package provider implements the uniform adapter contract over concrete
// model backends (Ollama local runtime, OpenAI, Anthropic).
//
// Every adapter exposes the same three operations (Generate, Embed,
// HealthCheck) so callers never branch on provider identity. Adapters keep
// their own rolling latency/error statistics and bound their in-flight calls
// with a semaphore so rate-limited cloud APIs are not overloaded.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Adapter is the uniform contract over one concrete backend. One adapter
// serves every model hosted by its backend; the model is chosen per call.
type Adapter interface {
	// Name is the provider identifier used in descriptor IDs.
	Name() string

	// Generate produces text for the request using the given model.
	Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error)

	// Embed produces a vector embedding for the text using the given model.
	Embed(ctx context.Context, model, text string) ([]float64, error)

	// HealthCheck verifies the backend is reachable and usable.
	HealthCheck(ctx context.Context) error

	// Stats returns a snapshot of the adapter's rolling statistics.
	Stats() Stats
}

// ── Failure Taxonomy ────────────────────────────────────────

// Sentinel errors adapters wrap so the manager can branch with errors.Is.
var (
	ErrUnavailable = errors.New("provider unavailable")
	ErrTimeout     = errors.New("provider timeout")
	ErrRateLimited = errors.New("provider rate limited")
	ErrUnsupported = errors.New("operation not supported by provider")
)

// Recoverable reports whether the error should trigger fallback to the
// next candidate rather than failing the request outright.
func Recoverable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// ── Rolling Statistics ──────────────────────────────────────

// Stats is a snapshot of an adapter's rolling call statistics.
type Stats struct {
	Calls       int64     `json:"calls"`
	Errors      int64     `json:"errors"`
	AvgLatency  int64     `json:"avg_latency_ms"` // exponential moving average
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// ── Shared Adapter Base ─────────────────────────────────────

// base carries the HTTP client, concurrency semaphore, and statistics
// shared by all concrete adapters.
type base struct {
	name   string
	client *http.Client
	sem    chan struct{}

	mu    sync.Mutex
	stats Stats
}

func newBase(name string, maxConcurrent int, timeout time.Duration) base {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return base{
		name:   name,
		client: &http.Client{Timeout: timeout},
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// acquire claims a semaphore slot, honoring cancellation while queued.
func (b *base) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *base) release() {
	<-b.sem
}

// observe folds one call's outcome into the rolling statistics.
func (b *base) observe(start time.Time, err error) {
	latency := time.Since(start).Milliseconds()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	if b.stats.AvgLatency == 0 {
		b.stats.AvgLatency = latency
	} else {
		// Exponential moving average, weighted toward history.
		b.stats.AvgLatency = (b.stats.AvgLatency*7 + latency*3) / 10
	}
	if err != nil {
		b.stats.Errors++
		b.stats.LastError = err.Error()
		b.stats.LastErrorAt = time.Now().UTC()
	}
}

// Stats returns a copy of the rolling statistics.
func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// ── Error Classification ────────────────────────────────────

// classifyTransport maps a transport-level error onto the failure taxonomy.
// Caller cancellation is passed through untouched so it is never retried.
func (b *base) classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Distinguish the per-call deadline from a caller deadline: if the
		// caller's context is still live, this was our call timeout.
		if ctx.Err() == nil {
			return fmt.Errorf("%s: request timed out: %w", b.name, ErrTimeout)
		}
		return err
	}
	return fmt.Errorf("%s: %v: %w", b.name, err, ErrUnavailable)
}

// classifyStatus maps a non-200 HTTP status onto the failure taxonomy.
func (b *base) classifyStatus(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status %d: %w", b.name, status, ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("%s: status %d: %w", b.name, status, ErrUnavailable)
	default:
		// 4xx other than 429 is a permanent request problem, not a
		// provider health problem; surface it as-is.
		return fmt.Errorf("%s: status %d: %s", b.name, status, truncate(body, 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
