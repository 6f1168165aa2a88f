// Package manager selects models and arbitrates failures. It walks a
// priority-ordered fallback chain, retries clearly transient errors against
// the same provider with a bounded budget, and trips a per-model circuit
// breaker after repeated failures inside a rolling window.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/internal/config"
	"github.com/inkstone-ai/inkstone/internal/provider"
	"github.com/inkstone-ai/inkstone/internal/registry"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// ErrAllProvidersExhausted is returned when every candidate in the fallback
// chain has failed or is unavailable.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Manager arbitrates model selection over the registry.
type Manager struct {
	registry *registry.Registry
	chains   map[models.ModelKind][]string

	retryCount       int
	breakerThreshold int
	breakerWindow    time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time // descriptor ID → recent failure times
}

// New creates a manager over the registry with the given routing config.
func New(reg *registry.Registry, cfg config.RoutingConfig) *Manager {
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	window := cfg.BreakerWindow
	if window <= 0 {
		window = time.Minute
	}
	return &Manager{
		registry: reg,
		chains: map[models.ModelKind][]string{
			models.KindTextGeneration: cfg.TextChain,
			models.KindEmbedding:      cfg.EmbedChain,
		},
		retryCount:       cfg.RetryCount,
		breakerThreshold: threshold,
		breakerWindow:    window,
		failures:         make(map[string][]time.Time),
	}
}

// Generate produces text, trying the request's preferred model first (when
// set and available) and then the configured text chain in order.
func (m *Manager) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GeneratedText, error) {
	var out *models.GeneratedText
	_, err := m.walk(ctx, models.KindTextGeneration, req.Model, func(ctx context.Context, a provider.Adapter, model string) error {
		res, callErr := a.Generate(ctx, model, req)
		if callErr != nil {
			return callErr
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Embed produces a vector embedding, walking the embedding chain. The second
// return value is the descriptor ID that served the call.
func (m *Manager) Embed(ctx context.Context, text string) ([]float64, string, error) {
	var vec []float64
	id, err := m.walk(ctx, models.KindEmbedding, "", func(ctx context.Context, a provider.Adapter, model string) error {
		v, callErr := a.Embed(ctx, model, text)
		if callErr != nil {
			return callErr
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return vec, id, nil
}

// ── Chain Walk ──────────────────────────────────────────────

// walk tries each candidate in order until one succeeds. It returns the
// descriptor ID of the winner. Candidates marked unavailable are skipped
// without any network call.
func (m *Manager) walk(ctx context.Context, kind models.ModelKind, preferred string, call func(context.Context, provider.Adapter, string) error) (string, error) {
	candidates := m.candidates(kind, preferred)
	if len(candidates) == 0 {
		return "", fmt.Errorf("no models configured for kind %q: %w", kind, ErrAllProvidersExhausted)
	}

	var lastErr error
	tried := 0

	for _, id := range candidates {
		d, ok := m.registry.Get(id)
		if !ok {
			log.Warn().Str("model", id).Msg("Chain references unknown model, skipping")
			continue
		}
		if d.Status != models.StatusAvailable {
			continue
		}

		adapter, err := m.registry.Adapter(d.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		tried++
		err = m.callWithRetry(ctx, adapter, d.Model, call)
		if err == nil {
			m.resetFailures(id)
			return id, nil
		}

		// Caller cancellation ends the walk immediately.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return "", err
		}

		if errors.Is(err, provider.ErrUnsupported) {
			// Misconfigured chain entry; skip without counting a failure.
			log.Warn().Str("model", id).Err(err).Msg("Operation unsupported, skipping")
			lastErr = err
			continue
		}

		if !provider.Recoverable(err) {
			// A permanent request problem will fail on every provider the
			// same way; surface it instead of burning the chain.
			return "", err
		}

		lastErr = err
		m.recordFailure(id, err)
		log.Warn().Str("model", id).Err(err).Msg("Provider call failed, falling back")
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: last error: %v", ErrAllProvidersExhausted, lastErr)
	}
	if tried == 0 {
		return "", fmt.Errorf("no available models for kind %q: %w", kind, ErrAllProvidersExhausted)
	}
	return "", ErrAllProvidersExhausted
}

// candidates returns the ordered descriptor IDs to try: the explicit
// preference first (when set), then the configured chain, deduplicated.
func (m *Manager) candidates(kind models.ModelKind, preferred string) []string {
	chain := m.chains[kind]
	out := make([]string, 0, len(chain)+1)
	seen := make(map[string]bool, len(chain)+1)

	if preferred != "" {
		out = append(out, preferred)
		seen[preferred] = true
	}
	for _, id := range chain {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}

// callWithRetry runs one candidate with a bounded same-provider retry for
// transient transport failures. Timeouts and rate limits are permanent at
// this level: a timeout already consumed the call budget and retrying a
// rate limit compounds it, so both advance the walk to the next candidate.
func (m *Manager) callWithRetry(ctx context.Context, a provider.Adapter, model string, call func(context.Context, provider.Adapter, string) error) error {
	op := func() error {
		err := call(ctx, a, model)
		if err == nil {
			return nil
		}
		if errors.Is(err, provider.ErrUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.retryCount)), ctx)
	return backoff.Retry(op, policy)
}

// ── Circuit Breaker ─────────────────────────────────────────

// recordFailure counts a recoverable failure; crossing the threshold inside
// the rolling window marks the model unavailable. Only the health prober can
// flip it back.
func (m *Manager) recordFailure(id string, cause error) {
	now := time.Now()

	m.mu.Lock()
	recent := m.failures[id][:0]
	for _, t := range m.failures[id] {
		if now.Sub(t) < m.breakerWindow {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.failures[id] = recent
	tripped := len(recent) >= m.breakerThreshold
	if tripped {
		m.failures[id] = nil
	}
	m.mu.Unlock()

	if tripped {
		log.Warn().Str("model", id).Msg("Circuit breaker tripped")
		m.registry.MarkUnavailable(id, fmt.Sprintf("circuit breaker: %v", cause))
	}
}

// resetFailures clears the failure window after a success.
func (m *Manager) resetFailures(id string) {
	m.mu.Lock()
	delete(m.failures, id)
	m.mu.Unlock()
}
