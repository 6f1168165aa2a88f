// Package registry holds the catalog of known models and their live health.
//
// Status transitions have exactly three writers: the periodic health prober
// (the only one allowed to flip unavailable back to available), the model
// manager's circuit breaker (available → unavailable), and the installer
// hook (installing / available / unavailable).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inkstone-ai/inkstone/internal/provider"
	"github.com/inkstone-ai/inkstone/pkg/models"
	"github.com/rs/zerolog/log"
)

// Registry is the thread-safe model catalog.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*models.ModelDescriptor
	adapters    map[string]provider.Adapter // keyed by provider name
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		descriptors: make(map[string]*models.ModelDescriptor),
		adapters:    make(map[string]provider.Adapter),
	}
}

// RegisterAdapter adds a provider adapter. Overwrites if it exists.
func (r *Registry) RegisterAdapter(a provider.Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
	log.Info().Str("provider", a.Name()).Msg("Provider adapter registered")
}

// Register adds a model descriptor. The descriptor's ID is derived from its
// provider and model if unset.
func (r *Registry) Register(d models.ModelDescriptor) {
	if d.ID == "" {
		d.ID = models.DescriptorID(d.Provider, d.Model)
	}
	if d.Status == "" {
		d.Status = models.StatusUnavailable
	}

	r.mu.Lock()
	r.descriptors[d.ID] = &d
	r.mu.Unlock()
	log.Info().
		Str("model", d.ID).
		Str("kind", string(d.Kind)).
		Str("status", string(d.Status)).
		Msg("Model registered")
}

// Get returns a copy of the descriptor, if known.
func (r *Registry) Get(id string) (models.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	if !ok {
		return models.ModelDescriptor{}, false
	}
	return *d, true
}

// Adapter returns the adapter for a provider name.
func (r *Registry) Adapter(providerName string) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[providerName]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider %q", providerName)
	}
	return a, nil
}

// AdapterFor returns the adapter serving a descriptor ID.
func (r *Registry) AdapterFor(id string) (provider.Adapter, error) {
	d, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", id)
	}
	return r.Adapter(d.Provider)
}

// List returns all descriptors sorted by ID.
func (r *Registry) List() []models.ModelDescriptor {
	r.mu.RLock()
	out := make([]models.ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAvailable returns available descriptors of the given kind, sorted by ID.
func (r *Registry) ListAvailable(kind models.ModelKind) []models.ModelDescriptor {
	r.mu.RLock()
	out := make([]models.ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Kind == kind && d.Status == models.StatusAvailable {
			out = append(out, *d)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkUnavailable downgrades a descriptor. Used by the manager's circuit
// breaker and by failed health probes.
func (r *Registry) MarkUnavailable(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[id]
	if !ok || d.Status == models.StatusInstalling {
		return
	}
	if d.Status != models.StatusUnavailable {
		log.Warn().Str("model", id).Str("reason", reason).Msg("Model marked unavailable")
	}
	d.Status = models.StatusUnavailable
	d.LastError = reason
}

// MarkAvailable upgrades a descriptor after a successful health probe.
func (r *Registry) MarkAvailable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[id]
	if !ok || d.Status == models.StatusInstalling {
		return
	}
	if d.Status != models.StatusAvailable {
		log.Info().Str("model", id).Msg("Model marked available")
	}
	d.Status = models.StatusAvailable
	d.LastError = ""
	d.LastProbe = time.Now().UTC()
}

// SetStatus is the installer hook: the model installer flips descriptors
// between installing, available, and unavailable as downloads progress.
func (r *Registry) SetStatus(id string, status models.ModelStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[id]
	if !ok {
		return fmt.Errorf("unknown model %q", id)
	}
	d.Status = status
	if status == models.StatusAvailable {
		d.LastError = ""
	}
	log.Info().Str("model", id).Str("status", string(status)).Msg("Model status set")
	return nil
}

// ── Health Prober ───────────────────────────────────────────

// Prober periodically health-checks every adapter and flips the status of
// its descriptors. It is the only path from unavailable back to available.
type Prober struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a prober with the given probe interval.
func NewProber(r *Registry, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		registry: r,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// Run probes once immediately, then on every tick until ctx is done.
// Call in a goroutine.
func (p *Prober) Run(ctx context.Context) {
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce health-checks every registered adapter and updates the status
// of all descriptors belonging to it. Descriptors in the installing state
// are left alone.
func (p *Prober) ProbeOnce(ctx context.Context) {
	p.registry.mu.RLock()
	adapters := make(map[string]provider.Adapter, len(p.registry.adapters))
	for name, a := range p.registry.adapters {
		adapters[name] = a
	}
	ids := make(map[string][]string) // provider → descriptor IDs
	for id, d := range p.registry.descriptors {
		ids[d.Provider] = append(ids[d.Provider], id)
	}
	p.registry.mu.RUnlock()

	for name, a := range adapters {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := a.HealthCheck(probeCtx)
		cancel()

		for _, id := range ids[name] {
			if err != nil {
				p.registry.MarkUnavailable(id, err.Error())
			} else {
				p.registry.MarkAvailable(id)
			}
		}

		if err != nil {
			log.Debug().Str("provider", name).Err(err).Msg("Health probe failed")
		}
	}
}
