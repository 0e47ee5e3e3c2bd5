package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/metrics"
)

// Compile-time check
var _ repository.BackendRegistry = (*Registry)(nil)

// Prober performs the kind-specific health check for one backend.
type Prober interface {
	Probe(ctx context.Context, d *model.BackendDescriptor) model.HealthState
}

// HealthCache is an optional shared cache for probe outcomes so several
// orchestrator instances don't hammer the same backend. Nil is fine.
type HealthCache interface {
	Get(ctx context.Context, backendID string) (model.HealthState, bool)
	Set(ctx context.Context, backendID string, state model.HealthState) error
}

// Registry is the in-memory backend registry plus health monitor. Health is
// verified on demand: Eligible re-probes backends whose last check is older
// than maxAge or whose state is unknown. A timeout-offline backend is
// re-probed on next use rather than cached as permanently dead.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*model.BackendDescriptor

	probers map[model.BackendKind]Prober
	cache   HealthCache
	maxAge  time.Duration
	log     *zerolog.Logger
}

func New(probers map[model.BackendKind]Prober, cache HealthCache, maxAge time.Duration, log *zerolog.Logger) *Registry {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &Registry{
		backends: make(map[string]*model.BackendDescriptor),
		probers:  probers,
		cache:    cache,
		maxAge:   maxAge,
		log:      log,
	}
}

func (r *Registry) Register(ctx context.Context, d *model.BackendDescriptor) error {
	if d == nil || d.Endpoint == "" {
		return domain.ErrInvalidArgument
	}
	if d.Kind != model.BackendKindStandard && d.Kind != model.BackendKindServerless {
		return domain.ErrInvalidArgument
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Health = model.HealthUnknown

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *d
	r.backends[d.ID] = &cp
	r.log.Info().Str("backend_id", d.ID).Str("kind", string(d.Kind)).Str("endpoint", d.Endpoint).Msg("backend registered")
	return nil
}

func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.backends, id)
	r.log.Info().Str("backend_id", id).Msg("backend deregistered")
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*model.BackendDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.backends[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *Registry) List(ctx context.Context) ([]*model.BackendDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.BackendDescriptor, 0, len(r.backends))
	for _, d := range r.backends {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) ListOnline(ctx context.Context) ([]*model.BackendDescriptor, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, d := range all {
		if d.Online() {
			out = append(out, d)
		}
	}
	return out, nil
}

// Eligible returns online backends that can serve the request, re-probing
// stale ones first. Unknown health is never treated as online.
func (r *Registry) Eligible(ctx context.Context, kind model.GenerationKind, modelName string) ([]*model.BackendDescriptor, error) {
	all, _ := r.List(ctx)
	var out []*model.BackendDescriptor
	for _, d := range all {
		if !d.Capabilities.Supports(kind, modelName) {
			continue
		}
		if d.Health == model.HealthUnknown || time.Since(d.LastHealthCheck) > r.maxAge {
			if _, err := r.CheckHealth(ctx, d.ID); err != nil {
				continue
			}
			refreshed, err := r.Get(ctx, d.ID)
			if err != nil {
				continue
			}
			d = refreshed
		}
		if d.Online() {
			out = append(out, d)
		}
	}
	return out, nil
}

// CheckHealth runs the kind-specific probe and records the outcome on the
// descriptor. It never mutates jobs.
func (r *Registry) CheckHealth(ctx context.Context, id string) (model.HealthState, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return model.HealthUnknown, err
	}

	state, cached := model.HealthUnknown, false
	if r.cache != nil {
		if s, ok := r.cache.Get(ctx, id); ok {
			state, cached = s, true
		}
	}
	if !cached {
		prober, ok := r.probers[d.Kind]
		if !ok {
			return model.HealthUnknown, domain.ErrInvalidArgument
		}
		state = prober.Probe(ctx, d)
		if r.cache != nil && state != model.HealthUnknown {
			_ = r.cache.Set(ctx, id, state)
		}
	}
	metrics.IncHealthCheck(string(d.Kind), string(state))

	r.mu.Lock()
	if cur, ok := r.backends[id]; ok {
		cur.Health = state
		cur.LastHealthCheck = time.Now()
	}
	r.mu.Unlock()

	if state != model.HealthOnline {
		r.log.Debug().Str("backend_id", id).Str("state", string(state)).Msg("health check not online")
	}
	return state, nil
}
