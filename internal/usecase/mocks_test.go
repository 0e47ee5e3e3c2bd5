package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/registry"
	"storyboard-ai-generation/internal/infra/store"
	"storyboard-ai-generation/internal/infra/worker"
	"storyboard-ai-generation/internal/workflow"
)

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// ---- backend registry fake ----

type memRegistry struct {
	mu       sync.Mutex
	backends map[string]*model.BackendDescriptor
}

var _ repository.BackendRegistry = (*memRegistry)(nil)

func newMemRegistry(backends ...*model.BackendDescriptor) *memRegistry {
	r := &memRegistry{backends: make(map[string]*model.BackendDescriptor)}
	for _, b := range backends {
		r.backends[b.ID] = b
	}
	return r
}

func (r *memRegistry) Register(_ context.Context, d *model.BackendDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.backends[d.ID] = d
	return nil
}

func (r *memRegistry) Deregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.backends, id)
	return nil
}

func (r *memRegistry) Get(_ context.Context, id string) (*model.BackendDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.backends[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRegistry) List(_ context.Context) ([]*model.BackendDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.BackendDescriptor, 0, len(r.backends))
	for _, d := range r.backends {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRegistry) ListOnline(ctx context.Context) ([]*model.BackendDescriptor, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, d := range all {
		if d.Online() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRegistry) Eligible(ctx context.Context, kind model.GenerationKind, modelName string) ([]*model.BackendDescriptor, error) {
	online, _ := r.ListOnline(ctx)
	var out []*model.BackendDescriptor
	for _, d := range online {
		if d.Capabilities.Supports(kind, modelName) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRegistry) CheckHealth(_ context.Context, id string) (model.HealthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.backends[id]
	if !ok {
		return model.HealthUnknown, domain.ErrNotFound
	}
	return d.Health, nil
}

// ---- execution client fake ----

type execFn func(ctx context.Context, job *model.Job, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error)

type fakeClient struct {
	kind model.BackendKind
	fn   execFn

	mu     sync.Mutex
	aborts []string
}

var _ adapter.ExecutionClient = (*fakeClient)(nil)

func (c *fakeClient) Kind() model.BackendKind { return c.kind }

func (c *fakeClient) Execute(ctx context.Context, job *model.Job, graph *model.ExecutionGraph, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
	return c.fn(ctx, job, graph, backend)
}

func (c *fakeClient) Abort(_ context.Context, job *model.Job, _ *model.BackendDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts = append(c.aborts, job.ID)
	return nil
}

func (c *fakeClient) abortCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.aborts)
}

// successResult builds the result Execute would return for a job.
func successResult(job *model.Job, backendID string) *model.GenerationResult {
	return &model.GenerationResult{
		ID:     "res-" + job.ID,
		JobID:  job.ID,
		ClipID: job.Request.ClipID,
		Kind:   job.Request.Kind,
		URL:    "http://storage/outputs/" + job.ID + ".png",
		Provenance: model.Provenance{
			Model:     job.Request.ModelName,
			BackendID: backendID,
		},
		CreatedAt: time.Now(),
	}
}

// ---- notifier fake ----

type fakeNotifier struct {
	mu         sync.Mutex
	jobFails   []string
	recordErrs []string
}

var _ adapter.AlertNotifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) JobFailed(_ context.Context, job *model.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobFails = append(n.jobFails, job.ID)
}

func (n *fakeNotifier) RecordingFailed(_ context.Context, res *model.GenerationResult, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recordErrs = append(n.recordErrs, res.JobID)
}

func (n *fakeNotifier) jobFailCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobFails)
}

// ---- clip store with injectable append failure ----

type failingClipStore struct {
	*store.MemoryClipStore
	failAppend bool
}

func (s *failingClipStore) AppendResult(ctx context.Context, clipID string, res *model.GenerationResult) (bool, error) {
	if s.failAppend {
		return false, domain.ErrNotFound
	}
	return s.MemoryClipStore.AppendResult(ctx, clipID, res)
}

// ---- harness ----

type testEnv struct {
	uc       *generationUC
	jobs     *store.MemoryJobStore
	clips    *store.MemoryClipStore
	reg      *memRegistry
	loads    *registry.LoadTracker
	client   *fakeClient
	notifier *fakeNotifier
	ctx      context.Context
}

func onlineBackend(id string) *model.BackendDescriptor {
	return &model.BackendDescriptor{
		ID:       id,
		Kind:     model.BackendKindStandard,
		Endpoint: "http://" + id + ":8188",
		Capabilities: model.Capabilities{
			Kinds: []model.GenerationKind{model.GenerationImage, model.GenerationVideo},
		},
		Health:          model.HealthOnline,
		LastHealthCheck: time.Now(),
	}
}

func newTestEnv(t *testing.T, fn execFn, opts Options, backends ...*model.BackendDescriptor) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	jobs := store.NewMemoryJobStore()
	clips := store.NewMemoryClipStore()
	clips.Put(&model.Clip{ID: "clip-1", SceneID: "scene-1", Name: "opening shot"})

	if len(backends) == 0 {
		backends = []*model.BackendDescriptor{onlineBackend("backend-a")}
	}
	reg := newMemRegistry(backends...)
	loads := registry.NewLoadTracker()
	client := &fakeClient{kind: model.BackendKindStandard, fn: fn}
	notifier := &fakeNotifier{}
	log := newLogger()

	recorder := NewResultRecorder(jobs, clips, nil, notifier, log)
	pool := worker.NewPool(4, log)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	uc := NewGenerationUseCase(jobs, clips, reg, loads, workflow.NewBuilder(), map[model.BackendKind]adapter.ExecutionClient{
		model.BackendKindStandard:   client,
		model.BackendKindServerless: client,
	}, recorder, nil, notifier, pool, opts, log)

	return &testEnv{uc: uc, jobs: jobs, clips: clips, reg: reg, loads: loads, client: client, notifier: notifier, ctx: ctx}
}

func (e *testEnv) submit(t *testing.T, priority int) *model.Job {
	t.Helper()
	job, err := e.uc.Submit(e.ctx, &model.GenerationRequest{
		ClipID:    "clip-1",
		Kind:      model.GenerationImage,
		ModelName: "dreamshaper_8.safetensors",
		Prompt:    "a quiet harbor at dawn",
		Priority:  priority,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

// dispatchUntil pumps dispatch passes until cond holds or the deadline hits.
func (e *testEnv) dispatchUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		e.uc.DispatchOnce(e.ctx)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func (e *testEnv) waitStatus(t *testing.T, jobID string, want model.JobStatus) *model.Job {
	t.Helper()
	var last *model.Job
	e.dispatchUntil(t, func() bool {
		j, err := e.jobs.Get(e.ctx, jobID)
		if err != nil {
			return false
		}
		last = j
		return j.Status == want
	})
	return last
}
