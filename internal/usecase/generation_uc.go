// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/domain/ports/repository"
	"storyboard-ai-generation/internal/infra/logging"
	"storyboard-ai-generation/internal/infra/metrics"
	"storyboard-ai-generation/internal/infra/registry"
	"storyboard-ai-generation/internal/infra/worker"
	"storyboard-ai-generation/internal/workflow"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// BackendStatus is one backend's slice of a queue snapshot.
type BackendStatus struct {
	Backend *model.BackendDescriptor `json:"backend"`
	Load    model.BackendLoad        `json:"load"`
}

// QueueSnapshot is the operator view: per-backend load plus job counts.
type QueueSnapshot struct {
	Backends []BackendStatus          `json:"backends"`
	Counts   map[model.JobStatus]int  `json:"counts"`
}

type GenerationUseCase interface {
	Submit(ctx context.Context, req *model.GenerationRequest) (*model.Job, error)
	Get(ctx context.Context, jobID string) (*model.Job, error)
	List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string) error
	// NextFor hands the best pending job to a pulling backend, or ErrNotFound.
	NextFor(ctx context.Context, backendID string) (*model.Job, error)
	Snapshot(ctx context.Context) (*QueueSnapshot, error)
	// DispatchOnce runs one bounded selection pass and returns the number of
	// jobs handed to the executor pool. It never blocks on backend I/O.
	DispatchOnce(ctx context.Context) int
}

// Weights are the load-balancing score coefficients. They are configuration,
// not constants: nothing validates the defaults against real load.
type Weights struct {
	Active  float64
	Queue   float64
	Failure float64
}

type Options struct {
	Weights         Weights
	PerBackendLimit int64
	MaxJobDuration  time.Duration
}

type generationUC struct {
	jobs     repository.JobStore
	clips    repository.ClipStore
	registry repository.BackendRegistry
	loads    *registry.LoadTracker
	builder  *workflow.Builder
	clients  map[model.BackendKind]adapter.ExecutionClient
	recorder ResultRecorder
	enhancer adapter.PromptEnhancer
	notifier adapter.AlertNotifier
	pool     *worker.Pool
	opts     Options
	log      *zerolog.Logger

	mu      sync.Mutex
	sems    map[string]*semaphore.Weighted
	cancels map[string]context.CancelFunc
}

func NewGenerationUseCase(
	jobs repository.JobStore,
	clips repository.ClipStore,
	reg repository.BackendRegistry,
	loads *registry.LoadTracker,
	builder *workflow.Builder,
	clients map[model.BackendKind]adapter.ExecutionClient,
	recorder ResultRecorder,
	enhancer adapter.PromptEnhancer,
	notifier adapter.AlertNotifier,
	pool *worker.Pool,
	opts Options,
	log *zerolog.Logger,
) *generationUC {
	if opts.PerBackendLimit <= 0 {
		opts.PerBackendLimit = 2
	}
	if opts.MaxJobDuration <= 0 {
		opts.MaxJobDuration = 20 * time.Minute
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = Weights{Active: 1.0, Queue: 0.5, Failure: 10.0}
	}
	return &generationUC{
		jobs:     jobs,
		clips:    clips,
		registry: reg,
		loads:    loads,
		builder:  builder,
		clients:  clients,
		recorder: recorder,
		enhancer: enhancer,
		notifier: notifier,
		pool:     pool,
		opts:     opts,
		log:      log,
		sems:     make(map[string]*semaphore.Weighted),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// ---- submission ----

func (u *generationUC) Submit(ctx context.Context, req *model.GenerationRequest) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "GenerationUC.Submit")()
	if req == nil || req.ClipID == "" {
		return nil, fmt.Errorf("%w: missing clip id", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", domain.ErrInvalidArgument)
	}
	if req.Kind != model.GenerationImage && req.Kind != model.GenerationVideo {
		return nil, fmt.Errorf("%w: kind %q", domain.ErrInvalidArgument, req.Kind)
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = model.DefaultMaxAttempts
	}

	if _, err := u.clips.Get(ctx, req.ClipID); err != nil {
		return nil, fmt.Errorf("clip %s: %w", req.ClipID, err)
	}
	// Reject unsupported models and bad parameter sets before a job exists,
	// so callers get the builder error directly and no attempt is consumed.
	if err := u.builder.Validate(req); err != nil {
		return nil, err
	}

	if u.enhancer != nil {
		if enhanced, err := u.enhancer.Enhance(ctx, req.Kind, req.Prompt); err != nil {
			u.log.Warn().Err(err).Str("clip_id", req.ClipID).Msg("prompt enhancement failed; using original")
		} else if enhanced != "" {
			req.Prompt = enhanced
		}
	}

	job := &model.Job{
		ID:        ulid.Make().String(),
		Request:   *req,
		Status:    model.JobStatusPending,
		Attempt:   1,
		CreatedAt: time.Now(),
	}
	if err := u.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.IncJobSubmitted(string(req.Kind))
	u.log.Info().Str("job_id", job.ID).Str("clip_id", req.ClipID).Str("model", req.ModelName).Int("priority", req.Priority).Msg("job submitted")
	return job.Clone(), nil
}

func (u *generationUC) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return u.jobs.Get(ctx, jobID)
}

func (u *generationUC) List(ctx context.Context, f repository.JobFilter) ([]*model.Job, error) {
	return u.jobs.List(ctx, f)
}

// ---- cancellation / retry ----

func (u *generationUC) Cancel(ctx context.Context, jobID string) error {
	prior, err := u.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := u.jobs.MarkCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	metrics.ObserveJobProcessed("cancelled", 0)
	u.log.Info().Str("job_id", jobID).Str("prior_status", string(prior.Status)).Msg("job cancelled")

	// Stop the in-flight execution and ask the remote to abort. Best effort:
	// the job is already cancelled whether or not the remote complies.
	u.mu.Lock()
	cancelFn := u.cancels[jobID]
	u.mu.Unlock()
	if cancelFn != nil {
		cancelFn()
	}
	if prior.Status == model.JobStatusExecuting && prior.BackendID != "" {
		if backend, berr := u.registry.Get(ctx, prior.BackendID); berr == nil {
			if client, ok := u.clients[backend.Kind]; ok {
				abortCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				go func() {
					defer cancel()
					if aerr := client.Abort(abortCtx, job, backend); aerr != nil {
						u.log.Warn().Err(aerr).Str("job_id", jobID).Msg("remote abort failed")
					}
				}()
			}
		}
	}
	return nil
}

func (u *generationUC) Retry(ctx context.Context, jobID string) error {
	if err := u.jobs.ResetForRetry(ctx, jobID); err != nil {
		return err
	}
	u.log.Info().Str("job_id", jobID).Msg("failed job re-queued")
	return nil
}

// ---- selection ----

// score ranks a backend for a pending job; lower is better.
func (u *generationUC) score(load model.BackendLoad) float64 {
	w := u.opts.Weights
	return float64(load.ActiveJobs)*w.Active +
		float64(load.QueueLength)*w.Queue +
		load.FailureRate()*w.Failure
}

// rankBackends orders candidates by (score ASC, id ASC). The id tiebreak
// keeps selection deterministic for identical load states.
func (u *generationUC) rankBackends(cands []*model.BackendDescriptor) []*model.BackendDescriptor {
	type scored struct {
		d *model.BackendDescriptor
		s float64
	}
	ss := make([]scored, 0, len(cands))
	for _, d := range cands {
		ss = append(ss, scored{d: d, s: u.score(u.loads.Snapshot(d.ID))})
	}
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].s != ss[j].s {
			return ss[i].s < ss[j].s
		}
		return ss[i].d.ID < ss[j].d.ID
	})
	out := make([]*model.BackendDescriptor, len(ss))
	for i, s := range ss {
		out[i] = s.d
	}
	return out
}

func (u *generationUC) sem(backendID string) *semaphore.Weighted {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.sems[backendID]
	if !ok {
		s = semaphore.NewWeighted(u.opts.PerBackendLimit)
		u.sems[backendID] = s
	}
	return s
}

func (u *generationUC) DispatchOnce(ctx context.Context) int {
	pending, err := u.jobs.Pending(ctx)
	if err != nil {
		u.log.Error().Err(err).Msg("failed to list pending jobs")
		return 0
	}
	dispatched := 0
	for _, job := range pending {
		cands, err := u.registry.Eligible(ctx, job.Request.Kind, job.Request.ModelName)
		if err != nil || len(cands) == 0 {
			continue // stays pending until a suitable backend appears
		}
		for _, backend := range u.rankBackends(cands) {
			if u.dispatch(ctx, job, backend) {
				dispatched++
				break
			}
		}
	}
	return dispatched
}

// dispatch tries to hand one pending job to one backend. It acquires the
// backend's concurrency slot first, then CAS-assigns the job; every failure
// path releases exactly what it took.
func (u *generationUC) dispatch(ctx context.Context, job *model.Job, backend *model.BackendDescriptor) bool {
	sem := u.sem(backend.ID)
	if !sem.TryAcquire(1) {
		return false // backend at its in-flight limit, try the next candidate
	}
	if err := u.jobs.MarkAssigned(ctx, job.ID, backend.ID); err != nil {
		sem.Release(1)
		return false
	}
	u.loads.JobAssigned(backend.ID)

	jobID, b := job.ID, backend
	if err := u.pool.Submit(func(taskCtx context.Context) error {
		u.execute(taskCtx, jobID, b)
		return nil
	}); err != nil {
		// Executor saturated: roll the assignment back so another pass (or a
		// pulling backend) can pick the job up.
		if uerr := u.jobs.Unassign(ctx, jobID); uerr == nil {
			u.loads.AssignmentDropped(backend.ID)
		}
		sem.Release(1)
		return false
	}
	u.log.Debug().Str("job_id", jobID).Str("backend_id", backend.ID).Msg("job dispatched")
	return true
}

// NextFor implements pull-style dispatch: the backend asks for work and gets
// the highest-priority pending job it can serve, already CAS-assigned to it.
func (u *generationUC) NextFor(ctx context.Context, backendID string) (*model.Job, error) {
	backend, err := u.registry.Get(ctx, backendID)
	if err != nil {
		return nil, err
	}
	pending, err := u.jobs.Pending(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range pending {
		if !backend.Capabilities.Supports(job.Request.Kind, job.Request.ModelName) {
			continue
		}
		if err := u.jobs.MarkAssigned(ctx, job.ID, backendID); err != nil {
			continue // raced with another dispatcher
		}
		u.loads.JobAssigned(backendID)
		return u.jobs.Get(ctx, job.ID)
	}
	return nil, domain.ErrNotFound
}

// ---- execution ----

func (u *generationUC) execute(ctx context.Context, jobID string, backend *model.BackendDescriptor) {
	defer u.sem(backend.ID).Release(1)

	job, err := u.jobs.MarkExecuting(ctx, jobID)
	if err != nil {
		// Cancelled (or otherwise moved) between assignment and start.
		u.loads.AssignmentDropped(backend.ID)
		return
	}
	u.loads.JobStarted(backend.ID)

	runCtx, cancel := context.WithTimeout(logging.WithBackendID(logging.WithJobID(ctx, jobID), backend.ID), u.opts.MaxJobDuration)
	u.mu.Lock()
	u.cancels[jobID] = cancel
	u.mu.Unlock()
	defer func() {
		cancel()
		u.mu.Lock()
		delete(u.cancels, jobID)
		u.mu.Unlock()
	}()

	start := time.Now()
	res, err := u.runJob(runCtx, job, backend)
	elapsed := time.Since(start)

	if err == nil {
		u.loads.JobFinished(backend.ID, true, elapsed.Milliseconds())
		if rerr := u.recorder.Record(ctx, res); rerr != nil {
			u.log.Error().Err(rerr).Str("job_id", jobID).Msg("result recording failed")
		}
		metrics.ObserveJobProcessed("completed", elapsed.Seconds())
		u.log.Info().Str("job_id", jobID).Str("backend_id", backend.ID).Dur("duration", elapsed).Msg("job completed")
		return
	}

	u.loads.JobFinished(backend.ID, false, elapsed.Milliseconds())
	u.failJob(ctx, job, err, elapsed)
}

func (u *generationUC) runJob(ctx context.Context, job *model.Job, backend *model.BackendDescriptor) (*model.GenerationResult, error) {
	graph, err := u.builder.Build(&job.Request, backend.Kind)
	if err != nil {
		return nil, err
	}
	client, ok := u.clients[backend.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no client for backend kind %s", domain.ErrInvalidArgument, backend.Kind)
	}
	res, err := client.Execute(ctx, job, graph, backend)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: exceeded max duration %s", domain.ErrBackendTimeout, u.opts.MaxJobDuration)
		}
		return nil, err
	}
	return res, nil
}

// failJob applies the retry policy: builder-time errors terminate without
// consuming the attempt budget; backend errors requeue (with the assignment
// cleared) until attempts run out. A job cancelled mid-flight makes every
// transition here a conflict, which is exactly the first-writer-wins rule.
func (u *generationUC) failJob(ctx context.Context, job *model.Job, execErr error, elapsed time.Duration) {
	if errors.Is(execErr, context.Canceled) {
		return // cancellation already owned the terminal state
	}
	jobErr := model.JobError{Kind: domain.ErrorKind(execErr), Message: execErr.Error()}

	if domain.Retryable(execErr) && job.Attempt < job.Request.MaxAttempts {
		if err := u.jobs.Requeue(ctx, job.ID, jobErr); err != nil {
			u.log.Debug().Err(err).Str("job_id", job.ID).Msg("requeue skipped")
			return
		}
		metrics.IncJobRetry()
		u.log.Warn().Str("job_id", job.ID).Str("backend_id", job.BackendID).Int("attempt", job.Attempt).Str("error_kind", jobErr.Kind).Msg("job requeued for retry")
		return
	}

	if err := u.jobs.MarkFailed(ctx, job.ID, jobErr); err != nil {
		u.log.Debug().Err(err).Str("job_id", job.ID).Msg("fail transition skipped")
		return
	}
	metrics.ObserveJobProcessed("failed", elapsed.Seconds())
	u.log.Error().Str("job_id", job.ID).Str("error_kind", jobErr.Kind).Str("error", jobErr.Message).Msg("job failed terminally")
	if u.notifier != nil {
		failed, err := u.jobs.Get(ctx, job.ID)
		if err == nil {
			u.notifier.JobFailed(ctx, failed)
		}
	}
}

// ---- snapshot ----

func (u *generationUC) Snapshot(ctx context.Context) (*QueueSnapshot, error) {
	backends, err := u.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := u.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	snap := &QueueSnapshot{Counts: counts}
	for _, b := range backends {
		snap.Backends = append(snap.Backends, BackendStatus{
			Backend: b,
			Load:    u.loads.Snapshot(b.ID),
		})
	}
	return snap, nil
}
