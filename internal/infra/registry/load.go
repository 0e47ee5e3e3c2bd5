package registry

import (
	"sync"
	"sync/atomic"

	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/infra/metrics"
)

type backendLoad struct {
	queued      atomic.Int64
	active      atomic.Int64
	successes   atomic.Int64
	failures    atomic.Int64
	totalDurMs  atomic.Int64
	finishedCnt atomic.Int64
}

// LoadTracker keeps the per-backend counters the balancer scores with.
// Counters are updated atomically: increment on assignment, move to active
// on execution start, decrement on terminal outcome. Lost updates would bias
// backend selection, so every transition goes through exactly one method.
type LoadTracker struct {
	mu   sync.RWMutex
	byID map[string]*backendLoad
}

func NewLoadTracker() *LoadTracker {
	return &LoadTracker{byID: make(map[string]*backendLoad)}
}

func (t *LoadTracker) get(id string) *backendLoad {
	t.mu.RLock()
	l, ok := t.byID[id]
	t.mu.RUnlock()
	if ok {
		return l
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok = t.byID[id]; ok {
		return l
	}
	l = &backendLoad{}
	t.byID[id] = l
	return l
}

// JobAssigned: a job was CAS'd pending->assigned onto this backend.
func (t *LoadTracker) JobAssigned(id string) {
	l := t.get(id)
	l.queued.Add(1)
	metrics.SetBackendQueue(id, l.queued.Load())
}

// AssignmentDropped: the assignment was rolled back before execution
// (cancelled while assigned, or the dispatch could not start).
func (t *LoadTracker) AssignmentDropped(id string) {
	l := t.get(id)
	l.queued.Add(-1)
	metrics.SetBackendQueue(id, l.queued.Load())
}

// JobStarted: assigned -> executing.
func (t *LoadTracker) JobStarted(id string) {
	l := t.get(id)
	l.queued.Add(-1)
	l.active.Add(1)
	metrics.SetBackendQueue(id, l.queued.Load())
	metrics.SetBackendActive(id, l.active.Load())
}

// JobFinished: executing reached a terminal outcome on this backend.
func (t *LoadTracker) JobFinished(id string, success bool, durMs int64) {
	l := t.get(id)
	l.active.Add(-1)
	if success {
		l.successes.Add(1)
	} else {
		l.failures.Add(1)
	}
	l.totalDurMs.Add(durMs)
	l.finishedCnt.Add(1)
	metrics.SetBackendActive(id, l.active.Load())
}

func (t *LoadTracker) Snapshot(id string) model.BackendLoad {
	l := t.get(id)
	out := model.BackendLoad{
		ActiveJobs:  l.active.Load(),
		QueueLength: l.queued.Load(),
		Successes:   l.successes.Load(),
		Failures:    l.failures.Load(),
	}
	if n := l.finishedCnt.Load(); n > 0 {
		out.AvgJobSeconds = float64(l.totalDurMs.Load()) / float64(n) / 1000.0
	}
	return out
}

func (t *LoadTracker) SnapshotAll() map[string]model.BackendLoad {
	t.mu.RLock()
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	out := make(map[string]model.BackendLoad, len(ids))
	for _, id := range ids {
		out[id] = t.Snapshot(id)
	}
	return out
}

// Forget drops counters for a deregistered backend.
func (t *LoadTracker) Forget(id string) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}
