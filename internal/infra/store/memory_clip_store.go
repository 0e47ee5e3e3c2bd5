package store

import (
	"context"
	"sync"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

// Compile-time check
var _ repository.ClipStore = (*MemoryClipStore)(nil)

type MemoryClipStore struct {
	mu       sync.RWMutex
	clips    map[string]*model.Clip
	results  map[string][]*model.GenerationResult
	recorded map[string]struct{} // job ids already appended
}

func NewMemoryClipStore() *MemoryClipStore {
	return &MemoryClipStore{
		clips:    make(map[string]*model.Clip),
		results:  make(map[string][]*model.GenerationResult),
		recorded: make(map[string]struct{}),
	}
}

// Put seeds a clip; the real hierarchy lives outside this subsystem.
func (s *MemoryClipStore) Put(c *model.Clip) {
	s.mu.Lock()
	s.clips[c.ID] = c
	s.mu.Unlock()
}

func (s *MemoryClipStore) Get(ctx context.Context, id string) (*model.Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryClipStore) AppendResult(ctx context.Context, clipID string, res *model.GenerationResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clips[clipID]; !ok {
		return false, domain.ErrNotFound
	}
	if _, dup := s.recorded[res.JobID]; dup {
		return false, nil
	}
	s.recorded[res.JobID] = struct{}{}
	cp := *res
	s.results[clipID] = append(s.results[clipID], &cp)
	return true, nil
}

func (s *MemoryClipStore) Results(ctx context.Context, clipID string) ([]*model.GenerationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.results[clipID]
	out := make([]*model.GenerationResult, len(rs))
	for i, r := range rs {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}
