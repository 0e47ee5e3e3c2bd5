package repository

import (
	"context"

	"storyboard-ai-generation/internal/domain/model"
)

// BackendRegistry tracks the registered inference backends and their health.
// Health is re-verified on demand, not on a schedule: Eligible re-probes
// stale or unknown backends before returning them.
type BackendRegistry interface {
	Register(ctx context.Context, d *model.BackendDescriptor) error
	Deregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.BackendDescriptor, error)
	List(ctx context.Context) ([]*model.BackendDescriptor, error)
	ListOnline(ctx context.Context) ([]*model.BackendDescriptor, error)
	// Eligible returns online backends whose capabilities satisfy the request.
	Eligible(ctx context.Context, kind model.GenerationKind, modelName string) ([]*model.BackendDescriptor, error)
	CheckHealth(ctx context.Context, id string) (model.HealthState, error)
}
