// File: internal/usecase/recorder_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"storyboard-ai-generation/internal/domain"
	"storyboard-ai-generation/internal/domain/model"
	"storyboard-ai-generation/internal/domain/ports/adapter"
	"storyboard-ai-generation/internal/domain/ports/repository"
)

// Compile-time check
var _ ResultRecorder = (*recorderUC)(nil)

// ResultRecorder applies a successful generation outcome to the job and its
// clip. Record is idempotent per job and loses to cancellation: a job that
// reached a terminal state first keeps it, and no result is appended.
type ResultRecorder interface {
	Record(ctx context.Context, res *model.GenerationResult) error
}

// RecordMarker is an optional cross-process first-record guard.
type RecordMarker interface {
	FirstRecord(ctx context.Context, jobID string) (bool, error)
}

type recorderUC struct {
	jobs     repository.JobStore
	clips    repository.ClipStore
	marker   RecordMarker
	notifier adapter.AlertNotifier
	log      *zerolog.Logger
}

func NewResultRecorder(jobs repository.JobStore, clips repository.ClipStore, marker RecordMarker, notifier adapter.AlertNotifier, log *zerolog.Logger) *recorderUC {
	return &recorderUC{jobs: jobs, clips: clips, marker: marker, notifier: notifier, log: log}
}

// Record completes the job first and appends the result second. The order
// matters: once a racing cancel wins the status transition, the append is
// skipped entirely, so cancelled jobs never grow results. If the append
// itself fails the job stays completed and the error is surfaced as a
// recording failure for operator follow-up.
func (r *recorderUC) Record(ctx context.Context, res *model.GenerationResult) error {
	if res == nil || res.JobID == "" {
		return fmt.Errorf("%w: empty result", domain.ErrInvalidArgument)
	}
	if r.marker != nil {
		first, err := r.marker.FirstRecord(ctx, res.JobID)
		if err != nil {
			r.log.Warn().Err(err).Str("job_id", res.JobID).Msg("record marker unavailable; relying on store guard")
		} else if !first {
			return nil
		}
	}

	if err := r.jobs.MarkCompleted(ctx, res.JobID); err != nil {
		if errors.Is(err, domain.ErrJobTerminal) || errors.Is(err, domain.ErrStatusConflict) {
			// Cancelled, or already recorded by another worker.
			r.log.Debug().Str("job_id", res.JobID).Msg("completion skipped; job already terminal")
			return nil
		}
		return err
	}

	appended, err := r.clips.AppendResult(ctx, res.ClipID, res)
	if err != nil {
		r.log.Error().Err(err).Str("job_id", res.JobID).Str("clip_id", res.ClipID).Msg("result append failed; job remains completed")
		if r.notifier != nil {
			r.notifier.RecordingFailed(ctx, res, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrRecording, err)
	}
	if appended {
		r.log.Info().Str("job_id", res.JobID).Str("clip_id", res.ClipID).Str("url", res.URL).Msg("result recorded")
	}
	return nil
}
