package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher drives periodic scheduling passes. The selection itself lives
// in the generation use case; this loop only owns the cadence.
type Dispatcher struct {
	uc       DispatchRunner
	interval time.Duration
	log      *zerolog.Logger
}

// DispatchRunner is the slice of the generation use case the loop needs.
type DispatchRunner interface {
	DispatchOnce(ctx context.Context) int
}

func NewDispatcher(uc DispatchRunner, interval time.Duration, log *zerolog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Dispatcher{uc: uc, interval: interval, log: log}
}

// Start runs the dispatch loop until ctx is cancelled.
// This should be run in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.log.Info().Dur("interval", d.interval).Msg("dispatcher started")
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("dispatcher stopping")
			return
		case <-ticker.C:
			if n := d.uc.DispatchOnce(ctx); n > 0 {
				d.log.Debug().Int("dispatched", n).Msg("dispatch pass")
			}
		}
	}
}
