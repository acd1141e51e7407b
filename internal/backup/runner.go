// SPDX-License-Identifier: MIT

package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cruxlive/cruxd/internal/live"
	"github.com/cruxlive/cruxd/internal/log"
)

// Runner drives the periodic backup loop.
type Runner struct {
	dir       string
	interval  time.Duration
	retention int
	collect   func() []live.BoxSnapshot
	logger    zerolog.Logger
}

// NewRunner builds a runner; collect is called on every cycle to take a
// consistent snapshot of the registry.
func NewRunner(dir string, interval time.Duration, retention int, collect func() []live.BoxSnapshot) *Runner {
	return &Runner{
		dir:       dir,
		interval:  interval,
		retention: retention,
		collect:   collect,
		logger:    log.WithComponent("backup"),
	}
}

// Now writes one backup immediately and applies retention.
func (r *Runner) Now() (string, error) {
	path, err := Write(r.dir, r.collect(), time.Now())
	if err != nil {
		return "", err
	}
	if removed, err := Prune(r.dir, r.retention); err != nil {
		r.logger.Warn().Err(err).Msg("backup retention failed")
	} else if removed > 0 {
		r.logger.Debug().Int("removed", removed).Msg("old backups pruned")
	}
	return path, nil
}

// Run executes the loop until ctx is cancelled. interval <= 0 disables
// the loop. Failures are logged; the loop continues.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info().Msg("backup loop disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("backup loop stopped")
			return
		case <-ticker.C:
			if path, err := r.Now(); err != nil {
				r.logger.Error().Err(err).Msg("backup failed")
			} else {
				r.logger.Info().Str("file", path).Msg("backup written")
			}
		}
	}
}
