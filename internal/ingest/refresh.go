package ingest

import (
	"context"
	"log"
	"time"
)

// Refresher re-imports the dataset directory on a fixed interval so a
// running server picks up newly dropped files without a restart.
type Refresher struct {
	Loader   Loader
	Dir      string
	Interval time.Duration
	Logger   *log.Logger
}

func (r Refresher) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Start runs the refresh loop until ctx is canceled. It does not import
// eagerly; callers that want an immediate load call ImportDir first.
func (r Refresher) Start(ctx context.Context) {
	if r.Interval <= 0 || r.Dir == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := r.Loader.ImportDir(ctx, r.Dir)
				if err != nil {
					r.logger().Printf("ingest: refresh of %s failed: %v", r.Dir, err)
					continue
				}
				r.logger().Printf("ingest: refreshed dataset v%d (%d observations, %d hours, %d timezones, %d skipped)",
					res.DataVersion, res.Observations, res.Hours, res.Timezones, res.Skipped)
			}
		}
	}()
}
