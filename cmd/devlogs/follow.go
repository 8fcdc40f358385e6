package main

import (
	"context"
	"time"

	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/repository"
)

const (
	followInterval = 2 * time.Second
	// maxConnectionFailures is how many consecutive connection errors a
	// follow loop rides out before giving up.
	maxConnectionFailures = 3
)

// follower repeats poll until ctx is done. Connection errors are retried
// up to maxConnectionFailures times in a row; any other error ends the loop.
type follower struct {
	interval time.Duration
	log      *logger.Logger
}

func (f *follower) run(ctx context.Context, poll func(ctx context.Context) error) error {
	interval := f.interval
	if interval <= 0 {
		interval = followInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		if ctx.Err() != nil {
			return errInterrupted
		}
		select {
		case <-ctx.Done():
			return errInterrupted
		case <-ticker.C:
		}

		err := poll(ctx)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return errInterrupted
		case repository.IsConnectionError(err):
			failures++
			if failures >= maxConnectionFailures {
				return err
			}
			if f.log != nil {
				f.log.WithError(err).WithField("attempt", failures).Warn("connection lost, retrying")
			}
		default:
			return err
		}
	}
}
