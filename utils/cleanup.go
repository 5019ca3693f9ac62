package utils

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepFunc runs one cleanup pass.
type SweepFunc func(ctx context.Context, now time.Time)

// StartCleanupSchedule registers sweep on a cron schedule (standard 5-field spec or
// descriptors such as "@every 15m") and starts the scheduler. An empty spec disables it
// and returns nil. Callers stop the returned scheduler on shutdown.
func StartCleanupSchedule(spec string, sweep SweepFunc) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				Sugar.Errorf("scheduled cleanup panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		sweep(ctx, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	Sugar.Infof("cleanup schedule started: %s", spec)
	return c, nil
}
