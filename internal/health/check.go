package health

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/guitarbeat/actual-ical/internal/actual"
	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/sched"
)

// Checker probes the budget backend: log in, pull the budget, count the
// schedules. It shares the fetcher's session factory so the probe exercises
// the same path a feed request does.
type Checker struct {
	Open    sched.SessionFunc
	Timeout time.Duration
}

// Run performs one probe. The returned error is already classified in its
// log output; callers only need the success/failure bit.
func (c *Checker) Run(ctx context.Context) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	start := time.Now()
	session := c.Open()
	defer session.Close()

	if err := session.Init(ctx); err != nil {
		appLog.Error("connectivity check: login failed", err,
			"category", string(actual.Classify(err)))
		return err
	}
	if err := session.Pull(ctx); err != nil {
		appLog.Error("connectivity check: budget pull failed", err,
			"category", string(actual.Classify(err)))
		return err
	}
	schedules, err := session.Schedules(ctx)
	if err != nil {
		appLog.Error("connectivity check: schedule query failed", err,
			"category", string(actual.Classify(err)))
		return err
	}

	appLog.Info("connectivity check ok",
		"schedules", len(schedules),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Start schedules the probe on the given cron expression and returns the
// running cron, or nil when spec is empty. Stop it via cron.Cron.Stop.
func (c *Checker) Start(ctx context.Context, spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}

	runner := cron.New()
	_, err := runner.AddFunc(spec, func() {
		// Probe failures are logged inside Run; the cron loop keeps going.
		_ = c.Run(ctx)
	})
	if err != nil {
		return nil, err
	}

	runner.Start()
	appLog.Info("periodic connectivity check scheduled", "cron", spec)
	return runner, nil
}
