package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSweeper runs Sweep on schedule (standard cron syntax or descriptors
// such as "@every 1m"). Stop the returned scheduler on shutdown.
func (o *Orchestrator) StartSweeper(schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithLogger(cronLogger{o.log}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{o.log})))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := o.Sweep(ctx); err != nil {
			o.log.Error("sweep stale generations", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
