package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "uqclock/internal/log"
)

// StartCron requests a background refill of q on every tick of spec (standard
// five-field cron syntax) until ctx is done.
func StartCron(ctx context.Context, spec string, loc *time.Location, q *Queue) (*cron.Cron, error) {
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{}),
	)

	if _, err := c.AddFunc(spec, func() {
		if !q.RequestRefill() {
			appLog.Debug("periodic refresh skipped; refill already running", "spec", spec)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule: invalid refresh spec %q: %w", spec, err)
	}

	c.Start()
	appLog.Info("periodic refresh scheduled", "spec", spec, "timezone", loc.String())

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()

	return c, nil
}

// cronLogger routes cron's own logging through internal/log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
