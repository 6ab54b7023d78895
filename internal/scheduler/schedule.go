package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// five field cron expressions plus the @hourly/@every style descriptors
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression such as "*/5 * * * *" or "@every 10m".
// Expressions that can never match, such as "0 0 30 2 *", are rejected.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	if sched.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("invalid schedule %q: it never fires", expr)
	}
	return sched, nil
}

// NextAfter returns the first occurrence of expr strictly after t.
func NextAfter(expr string, t time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
