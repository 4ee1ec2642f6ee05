package puller

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ajitpratap0/syncforge/pkg/errors"
)

// minScheduleInterval is the tightest pull cadence a source may configure
const minScheduleInterval = time.Minute

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpr checks a schedule expression for syntax and for the
// minimum interval. Expressions that would fire more often than once per
// minute are rejected before scheduling.
func ValidateCronExpr(expr string) error {
	if expr == "" {
		return errors.New(errors.ErrorTypeValidation, "cron expression must not be empty")
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid cron expression").
			WithDetail("expr", expr)
	}

	// Sample consecutive activations; the gap between any two must not
	// undercut the minimum interval
	t := schedule.Next(time.Now())
	for i := 0; i < 8; i++ {
		next := schedule.Next(t)
		if next.IsZero() {
			break
		}
		if next.Sub(t) < minScheduleInterval {
			return errors.New(errors.ErrorTypeValidation, "schedule interval below the one minute minimum").
				WithDetail("expr", expr).
				WithDetail("interval", next.Sub(t).String())
		}
		t = next
	}
	return nil
}

// ParseCronExpr parses a validated expression into a schedule
func ParseCronExpr(expr string) (cron.Schedule, error) {
	if err := ValidateCronExpr(expr); err != nil {
		return nil, err
	}
	return cronParser.Parse(expr)
}
