package clock

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// BadCron wraps a cron parse failure, matching the §7 error taxonomy entry
// of the same name. It is returned at task-insertion time and again if an
// invalid schedule ever slips through to the first fire.
type BadCron struct {
	Expr string
	Err  error
}

func (e *BadCron) Error() string {
	return fmt.Sprintf("bad cron expression %q: %v", e.Expr, e.Err)
}

func (e *BadCron) Unwrap() error { return e.Err }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron rejects anything the standard 5-field dialect (plus the
// @every/@hourly/... descriptors) does not accept.
func ValidateCron(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return &BadCron{Expr: expr, Err: err}
	}
	return nil
}

// NextFire returns the smallest epoch strictly greater than afterEpoch that
// matches expr.
func NextFire(expr string, afterEpoch int64) (int64, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return 0, &BadCron{Expr: expr, Err: err}
	}
	next := schedule.Next(time.Unix(afterEpoch, 0).UTC())
	return next.Unix(), nil
}
