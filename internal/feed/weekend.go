package feed

import (
	"fmt"
	"time"

	"github.com/guitarbeat/actual-ical/internal/model"
)

// AdjustWeekend applies a schedule's weekend-skip policy to one candidate
// date. Weekdays pass through unchanged; Saturday and Sunday shift to the
// adjacent Friday or Monday depending on the solve mode.
func AdjustWeekend(date time.Time, rec *model.Recurrence) (time.Time, error) {
	if rec == nil || !rec.SkipWeekend {
		return date, nil
	}

	var before, after int
	switch date.Weekday() {
	case time.Saturday:
		before, after = -1, 2
	case time.Sunday:
		before, after = -2, 1
	default:
		return date, nil
	}

	switch rec.WeekendSolveMode {
	case model.WeekendSolveBefore:
		return date.AddDate(0, 0, before), nil
	case model.WeekendSolveAfter:
		return date.AddDate(0, 0, after), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported weekend solve mode %q",
			ErrInvalidConfiguration, rec.WeekendSolveMode)
	}
}
