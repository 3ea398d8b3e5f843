package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/guitarbeat/actual-ical/internal/model"
)

// ErrInvalidConfiguration marks schedule data the pipeline cannot act on
// (unsupported frequency or weekend solve mode). These are data errors and
// are never retried.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// maxProjected is a safety cap for rules that end up with neither an end
// date nor an occurrence count, so expansion can never run away.
const maxProjected = 5000

// openEndedFutureCaps bounds open-ended rules whose next date is still in
// the future: a reasonable forward window per frequency.
var openEndedFutureCaps = map[rrule.Frequency]int{
	rrule.DAILY:   30,
	rrule.WEEKLY:  4,
	rrule.MONTHLY: 12,
	rrule.YEARLY:  2,
}

// openEndedDivisors approximates the frequency period in days for rules
// whose next date is already due. Deliberately not calendar-exact; the goal
// is a reasonably populated feed, not precise month/year arithmetic.
var openEndedDivisors = map[rrule.Frequency]int{
	rrule.DAILY:   1,
	rrule.WEEKLY:  7,
	rrule.MONTHLY: 30,
	rrule.YEARLY:  365,
}

// resolveFrequency maps the backend's frequency strings onto rrule
// frequencies.
func resolveFrequency(s string) (rrule.Frequency, error) {
	switch s {
	case "daily":
		return rrule.DAILY, nil
	case "weekly":
		return rrule.WEEKLY, nil
	case "monthly":
		return rrule.MONTHLY, nil
	case "yearly":
		return rrule.YEARLY, nil
	default:
		return 0, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidConfiguration, s)
	}
}

// Project expands a recurrence rule into the concrete candidate dates for
// the feed, filtered to dates on or after nextDate. today anchors the
// occurrence-count heuristic for open-ended rules.
//
// Boundaries per end mode:
//   - never: generation starts at nextDate and is bounded by the occurrence
//     count heuristic
//   - after_n_occurrences: starts at the rule start, bounded by start plus
//     that many natural periods
//   - on_date: starts at the rule start, bounded by the end date
func Project(rec *model.Recurrence, nextDate time.Time, today time.Time) ([]time.Time, error) {
	freq, err := resolveFrequency(rec.Frequency)
	if err != nil {
		return nil, err
	}

	opt := rrule.ROption{
		Freq:     freq,
		Interval: 1,
	}

	switch rec.EndMode {
	case model.EndModeNever, "":
		opt.Dtstart = nextDate
		count := openEndedCount(freq, nextDate, today)
		if count <= 0 {
			// Nothing to emit, and rrule-go would read Count == 0 as
			// "no count at all".
			return nil, nil
		}
		opt.Count = count
	case model.EndModeAfterN:
		opt.Dtstart = rec.Start
		opt.Until = addPeriods(rec.Start, freq, rec.EndOccurrences)
	case model.EndModeOnDate:
		opt.Dtstart = rec.Start
		if rec.EndDate.IsZero() {
			// Data invariant violated upstream; cap instead of expanding
			// without bound.
			opt.Count = maxProjected
		} else {
			opt.Until = rec.EndDate
		}
	default:
		return nil, fmt.Errorf("%w: unsupported end mode %q", ErrInvalidConfiguration, rec.EndMode)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	all := rule.All()
	if len(all) > maxProjected {
		all = all[:maxProjected]
	}

	out := make([]time.Time, 0, len(all))
	for _, d := range all {
		if d.Before(nextDate) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// openEndedCount implements the occurrence-count heuristic bounding rules
// with no explicit end. A next date in the future gets a fixed forward
// window; a next date today or in the past gets ceil(daysSince / period).
func openEndedCount(freq rrule.Frequency, nextDate, today time.Time) int {
	daysSince := daysBetween(nextDate, today)
	if daysSince < 0 {
		return openEndedFutureCaps[freq]
	}
	div := openEndedDivisors[freq]
	return (daysSince + div - 1) / div
}

// addPeriods advances a date by n natural periods of the frequency.
func addPeriods(start time.Time, freq rrule.Frequency, n int) time.Time {
	switch freq {
	case rrule.DAILY:
		return start.AddDate(0, 0, n)
	case rrule.WEEKLY:
		return start.AddDate(0, 0, 7*n)
	case rrule.MONTHLY:
		return start.AddDate(0, n, 0)
	default:
		return start.AddDate(n, 0, 0)
	}
}

// daysBetween returns to − from in whole calendar days, ignoring the time
// of day and any DST offset between the two.
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	f := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
