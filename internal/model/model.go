package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recurrence field values as stored by the budget backend.
const (
	EndModeNever       = "never"
	EndModeAfterN      = "after_n_occurrences"
	EndModeOnDate      = "on_date"
	WeekendSolveBefore = "before"
	WeekendSolveAfter  = "after"
)

// Recurrence is the rule set governing how a schedule repeats.
//
// A Recurrence with an empty Frequency marks a one-shot schedule: the
// schedule produces exactly one occurrence at its next date and must not be
// handed to the projector.
type Recurrence struct {
	// Frequency is one of "daily", "weekly", "monthly", "yearly", or empty
	// for a one-shot schedule.
	Frequency string

	// Start is the anchor date of the rule.
	Start time.Time

	// EndMode is "never", "after_n_occurrences" or "on_date".
	EndMode string

	// EndOccurrences is the occurrence cap; meaningful only when EndMode is
	// "after_n_occurrences".
	EndOccurrences int

	// EndDate bounds the rule when EndMode is "on_date". Zero means the
	// backend left it unset and the rule is effectively unbounded.
	EndDate time.Time

	// SkipWeekend shifts occurrences off Saturday/Sunday; WeekendSolveMode
	// ("before" or "after") picks the direction and is only consulted when
	// SkipWeekend is true and the date lands on a weekend.
	SkipWeekend      bool
	WeekendSolveMode string
}

// Recurring reports whether the rule actually repeats.
func (r *Recurrence) Recurring() bool {
	return r != nil && r.Frequency != ""
}

// Amount is a schedule's amount in minor currency units (cents), either a
// single value or a {low, high} range.
type Amount struct {
	Low     int64
	High    int64
	IsRange bool
}

// ExactAmount builds a single-value amount.
func ExactAmount(v int64) Amount {
	return Amount{Low: v, High: v}
}

// RangeAmount builds a {low, high} range amount.
func RangeAmount(low, high int64) Amount {
	return Amount{Low: low, High: high, IsRange: true}
}

// String renders the amount scaled to major units, ranges as "low ~ high".
func (a Amount) String() string {
	low := decimal.New(a.Low, -2).StringFixed(2)
	if !a.IsRange {
		return low
	}
	high := decimal.New(a.High, -2).StringFixed(2)
	return low + " ~ " + high
}

// Schedule is one planned transaction as stored by the budget backend.
type Schedule struct {
	ID   string
	Name string

	// NextDate is the date the backend considers the next due occurrence.
	NextDate time.Time

	Amount Amount

	// Recur is nil for schedules whose rule carries a plain date instead of
	// a recurrence config.
	Recur *Recurrence
}

// Occurrence is a single resolved calendar entry for a schedule, after
// recurrence projection and weekend adjustment.
type Occurrence struct {
	ScheduleID string
	Summary    string

	// Start is the effective all-day date in the configured timezone.
	Start time.Time

	// AllDay is always true in this domain; kept explicit so the assembler
	// does not have to assume it.
	AllDay bool

	// Timezone is the IANA identifier attached to the occurrence.
	Timezone string
}
