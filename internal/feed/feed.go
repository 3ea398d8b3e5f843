package feed

import (
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/model"
)

// ScheduleSource supplies the active schedules; sched.Fetcher implements it.
type ScheduleSource interface {
	Fetch(ctx context.Context) ([]model.Schedule, error)
}

// Feed is a generated calendar document plus the number of schedules it was
// built from. The schedule count can differ from the event count: an empty
// schedule list still yields one placeholder event.
type Feed struct {
	ICS           string
	ScheduleCount int
}

// Generator turns the backend's schedules into a calendar feed. One Generate
// call processes a single request end to end, sequentially: schedules in
// backend-query order, occurrences within a schedule in chronological order.
type Generator struct {
	Source   ScheduleSource
	Location *time.Location

	// Clock returns "now" for the open-ended-rule heuristic and document
	// stamps; time.Now when nil.
	Clock func() time.Time
}

// Generate fetches the schedules and assembles the feed document.
func (g *Generator) Generate(ctx context.Context) (*Feed, error) {
	schedules, err := g.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	now := g.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var occurrences []model.Occurrence
	for _, s := range schedules {
		occs, err := g.occurrencesFor(s, today)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, occs...)
	}

	doc := buildCalendar(occurrences, now, loc.String())
	appLog.Info("feed generated",
		"schedules", len(schedules), "events", max(len(occurrences), 1))

	return &Feed{ICS: doc, ScheduleCount: len(schedules)}, nil
}

// occurrencesFor resolves one schedule into its calendar occurrences.
func (g *Generator) occurrencesFor(s model.Schedule, today time.Time) ([]model.Occurrence, error) {
	summary := fmt.Sprintf("%s (%s)", s.Name, s.Amount)
	tz := today.Location().String()

	// One-shot schedule: a single event at the backend's next date.
	if !s.Recur.Recurring() {
		return []model.Occurrence{{
			ScheduleID: s.ID,
			Summary:    summary,
			Start:      s.NextDate,
			AllDay:     true,
			Timezone:   tz,
		}}, nil
	}

	dates, err := Project(s.Recur, s.NextDate, today)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}

	out := make([]model.Occurrence, 0, len(dates))
	for _, d := range dates {
		adjusted, err := AdjustWeekend(d, s.Recur)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
		}
		out = append(out, model.Occurrence{
			ScheduleID: s.ID,
			Summary:    summary,
			Start:      adjusted,
			AllDay:     true,
			Timezone:   tz,
		})
	}
	return out, nil
}

func (g *Generator) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// buildCalendar serializes occurrences into an iCalendar document. The
// document declares METHOD:REQUEST so consuming clients treat entries as
// actionable invitations rather than passive notices.
func buildCalendar(occurrences []model.Occurrence, now time.Time, tz string) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodRequest)
	cal.SetProductId("-//actual-ical//schedule feed//EN")
	cal.SetXWRCalName("Actual Budget Schedules")
	cal.SetXWRTimezone(tz)

	if len(occurrences) == 0 {
		// Keep the document non-empty and valid for picky clients.
		ev := cal.AddEvent(uuid.NewString() + "@actual-ical")
		ev.SetSummary("No upcoming schedules in this budget")
		ev.SetDtStampTime(now.UTC())
		ev.SetAllDayStartAt(now)
		ev.SetAllDayEndAt(now.AddDate(0, 0, 1))
		return cal.Serialize()
	}

	for _, occ := range occurrences {
		uid := fmt.Sprintf("%s-%s@actual-ical", occ.ScheduleID, occ.Start.Format("20060102"))
		ev := cal.AddEvent(uid)
		ev.SetSummary(occ.Summary)
		ev.SetDtStampTime(now.UTC())
		ev.SetAllDayStartAt(occ.Start)
		ev.SetAllDayEndAt(occ.Start.AddDate(0, 0, 1))
	}
	return cal.Serialize()
}
