package actual

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guitarbeat/actual-ical/internal/model"
)

// The budget stores each schedule's rule as a JSON array of conditions, e.g.
//
//	[{"op":"is","field":"date","value":{"start":"2024-01-15","frequency":"monthly",...}},
//	 {"op":"isapprox","field":"amount","value":-12000}]
//
// A string date value marks a one-shot schedule; an object carries the
// recurrence config. The amount is a bare number in minor units, or a
// {num1,num2} range for "isbetween" conditions.

const dateLayout = "2006-01-02"

type ruleCondition struct {
	Op    string          `json:"op"`
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

type recurrenceValue struct {
	Start            string `json:"start"`
	Frequency        string `json:"frequency"`
	Interval         int    `json:"interval"`
	EndMode          string `json:"endMode"`
	EndOccurrences   int    `json:"endOccurrences"`
	EndDate          string `json:"endDate"`
	SkipWeekend      bool   `json:"skipWeekend"`
	WeekendSolveMode string `json:"weekendSolveMode"`
}

type amountRange struct {
	Num1 json.Number `json:"num1"`
	Num2 json.Number `json:"num2"`
}

// parseRuleConditions pulls the recurrence config and amount out of a rule's
// conditions. recur is nil when the date condition is a plain date string.
func parseRuleConditions(conditions []byte, loc *time.Location) (*model.Recurrence, model.Amount, error) {
	var conds []ruleCondition
	dec := json.NewDecoder(bytes.NewReader(conditions))
	dec.UseNumber()
	if err := dec.Decode(&conds); err != nil {
		return nil, model.Amount{}, fmt.Errorf("decode rule conditions: %w", err)
	}

	var (
		recur  *model.Recurrence
		amount model.Amount
	)

	for _, cond := range conds {
		switch cond.Field {
		case "date":
			r, err := parseDateValue(cond.Value, loc)
			if err != nil {
				return nil, model.Amount{}, err
			}
			recur = r
		case "amount":
			a, err := parseAmountValue(cond.Op, cond.Value)
			if err != nil {
				return nil, model.Amount{}, err
			}
			amount = a
		}
	}

	return recur, amount, nil
}

func parseDateValue(raw json.RawMessage, loc *time.Location) (*model.Recurrence, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("rule has an empty date condition")
	}

	// Plain "2024-01-15" string: one-shot schedule, no recurrence config.
	if trimmed[0] == '"' {
		return nil, nil
	}

	var v recurrenceValue
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("decode recurrence config: %w", err)
	}

	rec := &model.Recurrence{
		Frequency:        v.Frequency,
		EndMode:          v.EndMode,
		EndOccurrences:   v.EndOccurrences,
		SkipWeekend:      v.SkipWeekend,
		WeekendSolveMode: v.WeekendSolveMode,
	}
	if v.Start != "" {
		start, err := time.ParseInLocation(dateLayout, v.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence start %q: %w", v.Start, err)
		}
		rec.Start = start
	}
	if v.EndDate != "" {
		end, err := time.ParseInLocation(dateLayout, v.EndDate, loc)
		if err != nil {
			return nil, fmt.Errorf("parse recurrence end date %q: %w", v.EndDate, err)
		}
		rec.EndDate = end
	}
	return rec, nil
}

func parseAmountValue(op string, raw json.RawMessage) (model.Amount, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return model.Amount{}, nil
	}

	if op == "isbetween" || trimmed[0] == '{' {
		var r amountRange
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return model.Amount{}, fmt.Errorf("decode amount range: %w", err)
		}
		low, err := minorUnits(r.Num1)
		if err != nil {
			return model.Amount{}, err
		}
		high, err := minorUnits(r.Num2)
		if err != nil {
			return model.Amount{}, err
		}
		return model.RangeAmount(low, high), nil
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return model.Amount{}, fmt.Errorf("decode amount: %w", err)
	}
	v, err := minorUnits(n)
	if err != nil {
		return model.Amount{}, err
	}
	return model.ExactAmount(v), nil
}

func minorUnits(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("amount %q is not an integer number of minor units: %w", n, err)
	}
	return v, nil
}

// dateFromInt converts the backend's integer yyyymmdd date representation.
// Zero (no next date recorded) maps to the zero time.
func dateFromInt(v int, loc *time.Location) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Date(v/10000, time.Month((v/100)%100), v%100, 0, 0, 0, 0, loc)
}
