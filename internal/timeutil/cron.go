// Copyright 2025 The takt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is a bitmask of the allowed values for one cron position.
// Bit v is set when value v matches; the widest field (minutes, 0-59)
// fits a uint64.
type cronField uint64

func (f cronField) has(v int) bool { return f&(1<<uint(v)) != 0 }

// CronExpr is a parsed five-field cron expression with minute
// resolution. Day-of-month and day-of-week must both match; a * in
// either leaves the decision to the other field.
type CronExpr struct {
	minutes  cronField
	hours    cronField
	days     cronField
	months   cronField
	weekdays cronField // Sunday is 0
}

var cronPositions = []struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

var cronAliases = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// ParseCron parses "minute hour day-of-month month day-of-week" with
// the usual syntax per field: *, single values, a-b ranges, /step
// suffixes and comma-separated lists. The @hourly family of aliases is
// accepted too.
func ParseCron(expr string) (*CronExpr, error) {
	if alias, ok := cronAliases[strings.ToLower(strings.TrimSpace(expr))]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != len(cronPositions) {
		return nil, fmt.Errorf("cron expression needs %d fields, got %d", len(cronPositions), len(fields))
	}

	var masks [5]cronField
	for i, pos := range cronPositions {
		mask, err := parseCronField(fields[i], pos.min, pos.max)
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", pos.name, fields[i], err)
		}
		masks[i] = mask
	}
	return &CronExpr{
		minutes:  masks[0],
		hours:    masks[1],
		days:     masks[2],
		months:   masks[3],
		weekdays: masks[4],
	}, nil
}

func parseCronField(field string, min, max int) (cronField, error) {
	var mask cronField
	for _, term := range strings.Split(field, ",") {
		spec, stepStr, hasStep := strings.Cut(term, "/")

		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return 0, fmt.Errorf("bad step %q", stepStr)
			}
			step = n
		}

		lo, hi := min, max
		switch {
		case spec == "*":
		case strings.Contains(spec, "-"):
			loStr, hiStr, _ := strings.Cut(spec, "-")
			var err error
			if lo, err = strconv.Atoi(loStr); err != nil {
				return 0, fmt.Errorf("bad range start %q", loStr)
			}
			if hi, err = strconv.Atoi(hiStr); err != nil {
				return 0, fmt.Errorf("bad range end %q", hiStr)
			}
		default:
			n, err := strconv.Atoi(spec)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", spec)
			}
			lo, hi = n, n
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("values %d-%d outside %d-%d", lo, hi, min, max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("no values")
	}
	return mask, nil
}

func (c *CronExpr) matchesDay(t time.Time) bool {
	return c.days.has(t.Day()) && c.weekdays.has(int(t.Weekday()))
}

// Next returns the first instant strictly after from on the
// expression's grid. The search walks the calendar a unit at a time,
// skipping whole months, days and hours that cannot match; it gives up
// with the zero time four years out, which only unsatisfiable
// expressions like a February 30th reach.
func (c *CronExpr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	horizon := from.AddDate(4, 0, 0)

	for t.Before(horizon) {
		switch {
		case !c.months.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !c.matchesDay(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !c.hours.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case !c.minutes.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

// Prev returns the last instant strictly before from on the
// expression's grid, or the zero time when four years of history hold
// no match. The mirror of Next: each non-matching calendar unit jumps
// to the final minute of the unit before it.
func (c *CronExpr) Prev(from time.Time) time.Time {
	t := from.Truncate(time.Minute)
	if !t.Before(from) {
		t = t.Add(-time.Minute)
	}
	horizon := from.AddDate(-4, 0, 0)

	for t.After(horizon) {
		switch {
		case !c.months.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).Add(-time.Minute)
		case !c.matchesDay(t):
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).Add(-time.Minute)
		case !c.hours.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(-time.Minute)
		case !c.minutes.has(t.Minute()):
			t = t.Add(-time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

// Matches reports whether t falls exactly on an execution time of the
// expression. Sub-minute precision never matches.
func (c *CronExpr) Matches(t time.Time) bool {
	if !t.Equal(t.Truncate(time.Minute)) {
		return false
	}
	return c.minutes.has(t.Minute()) &&
		c.hours.has(t.Hour()) &&
		c.months.has(int(t.Month())) &&
		c.matchesDay(t)
}
