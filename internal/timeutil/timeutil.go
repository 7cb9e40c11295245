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

// Package timeutil implements partition arithmetic over workflow schedules:
// aligning instants to partition boundaries, stepping between partitions and
// rendering partition parameters. All instants are handled in UTC.
package timeutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/takt-io/takt/internal/model"
)

// ErrUnalignedRange is returned by InstantsInRange when the range start does
// not fall on a partition boundary.
var ErrUnalignedRange = errors.New("range start not aligned with schedule")

// Parameter layouts per schedule, most specific first. Weeks share the daily
// layout; the instant itself distinguishes them.
const (
	layoutHours  = "2006-01-02T15"
	layoutDays   = "2006-01-02"
	layoutMonths = "2006-01"
	layoutYears  = "2006"
)

// TruncateInstant floors t to the start of the partition containing it.
func TruncateInstant(t time.Time, schedule model.Schedule) (time.Time, error) {
	t = t.UTC()
	switch schedule {
	case model.ScheduleHours:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC), nil
	case model.ScheduleDays:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case model.ScheduleWeeks:
		// ISO weeks start on Monday.
		back := (int(t.Weekday()) + 6) % 7
		return time.Date(t.Year(), t.Month(), t.Day()-back, 0, 0, 0, 0, time.UTC), nil
	case model.ScheduleMonths:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case model.ScheduleYears:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	expr, err := ParseCron(string(schedule))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if expr.Matches(t) {
		return t, nil
	}
	return expr.Prev(t), nil
}

// IsAligned reports whether t falls exactly on a partition boundary.
func IsAligned(t time.Time, schedule model.Schedule) (bool, error) {
	trunc, err := TruncateInstant(t, schedule)
	if err != nil {
		return false, err
	}
	return trunc.Equal(t.UTC()), nil
}

// NextInstant returns the first partition boundary strictly after t.
func NextInstant(t time.Time, schedule model.Schedule) (time.Time, error) {
	t = t.UTC()
	if !schedule.WellKnown() {
		expr, err := ParseCron(string(schedule))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		return expr.Next(t), nil
	}
	trunc, err := TruncateInstant(t, schedule)
	if err != nil {
		return time.Time{}, err
	}
	return addPartitions(trunc, 1, schedule), nil
}

// NextAlignedInstant returns the first partition boundary at or after t.
// Workflows get their natural trigger cursor initialized with it, so a
// freshly registered workflow starts on the upcoming partition rather than
// re-running history.
func NextAlignedInstant(t time.Time, schedule model.Schedule) (time.Time, error) {
	trunc, err := TruncateInstant(t, schedule)
	if err != nil {
		return time.Time{}, err
	}
	if trunc.Equal(t.UTC()) {
		return trunc, nil
	}
	return NextInstant(t, schedule)
}

// PreviousInstant returns the last partition boundary strictly before t.
func PreviousInstant(t time.Time, schedule model.Schedule) (time.Time, error) {
	t = t.UTC()
	if !schedule.WellKnown() {
		expr, err := ParseCron(string(schedule))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		return expr.Prev(t), nil
	}
	trunc, err := TruncateInstant(t, schedule)
	if err != nil {
		return time.Time{}, err
	}
	if trunc.Before(t) {
		return trunc, nil
	}
	return addPartitions(trunc, -1, schedule), nil
}

// LastInstant returns the latest partition boundary at or before t.
func LastInstant(t time.Time, schedule model.Schedule) (time.Time, error) {
	return TruncateInstant(t, schedule)
}

// InstantsInRange lists every partition boundary in [start, end), in
// ascending order. Start must itself be a boundary.
func InstantsInRange(start, end time.Time, schedule model.Schedule) ([]time.Time, error) {
	aligned, err := IsAligned(start, schedule)
	if err != nil {
		return nil, err
	}
	if !aligned {
		return nil, ErrUnalignedRange
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("range start %s not before end %s", start.UTC(), end.UTC())
	}
	var instants []time.Time
	for t := start.UTC(); t.Before(end.UTC()); {
		instants = append(instants, t)
		next, err := NextInstant(t, schedule)
		if err != nil {
			return nil, err
		}
		if !next.After(t) {
			return nil, fmt.Errorf("schedule %q does not advance past %s", schedule, t)
		}
		t = next
	}
	return instants, nil
}

// ToParameter renders the canonical partition parameter for an instant.
// Cron schedules use the full RFC 3339 instant.
func ToParameter(schedule model.Schedule, t time.Time) string {
	t = t.UTC()
	switch schedule {
	case model.ScheduleHours:
		return t.Format(layoutHours)
	case model.ScheduleDays, model.ScheduleWeeks:
		return t.Format(layoutDays)
	case model.ScheduleMonths:
		return t.Format(layoutMonths)
	case model.ScheduleYears:
		return t.Format(layoutYears)
	}
	return t.Format(time.RFC3339)
}

// ParseParameter parses a partition parameter in any of the canonical
// layouts, from most to least specific. The result is not alignment-checked;
// that is the caller's concern.
func ParseParameter(parameter string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, layoutHours, layoutDays, layoutMonths, layoutYears} {
		if t, err := time.ParseInLocation(layout, parameter, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse parameter %q", parameter)
}

func addPartitions(aligned time.Time, n int, schedule model.Schedule) time.Time {
	switch schedule {
	case model.ScheduleHours:
		return aligned.Add(time.Duration(n) * time.Hour)
	case model.ScheduleDays:
		return aligned.AddDate(0, 0, n)
	case model.ScheduleWeeks:
		return aligned.AddDate(0, 0, 7*n)
	case model.ScheduleMonths:
		return aligned.AddDate(0, n, 0)
	case model.ScheduleYears:
		return aligned.AddDate(n, 0, 0)
	}
	return aligned
}
