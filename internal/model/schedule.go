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

package model

import "strings"

// Schedule is either one of the well-known partitioning units or a cron
// expression. Well-known units get human friendly partition parameters
// (2017-01-02 for days); cron schedules use the full RFC 3339 instant.
type Schedule string

// Well-known partitioning units.
const (
	ScheduleHours  Schedule = "hours"
	ScheduleDays   Schedule = "days"
	ScheduleWeeks  Schedule = "weeks"
	ScheduleMonths Schedule = "months"
	ScheduleYears  Schedule = "years"
)

var scheduleAliases = map[string]Schedule{
	"hourly":    ScheduleHours,
	"hours":     ScheduleHours,
	"@hourly":   ScheduleHours,
	"daily":     ScheduleDays,
	"days":      ScheduleDays,
	"@daily":    ScheduleDays,
	"weekly":    ScheduleWeeks,
	"weeks":     ScheduleWeeks,
	"@weekly":   ScheduleWeeks,
	"monthly":   ScheduleMonths,
	"months":    ScheduleMonths,
	"@monthly":  ScheduleMonths,
	"yearly":    ScheduleYears,
	"years":     ScheduleYears,
	"@yearly":   ScheduleYears,
	"annually":  ScheduleYears,
	"@annually": ScheduleYears,
}

// ParseSchedule normalizes aliases like @daily or hourly to their canonical
// unit. Anything unrecognized is passed through as a cron expression; whether
// it is a valid one is decided by the schedule math, not here.
func ParseSchedule(s string) Schedule {
	if unit, ok := scheduleAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return unit
	}
	return Schedule(s)
}

// WellKnown reports whether the schedule is one of the named partitioning
// units rather than a cron expression.
func (s Schedule) WellKnown() bool {
	switch s {
	case ScheduleHours, ScheduleDays, ScheduleWeeks, ScheduleMonths, ScheduleYears:
		return true
	}
	return false
}

func (s Schedule) String() string { return string(s) }

// UnmarshalText lets schedules arrive as aliases in JSON and YAML documents.
func (s *Schedule) UnmarshalText(text []byte) error {
	*s = ParseSchedule(string(text))
	return nil
}

// MarshalText renders the canonical form.
func (s Schedule) MarshalText() ([]byte, error) {
	return []byte(s), nil
}
