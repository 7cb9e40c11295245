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

// ISODuration is a parsed ISO 8601 duration. Calendar parts (years, months)
// have no fixed length and can only be applied to an instant; clock parts
// convert to a time.Duration.
type ISODuration struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// ParseISODuration parses durations of the form PnYnMnWnDTnHnMnS, e.g.
// "PT24H", "P1D", "P2DT6H30M". Negative and fractional values are rejected.
func ParseISODuration(s string) (ISODuration, error) {
	var d ISODuration
	orig := s
	if len(s) < 2 || (s[0] != 'P' && s[0] != 'p') {
		return d, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	datePart := s
	timePart := ""
	if idx := strings.IndexAny(s, "Tt"); idx != -1 {
		datePart, timePart = s[:idx], s[idx+1:]
		if timePart == "" {
			return d, fmt.Errorf("invalid duration %q: empty time part", orig)
		}
	}
	if datePart == "" && timePart == "" {
		return d, fmt.Errorf("invalid duration %q", orig)
	}

	if err := parseDurationPart(datePart, map[byte]*int{
		'Y': &d.Years, 'M': &d.Months, 'W': &d.Weeks, 'D': &d.Days,
	}, "YMWD"); err != nil {
		return ISODuration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
	}
	if err := parseDurationPart(timePart, map[byte]*int{
		'H': &d.Hours, 'M': &d.Minutes, 'S': &d.Seconds,
	}, "HMS"); err != nil {
		return ISODuration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
	}
	return d, nil
}

func parseDurationPart(part string, dst map[byte]*int, order string) error {
	next := 0
	for len(part) > 0 {
		numEnd := 0
		for numEnd < len(part) && part[numEnd] >= '0' && part[numEnd] <= '9' {
			numEnd++
		}
		if numEnd == 0 || numEnd == len(part) {
			return fmt.Errorf("malformed component %q", part)
		}
		unit := part[numEnd] & ^byte(0x20) // upper-case
		pos := strings.IndexByte(order, unit)
		if pos < next {
			return fmt.Errorf("unexpected unit %q", string(part[numEnd]))
		}
		n, err := strconv.Atoi(part[:numEnd])
		if err != nil {
			return err
		}
		*dst[unit] = n
		next = pos + 1
		part = part[numEnd+1:]
	}
	return nil
}

// Duration converts the clock parts to a time.Duration, treating days as 24
// hours and weeks as 7 days. Calendar parts are rejected.
func (d ISODuration) Duration() (time.Duration, error) {
	if d.Years != 0 || d.Months != 0 {
		return 0, fmt.Errorf("duration with calendar parts has no fixed length")
	}
	return time.Duration(d.Weeks)*7*24*time.Hour +
		time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second, nil
}

// AddTo applies the duration to an instant, calendar parts first.
func (d ISODuration) AddTo(t time.Time) time.Time {
	t = t.AddDate(d.Years, d.Months, 7*d.Weeks+d.Days)
	return t.Add(time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second)
}

// IsZero reports whether every component is zero.
func (d ISODuration) IsZero() bool {
	return d == ISODuration{}
}
