package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultBoardingHours is used when BOARDING_HOURS is unset or invalid
const DefaultBoardingHours = "8-14"

// HourSet is a set of local hours of day (0-23)
type HourSet [24]bool

// ParseActiveHours parses a comma separated list of hours and ranges,
// e.g. "8-14,20". Range ends are clamped to 0-23 and may be given in either
// order; unparsable parts are skipped.
func ParseActiveHours(value string) (HourSet, error) {
	var set HourSet
	var bad []string

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if from, to, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(from))
			end, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 != nil || err2 != nil {
				bad = append(bad, part)
				continue
			}
			if start > end {
				start, end = end, start
			}
			for h := clampHour(start); h <= clampHour(end); h++ {
				set[h] = true
			}
			continue
		}

		h, err := strconv.Atoi(part)
		if err != nil || h < 0 || h > 23 {
			bad = append(bad, part)
			continue
		}
		set[h] = true
	}

	if len(bad) > 0 {
		return set, fmt.Errorf("invalid hour parts: %s", strings.Join(bad, ", "))
	}
	return set, nil
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// Contains reports whether hour is active
func (s HourSet) Contains(hour int) bool {
	return hour >= 0 && hour < 24 && s[hour]
}

// Empty reports whether no hour is active
func (s HourSet) Empty() bool {
	for _, on := range s {
		if on {
			return false
		}
	}
	return true
}

// Hours lists the active hours in ascending order
func (s HourSet) Hours() []int {
	out := make([]int, 0, 24)
	for h, on := range s {
		if on {
			out = append(out, h)
		}
	}
	return out
}

// String renders the set as hours and ranges, e.g. "8-14,20"
func (s HourSet) String() string {
	var parts []string
	for h := 0; h < 24; h++ {
		if !s[h] {
			continue
		}
		end := h
		for end+1 < 24 && s[end+1] {
			end++
		}
		if end == h {
			parts = append(parts, strconv.Itoa(h))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", h, end))
		}
		h = end
	}
	return strings.Join(parts, ",")
}

// Next returns the first top of the hour at or after from, in loc, whose
// hour is active. The search crosses midnight and gives up after lookahead.
func (s HourSet) Next(from time.Time, loc *time.Location, lookahead time.Duration) (time.Time, bool) {
	if s.Empty() {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
	if next.Before(local) {
		next = next.Add(time.Hour)
	}

	steps := int(lookahead / time.Hour)
	if steps < 1 {
		steps = 1
	}
	for i := 0; i < steps; i++ {
		if s.Contains(next.Hour()) {
			return next, true
		}
		next = next.Add(time.Hour)
	}

	return time.Time{}, false
}

// ValidateSchedule checks a standard five-field cron expression
func ValidateSchedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(spec)
	return err
}
