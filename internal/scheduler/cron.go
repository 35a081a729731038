package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxLookahead bounds Next for schedules that can never match, e.g. "0 0 31 2 *".
const maxLookahead = 5 * 366 * 24 * time.Hour

var cronMacros = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
}

// CronSchedule represents a parsed cron schedule (minute, hour, day, month, weekday)
type CronSchedule struct {
	Minute  map[int]bool // 0-59
	Hour    map[int]bool // 0-23
	Day     map[int]bool // 1-31
	Month   map[int]bool // 1-12
	Weekday map[int]bool // 0-6 (Sunday=0)

	// a restricted day and weekday match when either matches
	dayStar     bool
	weekdayStar bool
}

// ParseCron parses a 5-field cron expression or an @hourly style shorthand.
// Fields accept *, values, lists, ranges and /step.
func ParseCron(expr string) (*CronSchedule, error) {
	if macro, ok := cronMacros[strings.TrimSpace(expr)]; ok {
		expr = macro
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	specs := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day", 1, 31},
		{"month", 1, 12},
		{"weekday", 0, 6},
	}

	parsed := make([]map[int]bool, len(specs))
	for i, spec := range specs {
		values, err := parseCronField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.name, err)
		}
		parsed[i] = values
	}

	return &CronSchedule{
		Minute:      parsed[0],
		Hour:        parsed[1],
		Day:         parsed[2],
		Month:       parsed[3],
		Weekday:     parsed[4],
		dayStar:     strings.HasPrefix(fields[2], "*"),
		weekdayStar: strings.HasPrefix(fields[4], "*"),
	}, nil
}

// parseCronField parses a single cron field
func parseCronField(field string, min, max int) (map[int]bool, error) {
	result := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		start, end, step, err := parseCronPart(part, min, max)
		if err != nil {
			return nil, err
		}
		for i := start; i <= end; i += step {
			result[i] = true
		}
	}
	return result, nil
}

func parseCronPart(part string, min, max int) (start, end, step int, err error) {
	step = 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		step, err = strconv.Atoi(s)
		if err != nil || step < 1 {
			return 0, 0, 0, fmt.Errorf("invalid step: %s", part)
		}
		part = base
	}

	switch {
	case part == "*":
		return min, max, step, nil
	case strings.Contains(part, "-"):
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return 0, 0, 0, fmt.Errorf("invalid range: %s", part)
		}
		start, err1 := strconv.Atoi(rangeParts[0])
		end, err2 := strconv.Atoi(rangeParts[1])
		if err1 != nil || err2 != nil || start > end || start < min || end > max {
			return 0, 0, 0, fmt.Errorf("invalid range: %s", part)
		}
		return start, end, step, nil
	default:
		val, err := strconv.Atoi(part)
		if err != nil || val < min || val > max {
			return 0, 0, 0, fmt.Errorf("invalid value: %s", part)
		}
		if step > 1 {
			// "5/15" means 5, 20, 35, 50
			return val, max, step, nil
		}
		return val, val, 1, nil
	}
}

func (c *CronSchedule) matchesDay(t time.Time) bool {
	day, weekday := c.Day[t.Day()], c.Weekday[int(t.Weekday())]
	if !c.dayStar && !c.weekdayStar {
		return day || weekday
	}
	return day && weekday
}

// Next returns the next time after 'after' that matches the schedule, or the
// zero time when nothing matches within five years.
func (c *CronSchedule) Next(after time.Time) time.Time {
	t := after.Add(time.Minute).Truncate(time.Minute)
	limit := after.Add(maxLookahead)
	for t.Before(limit) {
		switch {
		case !c.Month[int(t.Month())]:
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !c.matchesDay(t):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !c.Hour[t.Hour()]:
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case !c.Minute[t.Minute()]:
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}
