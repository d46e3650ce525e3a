package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// searchHorizon bounds the next-run search. A spec with no match inside it
// (e.g. "0 0 30 2 *") is impossible.
const searchHorizon = 4

// starBit is set by the cron parser on fields written as "*" or "?".
const starBit = 1 << 63

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSpec is a parsed five-field expression.
type CronSpec struct {
	expr string
	spec *cron.SpecSchedule
}

// ParseCron parses a five-field expression or a descriptor such as @daily.
// Interval descriptors (@every) are rejected: they have no calendar fields.
func ParseCron(expr string) (*CronSpec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty cron expression", ErrInvalidSchedule)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a calendar schedule", ErrInvalidSchedule, expr)
	}
	c := &CronSpec{expr: expr, spec: spec}
	if _, err := c.Next(time.Now()); err != nil {
		return nil, err
	}
	return c, nil
}

// String returns the expression as written.
func (c *CronSpec) String() string { return c.expr }

// Next returns the earliest minute at or after from that matches every
// field. It walks forward field by field (month, day, hour, minute) and gives
// up after searchHorizon years.
func (c *CronSpec) Next(from time.Time) (time.Time, error) {
	s := c.spec
	loc := from.Location()
	if s.Location != nil && s.Location != time.Local {
		loc = s.Location
	}
	from = from.In(loc)

	t := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), from.Minute(), 0, 0, loc)
	if t.Before(from) {
		t = t.Add(time.Minute)
	}
	limit := t.AddDate(searchHorizon, 0, 0)

	for t.Before(limit) {
		if 1<<uint(t.Month())&s.Month == 0 {
			t = advance(t, time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc), 24*time.Hour)
			continue
		}
		if !dayMatches(s, t) {
			t = advance(t, time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc), time.Hour)
			continue
		}
		if 1<<uint(t.Hour())&s.Hour == 0 {
			t = advance(t, time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc), time.Minute)
			continue
		}
		if 1<<uint(t.Minute())&s.Minute == 0 {
			t = advance(t, t.Add(time.Minute), time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q has no occurrence within %d years", ErrInvalidSchedule, c.expr, searchHorizon)
}

// advance guards against time.Date normalizing backwards across a DST
// transition.
func advance(cur, next time.Time, step time.Duration) time.Time {
	if next.After(cur) {
		return next
	}
	return cur.Add(step)
}

// dayMatches follows cron semantics: when both day-of-month and day-of-week
// are restricted, either may match.
func dayMatches(s *cron.SpecSchedule, t time.Time) bool {
	domMatch := 1<<uint(t.Day())&s.Dom > 0
	dowMatch := 1<<uint(t.Weekday())&s.Dow > 0
	if s.Dom&starBit > 0 || s.Dow&starBit > 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}
