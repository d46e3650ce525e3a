package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule interprets the schedule text users write, relative to now.
//
// Supported forms:
//   - "every N minutes" / "every minute"            → */N * * * *
//   - "every N hours" / "every hour" / "hourly"     → 0 */N * * *
//   - "every [N] hour(s) from 6pm to 5am"           → hour range, overnight split at midnight
//   - "every [N] minute(s) from 9:00 to 17:00"      → */N over the hour range
//   - "daily at 9am" / "every day at 21:30"         → M H * * *
//   - "every morning|evening|night"                 → 8:00, 18:00, 21:00 daily
//   - "weekly on monday [at 9am]" / "every friday"  → M H * * D
//   - "in N seconds|minutes|hours|days"             → one-shot
//   - "at 2024-05-01 09:30"                         → one-shot
//   - "at 9:30" / "tomorrow at 7am"                 → one-shot, tomorrow when already past
//   - five-field cron or @daily-style descriptors   → recurring
func ParseSchedule(text string, now time.Time) (Schedule, error) {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: empty schedule", ErrInvalidSchedule)
	}

	if m := reEveryRange.FindStringSubmatch(s); m != nil {
		return parseRange(m)
	}

	if m := reEveryInterval.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return Schedule{}, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
		}
		switch normalizeTimeUnit(m[2]) {
		case "m":
			if n > 59 {
				if n%60 == 0 {
					return cronSchedule(fmt.Sprintf("0 */%d * * *", n/60))
				}
				return Schedule{}, fmt.Errorf("%w: minute interval %d does not divide an hour", ErrInvalidSchedule, n)
			}
			return cronSchedule(fmt.Sprintf("*/%d * * * *", n))
		case "h":
			if n > 23 {
				return Schedule{}, fmt.Errorf("%w: hour interval %d too large", ErrInvalidSchedule, n)
			}
			return cronSchedule(fmt.Sprintf("0 */%d * * *", n))
		case "d":
			return cronSchedule(fmt.Sprintf("0 0 */%d * *", n))
		}
	}

	if m := reEverySingular.FindStringSubmatch(s); m != nil {
		switch normalizeTimeUnit(m[1]) {
		case "m":
			return cronSchedule("* * * * *")
		case "h":
			return cronSchedule("0 * * * *")
		case "d":
			return cronSchedule("0 0 * * *")
		}
	}
	switch s {
	case "hourly":
		return cronSchedule("0 * * * *")
	case "daily", "everyday":
		return cronSchedule("0 0 * * *")
	case "every morning":
		return cronSchedule("0 8 * * *")
	case "every evening":
		return cronSchedule("0 18 * * *")
	case "every night":
		return cronSchedule("0 21 * * *")
	}

	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		hour, minute := parseTimeComponents(m[1])
		if hour < 0 {
			return Schedule{}, fmt.Errorf("%w: bad time %q", ErrInvalidSchedule, m[1])
		}
		return cronSchedule(fmt.Sprintf("%d %d * * *", minute, hour))
	}

	if m := reWeeklyOn.FindStringSubmatch(s); m != nil {
		if dow := parseDayOfWeek(m[1]); dow >= 0 {
			hour, minute := 0, 0
			if m[2] != "" {
				hour, minute = parseTimeComponents(m[2])
				if hour < 0 {
					return Schedule{}, fmt.Errorf("%w: bad time %q", ErrInvalidSchedule, m[2])
				}
			}
			return cronSchedule(fmt.Sprintf("%d %d * * %d", minute, hour, dow))
		}
	}

	if m := reInDuration.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return Schedule{}, fmt.Errorf("%w: duration must be positive", ErrInvalidSchedule)
		}
		var d time.Duration
		switch normalizeTimeUnit(m[2]) {
		case "s":
			d = time.Duration(n) * time.Second
		case "m":
			d = time.Duration(n) * time.Minute
		case "h":
			d = time.Duration(n) * time.Hour
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		}
		at := now.Add(d)
		return Schedule{RunAt: &at}, nil
	}

	if m := reAtDateTime.FindStringSubmatch(s); m != nil {
		at, err := time.ParseInLocation("2006-01-02 15:04", m[1]+" "+m[2], now.Location())
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return Schedule{RunAt: &at}, nil
	}

	if m := reAtTime.FindStringSubmatch(s); m != nil {
		hour, minute := parseTimeComponents(m[2])
		if hour >= 0 {
			at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
			if m[1] != "" || !at.After(now) {
				at = at.AddDate(0, 0, 1)
			}
			return Schedule{RunAt: &at}, nil
		}
	}

	if len(strings.Fields(s)) == 5 || strings.HasPrefix(s, "@") {
		return cronSchedule(s)
	}

	return Schedule{}, fmt.Errorf("%w: could not understand %q", ErrInvalidSchedule, text)
}

func cronSchedule(expr string) (Schedule, error) {
	if _, err := ParseCron(expr); err != nil {
		return Schedule{}, err
	}
	return Schedule{Cron: expr}, nil
}

// parseRange handles "every [N] hour(s)|minute(s) from X to Y".
func parseRange(m []string) (Schedule, error) {
	n := 1
	if m[1] != "" {
		n, _ = strconv.Atoi(m[1])
	}
	if n <= 0 {
		return Schedule{}, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	startH, startM := parseTimeComponents(m[3])
	endH, _ := parseTimeComponents(m[4])
	if startH < 0 || endH < 0 {
		return Schedule{}, fmt.Errorf("%w: bad time range %q to %q", ErrInvalidSchedule, m[3], m[4])
	}

	switch normalizeTimeUnit(m[2]) {
	case "h":
		return cronSchedule(fmt.Sprintf("%d %s * * *", startM, hourList(startH, endH, n)))
	case "m":
		if n > 59 {
			return Schedule{}, fmt.Errorf("%w: minute interval %d too large", ErrInvalidSchedule, n)
		}
		minute := "*"
		if n > 1 {
			minute = fmt.Sprintf("*/%d", n)
		}
		return cronSchedule(fmt.Sprintf("%s %s * * *", minute, hourList(startH, endH, 1)))
	}
	return Schedule{}, fmt.Errorf("%w: unsupported range unit %q", ErrInvalidSchedule, m[2])
}

// hourList renders the hours from start to end inclusive. A window that wraps
// past midnight is split into two ranges ("18-23,0-5"). Steps other than one
// are written as an explicit list so the cadence continues across midnight.
func hourList(start, end, step int) string {
	if step == 1 {
		switch {
		case start == end:
			return strconv.Itoa(start)
		case start < end:
			return fmt.Sprintf("%d-%d", start, end)
		}
		evening, morning := fmt.Sprintf("%d-23", start), fmt.Sprintf("0-%d", end)
		if start == 23 {
			evening = "23"
		}
		if end == 0 {
			morning = "0"
		}
		return evening + "," + morning
	}

	span := end - start
	if span < 0 {
		span += 24
	}
	var hours []string
	for off := 0; off <= span; off += step {
		hours = append(hours, strconv.Itoa((start+off)%24))
	}
	return strings.Join(hours, ",")
}

var (
	reEveryRange    = regexp.MustCompile(`^every (?:(\d+) )?(hour|hr|minute|min)s? (?:from|between) (.+?) (?:to|and|until) (.+)$`)
	reEveryInterval = regexp.MustCompile(`^every (\d+) (minute|min|hour|hr|day)s?$`)
	reEverySingular = regexp.MustCompile(`^every (minute|hour|day)$`)
	reDailyAt       = regexp.MustCompile(`^(?:daily|every ?day) at (.+)$`)
	reWeeklyOn      = regexp.MustCompile(`^(?:weekly on|every) (\w+)(?: at (.+))?$`)
	reInDuration    = regexp.MustCompile(`^in (\d+) (second|sec|minute|min|hour|hr|day)s?$`)
	reAtDateTime    = regexp.MustCompile(`^(?:at |on )?(\d{4}-\d{2}-\d{2})[ t](\d{1,2}:\d{2})$`)
	reAtTime        = regexp.MustCompile(`^(tomorrow )?at (.+)$`)
)

// normalizeTimeUnit maps a unit word to s, m, h or d.
func normalizeTimeUnit(unit string) string {
	unit = strings.TrimSuffix(strings.ToLower(unit), "s")
	switch unit {
	case "second", "sec":
		return "s"
	case "minute", "min":
		return "m"
	case "hour", "hr":
		return "h"
	case "day":
		return "d"
	default:
		return ""
	}
}

// parseTimeComponents parses "9:00", "14:30", "9am", "5:30 pm", "18".
// Returns (-1, 0) on failure.
func parseTimeComponents(s string) (int, int) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, ".", "")

	isPM := strings.HasSuffix(s, "pm")
	isAM := strings.HasSuffix(s, "am")
	if isPM {
		s = strings.TrimSuffix(s, "pm")
	} else if isAM {
		s = strings.TrimSuffix(s, "am")
	}
	s = strings.TrimSpace(s)

	parts := strings.SplitN(s, ":", 2)
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return -1, 0
	}
	if (isAM || isPM) && (hour < 1 || hour > 12) {
		return -1, 0
	}

	minute := 0
	if len(parts) == 2 {
		minute, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || minute < 0 || minute > 59 {
			return -1, 0
		}
	}

	if isPM && hour < 12 {
		hour += 12
	}
	if isAM && hour == 12 {
		hour = 0
	}
	return hour, minute
}

// parseDayOfWeek converts a day name to the cron day-of-week (0 = Sunday).
func parseDayOfWeek(day string) int {
	switch strings.ToLower(day) {
	case "sunday", "sun":
		return 0
	case "monday", "mon":
		return 1
	case "tuesday", "tue", "tues":
		return 2
	case "wednesday", "wed":
		return 3
	case "thursday", "thu", "thurs":
		return 4
	case "friday", "fri":
		return 5
	case "saturday", "sat":
		return 6
	default:
		return -1
	}
}
