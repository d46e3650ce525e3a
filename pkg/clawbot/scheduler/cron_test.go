package scheduler

import (
	"errors"
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 0, 0, time.UTC)
}

func TestCronNext_OvernightRange(t *testing.T) {
	t.Parallel()

	spec, err := ParseCron("0 18-23,0-5 * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"before window", at(17, 0), at(18, 0)},
		{"after morning window", at(6, 0), at(18, 0)},
		{"inside evening window", at(22, 30), at(23, 0)},
		{"wraps past midnight", at(23, 1), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"exact match", at(3, 0), at(3, 0)},
		{"seconds round up", at(17, 59).Add(30 * time.Second), at(18, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := spec.Next(tt.from)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%s) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestCronNext_Fields(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 3, 14, 10, 7, 0, 0, time.UTC) // Thursday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"30 9 * * *", time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)},
		{"0 9 * * 1", time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 29 2 *", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC).AddDate(4, 0, 0)},
		{"@daily", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"0 8 13 * 5", time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			spec, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron: %v", err)
			}
			got, err := spec.Next(from)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "61 * * * *", "* * *", "@every 5m", "0 0 30 2 *", "0 0 31 4 *"} {
		if _, err := ParseCron(expr); !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ParseCron(%q) err = %v, want ErrInvalidSchedule", expr, err)
		}
	}
}
