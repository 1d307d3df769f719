// Package period computes the identifiers used to bucket leaderboards and prize pools.
// All computation happens in UTC and depends only on the timestamp passed in.
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type Type string

const (
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	AllTime Type = "alltime"
)

const (
	dateLayout = "2006-01-02"
	AllTimeID  = "alltime"
)

var weekPattern = regexp.MustCompile(`^(\d{4})-W(\d{2})$`)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Daily, Weekly, AllTime:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown period type %q", s)
}

// PoolType reports whether prize pools exist for t.
func (t Type) PoolType() bool {
	return t == Daily || t == Weekly
}

// DailyID is the UTC calendar date, e.g. 2026-10-16.
func DailyID(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// WeeklyID is the ISO year and week number, e.g. 2026-W42.
func WeeklyID(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func ID(typ Type, t time.Time) string {
	switch typ {
	case Daily:
		return DailyID(t)
	case Weekly:
		return WeeklyID(t)
	default:
		return AllTimeID
	}
}

// WeekStart returns Monday 00:00 UTC of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Yesterday returns the daily identifier of the day before t.
func Yesterday(t time.Time) string {
	return DailyID(t.UTC().AddDate(0, 0, -1))
}

// PreviousWeek returns the weekly identifier of the ISO week before the one containing t.
func PreviousWeek(t time.Time) string {
	return WeeklyID(WeekStart(t).AddDate(0, 0, -7))
}

// IsWeekStart reports whether t falls on the first day of an ISO week.
func IsWeekStart(t time.Time) bool {
	return t.UTC().Weekday() == time.Monday
}

// Validate checks that id is well formed for typ.
func Validate(typ Type, id string) error {
	switch typ {
	case Daily:
		if _, err := time.Parse(dateLayout, id); err != nil {
			return fmt.Errorf("invalid daily period %q", id)
		}
	case Weekly:
		m := weekPattern.FindStringSubmatch(id)
		if m == nil {
			return fmt.Errorf("invalid weekly period %q", id)
		}
		if w, _ := strconv.Atoi(m[2]); w < 1 || w > 53 {
			return fmt.Errorf("invalid weekly period %q", id)
		}
	case AllTime:
		if id != AllTimeID {
			return fmt.Errorf("invalid alltime period %q", id)
		}
	default:
		return fmt.Errorf("unknown period type %q", typ)
	}
	return nil
}
