package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-co-op/gocron/v2"
)

type Kind string

const (
	Daily  Kind = "daily"
	Hourly Kind = "hourly"
)

// Schedule is a fixed daily or hourly trigger in UTC.
type Schedule struct {
	Kind   Kind `json:"kind"`
	Hour   int  `json:"hour"`
	Minute int  `json:"minute"`
}

// ParseSchedule reads "daily HH:MM" or "hourly :MM".
func ParseSchedule(s string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want \"daily HH:MM\" or \"hourly :MM\"", s)
	}

	hh, mm, ok := strings.Cut(fields[1], ":")
	if !ok {
		return Schedule{}, fmt.Errorf("invalid schedule %q: missing ':'", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return Schedule{}, fmt.Errorf("invalid schedule %q: bad minute", s)
	}

	switch Kind(fields[0]) {
	case Daily:
		hour, err := strconv.Atoi(hh)
		if err != nil || hour < 0 || hour > 23 {
			return Schedule{}, fmt.Errorf("invalid schedule %q: bad hour", s)
		}
		return Schedule{Kind: Daily, Hour: hour, Minute: minute}, nil
	case Hourly:
		if hh != "" {
			return Schedule{}, fmt.Errorf("invalid schedule %q: hourly takes only a minute", s)
		}
		return Schedule{Kind: Hourly, Minute: minute}, nil
	default:
		return Schedule{}, fmt.Errorf("invalid schedule %q: unknown kind %q", s, fields[0])
	}
}

func MustParseSchedule(s string) Schedule {
	sc, err := ParseSchedule(s)
	if err != nil {
		panic(err)
	}
	return sc
}

func (s Schedule) String() string {
	if s.Kind == Hourly {
		return fmt.Sprintf("hourly :%02d", s.Minute)
	}
	return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
}

func (s Schedule) definition() gocron.JobDefinition {
	if s.Kind == Hourly {
		return gocron.CronJob(fmt.Sprintf("%d * * * *", s.Minute), false)
	}
	return gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(s.Hour), uint(s.Minute), 0)))
}
