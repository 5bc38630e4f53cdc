package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a weekly point in time in a fixed time zone
type Schedule struct {
	Weekday  time.Weekday
	Hour     int
	Minute   int
	Location *time.Location

	cron cron.Schedule
}

func NewSchedule(weekday time.Weekday, hour, minute int, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := Schedule{Weekday: weekday, Hour: hour, Minute: minute, Location: loc}

	parsed, err := cron.ParseStandard(s.Spec())
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: %w", s.Spec(), err)
	}
	s.cron = parsed
	return s, nil
}

// Spec is the cron expression of the schedule
func (s Schedule) Spec() string {
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %d", s.Location, s.Minute, s.Hour, int(s.Weekday))
}

// Next returns the first pairing time after t, in the schedule's time zone
func (s Schedule) Next(t time.Time) time.Time {
	return s.cron.Next(t).In(s.Location)
}

func (s Schedule) String() string {
	return fmt.Sprintf("%s %02d:%02d %s", s.Weekday, s.Hour, s.Minute, s.Location)
}

// Period is the key of the pairing week containing t: the ISO week in loc.
func Period(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// ValidPeriod reports whether s is a period key such as 2026-W42
func ValidPeriod(s string) bool {
	var year, week int
	if n, err := fmt.Sscanf(s, "%4d-W%2d", &year, &week); err != nil || n != 2 {
		return false
	}
	return week >= 1 && week <= 53 && fmt.Sprintf("%04d-W%02d", year, week) == s
}
