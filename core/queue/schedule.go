package queue

import (
	"fmt"
	"time"
)

// Schedule computes the run times of a periodic task.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	interval time.Duration
}

// EveryInterval runs a task every d. Intervals under one second are raised to one second.
func EveryInterval(d time.Duration) Schedule {
	if d < time.Second {
		d = time.Second
	}
	return intervalSchedule{interval: d}
}

// EveryMinutes runs a task every n minutes.
func EveryMinutes(n int) Schedule {
	return EveryInterval(time.Duration(max(n, 1)) * time.Minute)
}

// EveryHours runs a task every n hours.
func EveryHours(n int) Schedule {
	return EveryInterval(time.Duration(max(n, 1)) * time.Hour)
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

func (s intervalSchedule) String() string {
	return "every " + s.interval.String()
}

type dailySchedule struct {
	hour, minute int
}

// DailyAt runs a task once a day at hour:minute UTC.
func DailyAt(hour, minute int) (Schedule, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("%w: daily at %02d:%02d", ErrInvalidSchedule, hour, minute)
	}
	return dailySchedule{hour: hour, minute: minute}, nil
}

func (s dailySchedule) Next(t time.Time) time.Time {
	t = t.UTC()
	next := time.Date(t.Year(), t.Month(), t.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", s.hour, s.minute)
}
