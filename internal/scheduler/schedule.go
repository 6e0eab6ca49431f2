package scheduler

import (
	"fmt"
	"time"
)

// Schedule returns the next run time strictly after now.
type Schedule interface {
	Next(now time.Time) time.Time
	String() string
}

type every time.Duration

// Every runs a job at a fixed interval measured from the end of the
// previous run, so runs of one job never overlap.
func Every(d time.Duration) Schedule { return every(d) }

func (e every) Next(now time.Time) time.Time { return now.Add(time.Duration(e)) }

func (e every) String() string { return "every " + time.Duration(e).String() }

type dailyAt struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt parses "HH:MM" and runs once a day at that wall time in loc.
func DailyAt(hhmm string, loc *time.Location) (Schedule, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return nil, fmt.Errorf("daily schedule %q: want HH:MM", hhmm)
	}
	if loc == nil {
		loc = time.Local
	}
	return dailyAt{hour: t.Hour(), minute: t.Minute(), loc: loc}, nil
}

func (d dailyAt) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d dailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.hour, d.minute, d.loc)
}
