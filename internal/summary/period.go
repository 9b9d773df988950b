package summary

import (
	"fmt"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/models"
)

// Period is a half-open window [Start, End) with its summary key.
type Period struct {
	Grain models.Grain
	Start time.Time
	End   time.Time
	Key   string
}

// PeriodFor returns the period of grain that contains date in loc. Weeks
// are ISO weeks starting on Monday.
func PeriodFor(grain models.Grain, date time.Time, loc *time.Location) (Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	d := date.In(loc)
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)

	p := Period{Grain: grain}
	switch grain {
	case models.GrainDay:
		p.Start = day
		p.End = day.AddDate(0, 0, 1)
		p.Key = day.Format("2006-01-02")
	case models.GrainWeek:
		offset := (int(day.Weekday()) + 6) % 7
		p.Start = day.AddDate(0, 0, -offset)
		p.End = p.Start.AddDate(0, 0, 7)
		year, week := p.Start.ISOWeek()
		p.Key = fmt.Sprintf("%04d-W%02d", year, week)
	case models.GrainMonth:
		p.Start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, loc)
		p.End = p.Start.AddDate(0, 1, 0)
		p.Key = p.Start.Format("2006-01")
	case models.GrainYear:
		p.Start = time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, loc)
		p.End = p.Start.AddDate(1, 0, 0)
		p.Key = p.Start.Format("2006")
	default:
		return Period{}, apperr.Validation("unknown summary grain %q, use day, week, month or year", grain)
	}
	return p, nil
}

// Previous returns the period of grain that ended most recently before now.
func Previous(grain models.Grain, now time.Time, loc *time.Location) (Period, error) {
	current, err := PeriodFor(grain, now, loc)
	if err != nil {
		return Period{}, err
	}
	return PeriodFor(grain, current.Start.Add(-time.Hour), loc)
}

// Label is the human name of the grain used in messages.
func Label(grain models.Grain) string {
	switch grain {
	case models.GrainDay:
		return "day"
	case models.GrainWeek:
		return "week"
	case models.GrainMonth:
		return "month"
	case models.GrainYear:
		return "year"
	default:
		return string(grain)
	}
}

// JobKey is the idempotency key of a generation job.
func JobKey(topicID string, grain models.Grain, periodKey string) string {
	return fmt.Sprintf("summary:%s:%s:%s", topicID, grain, periodKey)
}
