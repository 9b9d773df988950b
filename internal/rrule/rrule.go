package rrule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/hray3182/topicmate/internal/models"
)

// ErrUnsupportedFrequency is returned for frequencies NextRun cannot compute (CRON).
var ErrUnsupportedFrequency = errors.New("unsupported repeat frequency")

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

var weekdayNames = map[string]string{
	"MO": "Mon", "TU": "Tue", "WE": "Wed", "TH": "Thu",
	"FR": "Fri", "SA": "Sat", "SU": "Sun",
}

// NextRun returns the occurrence following currentDue, or nil when the rule
// is exhausted. runCount is the number of deliveries already made, including
// the one for currentDue. Calendar arithmetic happens in loc so the wall-clock
// time of day survives DST changes.
func NextRun(rule *models.RepeatRule, currentDue time.Time, runCount int, now time.Time, loc *time.Location) (*time.Time, error) {
	return NextRunFrom(rule, currentDue, currentDue, runCount, now, loc)
}

// NextRunFrom is NextRun for a series that started at anchor. Monthly
// occurrences keep the anchor's day of month, so a series on the 31st
// returns to the 31st after a shorter month.
func NextRunFrom(rule *models.RepeatRule, anchor, currentDue time.Time, runCount int, now time.Time, loc *time.Location) (*time.Time, error) {
	if rule == nil {
		return nil, nil
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}
	if rule.Freq == models.FreqCron {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrequency, rule.Freq)
	}

	// Check if we've reached the limit
	if rule.Until != nil && rule.Until.Before(now) {
		return nil, nil
	}
	if rule.Count > 0 && runCount >= rule.Count {
		return nil, nil
	}

	if loc == nil {
		loc = time.UTC
	}
	due := currentDue.In(loc)
	interval := rule.EffectiveInterval()

	var next time.Time
	switch rule.Freq {
	case models.FreqDaily:
		next = due.AddDate(0, 0, interval)
	case models.FreqWeekly:
		if len(rule.ByDay) == 0 {
			next = due.AddDate(0, 0, 7*interval)
			break
		}
		r, err := weeklyRule(rule, due)
		if err != nil {
			return nil, err
		}
		next = r.After(due, false)
		if next.IsZero() {
			return nil, nil
		}
	case models.FreqMonthly:
		start := anchor.In(loc)
		next = addMonths(start, monthsBetween(start, due)+interval)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFrequency, rule.Freq)
	}

	if rule.Until != nil && next.After(*rule.Until) {
		return nil, nil
	}
	return &next, nil
}

// addMonths moves t forward n calendar months, clamping the day to the last
// day of the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	ty, tm, _ := firstOfTarget.Date()
	last := daysIn(tm, ty)
	if d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func monthsBetween(from, to time.Time) int {
	fy, fm, _ := from.Date()
	ty, tm, _ := to.Date()
	return (ty-fy)*12 + int(tm-fm)
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func weeklyRule(rule *models.RepeatRule, dtstart time.Time) (*rrule.RRule, error) {
	days := make([]rrule.Weekday, 0, len(rule.ByDay))
	for _, d := range rule.ByDay {
		wd, ok := weekdays[strings.ToUpper(d)]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", d)
		}
		days = append(days, wd)
	}

	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Interval:  rule.EffectiveInterval(),
		Byweekday: days,
		Wkst:      rrule.MO,
		Dtstart:   dtstart,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build weekly rule: %w", err)
	}
	return r, nil
}

// Validate checks a repeat rule's fields. CRON rules are structurally valid
// when they carry an expression; callers decide whether they can schedule them.
func Validate(rule *models.RepeatRule) error {
	if rule == nil {
		return nil
	}
	switch rule.Freq {
	case models.FreqDaily, models.FreqWeekly, models.FreqMonthly:
	case models.FreqCron:
		if strings.TrimSpace(rule.Cron) == "" {
			return fmt.Errorf("CRON frequency requires a cron expression")
		}
	case "":
		return fmt.Errorf("repeat frequency is required")
	default:
		return fmt.Errorf("unknown repeat frequency %q", rule.Freq)
	}
	if rule.Interval < 0 {
		return fmt.Errorf("repeat interval must be at least 1")
	}
	if rule.Count < 0 {
		return fmt.Errorf("repeat count must not be negative")
	}
	for _, d := range rule.ByDay {
		if _, ok := weekdays[strings.ToUpper(d)]; !ok {
			return fmt.Errorf("invalid weekday %q, use MO, TU, WE, TH, FR, SA or SU", d)
		}
	}
	return nil
}

// Describe returns a short English description of the rule, e.g.
// "every 2 weeks on Mon, Thu, 5 times".
func Describe(rule *models.RepeatRule) string {
	if rule == nil {
		return "once"
	}

	var result strings.Builder
	interval := rule.EffectiveInterval()

	units := map[models.Frequency]string{
		models.FreqDaily:   "day",
		models.FreqWeekly:  "week",
		models.FreqMonthly: "month",
	}
	switch rule.Freq {
	case models.FreqCron:
		result.WriteString("cron " + rule.Cron)
	default:
		unit := units[rule.Freq]
		if interval == 1 {
			result.WriteString("every " + unit)
		} else {
			result.WriteString(fmt.Sprintf("every %d %ss", interval, unit))
		}
	}

	if len(rule.ByDay) > 0 {
		var names []string
		for _, d := range rule.ByDay {
			if n, ok := weekdayNames[strings.ToUpper(d)]; ok {
				names = append(names, n)
			}
		}
		if len(names) > 0 {
			result.WriteString(" on " + strings.Join(names, ", "))
		}
	}

	if rule.Count > 0 {
		result.WriteString(fmt.Sprintf(", %d times", rule.Count))
	}
	if rule.Until != nil {
		result.WriteString(", until " + rule.Until.Format("2006-01-02"))
	}
	return result.String()
}
